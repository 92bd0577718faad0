package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"arcyn-link/internal/domain"
)

// transitionScript меняет состояние задачи, только если текущее совпадает
// с ожидаемым. Так переходы остаются монотонными при гонке двух воркеров.
// Дополнительные пары ARGV записываются тем же вызовом: терминальное
// состояние появляется для читателей вместе со своими полями.
var transitionScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'state')
if cur == false then return -1 end
if cur ~= ARGV[1] then return 0 end
redis.call('HSET', KEYS[1], 'state', ARGV[2])
for i = 3, #ARGV, 2 do
	redis.call('HSET', KEYS[1], ARGV[i], ARGV[i+1])
end
return 1
`)

// progressScript повышает прогресс, не позволяя ему уменьшаться.
var progressScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local cur = tonumber(redis.call('HGET', KEYS[1], 'progress') or '0')
local p = tonumber(ARGV[1])
if p > cur then redis.call('HSET', KEYS[1], 'progress', p) end
return 1
`)

// RedisJobStore хранит состояния задач суммаризации в Redis.
// Завершённые задачи удерживаются ограниченным числом: старые записи
// вытесняются, чтобы хранилище не росло бесконечно. В терминальные листы
// попадают только completed/failed, поэтому вытеснение никогда не заденет
// задачу в состоянии waiting или active.
type RedisJobStore struct {
	client        *redis.Client
	prefix        string
	keepCompleted int
	keepFailed    int
}

var _ domain.JobStore = (*RedisJobStore)(nil)

// NewRedisJobStore создаёт хранилище с политикой удержания терминальных задач.
func NewRedisJobStore(client *redis.Client, prefix string, keepCompleted, keepFailed int) *RedisJobStore {
	if prefix == "" {
		prefix = "ai_jobs"
	}
	if keepCompleted <= 0 {
		keepCompleted = 10
	}
	if keepFailed <= 0 {
		keepFailed = 5
	}
	return &RedisJobStore{client: client, prefix: prefix, keepCompleted: keepCompleted, keepFailed: keepFailed}
}

func (s *RedisJobStore) jobKey(jobID string) string  { return s.prefix + ":" + jobID }
func (s *RedisJobStore) terminalKey(state domain.JobState) string {
	return s.prefix + ":" + string(state)
}

// Create регистрирует новую задачу в состоянии waiting.
func (s *RedisJobStore) Create(ctx context.Context, jobID string) error {
	err := s.client.HSet(ctx, s.jobKey(jobID), map[string]any{
		"state":      string(domain.JobStateWaiting),
		"progress":   0,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	}).Err()
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// MarkActive переводит задачу из waiting в active.
func (s *RedisJobStore) MarkActive(ctx context.Context, jobID string) error {
	return s.transition(ctx, jobID, domain.JobStateWaiting, domain.JobStateActive)
}

// SetProgress повышает прогресс задачи.
func (s *RedisJobStore) SetProgress(ctx context.Context, jobID string, progress int) error {
	res, err := progressScript.Run(ctx, s.client, []string{s.jobKey(jobID)}, progress).Int()
	if err != nil {
		return fmt.Errorf("set progress: %w", err)
	}
	if res < 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// Complete переводит задачу в completed, одним вызовом записывая
// результат и прогресс 100.
func (s *RedisJobStore) Complete(ctx context.Context, jobID string, result domain.JobResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	err = s.transition(ctx, jobID, domain.JobStateActive, domain.JobStateCompleted,
		"progress", "100", "result", string(payload))
	if err != nil {
		return err
	}
	return s.retain(ctx, jobID, domain.JobStateCompleted, s.keepCompleted)
}

// Fail переводит задачу в failed, одним вызовом записывая причину.
func (s *RedisJobStore) Fail(ctx context.Context, jobID string, reason string) error {
	err := s.transition(ctx, jobID, domain.JobStateActive, domain.JobStateFailed,
		"failed_reason", reason)
	if err != nil {
		return err
	}
	return s.retain(ctx, jobID, domain.JobStateFailed, s.keepFailed)
}

// Get возвращает снимок состояния задачи.
func (s *RedisJobStore) Get(ctx context.Context, jobID string) (domain.JobStatus, error) {
	fields, err := s.client.HGetAll(ctx, s.jobKey(jobID)).Result()
	if err != nil {
		return domain.JobStatus{}, fmt.Errorf("get job: %w", err)
	}
	if len(fields) == 0 {
		return domain.JobStatus{}, domain.ErrJobNotFound
	}
	status := domain.JobStatus{
		ID:           jobID,
		State:        domain.JobState(fields["state"]),
		FailedReason: fields["failed_reason"],
	}
	if raw := fields["progress"]; raw != "" {
		status.Progress, _ = strconv.Atoi(raw)
	}
	if raw := fields["created_at"]; raw != "" {
		status.CreatedAt, _ = time.Parse(time.RFC3339, raw)
	}
	if raw := fields["result"]; raw != "" {
		var result domain.JobResult
		if err := json.Unmarshal([]byte(raw), &result); err != nil {
			return domain.JobStatus{}, fmt.Errorf("decode result: %w", err)
		}
		status.Result = &result
	}
	return status, nil
}

func (s *RedisJobStore) transition(ctx context.Context, jobID string, from, to domain.JobState, fields ...string) error {
	args := make([]any, 0, 2+len(fields))
	args = append(args, string(from), string(to))
	for _, field := range fields {
		args = append(args, field)
	}
	res, err := transitionScript.Run(ctx, s.client, []string{s.jobKey(jobID)}, args...).Int()
	if err != nil {
		return fmt.Errorf("transition %s: %w", to, err)
	}
	switch res {
	case -1:
		return domain.ErrJobNotFound
	case 0:
		return domain.ErrStaleTransition
	}
	return nil
}

// retain добавляет задачу в терминальный лист и вытесняет записи сверх лимита.
func (s *RedisJobStore) retain(ctx context.Context, jobID string, state domain.JobState, keep int) error {
	key := s.terminalKey(state)
	if err := s.client.LPush(ctx, key, jobID).Err(); err != nil {
		return fmt.Errorf("retain job: %w", err)
	}
	for {
		length, err := s.client.LLen(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("prune jobs: %w", err)
		}
		if length <= int64(keep) {
			return nil
		}
		evicted, err := s.client.RPop(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("prune jobs: %w", err)
		}
		if err := s.client.Del(ctx, s.jobKey(evicted)).Err(); err != nil {
			return fmt.Errorf("prune jobs: %w", err)
		}
	}
}
