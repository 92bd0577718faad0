package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"arcyn-link/internal/domain"
)

// RedisSummaryQueue реализует очередь задач на базе Redis lists.
// Взятая задача перекладывается в processing-лист и удаляется оттуда
// только после подтверждения, поэтому задачи упавшего воркера можно
// вернуть в очередь (доставка как минимум один раз).
type RedisSummaryQueue struct {
	client *redis.Client
	key    string
}

var _ domain.SummaryQueue = (*RedisSummaryQueue)(nil)

// NewRedisSummaryQueue создаёт очередь по указанному ключу.
func NewRedisSummaryQueue(client *redis.Client, key string) *RedisSummaryQueue {
	return &RedisSummaryQueue{client: client, key: key}
}

func (q *RedisSummaryQueue) processingKey() string {
	return q.key + ":processing"
}

// Enqueue публикует задачу в очередь.
func (q *RedisSummaryQueue) Enqueue(ctx context.Context, job domain.SummaryJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Pop блокирующе читает задачу из очереди.
func (q *RedisSummaryQueue) Pop(ctx context.Context) (domain.SummaryJob, domain.JobAckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.SummaryJob{}, nil, err
		}

		payload, err := q.client.BRPopLPush(ctx, q.key, q.processingKey(), time.Second).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.SummaryJob{}, nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.SummaryJob{}, nil, err
		}

		var job domain.SummaryJob
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			// Нечитаемую запись из processing-листа убираем, иначе она останется навсегда.
			_ = q.client.LRem(context.Background(), q.processingKey(), 1, payload).Err()
			return domain.SummaryJob{}, nil, fmt.Errorf("decode job: %w", err)
		}

		ack := func(success bool) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := q.client.LRem(ctx, q.processingKey(), 1, payload).Err(); err != nil {
				return fmt.Errorf("remove from processing: %w", err)
			}
			if !success {
				if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
					return fmt.Errorf("requeue job: %w", err)
				}
			}
			return nil
		}
		return job, ack, nil
	}
}

// RequeueInFlight возвращает в очередь задачи, оставшиеся в processing-листе
// после падения воркера. Вызывается при старте, до начала обработки.
func (q *RedisSummaryQueue) RequeueInFlight(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.RPopLPush(ctx, q.processingKey(), q.key).Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("requeue in-flight: %w", err)
		}
		moved++
	}
}
