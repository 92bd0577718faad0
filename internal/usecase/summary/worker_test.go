package summary

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"arcyn-link/internal/domain"
)

// chanQueue — очередь на канале для тестов воркера.
type chanQueue struct {
	jobs chan domain.SummaryJob

	mu      sync.Mutex
	nacked  []string
	acked   []string
}

func newChanQueue(size int) *chanQueue {
	return &chanQueue{jobs: make(chan domain.SummaryJob, size)}
}

func (q *chanQueue) Enqueue(_ context.Context, job domain.SummaryJob) error {
	q.jobs <- job
	return nil
}

func (q *chanQueue) Pop(ctx context.Context) (domain.SummaryJob, domain.JobAckFunc, error) {
	select {
	case <-ctx.Done():
		return domain.SummaryJob{}, nil, ctx.Err()
	case job := <-q.jobs:
		ack := func(success bool) error {
			q.mu.Lock()
			defer q.mu.Unlock()
			if success {
				q.acked = append(q.acked, job.ID)
			} else {
				q.nacked = append(q.nacked, job.ID)
			}
			return nil
		}
		return job, ack, nil
	}
}

// memoryStore повторяет контракт RedisJobStore: монотонные переходы
// состояний и неубывающий прогресс.
type memoryStore struct {
	mu       sync.Mutex
	jobs     map[string]*domain.JobStatus
	progress map[string][]int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{jobs: map[string]*domain.JobStatus{}, progress: map[string][]int{}}
}

func (s *memoryStore) Create(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[jobID] = &domain.JobStatus{ID: jobID, State: domain.JobStateWaiting, CreatedAt: time.Now()}
	return nil
}

// transitionLocked выполняет CAS-переход; вызывается под мьютексом, чтобы
// терминальное состояние появлялось вместе со своими полями.
func (s *memoryStore) transitionLocked(jobID string, from, to domain.JobState) (*domain.JobStatus, error) {
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if job.State != from {
		return nil, domain.ErrStaleTransition
	}
	job.State = to
	return job, nil
}

func (s *memoryStore) MarkActive(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.transitionLocked(jobID, domain.JobStateWaiting, domain.JobStateActive)
	return err
}

func (s *memoryStore) SetProgress(_ context.Context, jobID string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.State.Terminal() || progress < job.Progress {
		return domain.ErrStaleTransition
	}
	job.Progress = progress
	s.progress[jobID] = append(s.progress[jobID], progress)
	return nil
}

func (s *memoryStore) Complete(_ context.Context, jobID string, result domain.JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.transitionLocked(jobID, domain.JobStateActive, domain.JobStateCompleted)
	if err != nil {
		return err
	}
	job.Progress = 100
	job.Result = &result
	s.progress[jobID] = append(s.progress[jobID], 100)
	return nil
}

func (s *memoryStore) Fail(_ context.Context, jobID string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.transitionLocked(jobID, domain.JobStateActive, domain.JobStateFailed)
	if err != nil {
		return err
	}
	job.FailedReason = reason
	return nil
}

func (s *memoryStore) Get(_ context.Context, jobID string) (domain.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.JobStatus{}, domain.ErrJobNotFound
	}
	return *job, nil
}

func (s *memoryStore) progressHistory(jobID string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.progress[jobID]...)
}

type memorySummaries struct {
	mu    sync.Mutex
	saved []domain.Summary
}

func (r *memorySummaries) SaveSummary(_ context.Context, summary domain.Summary) (domain.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	summary.ID = "s1"
	summary.CreatedAt = time.Now()
	r.saved = append(r.saved, summary)
	return summary, nil
}

func (r *memorySummaries) ListSummaries(_ context.Context, threadID string) ([]domain.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Summary
	for _, s := range r.saved {
		if s.ThreadID == threadID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memorySummaries) LatestSummary(_ context.Context, threadID string) (domain.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.saved) - 1; i >= 0; i-- {
		if r.saved[i].ThreadID == threadID {
			return r.saved[i], nil
		}
	}
	return domain.Summary{}, domain.ErrNotFound
}

func (r *memorySummaries) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saved)
}

type stubSummarizer struct {
	fn func(ctx context.Context, messages []domain.ThreadMessage) (string, error)

	mu    sync.Mutex
	calls int
}

func (s *stubSummarizer) SummarizeThread(ctx context.Context, messages []domain.ThreadMessage, _, _ string) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.fn(ctx, messages)
}

func (s *stubSummarizer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type capturePublisher struct {
	mu     sync.Mutex
	rooms  []string
	events []domain.Event
	notify chan struct{}
}

func newCapturePublisher() *capturePublisher {
	return &capturePublisher{notify: make(chan struct{}, 16)}
}

func (p *capturePublisher) Publish(_ context.Context, roomKey string, event domain.Event) error {
	p.mu.Lock()
	p.rooms = append(p.rooms, roomKey)
	p.events = append(p.events, event)
	p.mu.Unlock()
	p.notify <- struct{}{}
	return nil
}

func testJob(id string) domain.SummaryJob {
	return domain.SummaryJob{
		ID:          id,
		Kind:        domain.JobKindGenerateSummary,
		ThreadID:    "th1",
		ChannelID:   "ch1",
		ChannelName: "general",
		TeamName:    "team1",
		Messages: []domain.ThreadMessage{
			{Author: "alice", Text: "привет", CreatedAt: time.Now()},
		},
		RequestedAt: time.Now(),
	}
}

func runWorker(t *testing.T, w *Worker) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	return func() {
		stop()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("воркер не остановился после отмены контекста")
		}
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("не дождались условия: %s", msg)
}

func TestWorkerCompletesJob(t *testing.T) {
	q := newChanQueue(1)
	store := newMemoryStore()
	summaries := &memorySummaries{}
	publisher := newCapturePublisher()
	summarizer := &stubSummarizer{fn: func(context.Context, []domain.ThreadMessage) (string, error) {
		return "итог обсуждения", nil
	}}

	job := testJob("job1")
	if err := store.Create(context.Background(), job.ID); err != nil {
		t.Fatalf("подготовка: %v", err)
	}
	if err := q.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("подготовка: %v", err)
	}

	w := NewWorker(q, store, summaries, summarizer, publisher, 1, zerolog.Nop())
	stop := runWorker(t, w)
	defer stop()

	select {
	case <-publisher.notify:
	case <-time.After(2 * time.Second):
		t.Fatalf("событие summary:ready не опубликовано")
	}

	status, err := store.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("статус задачи: %v", err)
	}
	if status.State != domain.JobStateCompleted || status.Progress != 100 {
		t.Fatalf("ожидали completed/100, получили %s/%d", status.State, status.Progress)
	}
	if status.Result == nil || status.Result.Content != "итог обсуждения" {
		t.Fatalf("результат не записан: %+v", status.Result)
	}
	if summaries.count() != 1 {
		t.Fatalf("суммаризация должна сохраниться в хранилище")
	}

	publisher.mu.Lock()
	room, event := publisher.rooms[0], publisher.events[0]
	publisher.mu.Unlock()
	if room != domain.ChannelRoom("ch1") {
		t.Fatalf("событие должно уйти в комнату канала, ушло в %q", room)
	}
	if event.Kind != domain.EventSummaryReady {
		t.Fatalf("ожидали summary:ready, получили %s", event.Kind)
	}
	payload, ok := event.Data.(domain.SummaryReadyPayload)
	if !ok || payload.JobID != job.ID || payload.ThreadID != "th1" {
		t.Fatalf("неожиданная нагрузка события: %+v", event.Data)
	}
}

func TestWorkerFailsJobOnSummarizerError(t *testing.T) {
	q := newChanQueue(1)
	store := newMemoryStore()
	summaries := &memorySummaries{}
	summarizer := &stubSummarizer{fn: func(context.Context, []domain.ThreadMessage) (string, error) {
		return "", errors.New("LLM недоступен")
	}}

	job := testJob("job1")
	_ = store.Create(context.Background(), job.ID)
	_ = q.Enqueue(context.Background(), job)

	w := NewWorker(q, store, summaries, summarizer, nil, 1, zerolog.Nop())
	stop := runWorker(t, w)
	defer stop()

	waitFor(t, func() bool {
		status, err := store.Get(context.Background(), job.ID)
		return err == nil && status.State.Terminal()
	}, "задача не достигла терминального состояния")

	status, _ := store.Get(context.Background(), job.ID)
	if status.State != domain.JobStateFailed {
		t.Fatalf("ожидали failed, получили %s", status.State)
	}
	if status.FailedReason != "LLM недоступен" {
		t.Fatalf("причина отказа не записана: %q", status.FailedReason)
	}
	if status.Result != nil {
		t.Fatalf("у упавшей задачи не должно быть результата")
	}
	if summaries.count() != 0 {
		t.Fatalf("частичный результат не должен сохраняться")
	}
}

func TestWorkerSkipsRedeliveredTerminalJob(t *testing.T) {
	q := newChanQueue(1)
	store := newMemoryStore()
	summaries := &memorySummaries{}
	summarizer := &stubSummarizer{fn: func(context.Context, []domain.ThreadMessage) (string, error) {
		return "итог", nil
	}}

	job := testJob("job1")
	_ = store.Create(context.Background(), job.ID)
	_ = store.MarkActive(context.Background(), job.ID)
	_ = store.Complete(context.Background(), job.ID, domain.JobResult{SummaryID: "s0", ThreadID: "th1", Content: "старый итог"})
	_ = q.Enqueue(context.Background(), job)

	w := NewWorker(q, store, summaries, summarizer, nil, 1, zerolog.Nop())
	stop := runWorker(t, w)
	defer stop()

	waitFor(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.acked) == 1
	}, "повторная доставка не подтверждена")

	if summarizer.callCount() != 0 {
		t.Fatalf("завершённая задача не должна обрабатываться повторно")
	}
	status, _ := store.Get(context.Background(), job.ID)
	if status.Result == nil || status.Result.Content != "старый итог" {
		t.Fatalf("результат завершённой задачи не должен измениться: %+v", status.Result)
	}
}

func TestWorkerResumesJobStuckInActive(t *testing.T) {
	q := newChanQueue(1)
	store := newMemoryStore()
	summaries := &memorySummaries{}
	summarizer := &stubSummarizer{fn: func(context.Context, []domain.ThreadMessage) (string, error) {
		return "итог", nil
	}}

	// Задача осталась active после падения предыдущего воркера.
	job := testJob("job1")
	_ = store.Create(context.Background(), job.ID)
	_ = store.MarkActive(context.Background(), job.ID)
	_ = q.Enqueue(context.Background(), job)

	w := NewWorker(q, store, summaries, summarizer, nil, 1, zerolog.Nop())
	stop := runWorker(t, w)
	defer stop()

	waitFor(t, func() bool {
		status, err := store.Get(context.Background(), job.ID)
		return err == nil && status.State == domain.JobStateCompleted
	}, "зависшая задача не завершилась")

	if summarizer.callCount() != 1 {
		t.Fatalf("зависшая задача должна обработаться один раз, вызовов %d", summarizer.callCount())
	}
}

func TestWorkerHonorsConcurrencyLimit(t *testing.T) {
	const jobs = 5
	q := newChanQueue(jobs)
	store := newMemoryStore()
	summaries := &memorySummaries{}

	var mu sync.Mutex
	inFlight, peak := 0, 0
	gate := make(chan struct{})
	summarizer := &stubSummarizer{fn: func(ctx context.Context, _ []domain.ThreadMessage) (string, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		<-gate
		mu.Lock()
		inFlight--
		mu.Unlock()
		return "итог", nil
	}}

	for i := 0; i < jobs; i++ {
		job := testJob("job" + string(rune('0'+i)))
		_ = store.Create(context.Background(), job.ID)
		_ = q.Enqueue(context.Background(), job)
	}

	w := NewWorker(q, store, summaries, summarizer, nil, 3, zerolog.Nop())
	stop := runWorker(t, w)
	defer stop()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return inFlight == 3
	}, "воркер не занял все слоты")

	// Слоты заняты: четвёртая задача не должна стартовать.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	if peak > 3 {
		mu.Unlock()
		t.Fatalf("одновременных задач больше лимита: %d", peak)
	}
	mu.Unlock()

	close(gate)
	waitFor(t, func() bool {
		for i := 0; i < jobs; i++ {
			status, err := store.Get(context.Background(), "job"+string(rune('0'+i)))
			if err != nil || status.State != domain.JobStateCompleted {
				return false
			}
		}
		return true
	}, "не все задачи завершились")
}

// cancelAwareStore отклоняет записи по отменённому контексту,
// как это делает хранилище на Redis.
type cancelAwareStore struct {
	inner *memoryStore
}

func (s *cancelAwareStore) Create(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.inner.Create(ctx, jobID)
}

func (s *cancelAwareStore) MarkActive(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.inner.MarkActive(ctx, jobID)
}

func (s *cancelAwareStore) SetProgress(ctx context.Context, jobID string, progress int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.inner.SetProgress(ctx, jobID, progress)
}

func (s *cancelAwareStore) Complete(ctx context.Context, jobID string, result domain.JobResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.inner.Complete(ctx, jobID, result)
}

func (s *cancelAwareStore) Fail(ctx context.Context, jobID string, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.inner.Fail(ctx, jobID, reason)
}

func (s *cancelAwareStore) Get(ctx context.Context, jobID string) (domain.JobStatus, error) {
	if err := ctx.Err(); err != nil {
		return domain.JobStatus{}, err
	}
	return s.inner.Get(ctx, jobID)
}

func TestWorkerRequeuesJobInterruptedByShutdown(t *testing.T) {
	q := newChanQueue(1)
	store := newMemoryStore()
	summaries := &memorySummaries{}
	started := make(chan struct{})
	summarizer := &stubSummarizer{fn: func(ctx context.Context, _ []domain.ThreadMessage) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}}

	job := testJob("job1")
	_ = store.Create(context.Background(), job.ID)
	_ = q.Enqueue(context.Background(), job)

	w := NewWorker(q, store, summaries, summarizer, nil, 1, zerolog.Nop())
	stop := runWorker(t, w)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("задача не взята в работу")
	}
	stop()

	q.mu.Lock()
	acked, nacked := len(q.acked), len(q.nacked)
	q.mu.Unlock()
	if acked != 0 {
		t.Fatalf("прерванная задача не должна сниматься с очереди, acked=%d", acked)
	}
	if nacked != 1 {
		t.Fatalf("прерванная задача должна вернуться в очередь, nacked=%d", nacked)
	}

	// Задача осталась active: следующий воркер продолжит её через reclaim.
	status, err := store.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("статус задачи: %v", err)
	}
	if status.State != domain.JobStateActive {
		t.Fatalf("ожидали active для повторной обработки, получили %s", status.State)
	}
}

func TestWorkerFinishesJobDespiteShutdown(t *testing.T) {
	q := newChanQueue(1)
	inner := newMemoryStore()
	store := &cancelAwareStore{inner: inner}
	summaries := &memorySummaries{}
	started := make(chan struct{})
	summarizer := &stubSummarizer{fn: func(ctx context.Context, _ []domain.ThreadMessage) (string, error) {
		close(started)
		// Результат готов уже после сигнала остановки.
		<-ctx.Done()
		return "итог", nil
	}}

	job := testJob("job1")
	_ = inner.Create(context.Background(), job.ID)
	_ = q.Enqueue(context.Background(), job)

	w := NewWorker(q, store, summaries, summarizer, nil, 1, zerolog.Nop())
	stop := runWorker(t, w)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("задача не взята в работу")
	}
	stop()

	status, err := inner.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("статус задачи: %v", err)
	}
	if status.State != domain.JobStateCompleted || status.Result == nil {
		t.Fatalf("готовый результат должен записаться и после остановки: %s/%+v", status.State, status.Result)
	}
	q.mu.Lock()
	acked := len(q.acked)
	q.mu.Unlock()
	if acked != 1 {
		t.Fatalf("завершённая задача должна подтвердиться, acked=%d", acked)
	}
}

func TestWorkerProgressIsMonotonic(t *testing.T) {
	q := newChanQueue(1)
	store := newMemoryStore()
	summaries := &memorySummaries{}
	summarizer := &stubSummarizer{fn: func(context.Context, []domain.ThreadMessage) (string, error) {
		return "итог", nil
	}}

	job := testJob("job1")
	_ = store.Create(context.Background(), job.ID)
	_ = q.Enqueue(context.Background(), job)

	w := NewWorker(q, store, summaries, summarizer, nil, 1, zerolog.Nop())
	stop := runWorker(t, w)
	defer stop()

	waitFor(t, func() bool {
		status, err := store.Get(context.Background(), job.ID)
		return err == nil && status.State == domain.JobStateCompleted
	}, "задача не завершилась")

	history := store.progressHistory(job.ID)
	if len(history) == 0 {
		t.Fatalf("прогресс не записывался")
	}
	prev := -1
	for _, p := range history {
		if p < prev {
			t.Fatalf("прогресс убывает: %v", history)
		}
		prev = p
	}
	if history[len(history)-1] != 100 {
		t.Fatalf("финальный прогресс должен быть 100, история %v", history)
	}
}
