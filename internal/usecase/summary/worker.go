package summary

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"arcyn-link/internal/domain"
	"arcyn-link/internal/infra/metrics"
)

const defaultConcurrency = 3

// Worker обрабатывает задачи суммаризации из очереди.
// Одновременно выполняется не больше concurrency задач: так ограничивается
// нагрузка на внешний LLM API. Остальные задачи остаются в состоянии waiting.
type Worker struct {
	queue       domain.SummaryQueue
	store       domain.JobStore
	summaries   domain.SummaryRepo
	summarizer  domain.Summarizer
	events      domain.EventPublisher
	concurrency int
	log         zerolog.Logger
}

// NewWorker создаёт воркер. events может быть nil: тогда клиенты узнают
// о готовности только опросом статуса задачи.
func NewWorker(q domain.SummaryQueue, store domain.JobStore, summaries domain.SummaryRepo, summarizer domain.Summarizer, events domain.EventPublisher, concurrency int, logger zerolog.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Worker{
		queue:       q,
		store:       store,
		summaries:   summaries,
		summarizer:  summarizer,
		events:      events,
		concurrency: concurrency,
		log:         logger,
	}
}

// Run забирает и обрабатывает задачи до отмены контекста.
func (w *Worker) Run(ctx context.Context) error {
	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup

	for {
		job, ack, err := w.queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				wg.Wait()
				return ctx.Err()
			}
			w.log.Error().Err(err).Msg("worker: ошибка чтения очереди")
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			// Слот не достался: задача возвращается в очередь нетронутой.
			_ = ack(false)
			wg.Wait()
			return ctx.Err()
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			// Неулаженная задача возвращается в очередь для повторной доставки.
			settled := w.process(ctx, job)
			if err := ack(settled); err != nil {
				w.log.Error().Err(err).Str("job", job.ID).Msg("worker: подтверждение не записано")
			}
		}()
	}
}

// process доводит задачу до терминального состояния и сообщает, улажена ли
// она: true подтверждает доставку, false возвращает задачу в очередь.
// Записи в хранилище идут через контекст, переживающий остановку воркера,
// иначе прерванная задача осталась бы active без записи в очереди.
func (w *Worker) process(ctx context.Context, job domain.SummaryJob) bool {
	logger := w.log.With().Str("job", job.ID).Str("thread", job.ThreadID).Logger()
	start := time.Now()
	storeCtx := context.WithoutCancel(ctx)

	if err := w.store.MarkActive(storeCtx, job.ID); err != nil {
		if !w.reclaimable(storeCtx, job.ID, err) {
			logger.Debug().Err(err).Msg("worker: задача уже обработана, доставка повторная")
			return true
		}
		logger.Info().Msg("worker: продолжение задачи после падения воркера")
	}
	if err := w.store.SetProgress(storeCtx, job.ID, 10); err != nil {
		logger.Error().Err(err).Msg("worker: прогресс не записан")
	}

	content, err := w.summarizer.SummarizeThread(ctx, job.Messages, job.ChannelName, job.TeamName)
	if err != nil {
		if ctx.Err() != nil {
			logger.Info().Msg("worker: остановка, задача вернётся в очередь")
			return false
		}
		w.fail(storeCtx, logger, job.ID, err, start)
		return true
	}
	if err := w.store.SetProgress(storeCtx, job.ID, 80); err != nil {
		logger.Error().Err(err).Msg("worker: прогресс не записан")
	}

	saved, err := w.summaries.SaveSummary(storeCtx, domain.Summary{ThreadID: job.ThreadID, Content: content})
	if err != nil {
		w.fail(storeCtx, logger, job.ID, err, start)
		return true
	}

	result := domain.JobResult{SummaryID: saved.ID, ThreadID: job.ThreadID, Content: saved.Content}
	if err := w.store.Complete(storeCtx, job.ID, result); err != nil {
		logger.Error().Err(err).Msg("worker: завершение не записано")
		return false
	}
	metrics.ObserveSummaryJob("completed", start)
	logger.Info().Str("summary", saved.ID).Msg("worker: суммаризация готова")

	if w.events != nil {
		event := domain.Event{Kind: domain.EventSummaryReady, Data: domain.SummaryReadyPayload{
			JobID:     job.ID,
			ThreadID:  job.ThreadID,
			ChannelID: job.ChannelID,
			Summary:   saved,
		}}
		if err := w.events.Publish(storeCtx, domain.ChannelRoom(job.ChannelID), event); err != nil {
			logger.Error().Err(err).Msg("worker: событие summary:ready не опубликовано")
		}
	}
	return true
}

func (w *Worker) fail(ctx context.Context, logger zerolog.Logger, jobID string, cause error, start time.Time) {
	if err := w.store.Fail(ctx, jobID, cause.Error()); err != nil {
		logger.Error().Err(err).Msg("worker: отказ не записан")
	}
	metrics.ObserveSummaryJob("failed", start)
	logger.Error().Err(cause).Msg("worker: суммаризация не удалась")
}

// reclaimable сообщает, можно ли продолжить задачу, чей переход в active
// не удался: задача, оставшаяся active после падения воркера, продолжается,
// терминальная — пропускается.
func (w *Worker) reclaimable(ctx context.Context, jobID string, cause error) bool {
	if !errors.Is(cause, domain.ErrStaleTransition) {
		return false
	}
	status, err := w.store.Get(ctx, jobID)
	if err != nil {
		return false
	}
	return status.State == domain.JobStateActive
}
