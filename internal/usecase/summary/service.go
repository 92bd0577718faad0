package summary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"arcyn-link/internal/domain"
)

// ErrThreadNotFound возвращается если ветка недоступна команде.
var ErrThreadNotFound = errors.New("ветка не найдена")

// ErrEmptyThread возвращается на попытку суммаризовать пустую ветку.
var ErrEmptyThread = errors.New("в ветке нет сообщений")

// ErrNoSummary возвращается если у ветки ещё нет суммаризаций.
var ErrNoSummary = errors.New("суммаризация ещё не построена")

// Service ставит задачи суммаризации и отвечает на запросы статуса.
type Service struct {
	threads   domain.ThreadRepo
	channels  domain.ChannelRepo
	summaries domain.SummaryRepo
	queue     domain.SummaryQueue
	store     domain.JobStore
}

// NewService создаёт сервис суммаризаций.
func NewService(threads domain.ThreadRepo, channels domain.ChannelRepo, summaries domain.SummaryRepo, queue domain.SummaryQueue, store domain.JobStore) *Service {
	return &Service{threads: threads, channels: channels, summaries: summaries, queue: queue, store: store}
}

// RequestSummary ставит задачу построения суммаризации ветки.
// Возвращает id задачи сразу; обработка идёт асинхронно в воркере.
func (s *Service) RequestSummary(ctx context.Context, identity domain.Identity, threadID string) (string, error) {
	thread, err := s.authorizeThread(ctx, identity, threadID)
	if err != nil {
		return "", err
	}
	channel, err := s.channels.GetTeamChannel(ctx, thread.ChannelID, identity.TeamID)
	if err != nil {
		return "", fmt.Errorf("получение канала: %w", err)
	}
	messages, err := s.threads.ListThreadMessages(ctx, threadID)
	if err != nil {
		return "", fmt.Errorf("сообщения ветки: %w", err)
	}
	if len(messages) == 0 {
		return "", ErrEmptyThread
	}

	job := domain.SummaryJob{
		ID:          uuid.NewString(),
		Kind:        domain.JobKindGenerateSummary,
		ThreadID:    threadID,
		ChannelID:   channel.ID,
		ChannelName: channel.Name,
		TeamName:    identity.TeamID,
		Messages:    messages,
		RequestedAt: time.Now().UTC(),
	}
	if err := s.store.Create(ctx, job.ID); err != nil {
		return "", fmt.Errorf("регистрация задачи: %w", err)
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return "", fmt.Errorf("постановка задачи: %w", err)
	}
	return job.ID, nil
}

// JobStatus возвращает снимок состояния задачи.
func (s *Service) JobStatus(ctx context.Context, jobID string) (domain.JobStatus, error) {
	return s.store.Get(ctx, jobID)
}

// ListSummaries возвращает все суммаризации ветки, новые первыми.
func (s *Service) ListSummaries(ctx context.Context, identity domain.Identity, threadID string) ([]domain.Summary, error) {
	if _, err := s.authorizeThread(ctx, identity, threadID); err != nil {
		return nil, err
	}
	summaries, err := s.summaries.ListSummaries(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("список суммаризаций: %w", err)
	}
	return summaries, nil
}

// LatestSummary возвращает последнюю суммаризацию ветки.
func (s *Service) LatestSummary(ctx context.Context, identity domain.Identity, threadID string) (domain.Summary, error) {
	if _, err := s.authorizeThread(ctx, identity, threadID); err != nil {
		return domain.Summary{}, err
	}
	latest, err := s.summaries.LatestSummary(ctx, threadID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Summary{}, ErrNoSummary
		}
		return domain.Summary{}, fmt.Errorf("последняя суммаризация: %w", err)
	}
	return latest, nil
}

func (s *Service) authorizeThread(ctx context.Context, identity domain.Identity, threadID string) (domain.Thread, error) {
	thread, err := s.threads.GetTeamThread(ctx, threadID, identity.TeamID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Thread{}, ErrThreadNotFound
		}
		return domain.Thread{}, fmt.Errorf("проверка ветки: %w", err)
	}
	return thread, nil
}
