package domain

import (
	"context"
	"errors"
	"time"
)

// JobState описывает состояние задачи суммаризации.
type JobState string

const (
	// JobStateWaiting — задача ждёт свободного воркера.
	JobStateWaiting JobState = "waiting"
	// JobStateActive — задача взята воркером в работу.
	JobStateActive JobState = "active"
	// JobStateCompleted — задача успешно завершена.
	JobStateCompleted JobState = "completed"
	// JobStateFailed — задача завершилась ошибкой.
	JobStateFailed JobState = "failed"
)

// Terminal сообщает, достигла ли задача конечного состояния.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// JobKind задаёт тип задачи. Набор закрытый; сейчас единственный тип.
type JobKind string

// JobKindGenerateSummary — построение суммаризации ветки.
const JobKindGenerateSummary JobKind = "generate-summary"

// ThreadMessage — элемент входа суммаризатора: автор, текст, время.
type ThreadMessage struct {
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// SummaryJob содержит задачу построения суммаризации ветки.
type SummaryJob struct {
	ID          string          `json:"job_id"`
	Kind        JobKind         `json:"kind"`
	ThreadID    string          `json:"thread_id"`
	ChannelID   string          `json:"channel_id"`
	ChannelName string          `json:"channel_name"`
	TeamName    string          `json:"team_name"`
	Messages    []ThreadMessage `json:"messages"`
	RequestedAt time.Time       `json:"requested_at"`
}

// SummaryQueue описывает очередь задач на суммаризацию.
type SummaryQueue interface {
	Enqueue(ctx context.Context, job SummaryJob) error
	Pop(ctx context.Context) (SummaryJob, JobAckFunc, error)
}

// JobAckFunc подтверждает обработку задачи. При success=false задача
// возвращается в очередь для повторной доставки.
type JobAckFunc func(success bool) error

// JobResult содержит результат успешной суммаризации.
type JobResult struct {
	SummaryID string `json:"summary_id"`
	ThreadID  string `json:"thread_id"`
	Content   string `json:"content"`
}

// JobStatus — снимок состояния задачи для опроса клиентом.
type JobStatus struct {
	ID           string     `json:"id"`
	State        JobState   `json:"state"`
	Progress     int        `json:"progress"`
	Result       *JobResult `json:"result,omitempty"`
	FailedReason string     `json:"failed_reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// ErrStaleTransition возвращают реализации JobStore при попытке
// недопустимого перехода состояния.
var ErrStaleTransition = errors.New("недопустимый переход состояния задачи")

// ErrJobNotFound возвращают реализации JobStore для неизвестного id.
var ErrJobNotFound = jobNotFoundError{}

type jobNotFoundError struct{}

func (jobNotFoundError) Error() string { return "задача не найдена" }

// JobStore — долговечное хранилище состояний задач. Хранилище — единственный
// источник истины: воркер не кэширует состояние между точками ожидания.
// Переходы состояний монотонны: waiting → active → completed|failed.
type JobStore interface {
	Create(ctx context.Context, jobID string) error
	MarkActive(ctx context.Context, jobID string) error
	SetProgress(ctx context.Context, jobID string, progress int) error
	Complete(ctx context.Context, jobID string, result JobResult) error
	Fail(ctx context.Context, jobID string, reason string) error
	Get(ctx context.Context, jobID string) (JobStatus, error)
}
