package domain

import (
	"context"
	"errors"
)

// ErrNotFound возвращают репозитории, если запись отсутствует.
var ErrNotFound = errors.New("запись не найдена")

// TokenVerifier проверяет учётный токен и возвращает личность клиента.
type TokenVerifier interface {
	Verify(token string) (Identity, error)
}

// UserRepo управляет пользователями.
type UserRepo interface {
	GetUser(ctx context.Context, userID string) (User, error)
}

// ChannelRepo управляет каналами.
type ChannelRepo interface {
	// GetTeamChannel возвращает канал только если он принадлежит команде.
	GetTeamChannel(ctx context.Context, channelID, teamID string) (Channel, error)
}

// MessageRepo управляет сообщениями.
type MessageRepo interface {
	CreateMessage(ctx context.Context, msg Message) (Message, error)
	// GetTeamMessage возвращает сообщение только если его канал принадлежит команде.
	GetTeamMessage(ctx context.Context, messageID, teamID string) (Message, error)
}

// ReactionRepo управляет реакциями.
type ReactionRepo interface {
	FindReaction(ctx context.Context, userID, messageID, emoji string) (Reaction, error)
	CreateReaction(ctx context.Context, reaction Reaction) (Reaction, error)
	DeleteReaction(ctx context.Context, reactionID string) error
}

// ThreadRepo управляет ветками обсуждений.
type ThreadRepo interface {
	// GetTeamThread возвращает ветку только если её канал принадлежит команде.
	GetTeamThread(ctx context.Context, threadID, teamID string) (Thread, error)
	TouchThread(ctx context.Context, threadID string) error
	ListThreadMessages(ctx context.Context, threadID string) ([]ThreadMessage, error)
}

// SummaryRepo управляет сохранёнными суммаризациями.
type SummaryRepo interface {
	SaveSummary(ctx context.Context, summary Summary) (Summary, error)
	ListSummaries(ctx context.Context, threadID string) ([]Summary, error)
	LatestSummary(ctx context.Context, threadID string) (Summary, error)
}

// Summarizer строит текст суммаризации по сообщениям ветки.
type Summarizer interface {
	SummarizeThread(ctx context.Context, messages []ThreadMessage, channelName, teamName string) (string, error)
}

// EventPublisher доставляет доменные события между процессами
// (воркер публикует, гейтвей подписывается и рассылает по комнатам).
type EventPublisher interface {
	Publish(ctx context.Context, roomKey string, event Event) error
}
