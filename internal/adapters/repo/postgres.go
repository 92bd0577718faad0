package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"arcyn-link/internal/domain"
	"arcyn-link/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.UserRepo     = (*Postgres)(nil)
	_ domain.ChannelRepo  = (*Postgres)(nil)
	_ domain.MessageRepo  = (*Postgres)(nil)
	_ domain.ReactionRepo = (*Postgres)(nil)
	_ domain.ThreadRepo   = (*Postgres)(nil)
	_ domain.SummaryRepo  = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// GetUser реализует domain.UserRepo.
func (p *Postgres) GetUser(ctx context.Context, userID string) (domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	var user domain.User
	err := p.pool.QueryRow(ctx, `
SELECT id, email, username, COALESCE(avatar, ''), team_id, created_at
FROM users WHERE id = $1
`, userID).Scan(&user.ID, &user.Email, &user.Username, &user.Avatar, &user.TeamID, &user.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "user_get", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("выборка пользователя: %w", err)
	}
	return user, nil
}

// GetTeamChannel реализует domain.ChannelRepo.
func (p *Postgres) GetTeamChannel(ctx context.Context, channelID, teamID string) (domain.Channel, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	var channel domain.Channel
	err := p.pool.QueryRow(ctx, `
SELECT id, name, team_id, created_at
FROM channels WHERE id = $1 AND team_id = $2
`, channelID, teamID).Scan(&channel.ID, &channel.Name, &channel.TeamID, &channel.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "channel_get", "channels", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Channel{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Channel{}, fmt.Errorf("выборка канала: %w", err)
	}
	return channel, nil
}

// CreateMessage реализует domain.MessageRepo.
func (p *Postgres) CreateMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	msg.ID = uuid.NewString()
	var threadID any
	if msg.ThreadID != "" {
		threadID = msg.ThreadID
	}

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO messages (id, content, user_id, channel_id, thread_id, created_at)
VALUES ($1, $2, $3, $4, $5, now())
RETURNING created_at
`, msg.ID, msg.Content, msg.Author.ID, msg.ChannelID, threadID).Scan(&msg.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "message_insert", "messages", start, err)
	if err != nil {
		return domain.Message{}, fmt.Errorf("вставка сообщения: %w", err)
	}
	msg.Reactions = []domain.Reaction{}
	return msg, nil
}

// GetTeamMessage реализует domain.MessageRepo.
func (p *Postgres) GetTeamMessage(ctx context.Context, messageID, teamID string) (domain.Message, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	var (
		msg      domain.Message
		threadID *string
	)
	err := p.pool.QueryRow(ctx, `
SELECT m.id, m.content, m.channel_id, m.thread_id, m.created_at,
       u.id, u.username, COALESCE(u.avatar, '')
FROM messages m
JOIN channels c ON c.id = m.channel_id
JOIN users u ON u.id = m.user_id
WHERE m.id = $1 AND c.team_id = $2
`, messageID, teamID).Scan(&msg.ID, &msg.Content, &msg.ChannelID, &threadID, &msg.CreatedAt,
		&msg.Author.ID, &msg.Author.Username, &msg.Author.Avatar)
	metrics.ObserveNetworkRequest("postgres", "message_get", "messages", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Message{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Message{}, fmt.Errorf("выборка сообщения: %w", err)
	}
	if threadID != nil {
		msg.ThreadID = *threadID
	}
	msg.Reactions = []domain.Reaction{}
	return msg, nil
}

// FindReaction реализует domain.ReactionRepo.
func (p *Postgres) FindReaction(ctx context.Context, userID, messageID, emoji string) (domain.Reaction, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	var reaction domain.Reaction
	err := p.pool.QueryRow(ctx, `
SELECT id, emoji, user_id, message_id, created_at
FROM reactions WHERE user_id = $1 AND message_id = $2 AND emoji = $3
`, userID, messageID, emoji).Scan(&reaction.ID, &reaction.Emoji, &reaction.UserID, &reaction.MessageID, &reaction.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "reaction_find", "reactions", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Reaction{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Reaction{}, fmt.Errorf("поиск реакции: %w", err)
	}
	return reaction, nil
}

// CreateReaction реализует domain.ReactionRepo. Уникальность тройки
// (user_id, message_id, emoji) обеспечивает constraint БД.
func (p *Postgres) CreateReaction(ctx context.Context, reaction domain.Reaction) (domain.Reaction, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	reaction.ID = uuid.NewString()
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO reactions (id, emoji, user_id, message_id, created_at)
VALUES ($1, $2, $3, $4, now())
RETURNING created_at
`, reaction.ID, reaction.Emoji, reaction.UserID, reaction.MessageID).Scan(&reaction.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "reaction_insert", "reactions", start, err)
	if err != nil {
		return domain.Reaction{}, fmt.Errorf("вставка реакции: %w", err)
	}
	return reaction, nil
}

// DeleteReaction реализует domain.ReactionRepo.
func (p *Postgres) DeleteReaction(ctx context.Context, reactionID string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM reactions WHERE id = $1`, reactionID)
	metrics.ObserveNetworkRequest("postgres", "reaction_delete", "reactions", start, err)
	if err != nil {
		return fmt.Errorf("удаление реакции: %w", err)
	}
	return nil
}

// GetTeamThread реализует domain.ThreadRepo.
func (p *Postgres) GetTeamThread(ctx context.Context, threadID, teamID string) (domain.Thread, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	var thread domain.Thread
	err := p.pool.QueryRow(ctx, `
SELECT t.id, t.channel_id, t.created_at, t.updated_at
FROM threads t
JOIN channels c ON c.id = t.channel_id
WHERE t.id = $1 AND c.team_id = $2
`, threadID, teamID).Scan(&thread.ID, &thread.ChannelID, &thread.CreatedAt, &thread.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "thread_get", "threads", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Thread{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Thread{}, fmt.Errorf("выборка ветки: %w", err)
	}
	return thread, nil
}

// TouchThread реализует domain.ThreadRepo.
func (p *Postgres) TouchThread(ctx context.Context, threadID string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE threads SET updated_at = now() WHERE id = $1`, threadID)
	metrics.ObserveNetworkRequest("postgres", "thread_touch", "threads", start, err)
	if err != nil {
		return fmt.Errorf("обновление ветки: %w", err)
	}
	return nil
}

// ListThreadMessages реализует domain.ThreadRepo: сообщения ветки
// в порядке создания, в форме входа суммаризатора.
func (p *Postgres) ListThreadMessages(ctx context.Context, threadID string) ([]domain.ThreadMessage, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT u.username, m.content, m.created_at
FROM messages m
JOIN users u ON u.id = m.user_id
WHERE m.thread_id = $1
ORDER BY m.created_at ASC
`, threadID)
	metrics.ObserveNetworkRequest("postgres", "thread_messages", "messages", start, err)
	if err != nil {
		return nil, fmt.Errorf("сообщения ветки: %w", err)
	}
	defer rows.Close()

	var messages []domain.ThreadMessage
	for rows.Next() {
		var msg domain.ThreadMessage
		if err := rows.Scan(&msg.Author, &msg.Text, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("чтение сообщения: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// SaveSummary реализует domain.SummaryRepo.
func (p *Postgres) SaveSummary(ctx context.Context, summary domain.Summary) (domain.Summary, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	summary.ID = uuid.NewString()
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO ai_summaries (id, thread_id, content, created_at)
VALUES ($1, $2, $3, now())
RETURNING created_at
`, summary.ID, summary.ThreadID, summary.Content).Scan(&summary.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "summary_insert", "ai_summaries", start, err)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("вставка суммаризации: %w", err)
	}
	return summary, nil
}

// ListSummaries реализует domain.SummaryRepo: новые первыми.
func (p *Postgres) ListSummaries(ctx context.Context, threadID string) ([]domain.Summary, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, thread_id, content, created_at
FROM ai_summaries WHERE thread_id = $1
ORDER BY created_at DESC
`, threadID)
	metrics.ObserveNetworkRequest("postgres", "summary_list", "ai_summaries", start, err)
	if err != nil {
		return nil, fmt.Errorf("список суммаризаций: %w", err)
	}
	defer rows.Close()

	var summaries []domain.Summary
	for rows.Next() {
		var summary domain.Summary
		if err := rows.Scan(&summary.ID, &summary.ThreadID, &summary.Content, &summary.CreatedAt); err != nil {
			return nil, fmt.Errorf("чтение суммаризации: %w", err)
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

// LatestSummary реализует domain.SummaryRepo.
func (p *Postgres) LatestSummary(ctx context.Context, threadID string) (domain.Summary, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	var summary domain.Summary
	err := p.pool.QueryRow(ctx, `
SELECT id, thread_id, content, created_at
FROM ai_summaries WHERE thread_id = $1
ORDER BY created_at DESC
LIMIT 1
`, threadID).Scan(&summary.ID, &summary.ThreadID, &summary.Content, &summary.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "summary_latest", "ai_summaries", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Summary{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Summary{}, fmt.Errorf("последняя суммаризация: %w", err)
	}
	return summary, nil
}
