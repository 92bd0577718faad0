package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"arcyn-link/internal/domain"
)

// ErrChannelNotFound возвращается если канал не принадлежит команде сессии.
var ErrChannelNotFound = errors.New("канал не найден")

// ErrMessageNotFound возвращается если сообщение недоступно команде сессии.
var ErrMessageNotFound = errors.New("сообщение не найдено")

// ErrThreadNotFound возвращается если ветка недоступна команде сессии.
var ErrThreadNotFound = errors.New("ветка не найдена")

// ErrEmptyMessage возвращается на попытку отправить пустое сообщение.
var ErrEmptyMessage = errors.New("пустое сообщение")

// Service реализует бизнес-логику чата: авторизацию действий, запись
// в хранилище и подготовку доменных событий для рассылки.
type Service struct {
	users     domain.UserRepo
	channels  domain.ChannelRepo
	messages  domain.MessageRepo
	reactions domain.ReactionRepo
	threads   domain.ThreadRepo
}

// NewService создаёт сервис чата.
func NewService(users domain.UserRepo, channels domain.ChannelRepo, messages domain.MessageRepo, reactions domain.ReactionRepo, threads domain.ThreadRepo) *Service {
	return &Service{users: users, channels: channels, messages: messages, reactions: reactions, threads: threads}
}

// AuthorizeChannel проверяет, что канал принадлежит команде пользователя.
func (s *Service) AuthorizeChannel(ctx context.Context, identity domain.Identity, channelID string) (domain.Channel, error) {
	channel, err := s.channels.GetTeamChannel(ctx, channelID, identity.TeamID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Channel{}, ErrChannelNotFound
		}
		return domain.Channel{}, fmt.Errorf("проверка канала: %w", err)
	}
	return channel, nil
}

// SendMessage сохраняет сообщение и возвращает его вместе с автором.
// Для сообщения в ветке обновляется время последней активности ветки.
func (s *Service) SendMessage(ctx context.Context, identity domain.Identity, channelID, threadID, content string) (domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Message{}, ErrEmptyMessage
	}
	if _, err := s.AuthorizeChannel(ctx, identity, channelID); err != nil {
		return domain.Message{}, err
	}
	if threadID != "" {
		if _, err := s.threads.GetTeamThread(ctx, threadID, identity.TeamID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.Message{}, ErrThreadNotFound
			}
			return domain.Message{}, fmt.Errorf("проверка ветки: %w", err)
		}
	}

	author := domain.Author{ID: identity.UserID, Username: identity.Username}
	if user, err := s.users.GetUser(ctx, identity.UserID); err == nil {
		author.Avatar = user.Avatar
	}

	msg, err := s.messages.CreateMessage(ctx, domain.Message{
		Content:   content,
		ChannelID: channelID,
		ThreadID:  threadID,
		Author:    author,
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("сохранение сообщения: %w", err)
	}
	if threadID != "" {
		if err := s.threads.TouchThread(ctx, threadID); err != nil {
			return domain.Message{}, fmt.Errorf("обновление ветки: %w", err)
		}
	}
	return msg, nil
}

// ToggleResult описывает исход переключения реакции.
type ToggleResult struct {
	Added     bool
	Reaction  domain.Reaction
	ChannelID string
}

// ToggleReaction переключает реакцию: существующая тройка
// (пользователь, сообщение, эмодзи) удаляется, отсутствующая — создаётся.
func (s *Service) ToggleReaction(ctx context.Context, identity domain.Identity, messageID, emoji string) (ToggleResult, error) {
	msg, err := s.messages.GetTeamMessage(ctx, messageID, identity.TeamID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ToggleResult{}, ErrMessageNotFound
		}
		return ToggleResult{}, fmt.Errorf("проверка сообщения: %w", err)
	}

	existing, err := s.reactions.FindReaction(ctx, identity.UserID, messageID, emoji)
	switch {
	case err == nil:
		if err := s.reactions.DeleteReaction(ctx, existing.ID); err != nil {
			return ToggleResult{}, fmt.Errorf("удаление реакции: %w", err)
		}
		return ToggleResult{Added: false, Reaction: existing, ChannelID: msg.ChannelID}, nil
	case errors.Is(err, domain.ErrNotFound):
		created, err := s.reactions.CreateReaction(ctx, domain.Reaction{
			Emoji:     emoji,
			UserID:    identity.UserID,
			MessageID: messageID,
		})
		if err != nil {
			return ToggleResult{}, fmt.Errorf("создание реакции: %w", err)
		}
		return ToggleResult{Added: true, Reaction: created, ChannelID: msg.ChannelID}, nil
	default:
		return ToggleResult{}, fmt.Errorf("поиск реакции: %w", err)
	}
}
