package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"arcyn-link/internal/domain"
)

// envelope несёт доменное событие вместе с ключом целевой комнаты.
type envelope struct {
	Room string           `json:"room"`
	Kind domain.EventKind `json:"event"`
	Data json.RawMessage  `json:"data"`
}

// RedisPublisher публикует доменные события через Redis pub/sub.
// Используется воркером, чтобы донести summary:ready до сессий гейтвея.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

var _ domain.EventPublisher = (*RedisPublisher)(nil)

// NewRedisPublisher создаёт издателя на указанном pub/sub канале.
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = "realtime_events"
	}
	return &RedisPublisher{client: client, channel: channel}
}

// Publish реализует domain.EventPublisher.
func (p *RedisPublisher) Publish(ctx context.Context, roomKey string, event domain.Event) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	payload, err := json.Marshal(envelope{Room: roomKey, Kind: event.Kind, Data: data})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Dispatch доставляет событие в комнату; гейтвей передаёт сюда рассылку хаба.
type Dispatch func(roomKey string, event domain.Event)

// Subscribe читает события из pub/sub канала и передаёт их рассыльщику.
// Блокируется до отмены контекста.
func Subscribe(ctx context.Context, client *redis.Client, channel string, dispatch Dispatch, logger zerolog.Logger) {
	if channel == "" {
		channel = "realtime_events"
	}
	sub := client.Subscribe(ctx, channel)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logger.Error().Err(err).Msg("notify: нечитаемое событие")
				continue
			}
			dispatch(env.Room, domain.Event{Kind: env.Kind, Data: env.Data})
		}
	}
}
