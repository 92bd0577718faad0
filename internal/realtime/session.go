package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"arcyn-link/internal/domain"
	"arcyn-link/internal/infra/metrics"
	"arcyn-link/internal/usecase/chat"
)

const (
	authTimeout   = 10 * time.Second
	writeTimeout  = 5 * time.Second
	sendBufferLen = 64
)

// sessionState описывает положение сессии в конечном автомате
// Connecting → Authenticated → Closed.
type sessionState int

const (
	stateConnecting sessionState = iota
	stateAuthenticated
	stateClosed
)

// Session — одно живое вебсокет-подключение. Входящие события одной сессии
// обрабатываются строго последовательно циклом чтения; исходящие уходят
// через буферизованный канал, поэтому их порядок сохраняется.
type Session struct {
	id       string
	conn     *websocket.Conn
	identity domain.Identity
	state    sessionState

	hub      *Hub
	verifier domain.TokenVerifier
	chat     *chat.Service
	log      zerolog.Logger

	send chan domain.Event
	done chan struct{}
	once sync.Once

	// joined и closed защищены мьютексом хаба.
	joined map[string]struct{}
	closed bool

	handlers map[string]func(context.Context, json.RawMessage)
}

// NewSession создаёт сессию в состоянии Connecting.
// Если token непустой, аутентификация выполняется до цикла чтения; иначе
// первым кадром клиента обязан быть auth.
func NewSession(conn *websocket.Conn, hub *Hub, verifier domain.TokenVerifier, chatSvc *chat.Service, logger zerolog.Logger) *Session {
	s := &Session{
		id:       uuid.NewString(),
		conn:     conn,
		state:    stateConnecting,
		hub:      hub,
		verifier: verifier,
		chat:     chatSvc,
		log:      logger,
		send:     make(chan domain.Event, sendBufferLen),
		done:     make(chan struct{}),
		joined:   make(map[string]struct{}),
	}
	s.handlers = map[string]func(context.Context, json.RawMessage){
		frameJoin:        s.handleJoin,
		frameLeave:       s.handleLeave,
		frameSendMessage: s.handleSendMessage,
		frameReaction:    s.handleReaction,
		frameTypingStart: s.handleTypingStart,
		frameTypingStop:  s.handleTypingStop,
	}
	return s
}

// ID возвращает идентификатор сессии.
func (s *Session) ID() string { return s.id }

// Identity возвращает личность после аутентификации.
func (s *Session) Identity() domain.Identity { return s.identity }

// Run обслуживает соединение до отключения клиента или отмены контекста.
func (s *Session) Run(ctx context.Context, token string) {
	defer s.close()

	go s.writeLoop(ctx)

	if err := s.authenticate(ctx, token); err != nil {
		metrics.AuthFailures.Inc()
		s.log.Debug().Err(err).Msg("session: аутентификация отклонена")
		_ = s.conn.Close(websocket.StatusPolicyViolation, "authentication failed")
		return
	}

	metrics.SessionsConnected.Inc()
	defer metrics.SessionsConnected.Dec()

	s.readLoop(ctx)
}

// authenticate выполняет единственную попытку аутентификации.
// До её успеха никакие другие события не обрабатываются.
func (s *Session) authenticate(ctx context.Context, token string) error {
	if token == "" {
		frame, err := s.readFrame(ctx, authTimeout)
		if err != nil {
			return err
		}
		if frame.Event != frameAuth {
			return errors.New("первым кадром ожидается auth")
		}
		var payload authPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			return err
		}
		token = payload.Token
	}

	identity, err := s.verifier.Verify(token)
	if err != nil {
		return err
	}
	s.identity = identity
	s.state = stateAuthenticated

	// Сессия сразу попадает в комнату своей команды,
	// и команда узнаёт о появлении пользователя.
	s.hub.Join(s, domain.TeamRoom(identity.TeamID))
	s.hub.Broadcast(domain.TeamRoom(identity.TeamID), domain.Event{
		Kind: domain.EventUserOnline,
		Data: domain.PresencePayload{UserID: identity.UserID, Username: identity.Username},
	}, s)
	s.enqueue(domain.Event{Kind: domain.EventAuthOK, Data: domain.PresencePayload{UserID: identity.UserID, Username: identity.Username}})
	return nil
}

func (s *Session) readLoop(ctx context.Context) {
	for {
		frame, err := s.readFrame(ctx, 0)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == -1 && !errors.Is(err, context.Canceled) {
				s.log.Debug().Err(err).Msg("session: соединение потеряно")
			}
			return
		}
		handler, ok := s.handlers[frame.Event]
		if !ok {
			s.sendError("неизвестное событие: " + frame.Event)
			continue
		}
		metrics.IncInboundEvent(frame.Event)
		handler(ctx, frame.Data)
	}
}

func (s *Session) readFrame(ctx context.Context, timeout time.Duration) (wireFrame, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	_, data, err := s.conn.Read(ctx)
	if err != nil {
		return wireFrame{}, err
	}
	var frame wireFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return wireFrame{}, err
	}
	return frame, nil
}

func (s *Session) writeLoop(ctx context.Context) {
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case event := <-s.send:
			writeCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			data, err := json.Marshal(wireFrame{Event: string(event.Kind), Data: mustRaw(event.Data)})
			if err == nil {
				err = s.conn.Write(writeCtx, websocket.MessageText, data)
			}
			cancel()
			if err != nil {
				// Адресат пропал: событие молча пропускается, сессию закроет цикл чтения.
				return
			}
		}
	}
}

// enqueue ставит событие в буфер сессии. Закрытая сессия не считается
// ошибкой рассылки. Переполнение буфера закрывает сессию: участник комнаты
// не может молча пропустить событие, отставший клиент переподключается
// и синхронизируется заново.
func (s *Session) enqueue(event domain.Event) {
	select {
	case <-s.done:
	case s.send <- event:
	default:
		metrics.EventsDropped.Inc()
		s.log.Warn().Str("session", s.id).Msg("session: буфер переполнен, сессия закрывается")
		s.close()
	}
}

func (s *Session) sendError(msg string) {
	s.enqueue(domain.Event{Kind: domain.EventError, Data: domain.ErrorPayload{Message: msg}})
}

// close переводит сессию в Closed: убирает её из всех комнат и рассылает
// команде user:offline. Безопасен при повторных вызовах.
func (s *Session) close() {
	s.once.Do(func() {
		wasAuthenticated := s.state == stateAuthenticated
		s.state = stateClosed
		s.hub.RemoveSession(s)
		close(s.done)
		if s.conn != nil {
			_ = s.conn.CloseNow()
		}
		if wasAuthenticated {
			s.hub.Broadcast(domain.TeamRoom(s.identity.TeamID), domain.Event{
				Kind: domain.EventUserOffline,
				Data: domain.PresencePayload{UserID: s.identity.UserID, Username: s.identity.Username},
			})
		}
	})
}

func (s *Session) handleJoin(ctx context.Context, data json.RawMessage) {
	var payload channelPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		s.sendError("некорректный запрос")
		return
	}
	if _, err := s.chat.AuthorizeChannel(ctx, s.identity, payload.ChannelID); err != nil {
		s.sendError(userMessage(err, "не удалось войти в канал"))
		return
	}
	s.hub.Join(s, domain.ChannelRoom(payload.ChannelID))
	s.enqueue(domain.Event{Kind: domain.EventChannelJoined, Data: domain.ChannelPayload{ChannelID: payload.ChannelID}})
}

func (s *Session) handleLeave(_ context.Context, data json.RawMessage) {
	var payload channelPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		s.sendError("некорректный запрос")
		return
	}
	s.hub.Leave(s, domain.ChannelRoom(payload.ChannelID))
	s.enqueue(domain.Event{Kind: domain.EventChannelLeft, Data: domain.ChannelPayload{ChannelID: payload.ChannelID}})
}

func (s *Session) handleSendMessage(ctx context.Context, data json.RawMessage) {
	var payload sendMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		s.sendError("некорректный запрос")
		return
	}
	msg, err := s.chat.SendMessage(ctx, s.identity, payload.ChannelID, payload.ThreadID, payload.Content)
	if err != nil {
		s.sendError(userMessage(err, "не удалось отправить сообщение"))
		return
	}
	// Отправитель получает событие наравне с остальными: единый порядок.
	s.hub.Broadcast(domain.ChannelRoom(msg.ChannelID), domain.Event{Kind: domain.EventMessageNew, Data: msg})
}

func (s *Session) handleReaction(ctx context.Context, data json.RawMessage) {
	var payload reactionPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		s.sendError("некорректный запрос")
		return
	}
	result, err := s.chat.ToggleReaction(ctx, s.identity, payload.MessageID, payload.Emoji)
	if err != nil {
		s.sendError(userMessage(err, "не удалось переключить реакцию"))
		return
	}
	room := domain.ChannelRoom(result.ChannelID)
	if result.Added {
		s.hub.Broadcast(room, domain.Event{Kind: domain.EventReactionAdded, Data: result.Reaction})
		return
	}
	s.hub.Broadcast(room, domain.Event{Kind: domain.EventReactionRemoved, Data: domain.ReactionRemovedPayload{
		MessageID: result.Reaction.MessageID,
		Emoji:     result.Reaction.Emoji,
		UserID:    result.Reaction.UserID,
	}})
}

func (s *Session) handleTypingStart(_ context.Context, data json.RawMessage) {
	s.broadcastTyping(data, domain.EventTypingStart)
}

func (s *Session) handleTypingStop(_ context.Context, data json.RawMessage) {
	s.broadcastTyping(data, domain.EventTypingStop)
}

// broadcastTyping рассылает индикатор набора без персистентности;
// отправитель своё событие не получает.
func (s *Session) broadcastTyping(data json.RawMessage, kind domain.EventKind) {
	var payload channelPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		s.sendError("некорректный запрос")
		return
	}
	s.hub.Broadcast(domain.ChannelRoom(payload.ChannelID), domain.Event{Kind: kind, Data: domain.TypingPayload{
		UserID:    s.identity.UserID,
		Username:  s.identity.Username,
		ChannelID: payload.ChannelID,
	}}, s)
}

// userMessage возвращает текст пользовательской ошибки или запасной текст
// для внутренних сбоев, которые клиенту не раскрываются.
func userMessage(err error, fallback string) string {
	switch {
	case errors.Is(err, chat.ErrChannelNotFound),
		errors.Is(err, chat.ErrMessageNotFound),
		errors.Is(err, chat.ErrThreadNotFound),
		errors.Is(err, chat.ErrEmptyMessage):
		return err.Error()
	default:
		return fallback
	}
}

func mustRaw(v any) json.RawMessage {
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
