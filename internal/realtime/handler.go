package realtime

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"arcyn-link/internal/domain"
	"arcyn-link/internal/usecase/chat"
)

// Handler принимает вебсокет-подключения и запускает сессии.
type Handler struct {
	hub      *Hub
	verifier domain.TokenVerifier
	chat     *chat.Service
	log      zerolog.Logger
}

// NewHandler создаёт обработчик подключений.
func NewHandler(hub *Hub, verifier domain.TokenVerifier, chatSvc *chat.Service, logger zerolog.Logger) *Handler {
	return &Handler{hub: hub, verifier: verifier, chat: chatSvc, log: logger}
}

// ServeWS апгрейдит соединение и обслуживает сессию до отключения.
// Токен принимается в query-параметре; без него первым кадром обязан быть auth.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Debug().Err(err).Msg("ws: апгрейд не удался")
		return
	}
	session := NewSession(conn, h.hub, h.verifier, h.chat, h.log)
	session.Run(r.Context(), r.URL.Query().Get("token"))
}
