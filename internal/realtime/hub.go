package realtime

import (
	"sync"

	"github.com/rs/zerolog"

	"arcyn-link/internal/domain"
	"arcyn-link/internal/infra/metrics"
)

// Hub — реестр комнат и диспетчер рассылки. Комната существует, пока в ней
// есть хотя бы одна сессия; пустые комнаты удаляются сразу.
//
// Членство меняется только путём join/leave/disconnect владеющей сессии.
// Рассылка снимает срез участников под блокировкой, поэтому отключённая
// сессия не может получить событие после удаления из реестра.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Session]struct{}
	log   zerolog.Logger
}

// NewHub создаёт пустой реестр комнат.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		rooms: make(map[string]map[*Session]struct{}),
		log:   logger,
	}
}

// Join добавляет сессию в комнату. Для уже закрытой сессии ничего не делает:
// иначе ссылка на неё пережила бы отключение.
func (h *Hub) Join(s *Session, roomKey string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.closed {
		return
	}
	members, ok := h.rooms[roomKey]
	if !ok {
		members = make(map[*Session]struct{})
		h.rooms[roomKey] = members
	}
	members[s] = struct{}{}
	s.joined[roomKey] = struct{}{}
	metrics.RoomsActive.Set(float64(len(h.rooms)))
}

// Leave убирает сессию из комнаты.
func (h *Hub) Leave(s *Session, roomKey string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(s, roomKey)
	metrics.RoomsActive.Set(float64(len(h.rooms)))
}

// RemoveSession убирает сессию из всех комнат и помечает её закрытой,
// чтобы последующие Join не вернули её в реестр.
func (h *Hub) RemoveSession(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s.closed = true
	for roomKey := range s.joined {
		h.leaveLocked(s, roomKey)
	}
	metrics.RoomsActive.Set(float64(len(h.rooms)))
}

func (h *Hub) leaveLocked(s *Session, roomKey string) {
	members, ok := h.rooms[roomKey]
	if !ok {
		return
	}
	delete(members, s)
	delete(s.joined, roomKey)
	if len(members) == 0 {
		delete(h.rooms, roomKey)
	}
}

// Broadcast доставляет событие всем участникам комнаты, кроме exclude.
// Порядок доставки между получателями не гарантируется; события одной
// сессии доставляются в порядке постановки (буфер сессии — FIFO).
func (h *Hub) Broadcast(roomKey string, event domain.Event, exclude ...*Session) {
	h.mu.RLock()
	members := h.rooms[roomKey]
	targets := make([]*Session, 0, len(members))
	for member := range members {
		if len(exclude) > 0 && member == exclude[0] {
			continue
		}
		targets = append(targets, member)
	}
	h.mu.RUnlock()

	metrics.IncBroadcastEvent(string(event.Kind))
	for _, target := range targets {
		target.enqueue(event)
	}
}

// InRoom сообщает, состоит ли сессия в комнате.
func (h *Hub) InRoom(s *Session, roomKey string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[roomKey][s]
	return ok
}

// RoomSize возвращает число участников комнаты.
func (h *Hub) RoomSize(roomKey string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomKey])
}
