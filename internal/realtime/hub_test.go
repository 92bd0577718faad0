package realtime

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"arcyn-link/internal/domain"
)

func newTestSession(hub *Hub) *Session {
	return NewSession(nil, hub, nil, nil, zerolog.Nop())
}

func drain(s *Session) []domain.Event {
	var events []domain.Event
	for {
		select {
		case event := <-s.send:
			events = append(events, event)
		default:
			return events
		}
	}
}

func TestBroadcastDeliversToRoomMembersOnly(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	a := newTestSession(hub)
	b := newTestSession(hub)
	c := newTestSession(hub)

	hub.Join(a, "channel:general")
	hub.Join(b, "channel:general")
	hub.Join(c, "channel:random")

	hub.Broadcast("channel:general", domain.Event{Kind: domain.EventMessageNew, Data: "hello"})

	if got := len(drain(a)); got != 1 {
		t.Fatalf("ожидали 1 событие у A, получили %d", got)
	}
	if got := len(drain(b)); got != 1 {
		t.Fatalf("ожидали 1 событие у B, получили %d", got)
	}
	if got := len(drain(c)); got != 0 {
		t.Fatalf("ожидали 0 событий у C, получили %d", got)
	}
}

func TestBroadcastExcludesSender(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	sender := newTestSession(hub)
	other := newTestSession(hub)

	hub.Join(sender, "channel:general")
	hub.Join(other, "channel:general")

	hub.Broadcast("channel:general", domain.Event{Kind: domain.EventTypingStart}, sender)

	if got := len(drain(sender)); got != 0 {
		t.Fatalf("отправитель не должен получать своё событие, получил %d", got)
	}
	if got := len(drain(other)); got != 1 {
		t.Fatalf("ожидали 1 событие у второго участника, получили %d", got)
	}
}

func TestRemoveSessionCleansAllRooms(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	s := newTestSession(hub)

	hub.Join(s, "channel:one")
	hub.Join(s, "channel:two")
	hub.RemoveSession(s)

	if hub.RoomSize("channel:one") != 0 || hub.RoomSize("channel:two") != 0 {
		t.Fatalf("после отключения сессия не должна числиться в комнатах")
	}

	hub.Broadcast("channel:one", domain.Event{Kind: domain.EventMessageNew})
	if got := len(drain(s)); got != 0 {
		t.Fatalf("отключённая сессия получила %d событий", got)
	}
}

func TestJoinAfterRemoveIsNoop(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	s := newTestSession(hub)

	hub.RemoveSession(s)
	hub.Join(s, "channel:general")

	if hub.RoomSize("channel:general") != 0 {
		t.Fatalf("закрытая сессия не должна попадать в комнату")
	}
}

func TestLeaveRemovesOnlyThatRoom(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	s := newTestSession(hub)

	hub.Join(s, "channel:one")
	hub.Join(s, "channel:two")
	hub.Leave(s, "channel:one")

	if hub.InRoom(s, "channel:one") {
		t.Fatalf("сессия осталась в покинутой комнате")
	}
	if !hub.InRoom(s, "channel:two") {
		t.Fatalf("сессия пропала из второй комнаты")
	}
}

func TestBroadcastPreservesPerSessionOrder(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	s := newTestSession(hub)
	hub.Join(s, "channel:general")

	hub.Broadcast("channel:general", domain.Event{Kind: domain.EventMessageNew, Data: "first"})
	hub.Broadcast("channel:general", domain.Event{Kind: domain.EventMessageNew, Data: "second"})
	hub.Broadcast("channel:general", domain.Event{Kind: domain.EventMessageNew, Data: "third"})

	events := drain(s)
	if len(events) != 3 {
		t.Fatalf("ожидали 3 события, получили %d", len(events))
	}
	want := []string{"first", "second", "third"}
	for i, event := range events {
		if event.Data != want[i] {
			t.Fatalf("нарушен порядок доставки: позиция %d получила %v", i, event.Data)
		}
	}
}

func TestOverflowedSessionIsClosed(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	s := newTestSession(hub)
	hub.Join(s, "channel:general")

	for i := 0; i < sendBufferLen+1; i++ {
		hub.Broadcast("channel:general", domain.Event{Kind: domain.EventMessageNew, Data: i})
	}

	if hub.RoomSize("channel:general") != 0 {
		t.Fatalf("переполненная сессия должна покинуть комнаты")
	}
	select {
	case <-s.done:
	default:
		t.Fatalf("переполненная сессия должна быть закрыта")
	}

	hub.Join(s, "channel:general")
	if hub.RoomSize("channel:general") != 0 {
		t.Fatalf("закрытая сессия не должна возвращаться в комнату")
	}
}

func TestConcurrentJoinAndBroadcast(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := newTestSession(hub)
			hub.Join(s, "channel:general")
			hub.Broadcast("channel:general", domain.Event{Kind: domain.EventMessageNew})
			hub.Leave(s, "channel:general")
			hub.RemoveSession(s)
		}()
	}
	wg.Wait()

	if hub.RoomSize("channel:general") != 0 {
		t.Fatalf("после отключения всех сессий комната должна исчезнуть")
	}
}
