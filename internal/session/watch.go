package session

import (
	"github.com/stormqa/stormqa/internal/controlplane/runmanager"
)

// EventKind says what changed.
type EventKind string

const (
	EventState     EventKind = "state"
	EventTelemetry EventKind = "telemetry"
	EventScenario  EventKind = "scenario"
)

// Event is delivered to watchers after a change.
type Event struct {
	Kind   EventKind
	Status runmanager.Status
	Chart  []int
}

// Watch returns a channel of events with room for buffer pending events.
// Events are dropped for a watcher whose channel is full. The channel is
// closed by cancel or Close.
func (s *Session) Watch(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	s.watchersMu.Lock()
	id := s.watcherID
	s.watcherID++
	s.watchers[id] = ch
	s.watchersMu.Unlock()

	return ch, func() {
		s.watchersMu.Lock()
		defer s.watchersMu.Unlock()
		if c, ok := s.watchers[id]; ok {
			close(c)
			delete(s.watchers, id)
		}
	}
}

// publish runs on the mailbox goroutine.
func (s *Session) publish(kind EventKind) {
	s.watchersMu.Lock()
	defer s.watchersMu.Unlock()
	if len(s.watchers) == 0 {
		return
	}

	ev := Event{Kind: kind, Status: s.ctrl.Status()}
	if kind != EventScenario {
		ev.Chart = s.ctrl.Buffer().ActiveUsersSeries()
	}
	for _, ch := range s.watchers {
		select {
		case ch <- ev:
		default:
		}
	}
}
