package history

import (
	"context"
	"sync"
)

// Memory keeps events in process. Used by tests and `vpsman serve` when
// no external sink is configured.
type Memory struct {
	mu     sync.Mutex
	events []Event
	limit  int
}

// NewMemory keeps at most limit recent events (0 means unbounded).
func NewMemory(limit int) *Memory { return &Memory{limit: limit} }

func (m *Memory) Send(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	if m.limit > 0 && len(m.events) > m.limit {
		m.events = append([]Event(nil), m.events[len(m.events)-m.limit:]...)
	}
	return nil
}

// Events returns a copy, oldest first.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Types lists event types in order, handy for assertions.
func (m *Memory) Types() []EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EventType, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}
