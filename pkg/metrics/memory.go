package metrics

import "sync"

// MemoryObserver keeps every event; used by tests.
type MemoryObserver struct {
	mu     sync.Mutex
	events []MetricsEvent
}

func NewMemoryObserver() *MemoryObserver {
	return &MemoryObserver{}
}

func (m *MemoryObserver) RecordEvent(ev MetricsEvent) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
}

func (m *MemoryObserver) Events() []MetricsEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MetricsEvent(nil), m.events...)
}

// Named returns the events called name, oldest first.
func (m *MemoryObserver) Named(name string) []MetricsEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MetricsEvent
	for _, ev := range m.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}
