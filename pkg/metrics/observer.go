package metrics

import "time"

// MetricsEvent is one measurement. Value carries the number; Tags are
// low-cardinality labels and Fields carry anything else.
type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// Record stamps and emits an event. A nil observer is ignored.
func Record(obs Observer, name string, value float64, tags map[string]string) {
	if obs == nil {
		return
	}
	obs.RecordEvent(MetricsEvent{Name: name, Time: time.Now(), Value: value, Tags: tags})
}

// Millis converts d for duration-valued events.
func Millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
