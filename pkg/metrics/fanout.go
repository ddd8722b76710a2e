package metrics

import (
	"context"
	"log/slog"
)

// LoggerObserver mirrors events into the debug log.
type LoggerObserver struct {
	log *slog.Logger
}

func NewLoggerObserver(log *slog.Logger) *LoggerObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LoggerObserver{log: log}
}

func (o *LoggerObserver) RecordEvent(ev MetricsEvent) {
	attrs := []slog.Attr{
		slog.String("name", ev.Name),
		slog.Float64("value", ev.Value),
	}
	for k, v := range ev.Tags {
		attrs = append(attrs, slog.String(k, v))
	}
	o.log.LogAttrs(context.TODO(), slog.LevelDebug, "metrics", attrs...)
}

type MultiObserver struct {
	list []Observer
}

func NewMultiObserver(list ...Observer) *MultiObserver {
	return &MultiObserver{list: list}
}

func (m *MultiObserver) RecordEvent(ev MetricsEvent) {
	for _, obs := range m.list {
		if obs != nil {
			obs.RecordEvent(ev)
		}
	}
}

func (m *MultiObserver) Flush() error {
	var first error
	for _, obs := range m.list {
		if f, ok := obs.(Flusher); ok {
			if err := f.Flush(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
