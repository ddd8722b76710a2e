package metrics

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

// JSONLObserver writes one JSON object per event.
type JSONLObserver struct {
	logger *slog.Logger
	mu     sync.Mutex
	file   *os.File
}

func NewJSONLObserver(w io.Writer) *JSONLObserver {
	if w == nil {
		w = io.Discard
	}
	return &JSONLObserver{logger: slog.New(slog.NewJSONHandler(w, nil))}
}

// OpenJSONLFile appends events to path, creating it if needed.
func OpenJSONLFile(path string) (*JSONLObserver, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	o := NewJSONLObserver(f)
	o.file = f
	return o, nil
}

func (o *JSONLObserver) RecordEvent(ev MetricsEvent) {
	attrs := []slog.Attr{
		slog.String("name", ev.Name),
		slog.Time("time", ev.Time),
		slog.Float64("value", ev.Value),
	}
	for k, v := range ev.Tags {
		attrs = append(attrs, slog.String(k, v))
	}
	for k, v := range ev.Fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.logger.LogAttrs(context.TODO(), slog.LevelInfo, "metrics", attrs...)
}

func (o *JSONLObserver) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.file == nil {
		return nil
	}
	return o.file.Sync()
}

func (o *JSONLObserver) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.file == nil {
		return nil
	}
	err := o.file.Close()
	o.file = nil
	return err
}
