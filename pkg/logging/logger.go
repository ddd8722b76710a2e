package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// InitLogger returns a JSON logger on stdout, used until the configured
// logger is available.
func InitLogger(level slog.Level) *slog.Logger {
	return New(os.Stdout, level, "json")
}

// New builds a logger writing to w. format is "json" or "text".
func New(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
	}
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewComponentLogger creates a component-specific logger with context.
// It adds the component name to all log messages for better traceability.
func NewComponentLogger(base *slog.Logger, component string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With(
		slog.String("component", component),
	)
}
