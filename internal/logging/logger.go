// Package logging wraps slog with the conventions used across the
// ingestion service: JSON output by default, level parsing from
// configuration, and device-scoped child loggers.
package logging

import (
	"context"
	"log/slog"
	"os"
)

type contextKey struct{}

// WithDevice returns a context carrying the device ID for log
// enrichment inside worker loops.
func WithDevice(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, contextKey{}, deviceID)
}

// DeviceFromContext extracts the device ID, if any.
func DeviceFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(contextKey{}).(string); ok {
		return v
	}
	return ""
}

// Logger wraps slog.Logger to provide context-aware structured logging.
type Logger struct {
	*slog.Logger
}

// New creates a Logger with the specified level and format ("json" or
// "text"; json is the default).
func New(level slog.Level, format string) *Logger {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelError,
	}

	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return &Logger{Logger: slog.New(handler)}
}

// Default returns a logger over slog.Default.
func Default() *Logger {
	return &Logger{Logger: slog.Default()}
}

// WithContext returns a plain slog logger enriched with any device ID
// carried by the context.
func (l *Logger) WithContext(ctx context.Context) *slog.Logger {
	if dev := DeviceFromContext(ctx); dev != "" {
		return l.Logger.With(slog.String("device_id", dev))
	}
	return l.Logger
}

// With returns a child logger with the given attributes added.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// ParseLevel converts a config string to slog.Level, defaulting to
// info for unknown values.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetDefault installs l as the process-wide default logger.
func SetDefault(l *Logger) {
	slog.SetDefault(l.Logger)
}
