// Package log provides a small structured-logging facade for the proxy,
// backed by zerolog. The interface is deliberately minimal so tests can
// swap in a no-op implementation.
package log

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Common attribute keys used across the proxy for structured fields.
const (
	ComponentKey = "component"
	ModelNameKey = "model_name"
	IterationKey = "iteration"
	LossKey      = "loss"
	BatchSizeKey = "batch_size"
	PathKey      = "path"
	DurationKey  = "duration_ms"
)

// Logger is the structured logging interface used throughout the module.
// Fields are alternating key-value pairs, slog style.
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)

	// With returns a child logger with the given fields pre-populated.
	With(fields ...any) Logger
}

type zerologLogger struct {
	zl zerolog.Logger
}

// NewLogger creates a Logger writing JSON lines to stderr, tagged with the
// given component name.
func NewLogger(component string) Logger {
	return NewLoggerTo(os.Stderr, component)
}

// NewLoggerTo creates a Logger writing to w, tagged with the given
// component name.
func NewLoggerTo(w io.Writer, component string) Logger {
	zl := zerolog.New(w).With().
		Timestamp().
		Str(ComponentKey, component).
		Logger()
	return &zerologLogger{zl: zl}
}

func (l *zerologLogger) Debug(msg string, fields ...any) { l.emit(l.zl.Debug(), msg, fields) }
func (l *zerologLogger) Info(msg string, fields ...any)  { l.emit(l.zl.Info(), msg, fields) }
func (l *zerologLogger) Warn(msg string, fields ...any)  { l.emit(l.zl.Warn(), msg, fields) }
func (l *zerologLogger) Error(msg string, fields ...any) { l.emit(l.zl.Error(), msg, fields) }

func (l *zerologLogger) With(fields ...any) Logger {
	ctx := l.zl.With()
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		ctx = ctx.Interface(key, fields[i+1])
	}
	return &zerologLogger{zl: ctx.Logger()}
}

func (l *zerologLogger) emit(ev *zerolog.Event, msg string, fields []any) {
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		switch v := fields[i+1].(type) {
		case error:
			ev = ev.AnErr(key, v)
		default:
			ev = ev.Interface(key, v)
		}
	}
	ev.Msg(msg)
}
