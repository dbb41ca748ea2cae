// Package logger provides the structured logging facade used across the worker.
// The interface is intentionally small so components can be tested with a noop
// logger and the backend can be swapped without touching call sites.
package logger

import (
	"log/slog"
	"os"
	"time"
)

// Field is a typed key/value pair attached to a log entry.
type Field struct {
	Key   string
	Value any
}

// String creates a string field.
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an int field.
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Int64 creates an int64 field.
func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

// Uint64 creates a uint64 field.
func Uint64(key string, value uint64) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a bool field.
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Duration creates a duration field.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

// Error creates an error field under the conventional "error" key.
func Error(err error) Field {
	return Field{Key: "error", Value: err}
}

// Logger is the logging interface components depend on.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

// slogLogger backs Logger with the standard library's structured logger.
type slogLogger struct {
	l *slog.Logger
}

// New creates a Logger writing JSON to stderr at the given level.
func New(level slog.Level) Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return &slogLogger{l: slog.New(handler)}
}

// NewWithHandler wraps an existing slog handler. Used by tests to capture output.
func NewWithHandler(handler slog.Handler) Logger {
	return &slogLogger{l: slog.New(handler)}
}

func (s *slogLogger) Debug(msg string, fields ...Field) { s.l.Debug(msg, args(fields)...) }
func (s *slogLogger) Info(msg string, fields ...Field)  { s.l.Info(msg, args(fields)...) }
func (s *slogLogger) Warn(msg string, fields ...Field)  { s.l.Warn(msg, args(fields)...) }
func (s *slogLogger) Error(msg string, fields ...Field) { s.l.Error(msg, args(fields)...) }

func (s *slogLogger) With(fields ...Field) Logger {
	return &slogLogger{l: s.l.With(args(fields)...)}
}

func args(fields []Field) []any {
	out := make([]any, 0, len(fields)*2)
	for i := range fields {
		out = append(out, fields[i].Key, fields[i].Value)
	}
	return out
}

// noop discards all log entries.
type noop struct{}

// Noop returns a Logger that discards everything. Intended for tests.
func Noop() Logger { return noop{} }

func (noop) Debug(string, ...Field) {}
func (noop) Info(string, ...Field)  {}
func (noop) Warn(string, ...Field)  {}
func (noop) Error(string, ...Field) {}
func (noop) With(...Field) Logger   { return noop{} }
