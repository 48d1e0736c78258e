// Package logging is a small structured logging facade over zerolog with a
// size-rotated file sink mirrored to stdout.
package logging

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"steersim/engine/internal/config"
)

type contextKey string

var (
	loggerContextKey = contextKey("steersim-logger")

	globalMu     sync.RWMutex
	globalLogger = newNopLogger()
)

// Field represents a structured logging attribute.
type Field struct {
	Key   string
	Value any
}

// String returns a string field.
func String(key, value string) Field { return Field{Key: key, Value: value} }

// Int returns an int field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Uint64 returns a uint64 field.
func Uint64(key string, value uint64) Field { return Field{Key: key, Value: value} }

// Float64 returns a float64 field.
func Float64(key string, value float64) Field { return Field{Key: key, Value: value} }

// Bool returns a bool field.
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Duration returns a duration field.
func Duration(key string, value time.Duration) Field { return Field{Key: key, Value: value} }

// Error returns an error field.
func Error(err error) Field { return Field{Key: "error", Value: err} }

// Logger emits JSON-formatted structured logs.
type Logger struct {
	zl   zerolog.Logger
	sink syncWriter
}

type syncWriter interface {
	io.Writer
	Sync() error
}

func parseLevel(raw string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "info", "":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "fatal":
		return zerolog.FatalLevel, nil
	default:
		return zerolog.InfoLevel, errors.New("unknown log level " + raw)
	}
}

// New constructs a JSON logger configured with on-disk rotation and stdout mirroring.
func New(cfg config.LoggingConfig) (*Logger, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("logging path must be specified")
	}
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	file, err := newRotatingWriter(cfg)
	if err != nil {
		return nil, err
	}
	out := zerolog.MultiLevelWriter(file, os.Stdout)
	logger := &Logger{
		zl:   zerolog.New(out).Level(level).With().Timestamp().Str("service", "steersim").Logger(),
		sink: file,
	}
	ReplaceGlobals(logger)
	return logger, nil
}

// NewWriterLogger logs to w at debug level, useful for tests that inspect output.
func NewWriterLogger(w io.Writer) *Logger {
	return &Logger{zl: zerolog.New(w).Level(zerolog.DebugLevel)}
}

// NewTestLogger returns a logger that discards output, suitable for tests.
func NewTestLogger() *Logger {
	return newNopLogger()
}

func newNopLogger() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// ReplaceGlobals swaps the fallback logger used when no context logger is present.
func ReplaceGlobals(logger *Logger) {
	if logger == nil {
		return
	}
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// L returns the current global logger.
func L() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// With augments the logger with additional structured fields.
func (l *Logger) With(fields ...Field) *Logger {
	if l == nil {
		return L().With(fields...)
	}
	ctx := l.zl.With()
	for _, field := range fields {
		ctx = ctx.Interface(field.Key, field.Value)
	}
	return &Logger{zl: ctx.Logger(), sink: l.sink}
}

// Sync flushes the file sink to durable storage.
func (l *Logger) Sync() error {
	if l == nil || l.sink == nil {
		return nil
	}
	return l.sink.Sync()
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields ...Field) { l.log(zerolog.DebugLevel, message, fields) }

// Info logs an informational message.
func (l *Logger) Info(message string, fields ...Field) { l.log(zerolog.InfoLevel, message, fields) }

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields ...Field) { l.log(zerolog.WarnLevel, message, fields) }

// Error logs an error message.
func (l *Logger) Error(message string, fields ...Field) { l.log(zerolog.ErrorLevel, message, fields) }

// Fatal logs a fatal message, flushes the sink and exits the process.
func (l *Logger) Fatal(message string, fields ...Field) {
	l.log(zerolog.ErrorLevel, message, append(fields, Bool("fatal", true)))
	_ = l.Sync()
	os.Exit(1)
}

func (l *Logger) log(level zerolog.Level, message string, fields []Field) {
	if l == nil {
		L().log(level, message, fields)
		return
	}
	event := l.zl.WithLevel(level)
	if event == nil {
		return
	}
	for _, field := range fields {
		switch value := field.Value.(type) {
		case error:
			event = event.AnErr(field.Key, value)
		case string:
			event = event.Str(field.Key, value)
		case int:
			event = event.Int(field.Key, value)
		case uint64:
			event = event.Uint64(field.Key, value)
		case float64:
			event = event.Float64(field.Key, value)
		case bool:
			event = event.Bool(field.Key, value)
		case time.Duration:
			event = event.Dur(field.Key, value)
		default:
			event = event.Interface(field.Key, value)
		}
	}
	event.Msg(message)
}

// ContextWithLogger stores a logger in the provided context.
func ContextWithLogger(ctx context.Context, logger *Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// LoggerFromContext retrieves a logger from context or falls back to the global logger.
func LoggerFromContext(ctx context.Context) *Logger {
	if ctx == nil {
		return L()
	}
	if logger, ok := ctx.Value(loggerContextKey).(*Logger); ok && logger != nil {
		return logger
	}
	return L()
}
