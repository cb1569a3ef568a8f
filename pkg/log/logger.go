package log

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/YuminosukeSato/glmpca/pkg/errors"
)

var (
	mu            sync.RWMutex
	defaultLogger Logger = NewZerologLogger(os.Stderr, zerolog.InfoLevel)
)

// GetLogger returns the library-wide default logger.
func GetLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// SetLogger replaces the library-wide default logger.
func SetLogger(l Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = l
}

// GetLoggerWithName returns the default logger with the model name field
// pre-populated.
func GetLoggerWithName(name string) Logger {
	return GetLogger().With(ModelNameKey, name)
}

// zerologLogger adapts a zerolog.Logger to the Logger interface.
type zerologLogger struct {
	zl zerolog.Logger
}

// NewZerologLogger creates a Logger backed by zerolog writing to w at the
// given level.
func NewZerologLogger(w io.Writer, level zerolog.Level) Logger {
	zl := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &zerologLogger{zl: zl}
}

// NewConsoleLogger creates a human-readable Logger for interactive use,
// such as verbose fitting output.
func NewConsoleLogger(w io.Writer, level zerolog.Level) Logger {
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	zl := zerolog.New(cw).Level(level).With().Timestamp().Logger()
	return &zerologLogger{zl: zl}
}

func (l *zerologLogger) Debug(msg string, fields ...any) {
	l.emit(l.zl.Debug(), msg, fields)
}

func (l *zerologLogger) Info(msg string, fields ...any) {
	l.emit(l.zl.Info(), msg, fields)
}

func (l *zerologLogger) Warn(msg string, fields ...any) {
	l.emit(l.zl.Warn(), msg, fields)
}

func (l *zerologLogger) Error(msg string, fields ...any) {
	l.emit(l.zl.Error(), msg, fields)
}

func (l *zerologLogger) With(fields ...any) Logger {
	ctx := l.zl.With()
	eachPair(fields, func(k string, v any) {
		ctx = ctx.Interface(k, v)
	})
	return &zerologLogger{zl: ctx.Logger()}
}

func (l *zerologLogger) emit(e *zerolog.Event, msg string, fields []any) {
	eachPair(fields, func(k string, v any) {
		switch val := v.(type) {
		case error:
			e = e.AnErr(k, val)
		case zerolog.LogObjectMarshaler:
			e = e.Object(k, val)
		default:
			e = e.Interface(k, val)
		}
	})
	e.Msg(msg)
}

// eachPair walks alternating key/value fields in order. A trailing key
// without a value is reported under the "!BADKEY" convention of slog.
func eachPair(fields []any, fn func(k string, v any)) {
	for i := 0; i < len(fields); i += 2 {
		if i+1 >= len(fields) {
			fn("!BADKEY", fields[i])
			return
		}
		key, ok := fields[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", fields[i])
		}
		fn(key, fields[i+1])
	}
}

func init() {
	// Route library warnings through the structured logger.
	errors.SetZerologWarnFunc(func(warning error) {
		GetLogger().Warn("warning", "warning", warning)
	})
}
