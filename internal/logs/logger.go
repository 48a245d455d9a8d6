package logs

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// Logger logger interface
type Logger interface {
	Debug(ctx context.Context, msg string, args ...interface{})
	Info(ctx context.Context, msg string, args ...interface{})
	Warn(ctx context.Context, msg string, args ...interface{})
	Error(ctx context.Context, msg string, args ...interface{})
}

// LogLevel log level
type LogLevel int

const (
	//Debug enable debug or above log output
	Debug LogLevel = 0
	//Info enable info or above log output
	Info LogLevel = 1
	//Warn enable warn or above log output
	Warn LogLevel = 2
	//Error enable error or above log output
	Error LogLevel = 3
)

func (ll LogLevel) String() string {
	switch ll {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	}
	return ""
}

// ParseLevel maps DEBUG/INFO/WARN/ERROR (any case) to a LogLevel, defaulting to Info.
func ParseLevel(level string) LogLevel {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return Info
	}
	switch lvl {
	case zerolog.DebugLevel, zerolog.TraceLevel:
		return Debug
	case zerolog.WarnLevel:
		return Warn
	case zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel:
		return Error
	}
	return Info
}

func (ll LogLevel) zerologLevel() zerolog.Level {
	switch ll {
	case Debug:
		return zerolog.DebugLevel
	case Warn:
		return zerolog.WarnLevel
	case Error:
		return zerolog.ErrorLevel
	}
	return zerolog.InfoLevel
}

// ctxFieldsKey carries extra log fields (batchId, jobId, ...) on a context.
type ctxFieldsKey struct{}

// WithFields returns a context whose log lines carry the given key/value pairs.
func WithFields(ctx context.Context, kvs ...interface{}) context.Context {
	fields := make(map[string]interface{})
	if prev, ok := ctx.Value(ctxFieldsKey{}).(map[string]interface{}); ok {
		for k, v := range prev {
			fields[k] = v
		}
	}
	for i := 0; i+1 < len(kvs); i += 2 {
		fields[fmt.Sprint(kvs[i])] = kvs[i+1]
	}
	return context.WithValue(ctx, ctxFieldsKey{}, fields)
}

type defaultLogger struct {
	zl zerolog.Logger
}

//NewLogger init Logger instance
func NewLogger(writer io.Writer, logLevel LogLevel) *defaultLogger {
	zl := zerolog.New(writer).
		Level(logLevel.zerologLevel()).
		With().
		Timestamp().
		CallerWithSkipFrameCount(4).
		Logger()
	return &defaultLogger{zl: zl}
}

func (l *defaultLogger) Debug(ctx context.Context, msg string, args ...interface{}) {
	l.write(ctx, l.zl.Debug(), msg, args...)
}

func (l *defaultLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	l.write(ctx, l.zl.Info(), msg, args...)
}

func (l *defaultLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	l.write(ctx, l.zl.Warn(), msg, args...)
}

func (l *defaultLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	l.write(ctx, l.zl.Error(), msg, args...)
}

func (l *defaultLogger) write(ctx context.Context, ev *zerolog.Event, msg string, args ...interface{}) {
	if ev == nil {
		return
	}
	if ctx != nil {
		if fields, ok := ctx.Value(ctxFieldsKey{}).(map[string]interface{}); ok {
			ev = ev.Fields(fields)
		}
	}
	ev.Msgf(msg, args...)
}
