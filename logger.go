package bgmigration

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"
)

// Level log level
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

// Logger the logger used by the engine and its adapters
type Logger interface {
	Debug(ctx context.Context, msg string, args ...interface{})
	Info(ctx context.Context, msg string, args ...interface{})
	Warn(ctx context.Context, msg string, args ...interface{})
	Error(ctx context.Context, msg string, args ...interface{})
}

type loggerKey struct{}

// WithLogFields attaches fields to ctx, they are appended to every log line written with that ctx
func WithLogFields(ctx context.Context, fields map[string]interface{}) context.Context {
	merged := logrus.Fields{}
	if prev, ok := ctx.Value(loggerKey{}).(logrus.Fields); ok {
		for k, v := range prev {
			merged[k] = v
		}
	}
	for k, v := range fields {
		merged[k] = v
	}
	return context.WithValue(ctx, loggerKey{}, merged)
}

type logrusLogger struct {
	logger *logrus.Logger
}

// NewLogger create a Logger writing text lines to writer
func NewLogger(writer io.Writer, level Level) Logger {
	l := logrus.New()
	l.SetOutput(writer)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(toLogrusLevel(level))
	return &logrusLogger{logger: l}
}

// NewLogrusLogger wraps an existing logrus logger
func NewLogrusLogger(l *logrus.Logger) Logger {
	return &logrusLogger{logger: l}
}

// ParseLevel converts "debug", "info", "warn" or "error" to a Level, defaulting to Info
func ParseLevel(s string) Level {
	lvl, err := logrus.ParseLevel(s)
	if err != nil {
		return Info
	}
	switch {
	case lvl >= logrus.DebugLevel:
		return Debug
	case lvl == logrus.InfoLevel:
		return Info
	case lvl == logrus.WarnLevel:
		return Warn
	}
	return Error
}

func toLogrusLevel(level Level) logrus.Level {
	switch level {
	case Debug:
		return logrus.DebugLevel
	case Warn:
		return logrus.WarnLevel
	case Error:
		return logrus.ErrorLevel
	}
	return logrus.InfoLevel
}

func (l *logrusLogger) entry(ctx context.Context) *logrus.Entry {
	e := logrus.NewEntry(l.logger)
	if ctx != nil {
		if fields, ok := ctx.Value(loggerKey{}).(logrus.Fields); ok {
			e = e.WithFields(fields)
		}
	}
	return e
}

func (l *logrusLogger) Debug(ctx context.Context, msg string, args ...interface{}) {
	l.entry(ctx).Debugf(msg, args...)
}

func (l *logrusLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	l.entry(ctx).Infof(msg, args...)
}

func (l *logrusLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	l.entry(ctx).Warnf(msg, args...)
}

func (l *logrusLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	l.entry(ctx).Errorf(msg, args...)
}
