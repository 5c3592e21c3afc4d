// Package log manages a zap logger carried on the context.  All engine code
// logs through the context logger; nothing logs through a package-level
// global.  Loggers are attached with AddLogger (done once, near main or in
// test setup) and refined with ChildLogger.
package log

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field is an alias for zap.Field, so that callers do not need to import zap
// just to add context to a log line.
type Field = zap.Field

type loggerKey struct{}

// AddLogger attaches the default logger to the provided context.  Code that
// already has a context with a logger should use ChildLogger instead.
func AddLogger(ctx context.Context) context.Context {
	return withLogger(ctx, defaultLogger())
}

// AddZap attaches the provided zap logger to the context.  Tests use this to
// route engine logs through the testing.TB.
func AddZap(ctx context.Context, l *zap.Logger) context.Context {
	return withLogger(ctx, l)
}

func withLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

func extract(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok {
		return l
	}
	// A context without a logger is a programming error, but losing the
	// message would make it harder to notice.
	return defaultLogger()
}

var baseLogger *zap.Logger

func defaultLogger() *zap.Logger {
	if baseLogger == nil {
		cfg := zap.NewProductionConfig()
		cfg.Sampling = nil
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		baseLogger = zap.Must(cfg.Build(zap.AddCallerSkip(1)))
	}
	return baseLogger
}

// LogOption modifies the logger attached to a child context.
type LogOption func(*zap.Logger) *zap.Logger

// WithFields returns a LogOption that adds fields to every line logged
// through the child context.
func WithFields(fields ...Field) LogOption {
	return func(l *zap.Logger) *zap.Logger {
		return l.With(fields...)
	}
}

// ChildLogger returns a context whose logger is named name (appended to the
// parent logger's name) with the provided options applied.
func ChildLogger(ctx context.Context, name string, opts ...LogOption) context.Context {
	l := extract(ctx)
	if name != "" {
		l = l.Named(name)
	}
	for _, opt := range opts {
		l = opt(l)
	}
	return withLogger(ctx, l)
}

// Debug logs a message at debug level.
func Debug(ctx context.Context, msg string, fields ...Field) {
	extract(ctx).Debug(msg, fields...)
}

// Info logs a message at info level.
func Info(ctx context.Context, msg string, fields ...Field) {
	extract(ctx).Info(msg, fields...)
}

// Error logs a message at error level.
func Error(ctx context.Context, msg string, fields ...Field) {
	extract(ctx).Error(msg, fields...)
}
