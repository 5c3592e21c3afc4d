package log

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EndSpanFunc is a function that ends a span.
type EndSpanFunc = func(fields ...Field)

// SpanContext starts a span: it logs a "span start" message, and returns a
// child context named for the span along with a function to end the span.
// The end function logs the span's duration; if any field passed to it is an
// Errorp field whose error is non-nil, the span is logged as failed at error
// level.
//
//	ctx, done := log.SpanContext(ctx, "streamBlobData")
//	defer done(log.Errorp(&retErr))
func SpanContext(ctx context.Context, name string, fields ...Field) (context.Context, EndSpanFunc) {
	ctx = ChildLogger(ctx, name, WithFields(fields...))
	Debug(ctx, "span start")
	start := time.Now()
	return ctx, func(fields ...Field) {
		var failed bool
		resolved := make([]Field, 0, len(fields)+1)
		resolved = append(resolved, zap.Duration("spanDuration", time.Since(start)))
		for _, f := range fields {
			if errp, ok := f.Interface.(*error); ok && f.Type == zapcore.SkipType {
				if errp != nil && *errp != nil {
					failed = true
					resolved = append(resolved, zap.Error(*errp))
				}
				continue
			}
			resolved = append(resolved, f)
		}
		if failed {
			Error(ctx, "span failed", resolved...)
			return
		}
		Debug(ctx, "span end", resolved...)
	}
}

// Errorp is a field that marks a span as failed if *err is non-nil when the
// span ends.  The pointer is dereferenced at end-of-span time, so it composes
// with named return values and defer.
func Errorp(err *error) Field {
	return zapcore.Field{
		Key:       "error",
		Type:      zapcore.SkipType,
		Interface: err,
	}
}
