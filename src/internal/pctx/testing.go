package pctx

import (
	"context"
	"testing"

	"github.com/izio7/tensorboard/src/internal/log"
	"go.uber.org/zap/zaptest"
)

// TestContext returns a context for use in tests.  Logs are routed to the
// testing.TB and the context is canceled when the test ends.
func TestContext(tb testing.TB) context.Context {
	ctx := log.AddZap(context.Background(), zaptest.NewLogger(tb))
	ctx, cancel := context.WithCancel(ctx)
	tb.Cleanup(cancel)
	return Child(ctx, tb.Name())
}
