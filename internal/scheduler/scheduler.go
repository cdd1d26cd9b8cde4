// Package scheduler provides a minimal periodic-task loop. It deliberately
// avoids any cron-style dependency so callers can run a single tick of their
// task synchronously in tests.
package scheduler

import (
	"context"
	"time"
)

// RunEvery invokes fn once after warmup, then on every interval tick, until
// ctx is cancelled. It blocks; run it in a goroutine. fn is never invoked
// concurrently with itself by this loop.
func RunEvery(ctx context.Context, interval, warmup time.Duration, fn func(context.Context)) {
	warm := time.NewTimer(warmup)
	defer warm.Stop()

	select {
	case <-ctx.Done():
		return
	case <-warm.C:
		fn(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
