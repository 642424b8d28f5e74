// Package appctx builds the detached context an Orchestrator session runs
// under: a task's HTTP request context ends the moment the handler returns,
// but the session itself keeps running in the background until it finishes,
// is cancelled, or hits its runtime ceiling (cmd/amid/starter.go).
package appctx

import (
	"context"
	"time"
)

// Detached returns a new context that is not tied to parent's cancellation
// (an HTTP request context, typically) but still ends when stopCh closes or
// timeout elapses, whichever comes first. cmd/amid/starter.go uses this to
// give each task's background session a lifetime independent of the request
// that created it, bounded only by task.State's own cancel channel.
func Detached(parent context.Context, stopCh <-chan struct{}, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	// Propagate cancellation from stopCh
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
