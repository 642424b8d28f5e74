package orchestrator

import (
	"sync"
	"time"
)

// idleWatcher fires once after timeout elapses with no Reset call in
// between. Adapted from the teacher's orchestrator/watcher package: same
// Start/Stop/IsRunning lifecycle shape, but driving a single idle timer
// instead of dispatching NATS event subscriptions — the Orchestrator
// session has no event bus to subscribe to, only its own idle clock
// (spec.md §4.8 step 6: the 30-minute idle timeout).
type idleWatcher struct {
	timeout time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	firedCh chan struct{}
	running bool
}

func newIdleWatcher(timeout time.Duration) *idleWatcher {
	return &idleWatcher{timeout: timeout, firedCh: make(chan struct{}, 1)}
}

// Start arms the timer if it isn't already running.
func (w *idleWatcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.timer = time.AfterFunc(w.timeout, w.fire)
}

func (w *idleWatcher) fire() {
	select {
	case w.firedCh <- struct{}{}:
	default:
	}
}

// Reset pushes the deadline back by timeout, clearing any pending fire
// that hasn't been consumed yet (spec.md §4.8: any user message or
// executor completion resets the idle clock).
func (w *idleWatcher) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Reset(w.timeout)
	}
	select {
	case <-w.firedCh:
	default:
	}
}

// Stop disarms the timer.
func (w *idleWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.running = false
}

// IsRunning reports whether the watcher is currently armed.
func (w *idleWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Fired is closed-channel-style signaling: a value arrives once the
// timeout elapses without an intervening Reset.
func (w *idleWatcher) Fired() <-chan struct{} {
	return w.firedCh
}
