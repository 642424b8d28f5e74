// Package events implements the per-task event emitter: an ordered,
// bounded-memory FIFO that feeds the SSE stream for a single task.
package events

import (
	"sync"
	"time"

	"github.com/AriseOS/amid/internal/common/logger"
	"github.com/AriseOS/amid/internal/observability"
	v1 "github.com/AriseOS/amid/pkg/api/v1"
	"go.uber.org/zap"
)

// QueueCapacity is the bound on buffered events per task (spec.md §5
// Backpressure: "Event queue bound: 128 events per task; exceeding drops
// oldest with a warning").
const QueueCapacity = 128

// Timeout is the sentinel value returned by GetEvent when no event arrives
// within the requested window.
var Timeout = &v1.Event{Action: "__timeout__"}

// IsTimeout reports whether e is the timeout sentinel.
func IsTimeout(e *v1.Event) bool {
	return e == Timeout
}

// Emitter is a per-task, ordered, bounded FIFO of events backing one SSE
// stream. It is safe for concurrent use: many producers may call Emit while
// a single consumer drains via GetEvent.
type Emitter struct {
	taskID string
	log    *logger.Logger

	mu     sync.Mutex
	buf    []*v1.Event
	notify chan struct{}
	closed bool
}

// NewEmitter constructs an Emitter for taskID.
func NewEmitter(taskID string, log *logger.Logger) *Emitter {
	return &Emitter{
		taskID: taskID,
		log:    log.WithTaskID(taskID).WithFields(zap.String("component", "event_emitter")),
		notify: make(chan struct{}, 1),
	}
}

// Emit appends event to the queue. Non-blocking: if the emitter is closed
// the event is dropped with a debug log; if the queue is at capacity the
// oldest buffered event is dropped to make room.
func (e *Emitter) Emit(ev *v1.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		e.log.Debug("emit dropped, emitter closed", zap.String("action", string(ev.Action)))
		return
	}

	if len(e.buf) >= QueueCapacity {
		dropped := e.buf[0]
		e.buf = e.buf[1:]
		e.log.Warn("event queue full, dropping oldest",
			zap.String("dropped_action", string(dropped.Action)),
			zap.String("action", string(ev.Action)))
		observability.EventsDroppedTotal.Inc()
	}

	e.buf = append(e.buf, ev)
	observability.EventQueueDepth.Observe(float64(len(e.buf)))

	if ev.Action.IsTerminal() {
		e.closed = true
	}

	e.wake()
}

// EmitAction is a convenience that constructs and emits in one call.
func (e *Emitter) EmitAction(action v1.EventAction, data map[string]interface{}) {
	e.Emit(v1.NewEvent(e.taskID, action, data))
}

// EmitScreenshot emits the fattest event shape: a screenshot capture
// alongside page metadata (spec.md §4.1).
func (e *Emitter) EmitScreenshot(dataURI, url, title, tabID, webviewID string) {
	e.EmitAction(v1.ActionScreenshot, v1.ScreenshotData(dataURI, url, title, tabID, webviewID))
}

// GetEvent blocks for up to timeout for the next event. Returns Timeout if
// none arrives in time, so the SSE writer can interleave heartbeats.
func (e *Emitter) GetEvent(timeout time.Duration) *v1.Event {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		e.mu.Lock()
		if len(e.buf) > 0 {
			ev := e.buf[0]
			e.buf = e.buf[1:]
			e.mu.Unlock()
			return ev
		}
		if e.closed {
			e.mu.Unlock()
			return Timeout
		}
		e.mu.Unlock()

		select {
		case <-e.notify:
			continue
		case <-deadline.C:
			return Timeout
		}
	}
}

// Close idempotently latches the emitter closed, draining any blocked
// consumer with a synthetic terminal event.
func (e *Emitter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.buf = append(e.buf, v1.NewEvent(e.taskID, v1.ActionEnd, map[string]interface{}{
		"synthetic": true,
	}))
	e.mu.Unlock()
	e.wake()
}

// Closed reports whether the terminal latch has tripped.
func (e *Emitter) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// wake signals a blocked GetEvent call without requiring the caller to hold
// e.mu; must be called with e.mu released or held, channel send is
// non-blocking either way because notify has capacity 1.
func (e *Emitter) wake() {
	select {
	case e.notify <- struct{}{}:
	default:
	}
}
