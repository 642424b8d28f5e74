package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIdleWatcherFiresAfterTimeout(t *testing.T) {
	w := newIdleWatcher(20 * time.Millisecond)
	assert.False(t, w.IsRunning())

	w.Start()
	assert.True(t, w.IsRunning())

	select {
	case <-w.Fired():
	case <-time.After(time.Second):
		t.Fatal("idle watcher never fired")
	}
}

func TestIdleWatcherResetPostponesFire(t *testing.T) {
	w := newIdleWatcher(40 * time.Millisecond)
	w.Start()

	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		w.Reset()
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-w.Fired():
		t.Fatal("idle watcher fired despite continuous resets")
	default:
	}
}

func TestIdleWatcherStopDisarms(t *testing.T) {
	w := newIdleWatcher(10 * time.Millisecond)
	w.Start()
	w.Stop()
	assert.False(t, w.IsRunning())

	time.Sleep(30 * time.Millisecond)
	select {
	case <-w.Fired():
		t.Fatal("stopped watcher should not fire")
	default:
	}
}

func TestIdleWatcherStartIsIdempotent(t *testing.T) {
	w := newIdleWatcher(time.Minute)
	w.Start()
	w.Start()
	assert.True(t, w.IsRunning())
}
