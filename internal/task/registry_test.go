package task

import (
	"testing"
	"time"

	"github.com/AriseOS/amid/internal/common/logger"
	v1 "github.com/AriseOS/amid/pkg/api/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)
	return log
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry(testLogger(t))
	log := testLogger(t)

	s := NewState("task-1", "do the thing", "/tmp", NewTaskEmitter("task-1", log))
	require.NoError(t, r.Register(s))

	got, err := r.Get("task-1")
	require.NoError(t, err)
	assert.Equal(t, s, got)

	assert.ErrorIs(t, r.Register(s), ErrTaskExists)
}

func TestRegistryGetMissing(t *testing.T) {
	r := NewRegistry(testLogger(t))

	_, err := r.Get("nope")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestRegistryStats(t *testing.T) {
	r := NewRegistry(testLogger(t))
	log := testLogger(t)

	running := NewState("t-run", "p", "/tmp", NewTaskEmitter("t-run", log))
	running.SetStatus(v1.TaskStatusRunning)
	require.NoError(t, r.Register(running))

	done := NewState("t-done", "p", "/tmp", NewTaskEmitter("t-done", log))
	done.SetStatus(v1.TaskStatusCompleted)
	require.NoError(t, r.Register(done))

	stats := r.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Running)
	assert.Equal(t, 1, stats.Completed)
}

func TestRegistrySweepDropsOldTerminalTasks(t *testing.T) {
	r := NewRegistry(testLogger(t))
	r.maxAge = 10 * time.Millisecond
	log := testLogger(t)

	s := NewState("t-old", "p", "/tmp", NewTaskEmitter("t-old", log))
	s.SetStatus(v1.TaskStatusCompleted)
	require.NoError(t, r.Register(s))

	time.Sleep(20 * time.Millisecond)
	r.sweep()

	_, err := r.Get("t-old")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.True(t, s.Emitter.Closed())
}

func TestRegistrySweepKeepsNonTerminalTasks(t *testing.T) {
	r := NewRegistry(testLogger(t))
	r.maxAge = 10 * time.Millisecond
	log := testLogger(t)

	s := NewState("t-run", "p", "/tmp", NewTaskEmitter("t-run", log))
	s.SetStatus(v1.TaskStatusRunning)
	require.NoError(t, r.Register(s))

	time.Sleep(20 * time.Millisecond)
	r.sweep()

	_, err := r.Get("t-run")
	assert.NoError(t, err)
}

func TestRegistryStartStop(t *testing.T) {
	r := NewRegistry(testLogger(t))
	r.interval = 5 * time.Millisecond

	r.Start()
	r.Start() // second call is a no-op, must not deadlock
	time.Sleep(15 * time.Millisecond)
	r.Stop()
	r.Stop() // idempotent
}
