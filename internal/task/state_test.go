package task

import (
	"testing"
	"time"

	v1 "github.com/AriseOS/amid/pkg/api/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestState(t *testing.T) *State {
	return NewState("task-1", "do the thing", "/tmp", NewTaskEmitter("task-1", testLogger(t)))
}

func TestStateMarkCancelledIsOneShot(t *testing.T) {
	s := newTestState(t)

	s.MarkCancelled("user requested stop")
	assert.True(t, s.Cancelled())
	assert.Equal(t, v1.TaskStatusCancelled, s.Status())

	select {
	case <-s.CancelCh():
	default:
		t.Fatal("cancel channel should be closed")
	}

	// Calling again must not panic (close of closed channel).
	assert.NotPanics(t, func() { s.MarkCancelled("again") })
}

func TestStatePauseResume(t *testing.T) {
	s := newTestState(t)
	assert.False(t, s.Paused())

	s.Pause()
	assert.True(t, s.Paused())

	s.Resume()
	assert.False(t, s.Paused())
}

func TestStateUserMessageQueue(t *testing.T) {
	s := newTestState(t)

	require.NoError(t, s.PutUserMessage("hello"))
	msg, ok := s.GetUserMessage(time.Second)
	require.True(t, ok)
	assert.Equal(t, "hello", msg)

	_, ok = s.GetUserMessage(10 * time.Millisecond)
	assert.False(t, ok)
}

func TestStateUserMessageQueueOverflow(t *testing.T) {
	s := newTestState(t)

	for i := 0; i < UserMessageQueueCapacity; i++ {
		require.NoError(t, s.PutUserMessage("msg"))
	}

	err := s.PutUserMessage("one too many")
	assert.Error(t, err)
}

func TestStateHumanResponseRendezvous(t *testing.T) {
	s := newTestState(t)

	go func() {
		time.Sleep(5 * time.Millisecond)
		s.ProvideHumanResponse("yes")
	}()

	text, ok := s.WaitForHumanResponse(time.Second)
	require.True(t, ok)
	assert.Equal(t, "yes", text)
}

func TestStateHumanResponseTimeout(t *testing.T) {
	s := newTestState(t)

	_, ok := s.WaitForHumanResponse(10 * time.Millisecond)
	assert.False(t, ok)
}

func TestStateConversationAndResult(t *testing.T) {
	s := newTestState(t)

	s.AddConversation("user", "hello")
	s.AddConversation("assistant", "hi there")

	turns := s.Conversation()
	require.Len(t, turns, 2)
	assert.Equal(t, "user", turns[0].Role)
	assert.Equal(t, "assistant", turns[1].Role)

	s.SetResult("the final answer")
	s.IncrLoopIterations()
	s.IncrToolsCalled()

	summary := s.ToJSON()
	assert.Equal(t, "the final answer", summary.ResultPreview)
	assert.Equal(t, 1, summary.LoopIterations)
	assert.Equal(t, 1, summary.ToolsCalled)
}

func TestStateDurationSecondsUsesCreatedAtBeforeStart(t *testing.T) {
	s := newTestState(t)
	assert.True(t, s.StartedAt.IsZero())
	assert.GreaterOrEqual(t, s.DurationSeconds(), 0.0)
}
