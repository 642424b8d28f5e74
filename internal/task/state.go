// Package task owns the mutable record of a running task: conversation
// history, steering/human-response rendezvous, cancel/pause signals, and
// the registry that tracks and eventually garbage-collects them.
package task

import (
	"sync"
	"time"

	"github.com/AriseOS/amid/internal/common/stringutil"
	"github.com/AriseOS/amid/internal/events"
	v1 "github.com/AriseOS/amid/pkg/api/v1"
)

// UserMessageQueueCapacity bounds the steering/user-message FIFO per task
// (spec.md §5 Backpressure: "User-message queue bound: 128; overflow fails
// with a 4xx-shaped response").
const UserMessageQueueCapacity = 128

// ErrQueueFull is returned by PutUserMessage when the steering queue is at
// capacity.
type ErrQueueFull struct{}

func (ErrQueueFull) Error() string { return "user message queue is full" }

// State is the single source of truth for one task's mutable state. A
// State is owned solely by the executor coroutine driving that task;
// events flow one-way out through Emitter, and the steering queue has a
// single-producer/single-consumer contract enforced by callers.
type State struct {
	TaskID     string
	Prompt     string
	WorkingDir string
	Emitter    *events.Emitter

	CreatedAt time.Time
	StartedAt time.Time

	mu           sync.Mutex
	status       v1.TaskStatus
	updatedAt    time.Time
	conversation []v1.ConversationTurn
	result       string
	errText      string
	loopIters    int
	toolsCalled  int
	paused       bool

	cancelled bool
	cancelCh  chan struct{}
	cancelMu  sync.Once

	userMsgs chan string

	humanMu     sync.Mutex
	humanSlot   chan string
	humanWaiter bool
}

// NewState constructs a State in the pending status.
func NewState(taskID, prompt, workingDir string, emitter *events.Emitter) *State {
	now := time.Now().UTC()
	return &State{
		TaskID:     taskID,
		Prompt:     prompt,
		WorkingDir: workingDir,
		Emitter:    emitter,
		CreatedAt:  now,
		updatedAt:  now,
		status:     v1.TaskStatusPending,
		cancelCh:   make(chan struct{}),
		userMsgs:   make(chan string, UserMessageQueueCapacity),
	}
}

// Status returns the current lifecycle status.
func (s *State) Status() v1.TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetStatus transitions the task to a new status, marking Start time the
// first time it leaves pending.
func (s *State) SetStatus(status v1.TaskStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == v1.TaskStatusPending && status != v1.TaskStatusPending && s.StartedAt.IsZero() {
		s.StartedAt = time.Now().UTC()
	}
	s.status = status
	s.updatedAt = time.Now().UTC()
}

// MarkCancelled sets status to cancelled and trips the cancel flag exactly
// once (a broadcast-style one-shot: CancelCh() closes and stays closed).
func (s *State) MarkCancelled(reason string) {
	s.mu.Lock()
	s.status = v1.TaskStatusCancelled
	s.errText = reason
	s.updatedAt = time.Now().UTC()
	s.cancelled = true
	s.mu.Unlock()

	s.cancelMu.Do(func() { close(s.cancelCh) })
}

// Cancelled reports whether a cancel signal was sent.
func (s *State) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// CancelCh returns a channel that is closed exactly once MarkCancelled is
// called, for use in select statements at suspension points.
func (s *State) CancelCh() <-chan struct{} {
	return s.cancelCh
}

// Pause toggles the pause flag on; Resume toggles it off. The agent loop
// polls Paused() at its suspension points (spec.md §5).
func (s *State) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

// Resume clears the pause flag.
func (s *State) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
}

// Paused reports the current pause flag.
func (s *State) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// PutUserMessage enqueues a steering message. Returns ErrQueueFull if the
// bounded FIFO is already full rather than blocking the producer.
func (s *State) PutUserMessage(msg string) error {
	select {
	case s.userMsgs <- msg:
		return nil
	default:
		return ErrQueueFull{}
	}
}

// GetUserMessage waits up to timeout for a steering message; returns ("",
// false) on timeout. timeout <= 0 waits forever.
func (s *State) GetUserMessage(timeout time.Duration) (string, bool) {
	if timeout <= 0 {
		msg := <-s.userMsgs
		return msg, true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case msg := <-s.userMsgs:
		return msg, true
	case <-t.C:
		return "", false
	}
}

// ProvideHumanResponse delivers text to the single-element ask_human
// rendezvous slot. If no waiter is present, the response is buffered for
// the next WaitForHumanResponse call (at-most-one writer per spec.md §3).
func (s *State) ProvideHumanResponse(text string) {
	s.humanMu.Lock()
	if s.humanSlot == nil {
		s.humanSlot = make(chan string, 1)
	}
	slot := s.humanSlot
	s.humanMu.Unlock()

	select {
	case slot <- text:
	default:
		// Slot already holds an undelivered response; replace it.
		select {
		case <-slot:
		default:
		}
		slot <- text
	}
}

// WaitForHumanResponse blocks up to timeout for a response delivered via
// ProvideHumanResponse. Returns ("", false) on timeout (spec.md §4.8
// ask_human: "Human did not respond within 300 seconds").
func (s *State) WaitForHumanResponse(timeout time.Duration) (string, bool) {
	s.humanMu.Lock()
	if s.humanSlot == nil {
		s.humanSlot = make(chan string, 1)
	}
	slot := s.humanSlot
	s.humanMu.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case text := <-slot:
		return text, true
	case <-t.C:
		return "", false
	}
}

// AddConversation appends a turn to the history and bumps updated_at.
func (s *State) AddConversation(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversation = append(s.conversation, v1.ConversationTurn{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
	s.updatedAt = time.Now().UTC()
}

// Conversation returns a copy of the conversation history.
func (s *State) Conversation() []v1.ConversationTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]v1.ConversationTurn, len(s.conversation))
	copy(out, s.conversation)
	return out
}

// SetResult stores the accumulated result text.
func (s *State) SetResult(result string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = result
	s.updatedAt = time.Now().UTC()
}

// SetError stores the error text for a failed task.
func (s *State) SetError(err string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errText = err
	s.updatedAt = time.Now().UTC()
}

// Result returns the full accumulated result text.
func (s *State) Result() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// ErrorText returns the stored error text, if any.
func (s *State) ErrorText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errText
}

// IncrLoopIterations bumps the loop-iteration counter by one.
func (s *State) IncrLoopIterations() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loopIters++
}

// IncrToolsCalled bumps the tools-called counter by one.
func (s *State) IncrToolsCalled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolsCalled++
}

// UpdatedAt returns the last-mutated timestamp.
func (s *State) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

// DurationSeconds is updated_at - started_at, or updated_at - created_at
// when the task has not yet started (spec.md §4.2).
func (s *State) DurationSeconds() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := s.StartedAt
	if start.IsZero() {
		start = s.CreatedAt
	}
	return s.updatedAt.Sub(start).Seconds()
}

// ToJSON projects the state into the wire-safe TaskSummary (spec.md §4.2:
// "no secrets, bounded content previews").
func (s *State) ToJSON() v1.TaskSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	const previewLimit = 2000
	return v1.TaskSummary{
		TaskID:          s.TaskID,
		Prompt:          s.Prompt,
		WorkingDir:      s.WorkingDir,
		Status:          s.status,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.updatedAt,
		DurationSeconds: s.durationSecondsLocked(),
		LoopIterations:  s.loopIters,
		ToolsCalled:     s.toolsCalled,
		ResultPreview:   stringutil.TruncateWithEllipsis(s.result, previewLimit),
		Error:           s.errText,
	}
}

func (s *State) durationSecondsLocked() float64 {
	start := s.StartedAt
	if start.IsZero() {
		start = s.CreatedAt
	}
	return s.updatedAt.Sub(start).Seconds()
}

