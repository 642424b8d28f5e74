// Package orchestrator implements the Orchestrator Session (spec.md §4.8):
// the user-facing supervisor that persists for a task's whole lifetime,
// decomposing work into executors, routing steering and replan requests,
// and producing the final summary.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AriseOS/amid/internal/agent"
	"github.com/AriseOS/amid/internal/common/constants"
	"github.com/AriseOS/amid/internal/common/logger"
	"github.com/AriseOS/amid/internal/common/stringutil"
	"github.com/AriseOS/amid/internal/errkind"
	"github.com/AriseOS/amid/internal/events"
	"github.com/AriseOS/amid/internal/executor"
	"github.com/AriseOS/amid/internal/llm"
	"github.com/AriseOS/amid/internal/observability"
	"github.com/AriseOS/amid/internal/planner"
	"github.com/AriseOS/amid/internal/task"
	"github.com/AriseOS/amid/internal/tools"
	v1 "github.com/AriseOS/amid/pkg/api/v1"
)

// mainLoopPoll bounds how long one iteration of the wait-for-next-event
// step blocks before re-checking cancellation, executor completion, and
// the idle deadline (spec.md §4.8 step 7: "wait for whichever event comes
// first"). internal/task.State only exposes a blocking-with-timeout
// message getter, so this poll interval doubles as that select's tick.
const mainLoopPoll = 500 * time.Millisecond

// runningExecutor is one entry of spec.md §4.8's `running_executors` map.
type runningExecutor struct {
	exec      *executor.Executor
	cancel    context.CancelFunc
	steering  *steeringQueue
	label     string
	startedAt time.Time
	done      chan struct{}
	err       error
}

// Config bundles a Session's construction-time dependencies. AgentBuilder,
// Planner, Recorder and TabCleaner are the daemon-wide wiring (providers,
// tool dispatchers, memory, browser session) assembled in cmd/amid; the
// Session itself only ever talks to them through these narrow interfaces.
type Config struct {
	TaskID          string
	OriginalRequest string
	WorkingDir      string
	State           *task.State
	Emitter         *events.Emitter
	Provider        llm.Provider
	Dispatcher      *tools.Dispatcher
	SystemPrompt    string
	AgentBuilder    AgentBuilder
	Planner         *planner.Planner
	Recorder        executor.RecorderFactory
	TabCleaner      executor.TabCleaner
	Log             *logger.Logger
}

// Session drives one task's Orchestrator loop end to end.
type Session struct {
	taskID          string
	originalRequest string
	workingDir      string
	state           *task.State
	emitter         *events.Emitter
	agentBuilder    AgentBuilder
	planner         *planner.Planner
	recorder        executor.RecorderFactory
	tabCleaner      executor.TabCleaner
	log             *logger.Logger

	ownAgent *agent.Agent

	idle *idleWatcher

	mu             sync.Mutex
	executors      map[string]*runningExecutor
	execCounter    int
	attachments    []v1.FileAttachment
	firstStepDone  bool
	pendingMessage string
}

// New constructs a Session and wires the decompose_task / inject_message /
// cancel_task / replan_task / attach_file tools into cfg.Dispatcher.
func New(cfg Config) *Session {
	s := &Session{
		taskID:          cfg.TaskID,
		originalRequest: cfg.OriginalRequest,
		workingDir:      cfg.WorkingDir,
		state:           cfg.State,
		emitter:         cfg.Emitter,
		agentBuilder:    cfg.AgentBuilder,
		planner:         cfg.Planner,
		recorder:        cfg.Recorder,
		tabCleaner:      cfg.TabCleaner,
		log:             cfg.Log,
		executors:       make(map[string]*runningExecutor),
		idle:            newIdleWatcher(constants.OrchestratorIdleTimeout),
	}

	cfg.Dispatcher.Register(&decomposeTaskTool{session: s})
	cfg.Dispatcher.Register(&injectMessageTool{session: s})
	cfg.Dispatcher.Register(&cancelTaskTool{session: s})
	cfg.Dispatcher.Register(&replanTaskTool{session: s})
	cfg.Dispatcher.Register(&attachFileTool{session: s})

	s.ownAgent = agent.New(agent.Config{
		Provider:     cfg.Provider,
		Dispatcher:   cfg.Dispatcher,
		Emitter:      cfg.Emitter,
		SystemPrompt: cfg.SystemPrompt,
		CancelCh:     cfg.State.CancelCh(),
		Pause:        cfg.State,
		Steering:     &taskSteering{state: cfg.State},
	})

	return s
}

// taskSteering adapts task.State's blocking user-message queue into a
// non-blocking agent.SteeringSource via a near-zero poll. Unlike downstream
// subtask agents (which each executor gives a dedicated steeringQueue
// instead, see templates.go), the Orchestrator's own agent is the one
// consumer of the task's shared queue (spec.md §5: the shared queue is
// single-consumer, either the Orchestrator or one spawned agent, never
// both).
type taskSteering struct {
	state *task.State
}

func (t *taskSteering) Poll() (string, bool) {
	return t.state.GetUserMessage(time.Millisecond)
}

// Run drives the Orchestrator main loop (spec.md §4.8 steps 1-7) until the
// task is cancelled, the user ends the session, or the session goes idle
// for OrchestratorIdleTimeout while no executor is running.
func (s *Session) Run(ctx context.Context) error {
	s.state.SetStatus(v1.TaskStatusRunning)
	s.emitter.EmitAction(v1.ActionActivateAgent, map[string]interface{}{"agent": "orchestrator"})
	defer s.emitter.EmitAction(v1.ActionDeactivateAgent, map[string]interface{}{"agent": "orchestrator"})

	s.idle.Start()
	defer s.idle.Stop()

	for {
		if s.state.Cancelled() || ctx.Err() != nil {
			s.cancelAllExecutors()
			s.emitter.EmitAction(v1.ActionWorkforceStopped, map[string]interface{}{"reason": "cancelled"})
			return nil
		}

		blocks := s.drainCompleted()
		input, shouldStep := s.buildNextInput(blocks)

		if shouldStep {
			s.idle.Reset()
			s.refreshSystemPrompt()
			result, err := s.ownAgent.Step(ctx, input, "")
			if err != nil {
				if errkind.Is(err, errkind.Cancelled) {
					s.cancelAllExecutors()
					return nil
				}
				if s.log != nil {
					s.log.WithError(err).Error("orchestrator step failed")
				}
				s.emitter.EmitAction(v1.ActionError, map[string]interface{}{"message": err.Error()})
				return err
			}
			s.firstStepDone = true
			s.emitToolReply(result)
		}

		running := s.hasRunningExecutors()
		if running {
			s.state.SetStatus(v1.TaskStatusRunning)
			// The idle clock only measures how long the Orchestrator has
			// been waiting on the user; an executor in flight resets it
			// every iteration so it can't fire out from under live work.
			s.idle.Reset()
		} else {
			s.state.SetStatus(v1.TaskStatusWaiting)
		}

		msg, ok, idled := s.waitForEvent(ctx, !running)
		if idled {
			s.emitter.EmitAction(v1.ActionEnd, map[string]interface{}{"status": "completed", "message": "idle timeout"})
			s.cancelAllExecutors()
			return nil
		}
		if ok {
			s.idle.Reset()
			s.state.AddConversation("user", msg)
			s.mu.Lock()
			s.pendingMessage = msg
			s.mu.Unlock()
		}
	}
}

// buildNextInput assembles the Orchestrator's next input from completed
// executor blocks plus any pending user message (spec.md §4.8 steps 1-2),
// and reports whether there is anything new to step on. The very first
// call always steps, with the original task text as input.
func (s *Session) buildNextInput(blocks []string) (string, bool) {
	s.mu.Lock()
	msg := s.pendingMessage
	s.pendingMessage = ""
	first := !s.firstStepDone
	s.mu.Unlock()

	if first {
		return s.originalRequest, true
	}

	parts := append([]string{}, blocks...)
	if msg != "" {
		parts = append(parts, msg)
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "\n\n"), true
}

// waitForEvent blocks until a user message arrives, an executor finishes,
// the idleWatcher fires (only checked when withIdle is true), or ctx/the
// task is cancelled.
func (s *Session) waitForEvent(ctx context.Context, withIdle bool) (msg string, hasMsg bool, idled bool) {
	for {
		if ctx.Err() != nil || s.state.Cancelled() {
			return "", false, false
		}
		if s.hasCompletedExecutor() {
			return "", false, false
		}
		if withIdle {
			select {
			case <-s.idle.Fired():
				return "", false, true
			default:
			}
		}
		if m, ok := s.state.GetUserMessage(mainLoopPoll); ok {
			return m, true, false
		}
	}
}

func (s *Session) hasCompletedExecutor() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.executors {
		select {
		case <-rec.done:
			return true
		default:
		}
	}
	return false
}

func (s *Session) hasRunningExecutors() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.executors) > 0
}

func (s *Session) cancelAllExecutors() {
	s.mu.Lock()
	recs := make([]*runningExecutor, 0, len(s.executors))
	for _, rec := range s.executors {
		recs = append(recs, rec)
	}
	s.mu.Unlock()

	for _, rec := range recs {
		rec.exec.Stop()
		rec.cancel()
	}
}

// emitToolReply emits the Orchestrator's textual reply (spec.md §4.8 step
// 6); once no executor is left running, the reply is the final closeout
// and is wrapped in a wait_confirm event with whatever attach_file calls
// accumulated this turn instead of a bare notice.
func (s *Session) emitToolReply(result agent.StepResult) {
	if result.Text == "" {
		return
	}
	if s.hasRunningExecutors() {
		s.emitter.EmitAction(v1.ActionNotice, map[string]interface{}{"message": result.Text})
		return
	}
	s.emitWaitConfirm(result.Text, "", "")
}

// emitWaitConfirm emits spec.md §4.8's single wait_confirm event.
func (s *Session) emitWaitConfirm(content, question, contextText string) {
	s.mu.Lock()
	attachments := s.attachments
	s.attachments = nil
	s.mu.Unlock()
	if attachments == nil {
		attachments = []v1.FileAttachment{}
	}

	s.emitter.EmitAction(v1.ActionWaitConfirm, map[string]interface{}{
		"content":     content,
		"question":    question,
		"context":     contextText,
		"attachments": attachments,
	})
}

// drainCompleted removes every finished executor from the running set and
// returns one "[EXECUTION COMPLETE]" block per executor (spec.md §4.8 step
// 1), sorted by executor id for deterministic ordering.
func (s *Session) drainCompleted() []string {
	s.mu.Lock()
	var ids []string
	for id, rec := range s.executors {
		select {
		case <-rec.done:
			ids = append(ids, id)
		default:
		}
	}
	sort.Strings(ids)
	recs := make(map[string]*runningExecutor, len(ids))
	for _, id := range ids {
		recs[id] = s.executors[id]
		delete(s.executors, id)
	}
	observability.ExecutorsRunning.Set(float64(len(s.executors)))
	s.mu.Unlock()

	blocks := make([]string, 0, len(ids))
	for _, id := range ids {
		blocks = append(blocks, s.formatCompletionBlock(id, recs[id]))
		s.emitter.EmitAction(v1.ActionWorkforceCompleted, map[string]interface{}{"executor_id": id})
	}
	return blocks
}

// formatCompletionBlock renders one executor's final state: per-subtask
// status/result preview, duration, and the workspace file listing (spec.md
// §4.8 step 1).
func (s *Session) formatCompletionBlock(execID string, rec *runningExecutor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[EXECUTION COMPLETE] %s (%s):\n", execID, rec.label)
	for _, sub := range rec.exec.Subtasks() {
		fmt.Fprintf(&b, "  %s %s (%s): %s\n", sub.StateMarker(), sub.ID, sub.AgentType, sub.ResultPreview(500))
	}
	fmt.Fprintf(&b, "duration: %.1fs\n", time.Since(rec.startedAt).Seconds())
	if rec.err != nil {
		fmt.Fprintf(&b, "execution error: %v\n", rec.err)
	}

	if files := scanWorkspace(s.workingDir, 50); len(files) > 0 {
		b.WriteString("workspace files:\n")
		for _, f := range files {
			fmt.Fprintf(&b, "  %s (%d bytes)\n", f.path, f.size)
		}
	}
	return b.String()
}

// refreshSystemPrompt rebuilds the Orchestrator agent's "currently running
// tasks" system-prompt section (spec.md §4.8 step 3), so the LLM has
// enough state-and-id context to produce valid replan_task/cancel_task/
// inject_message arguments.
func (s *Session) refreshSystemPrompt() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.executors))
	for id := range s.executors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	recs := make([]*runningExecutor, len(ids))
	for i, id := range ids {
		recs[i] = s.executors[id]
	}
	s.mu.Unlock()

	var b strings.Builder
	if len(ids) == 0 {
		b.WriteString("No executors are currently running.")
	} else {
		b.WriteString("Currently running tasks:\n")
		for i, id := range ids {
			subs := recs[i].exec.Subtasks()
			counts := map[v1.SubtaskState]int{}
			for _, sub := range subs {
				counts[sub.State]++
			}
			fmt.Fprintf(&b, "%s (%s): %d done, %d running, %d pending, %d failed\n",
				id, recs[i].label, counts[v1.SubtaskDone], counts[v1.SubtaskRunning], counts[v1.SubtaskPending], counts[v1.SubtaskFailed])
			for _, sub := range subs {
				fmt.Fprintf(&b, "  %s %s (%s): %s\n", sub.StateMarker(), sub.ID, sub.AgentType, sub.ResultPreview(500))
			}
		}
	}
	s.ownAgent.SetSystemSuffix(b.String())
}

// supervisedExecute implements spec.md §4.8 step 5 (`_supervised_execute`):
// plan the task, spawn an executor as a cancellable background run, and
// register it under a fresh exec_N id. Only one executor may be running at
// a time (spec.md §4.8 state: "a session-level mutex enforcing at most one
// executor running").
func (s *Session) supervisedExecute(ctx context.Context, taskDesc string) (string, error) {
	s.mu.Lock()
	if len(s.executors) > 0 {
		s.mu.Unlock()
		return "", errkind.New(errkind.InvalidInput, "an executor is already running; wait for it to finish before decomposing more work")
	}
	s.execCounter++
	execID := fmt.Sprintf("exec_%d", s.execCounter)
	s.mu.Unlock()

	subtasks, err := s.planner.DecomposeAndQueryMemory(ctx, s.emitter, taskDesc)
	if err != nil {
		return "", err
	}

	label := stringutil.Truncate(taskDesc, 20)
	steering := newSteeringQueue()
	execCtx, cancel := context.WithCancel(ctx)

	ex := executor.New(executor.Config{
		TaskID:          s.taskID,
		OriginalRequest: taskDesc,
		WorkingDir:      s.workingDir,
		Subtasks:        subtasks,
		Agents:          &executorAgentFactory{builder: s.agentBuilder, cancelCh: s.state.CancelCh(), steering: steering},
		Recorder:        s.recorder,
		TabCleaner:      s.tabCleaner,
		Emitter:         s.emitter,
		Log:             s.log,
	})

	rec := &runningExecutor{
		exec:      ex,
		cancel:    cancel,
		steering:  steering,
		label:     label,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	s.executors[execID] = rec
	observability.ExecutorsRunning.Set(float64(len(s.executors)))
	s.mu.Unlock()

	s.emitter.EmitAction(v1.ActionWorkforceStarted, map[string]interface{}{
		"executor_id": execID,
		"label":       label,
	})
	s.emitter.EmitAction(v1.ActionTaskDecomposed, map[string]interface{}{
		"executor_id":   execID,
		"subtask_count": len(subtasks),
	})

	go func() {
		defer close(rec.done)
		rec.err = ex.Run(execCtx)
	}()

	return fmt.Sprintf("spawned %s (%s) with %d subtask(s)", execID, label, len(subtasks)), nil
}

