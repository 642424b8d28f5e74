// Package executor drives a subtask DAG to completion against a pool of
// agents keyed by agent type (spec.md §4.7): sequential execution,
// dependency-ordered, with retries, dynamic growth, and replan.
package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/AriseOS/amid/internal/agent"
	"github.com/AriseOS/amid/internal/common/logger"
	"github.com/AriseOS/amid/internal/common/stringutil"
	"github.com/AriseOS/amid/internal/errkind"
	"github.com/AriseOS/amid/internal/events"
	"github.com/AriseOS/amid/internal/tools"
	v1 "github.com/AriseOS/amid/pkg/api/v1"
)

// DefaultMaxRetries is the retry budget per subtask (spec.md §4.7: "total
// attempts = max_retries + 1"); exhausting it marks the subtask failed
// without failing the rest of the DAG.
const DefaultMaxRetries = 2

// resultPreviewBytes bounds how much of a dependency's result is copied
// into a downstream subtask's prompt (spec.md §4.7 step 3: "≈2 KB").
const resultPreviewBytes = 2048

// pausePollInterval bounds how long the main loop sleeps between pause
// checks, mirroring internal/agent's own pause-poll cadence.
const pausePollInterval = 50 * time.Millisecond

// Agent is the narrow view of internal/agent.Agent (and its
// internal/agent/browser specialization) that the executor needs: run a
// subtask's turn, reset between retries, and install/remove the
// per-subtask replan tools.
type Agent interface {
	Step(ctx context.Context, inputText string, currentURL string) (agent.StepResult, error)
	Reset()
	RegisterTool(t tools.Tool)
	UnregisterTool(name string)
	// CurrentURL reports the URL the agent's tools last observed, so the
	// executor can feed it forward as the next Step call's currentURL
	// (spec.md §4.5, §4.9 read side). Agents with no notion of a current
	// page (everything but internal/agent/browser) always return "".
	CurrentURL() string
	// SetRecorder installs (or, with nil, clears) the operation recorder for
	// the attempt about to run, so agents whose tools drive stateful
	// external actions can feed it as those actions happen (spec.md §4.9
	// write side). Agents with no recordable actions ignore it.
	SetRecorder(r tools.OperationRecorder)
}

// AgentFactory hands out an agent for a subtask's agent_type. The
// Orchestrator lazily creates the downstream agent set and clones one per
// executor (spec.md §4.8 step 5), so AgentFor is expected to return a
// fresh, independent conversation each time it is called for a given
// executor.
type AgentFactory interface {
	AgentFor(agentType v1.AgentType) (Agent, error)
}

// RecorderFactory starts a behavior recorder for one browser subtask
// attempt (spec.md §4.9 write side). A nil RecorderFactory on Config means
// online learning is disabled; non-browser subtasks never call it.
type RecorderFactory interface {
	StartAttempt(ctx context.Context, taskID, subtaskID string) RecorderHandle
}

// RecorderHandle is one attempt's recording session. It embeds
// tools.OperationRecorder so it can be installed directly on an Agent via
// SetRecorder.
type RecorderHandle interface {
	tools.OperationRecorder
	// Discard throws away everything recorded this attempt (failed step).
	Discard()
	// Commit persists the recording to memory (successful step).
	Commit(ctx context.Context) error
}

// TabCleaner closes the browser tabs opened by one subtask's tab group
// (spec.md §4.7 step 6). Optional; nil means no cleanup is performed.
type TabCleaner interface {
	CleanupSubtaskTabs(taskID, subtaskID string)
}

// Config bundles an Executor's construction-time dependencies.
type Config struct {
	TaskID          string
	OriginalRequest string
	WorkingDir      string
	Subtasks        []*v1.Subtask
	Agents          AgentFactory
	Recorder        RecorderFactory
	TabCleaner      TabCleaner
	Emitter         *events.Emitter
	MaxRetries      int
	Log             *logger.Logger
}

// Executor owns one subtask DAG and drives it to completion.
type Executor struct {
	taskID          string
	originalRequest string
	workingDir      string
	agents          AgentFactory
	recorder        RecorderFactory
	tabCleaner      TabCleaner
	emitter         *events.Emitter
	log             *logger.Logger
	maxRetries      int

	mu       sync.Mutex
	subtasks []*v1.Subtask
	byID     map[string]*v1.Subtask
	paused   bool

	handoffMu     sync.Mutex
	handoffResult map[string]string

	cancelCh   chan struct{}
	cancelOnce sync.Once

	currentAgentMu sync.Mutex
	currentAgent   Agent
}

// New constructs an Executor from Config.
func New(cfg Config) *Executor {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	byID := make(map[string]*v1.Subtask, len(cfg.Subtasks))
	for _, s := range cfg.Subtasks {
		byID[s.ID] = s
	}

	return &Executor{
		taskID:          cfg.TaskID,
		originalRequest: cfg.OriginalRequest,
		workingDir:      cfg.WorkingDir,
		agents:          cfg.Agents,
		recorder:        cfg.Recorder,
		tabCleaner:      cfg.TabCleaner,
		emitter:         cfg.Emitter,
		log:             cfg.Log,
		maxRetries:      maxRetries,
		subtasks:        append([]*v1.Subtask{}, cfg.Subtasks...),
		byID:            byID,
		handoffResult:   make(map[string]string),
		cancelCh:        make(chan struct{}),
	}
}

// Subtasks returns a snapshot of the current subtask list, in list order,
// for the Orchestrator's system-prompt refresh (spec.md §4.8 step 3).
func (e *Executor) Subtasks() []*v1.Subtask {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*v1.Subtask, len(e.subtasks))
	copy(out, e.subtasks)
	return out
}

// Stop cancels the executor: Run returns CANCELLED before it starts another
// subtask. A Step already in progress is not interrupted by Stop; it observes
// cancellation of the ctx passed to Run.
func (e *Executor) Stop() {
	e.cancelOnce.Do(func() { close(e.cancelCh) })
}

func (e *Executor) cancelled() bool {
	select {
	case <-e.cancelCh:
		return true
	default:
		return false
	}
}

// Pause blocks the main loop before it selects its next subtask; a
// replan_subtasks call requires the executor to already be paused
// (spec.md §4.7 Replan precondition).
func (e *Executor) Pause() {
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
}

// Resume clears the pause flag set by Pause.
func (e *Executor) Resume() {
	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()
}

func (e *Executor) isPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// CurrentAgent returns the agent running the active subtask, if any, so the
// Orchestrator can route a steering message to that agent's own queue
// (spec.md §4.8 inject_message: "per-agent queue — not the task's shared
// queue"). The executor itself holds no queue, only the pointer to whichever
// agent is "current."
func (e *Executor) CurrentAgent() (Agent, bool) {
	e.currentAgentMu.Lock()
	defer e.currentAgentMu.Unlock()
	return e.currentAgent, e.currentAgent != nil
}

func (e *Executor) setCurrentAgent(a Agent) {
	e.currentAgentMu.Lock()
	e.currentAgent = a
	e.currentAgentMu.Unlock()
}

func (e *Executor) clearCurrentAgent() {
	e.currentAgentMu.Lock()
	e.currentAgent = nil
	e.currentAgentMu.Unlock()
}

// Run drives the subtask DAG to completion (spec.md §4.7 main loop). It
// returns when every subtask is done or failed, or when the context is
// cancelled or Stop is called.
func (e *Executor) Run(ctx context.Context) error {
	for {
		if e.cancelled() || ctx.Err() != nil {
			return errkind.New(errkind.Cancelled, "executor stopped")
		}
		for e.isPaused() {
			if e.cancelled() || ctx.Err() != nil {
				return errkind.New(errkind.Cancelled, "executor stopped while paused")
			}
			time.Sleep(pausePollInterval)
		}

		sub := e.nextReady()
		if sub == nil {
			if e.failUnreachable() {
				continue
			}
			return nil
		}

		e.runSubtask(ctx, sub)
	}
}

// nextReady returns the first pending subtask (insertion order) whose
// dependencies are all done, or nil if none is ready.
func (e *Executor) nextReady() *v1.Subtask {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.subtasks {
		if s.State != v1.SubtaskPending {
			continue
		}
		if e.depsSatisfied(s) {
			return s
		}
	}
	return nil
}

func (e *Executor) depsSatisfied(s *v1.Subtask) bool {
	for _, depID := range s.DependsOn {
		dep, ok := e.byID[depID]
		if !ok || dep.State != v1.SubtaskDone {
			return false
		}
	}
	return true
}

// failUnreachable marks pending subtasks whose dependency chain can never
// complete (a dependency is failed) as failed too, so the main loop
// terminates instead of looping forever on a subtask that will never
// become ready. Returns true if it changed anything.
func (e *Executor) failUnreachable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	changed := false
	for _, s := range e.subtasks {
		if s.State != v1.SubtaskPending {
			continue
		}
		for _, depID := range s.DependsOn {
			dep, ok := e.byID[depID]
			if !ok || dep.State == v1.SubtaskFailed {
				s.State = v1.SubtaskFailed
				s.Result = fmt.Sprintf("dependency %q did not complete", depID)
				changed = true
				break
			}
		}
	}
	if changed {
		e.emitSubtaskStateLocked()
	}
	return changed
}

func (e *Executor) runSubtask(ctx context.Context, sub *v1.Subtask) {
	e.setSubtaskState(sub, v1.SubtaskRunning)

	ag, err := e.agents.AgentFor(sub.AgentType)
	if err != nil {
		sub.Result = errkind.New(errkind.Config, fmt.Sprintf("no agent registered for type %q", sub.AgentType)).Error()
		e.setSubtaskState(sub, v1.SubtaskFailed)
		return
	}

	ag.Reset()
	prompt := e.buildPrompt(sub)

	review := &replanReviewContextTool{exec: e}
	handoff := &replanSplitAndHandoffTool{exec: e, currentID: sub.ID}
	ag.RegisterTool(review)
	ag.RegisterTool(handoff)
	e.setCurrentAgent(ag)

	var lastErr error
	var result agent.StepResult
	attempts := e.maxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			ag.Reset()
		}
		var handle RecorderHandle
		if sub.AgentType == v1.AgentTypeBrowser && e.recorder != nil {
			handle = e.recorder.StartAttempt(ctx, e.taskID, sub.ID)
			ag.SetRecorder(handle)
		}

		res, err := ag.Step(ctx, prompt, ag.CurrentURL())
		if err != nil {
			lastErr = err
			if handle != nil {
				handle.Discard()
				ag.SetRecorder(nil)
			}
			e.emitter.EmitAction(v1.ActionWorkerFailed, map[string]interface{}{
				"subtask_id": sub.ID,
				"attempt":    attempt + 1,
				"error":      err.Error(),
			})
			continue
		}

		lastErr = nil
		result = res
		if handle != nil {
			if cerr := handle.Commit(ctx); cerr != nil && e.log != nil {
				e.log.WithError(cerr).Warn("failed to persist recorded operations")
			}
			ag.SetRecorder(nil)
		}
		break
	}

	ag.UnregisterTool(review.Name())
	ag.UnregisterTool(handoff.Name())
	e.clearCurrentAgent()

	if sub.AgentType == v1.AgentTypeBrowser && e.tabCleaner != nil {
		e.tabCleaner.CleanupSubtaskTabs(e.taskID, sub.ID)
	}

	if lastErr != nil {
		sub.Result = lastErr.Error()
		e.setSubtaskState(sub, v1.SubtaskFailed)
		return
	}

	if hr, ok := e.takeHandoffResult(sub.ID); ok {
		sub.Result = hr
	} else {
		sub.Result = result.Text
	}
	e.setSubtaskState(sub, v1.SubtaskDone)
	e.emitter.EmitAction(v1.ActionWorkerCompleted, map[string]interface{}{"subtask_id": sub.ID})
}

func (e *Executor) setSubtaskState(sub *v1.Subtask, state v1.SubtaskState) {
	e.mu.Lock()
	sub.State = state
	e.mu.Unlock()
	e.emitSubtaskState()
}

func (e *Executor) emitSubtaskState() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emitSubtaskStateLocked()
}

func (e *Executor) emitSubtaskStateLocked() {
	e.emitter.EmitAction(v1.ActionSubtaskState, map[string]interface{}{"subtasks": subtaskMaps(e.subtasks)})
}

func (e *Executor) buildPrompt(sub *v1.Subtask) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "User's Original Request:\n%s\n\n", e.originalRequest)
	fmt.Fprintf(&b, "Your Task:\n%s\n\n", sub.Content)

	if sub.WorkflowGuide != "" {
		fmt.Fprintf(&b, "Workflow Guide (FOLLOW THESE STEPS):\n%s\nFollow the above steps exactly; deviate only if the page clearly no longer matches them.\n\n", sub.WorkflowGuide)
	}

	for _, depID := range sub.DependsOn {
		dep, ok := e.byID[depID]
		if !ok || dep.Result == "" {
			continue
		}
		fmt.Fprintf(&b, "Result from task '%s':\n%s\n\n", depID, stringutil.TruncateWithEllipsis(dep.Result, resultPreviewBytes))
	}

	b.WriteString(replanInstructions)
	return b.String()
}

const replanInstructions = `If you discover this task is actually a list of many similar items ` +
	`(for example, "extract 20 products" after finding only 5), use replan_split_and_handoff ` +
	`to split the remaining work into one follow-up subtask per item rather than trying to do ` +
	`everything yourself. Use replan_review_context first if you need to see the current state ` +
	`of every subtask and the workspace before deciding.`

// AddSubtasksAsync implements spec.md §4.7's add_subtasks_async(new_subtasks,
// after_id): validate ids, inherit dependencies/workflow_guide/memory_level
// from after_id, insert immediately after it, and emit
// dynamic_tasks_added.
func (e *Executor) AddSubtasksAsync(newSubtasks []*v1.Subtask, afterID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	parent, ok := e.byID[afterID]
	if !ok {
		return errkind.New(errkind.InvalidInput, fmt.Sprintf("unknown after_id %q", afterID))
	}

	newIDs := make(map[string]bool, len(newSubtasks))
	for _, ns := range newSubtasks {
		if _, exists := e.byID[ns.ID]; exists {
			return errkind.New(errkind.InvalidInput, fmt.Sprintf("subtask id %q already exists", ns.ID))
		}
		newIDs[ns.ID] = true
	}
	for _, ns := range newSubtasks {
		for _, dep := range ns.DependsOn {
			if _, ok := e.byID[dep]; !ok && !newIDs[dep] {
				return errkind.New(errkind.InvalidInput, fmt.Sprintf("depends_on references unknown id %q", dep))
			}
		}
	}

	for _, ns := range newSubtasks {
		if len(ns.DependsOn) == 0 {
			ns.DependsOn = append(append([]string{}, parent.DependsOn...), afterID)
		}
		ns.WorkflowGuide = parent.WorkflowGuide
		ns.MemoryLevel = parent.MemoryLevel
		ns.State = v1.SubtaskPending
		ns.MarkDynamic()
	}

	idx := e.indexOfLocked(afterID)
	merged := make([]*v1.Subtask, 0, len(e.subtasks)+len(newSubtasks))
	merged = append(merged, e.subtasks[:idx+1]...)
	merged = append(merged, newSubtasks...)
	merged = append(merged, e.subtasks[idx+1:]...)
	e.subtasks = merged
	for _, ns := range newSubtasks {
		e.byID[ns.ID] = ns
	}

	e.emitter.EmitAction(v1.ActionDynamicTasksAdded, map[string]interface{}{
		"after_id": afterID,
		"subtasks": subtaskMaps(newSubtasks),
	})
	return nil
}

func (e *Executor) indexOfLocked(id string) int {
	for i, s := range e.subtasks {
		if s.ID == id {
			return i
		}
	}
	return len(e.subtasks) - 1
}

// ReplanSubtasks implements spec.md §4.7's replan_subtasks(new_pending):
// requires the executor to already be paused, keeps every non-pending
// subtask in place, and appends new_pending after them.
func (e *Executor) ReplanSubtasks(newPending []*v1.Subtask) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.paused {
		return errkind.New(errkind.InvalidInput, "replan_subtasks requires the executor to be paused first")
	}

	var kept []*v1.Subtask
	keptIDs := make(map[string]bool)
	for _, s := range e.subtasks {
		if s.State != v1.SubtaskPending {
			kept = append(kept, s)
			keptIDs[s.ID] = true
		}
	}

	newIDs := make(map[string]bool, len(newPending))
	for _, s := range newPending {
		if keptIDs[s.ID] {
			return errkind.New(errkind.InvalidInput, fmt.Sprintf("new subtask id %q collides with a kept subtask", s.ID))
		}
		newIDs[s.ID] = true
	}
	for _, s := range newPending {
		for _, dep := range s.DependsOn {
			if !keptIDs[dep] && !newIDs[dep] {
				return errkind.New(errkind.InvalidInput, fmt.Sprintf("depends_on references unknown id %q", dep))
			}
		}
	}

	merged := make([]*v1.Subtask, 0, len(kept)+len(newPending))
	merged = append(merged, kept...)
	merged = append(merged, newPending...)
	e.subtasks = merged
	e.byID = make(map[string]*v1.Subtask, len(merged))
	for _, s := range merged {
		e.byID[s.ID] = s
	}

	e.emitter.EmitAction(v1.ActionTaskReplanned, map[string]interface{}{"subtasks": subtaskMaps(merged)})
	return nil
}

func (e *Executor) subtaskByID(id string) *v1.Subtask {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.byID[id]
}

func (e *Executor) setHandoffResult(subtaskID, summary string) {
	e.handoffMu.Lock()
	e.handoffResult[subtaskID] = summary
	e.handoffMu.Unlock()
}

func (e *Executor) takeHandoffResult(subtaskID string) (string, bool) {
	e.handoffMu.Lock()
	defer e.handoffMu.Unlock()
	v, ok := e.handoffResult[subtaskID]
	if ok {
		delete(e.handoffResult, subtaskID)
	}
	return v, ok
}

// reviewContext renders the text snapshot replan_review_context returns:
// every subtask's state/type/content-preview/dependencies/result-preview,
// plus up to 50 workspace entries with sizes (spec.md §4.7.1).
func (e *Executor) reviewContext() string {
	e.mu.Lock()
	subtasksSnapshot := make([]*v1.Subtask, len(e.subtasks))
	copy(subtasksSnapshot, e.subtasks)
	workingDir := e.workingDir
	e.mu.Unlock()

	var b strings.Builder
	b.WriteString("Subtasks:\n")
	for _, s := range subtasksSnapshot {
		fmt.Fprintf(&b, "[%s] %s (%s): %s | depends_on=%v | result: %s\n",
			s.StateMarker(), s.ID, s.AgentType, s.ContentPreview(80), s.DependsOn, s.ResultPreview(100))
	}

	b.WriteString("\nWorkspace:\n")
	for _, f := range scanWorkspace(workingDir, 50) {
		fmt.Fprintf(&b, "%s (%d bytes)\n", f.path, f.size)
	}

	return b.String()
}

func subtaskMaps(subtasks []*v1.Subtask) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(subtasks))
	for _, s := range subtasks {
		out = append(out, map[string]interface{}{
			"id":         s.ID,
			"content":    s.ContentPreview(200),
			"agent_type": string(s.AgentType),
			"depends_on": s.DependsOn,
			"state":      string(s.State),
			"dynamic":    s.IsDynamic(),
		})
	}
	return out
}

func dedupStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

