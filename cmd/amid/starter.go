package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/AriseOS/amid/internal/common/appctx"
	"github.com/AriseOS/amid/internal/common/logger"
	"github.com/AriseOS/amid/internal/errkind"
	"github.com/AriseOS/amid/internal/events"
	"github.com/AriseOS/amid/internal/events/bus"
	"github.com/AriseOS/amid/internal/orchestrator"
	"github.com/AriseOS/amid/internal/planner"
	"github.com/AriseOS/amid/internal/task"
	"github.com/AriseOS/amid/internal/tools"
	v1 "github.com/AriseOS/amid/pkg/api/v1"
)

// taskLifecycleSubject is the amid-internal event bus subject task
// started/completed/failed notifications publish to; a clustered
// deployment's other daemon instances (or a monitoring sidecar) can
// subscribe to it without reaching into any single instance's in-memory
// task registry.
const taskLifecycleSubject = "amid.task.lifecycle"

// maxTaskRuntime is a hard safety backstop unrelated to the Orchestrator's
// own idle timeout (spec.md §4.8 step 6): it bounds how long a single
// task's detached goroutine may run at all, so a pathological loop that
// somehow never goes idle and never gets cancelled can't run forever.
const maxTaskRuntime = 24 * time.Hour

// orchestratorSystemPrompt frames the Orchestrator's own agent (spec.md
// §4.8): it never executes subtasks itself, only decomposes, monitors,
// and replans via its five framework tools.
const orchestratorSystemPrompt = `You are the Orchestrator for one ami task. You do not execute work yourself:
call decompose_task once at the start to split the user's request into subtasks, then monitor
completion blocks and user messages as they arrive. Use inject_message to steer a running
subtask, replan_task to adjust the remaining subtask list, cancel_task if the user asks to stop,
and attach_file to surface a deliverable the task produced. When every subtask is done, reply
with a final summary and no further tool calls.`

// starter is the concrete httpapi.Starter: it allocates a task id and
// working directory, registers a task.State, wires a fresh
// orchestrator.Session closing over the daemon's shared provider/memory/
// browser dependencies, and launches it on its own detached goroutine.
type starter struct {
	d *daemon
}

// Start satisfies httpapi.Starter.
func (s *starter) Start(ctx context.Context, prompt string) (*task.State, error) {
	taskID := uuid.New().String()
	workdir := filepath.Join(s.d.cfg.Workspace.Root, taskID)
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return nil, errkind.Wrap(errkind.ToolFailure, "failed to create task workspace", err)
	}

	taskLog := s.d.log.WithTaskID(taskID)
	emitter := task.NewTaskEmitter(taskID, taskLog)
	state := task.NewState(taskID, prompt, workdir, emitter)
	if err := s.d.registry.Register(state); err != nil {
		return nil, err
	}

	sess := s.buildSession(taskID, prompt, workdir, state, emitter, taskLog)

	taskCtx, cancel := appctx.Detached(ctx, state.CancelCh(), maxTaskRuntime)
	go s.run(taskCtx, cancel, sess, state, taskLog)

	return state, nil
}

func (s *starter) buildSession(taskID, prompt, workdir string, state *task.State, emitter *events.Emitter, log *logger.Logger) *orchestrator.Session {
	dispatcher := tools.NewDispatcher(log)
	agentBuilder := &taskAgentBuilder{
		d:       s.d,
		taskID:  taskID,
		workdir: workdir,
		state:   state,
		emitter: emitter,
		log:     log,
	}

	return orchestrator.New(orchestrator.Config{
		TaskID:          taskID,
		OriginalRequest: prompt,
		WorkingDir:      workdir,
		State:           state,
		Emitter:         emitter,
		Provider:        s.d.provider,
		Dispatcher:      dispatcher,
		SystemPrompt:    orchestratorSystemPrompt,
		AgentBuilder:    agentBuilder,
		Planner:         planner.New(s.d.provider, s.d.memory, log),
		Recorder:        s.d.recorder,
		TabCleaner:      &sessionTabCleaner{d: s.d, log: log},
		Log:             log,
	})
}

// run drives the session to completion, publishing lifecycle events on the
// shared bus and recording the terminal status/result on state for the
// result/status HTTP routes to read.
func (s *starter) run(ctx context.Context, cancel context.CancelFunc, sess *orchestrator.Session, state *task.State, log *logger.Logger) {
	defer cancel()

	s.publishLifecycle(ctx, "task_started", state.TaskID, nil)

	err := sess.Run(ctx)

	if err != nil {
		state.SetError(err.Error())
		state.SetStatus(v1.TaskStatusFailed)
		s.publishLifecycle(ctx, "task_failed", state.TaskID, map[string]interface{}{"error": err.Error()})
		log.WithError(err).Error("task session ended with error")
		return
	}

	if !state.Cancelled() {
		state.SetStatus(v1.TaskStatusCompleted)
	}
	s.publishLifecycle(ctx, "task_completed", state.TaskID, map[string]interface{}{"status": string(state.Status())})
}

func (s *starter) publishLifecycle(ctx context.Context, eventType, taskID string, extra map[string]interface{}) {
	if s.d.bus == nil {
		return
	}
	data := map[string]interface{}{"task_id": taskID}
	for k, v := range extra {
		data[k] = v
	}
	ev := bus.NewEvent(eventType, "amid", data)
	if err := s.d.bus.Publish(ctx, taskLifecycleSubject, ev); err != nil {
		s.d.log.WithError(err).Debug(fmt.Sprintf("failed to publish %s lifecycle event", eventType))
	}
}
