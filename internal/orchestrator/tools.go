package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/AriseOS/amid/internal/errkind"
	"github.com/AriseOS/amid/internal/tools"
	v1 "github.com/AriseOS/amid/pkg/api/v1"
)

// decomposeTaskTool implements spec.md §4.8's decompose_task(task): the
// Orchestrator's only way to turn natural-language work into a running
// executor.
type decomposeTaskTool struct {
	session *Session
}

func (t *decomposeTaskTool) Name() string  { return "decompose_task" }
func (t *decomposeTaskTool) Label() string { return "Decompose Task" }
func (t *decomposeTaskTool) Description() string {
	return "Decomposes a piece of work into subtasks and spawns an executor to run them. " +
		"Only one executor may run at a time; wait for the current one to finish first."
}
func (t *decomposeTaskTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"task": {"type": "string", "description": "the work to decompose and run"}
		},
		"required": ["task"]
	}`)
}
func (t *decomposeTaskTool) Async() bool { return false }

func (t *decomposeTaskTool) Execute(ctx context.Context, toolCallID string, params json.RawMessage, cancel <-chan struct{}) (tools.Result, error) {
	var args struct {
		Task string `json:"task"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return tools.Result{}, errkind.Wrap(errkind.InvalidInput, "parse decompose_task params", err)
	}
	if args.Task == "" {
		return tools.Result{}, errkind.New(errkind.InvalidInput, "task must not be empty")
	}

	msg, err := t.session.supervisedExecute(ctx, args.Task)
	if err != nil {
		return tools.Result{}, err
	}
	return tools.TextResult(msg), nil
}

// injectMessageTool implements spec.md §4.8's inject_message(executor_id,
// text): routes a steering message to the named executor's currently
// active agent, bypassing the task-level shared queue the Orchestrator's
// own agent already consumes.
type injectMessageTool struct {
	session *Session
}

func (t *injectMessageTool) Name() string  { return "inject_message" }
func (t *injectMessageTool) Label() string { return "Inject Message" }
func (t *injectMessageTool) Description() string {
	return "Sends a steering message to a running executor's active agent."
}
func (t *injectMessageTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"executor_id": {"type": "string"},
			"text": {"type": "string"}
		},
		"required": ["executor_id", "text"]
	}`)
}
func (t *injectMessageTool) Async() bool { return false }

func (t *injectMessageTool) Execute(ctx context.Context, toolCallID string, params json.RawMessage, cancel <-chan struct{}) (tools.Result, error) {
	var args struct {
		ExecutorID string `json:"executor_id"`
		Text       string `json:"text"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return tools.Result{}, errkind.Wrap(errkind.InvalidInput, "parse inject_message params", err)
	}

	t.session.mu.Lock()
	rec, ok := t.session.executors[args.ExecutorID]
	t.session.mu.Unlock()
	if !ok {
		return tools.Result{}, errkind.New(errkind.NotFound, fmt.Sprintf("unknown executor %q", args.ExecutorID))
	}

	rec.steering.Push(args.Text)
	return tools.TextResult(fmt.Sprintf("message queued for %s", args.ExecutorID)), nil
}

// cancelTaskTool implements spec.md §4.8's cancel_task(executor_id): stops
// an executor from starting any further subtask and cancels its in-flight
// step.
type cancelTaskTool struct {
	session *Session
}

func (t *cancelTaskTool) Name() string  { return "cancel_task" }
func (t *cancelTaskTool) Label() string { return "Cancel Task" }
func (t *cancelTaskTool) Description() string {
	return "Stops a running executor."
}
func (t *cancelTaskTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"executor_id": {"type": "string"}
		},
		"required": ["executor_id"]
	}`)
}
func (t *cancelTaskTool) Async() bool { return false }

func (t *cancelTaskTool) Execute(ctx context.Context, toolCallID string, params json.RawMessage, cancel <-chan struct{}) (tools.Result, error) {
	var args struct {
		ExecutorID string `json:"executor_id"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return tools.Result{}, errkind.Wrap(errkind.InvalidInput, "parse cancel_task params", err)
	}

	t.session.mu.Lock()
	rec, ok := t.session.executors[args.ExecutorID]
	t.session.mu.Unlock()
	if !ok {
		return tools.Result{}, errkind.New(errkind.NotFound, fmt.Sprintf("unknown executor %q", args.ExecutorID))
	}

	rec.exec.Stop()
	rec.cancel()
	return tools.TextResult(fmt.Sprintf("cancelled %s", args.ExecutorID)), nil
}

// replanTaskTool implements spec.md §4.8's replan_task(executor_id,
// new_plan_json): pauses an executor, replaces its subtask DAG, and
// resumes it.
type replanTaskTool struct {
	session *Session
}

func (t *replanTaskTool) Name() string  { return "replan_task" }
func (t *replanTaskTool) Label() string { return "Replan Task" }
func (t *replanTaskTool) Description() string {
	return "Replaces a running executor's remaining subtasks with a new plan. " +
		"new_plan_json must be a JSON array of {id, content, agent_type, depends_on}."
}
func (t *replanTaskTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"executor_id": {"type": "string"},
			"new_plan_json": {"type": "string"}
		},
		"required": ["executor_id", "new_plan_json"]
	}`)
}
func (t *replanTaskTool) Async() bool { return false }

func (t *replanTaskTool) Execute(ctx context.Context, toolCallID string, params json.RawMessage, cancel <-chan struct{}) (tools.Result, error) {
	var args struct {
		ExecutorID  string `json:"executor_id"`
		NewPlanJSON string `json:"new_plan_json"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return tools.Result{}, errkind.Wrap(errkind.InvalidInput, "parse replan_task params", err)
	}

	var specs []struct {
		ID        string   `json:"id"`
		Content   string   `json:"content"`
		AgentType string   `json:"agent_type"`
		DependsOn []string `json:"depends_on"`
	}
	if err := json.Unmarshal([]byte(args.NewPlanJSON), &specs); err != nil {
		return tools.Result{}, errkind.Wrap(errkind.InvalidInput, "parse new_plan_json", err)
	}
	if len(specs) == 0 {
		return tools.Result{}, errkind.New(errkind.InvalidInput, "new_plan_json must not be empty")
	}

	t.session.mu.Lock()
	rec, ok := t.session.executors[args.ExecutorID]
	t.session.mu.Unlock()
	if !ok {
		return tools.Result{}, errkind.New(errkind.NotFound, fmt.Sprintf("unknown executor %q", args.ExecutorID))
	}

	newSubtasks := make([]*v1.Subtask, 0, len(specs))
	for _, spec := range specs {
		if spec.ID == "" || spec.Content == "" {
			return tools.Result{}, errkind.New(errkind.InvalidInput, "each plan entry requires id and content")
		}
		agentType := v1.AgentType(spec.AgentType)
		if !v1.ValidAgentType(agentType) {
			return tools.Result{}, errkind.New(errkind.InvalidInput, fmt.Sprintf("invalid agent_type %q", spec.AgentType))
		}
		newSubtasks = append(newSubtasks, &v1.Subtask{
			ID:        spec.ID,
			Content:   spec.Content,
			AgentType: agentType,
			DependsOn: spec.DependsOn,
			State:     v1.SubtaskPending,
		})
	}

	rec.exec.Pause()
	if err := rec.exec.ReplanSubtasks(newSubtasks); err != nil {
		rec.exec.Resume()
		return tools.Result{}, err
	}
	rec.exec.Resume()

	t.session.emitter.EmitAction(v1.ActionTaskReplanned, map[string]interface{}{
		"executor_id":   args.ExecutorID,
		"subtask_count": len(newSubtasks),
	})

	return tools.TextResult(fmt.Sprintf("replanned %s with %d subtask(s)", args.ExecutorID, len(newSubtasks))), nil
}

// attachFileTool implements spec.md §4.8's attach_file(path): records a
// deliverable the next wait_confirm event should surface.
type attachFileTool struct {
	session *Session
}

func (t *attachFileTool) Name() string  { return "attach_file" }
func (t *attachFileTool) Label() string { return "Attach File" }
func (t *attachFileTool) Description() string {
	return "Marks a workspace file as a deliverable to surface to the user in the next summary."
}
func (t *attachFileTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string"}
		},
		"required": ["path"]
	}`)
}
func (t *attachFileTool) Async() bool { return false }

func (t *attachFileTool) Execute(ctx context.Context, toolCallID string, params json.RawMessage, cancel <-chan struct{}) (tools.Result, error) {
	var args struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return tools.Result{}, errkind.Wrap(errkind.InvalidInput, "parse attach_file params", err)
	}
	if args.Path == "" {
		return tools.Result{}, errkind.New(errkind.InvalidInput, "path must not be empty")
	}

	size := workspaceFileSize(t.session.workingDir, args.Path)

	t.session.mu.Lock()
	t.session.attachments = append(t.session.attachments, v1.FileAttachment{
		FileName: fileNameOf(args.Path),
		Path:     args.Path,
		SizeByte: size,
	})
	t.session.mu.Unlock()

	return tools.TextResult(fmt.Sprintf("attached %s", args.Path)), nil
}
