package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/AriseOS/amid/internal/errkind"
	"github.com/AriseOS/amid/internal/tools"
	v1 "github.com/AriseOS/amid/pkg/api/v1"
)

// replanReviewContextTool implements spec.md §4.7.1's
// replan_review_context(): a text snapshot of every subtask plus a bounded
// workspace listing, so an agent can decide whether to split its work.
type replanReviewContextTool struct {
	exec *Executor
}

func (t *replanReviewContextTool) Name() string  { return "replan_review_context" }
func (t *replanReviewContextTool) Label() string { return "Review Task Context" }
func (t *replanReviewContextTool) Description() string {
	return "Returns a snapshot of every subtask's state and the current workspace contents."
}
func (t *replanReviewContextTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}
func (t *replanReviewContextTool) Async() bool { return false }

func (t *replanReviewContextTool) Execute(ctx context.Context, toolCallID string, params json.RawMessage, cancel <-chan struct{}) (tools.Result, error) {
	return tools.TextResult(t.exec.reviewContext()), nil
}

// handoffTaskSpec is one element of replan_split_and_handoff's tasks array.
type handoffTaskSpec struct {
	Content   string   `json:"content"`
	AgentType string   `json:"agent_type"`
	DependsOn []string `json:"depends_on"`
}

// replanSplitAndHandoffTool implements spec.md §4.7.1's
// replan_split_and_handoff(summary, tasks): lets an agent that discovers
// its subtask is actually a list of many similar items split the
// remaining work into follow-up subtasks instead of doing it all itself.
type replanSplitAndHandoffTool struct {
	exec      *Executor
	currentID string
}

func (t *replanSplitAndHandoffTool) Name() string  { return "replan_split_and_handoff" }
func (t *replanSplitAndHandoffTool) Label() string { return "Split Remaining Work" }
func (t *replanSplitAndHandoffTool) Description() string {
	return "Splits the remaining work of this subtask into one follow-up subtask per item, " +
		"and records a summary of what this subtask itself accomplished."
}
func (t *replanSplitAndHandoffTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"summary": {"type": "string"},
			"tasks": {"type": "string"}
		},
		"required": ["summary", "tasks"]
	}`)
}
func (t *replanSplitAndHandoffTool) Async() bool { return false }

func (t *replanSplitAndHandoffTool) Execute(ctx context.Context, toolCallID string, params json.RawMessage, cancel <-chan struct{}) (tools.Result, error) {
	var args struct {
		Summary string `json:"summary"`
		Tasks   string `json:"tasks"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return tools.Result{}, errkind.Wrap(errkind.InvalidInput, "parse replan_split_and_handoff params", err)
	}

	var specs []handoffTaskSpec
	if err := json.Unmarshal([]byte(args.Tasks), &specs); err != nil {
		return tools.Result{}, errkind.Wrap(errkind.InvalidInput, "parse tasks array", err)
	}
	if len(specs) == 0 {
		return tools.Result{}, errkind.New(errkind.InvalidInput, "tasks array must not be empty")
	}

	parent := t.exec.subtaskByID(t.currentID)
	if parent == nil {
		return tools.Result{}, errkind.New(errkind.InvalidInput, fmt.Sprintf("unknown subtask %q", t.currentID))
	}

	newSubtasks := make([]*v1.Subtask, 0, len(specs))
	for i, spec := range specs {
		if spec.Content == "" {
			return tools.Result{}, errkind.New(errkind.InvalidInput, "each task requires non-empty content")
		}
		agentType := v1.AgentType(spec.AgentType)
		if agentType == "" {
			agentType = v1.AgentTypeBrowser
		}
		if !v1.ValidAgentType(agentType) {
			return tools.Result{}, errkind.New(errkind.InvalidInput, fmt.Sprintf("invalid agent_type %q", spec.AgentType))
		}

		deps := dedupStrings(append(append([]string{}, parent.DependsOn...), t.currentID))
		deps = dedupStrings(append(deps, spec.DependsOn...))

		newSubtasks = append(newSubtasks, &v1.Subtask{
			ID:        fmt.Sprintf("%s_dyn_%d", t.currentID, i+1),
			Content:   spec.Content,
			AgentType: agentType,
			DependsOn: deps,
			State:     v1.SubtaskPending,
		})
	}

	if err := t.exec.AddSubtasksAsync(newSubtasks, t.currentID); err != nil {
		return tools.Result{}, err
	}
	t.exec.setHandoffResult(t.currentID, args.Summary)

	return tools.TextResult(fmt.Sprintf("split into %d follow-up subtask(s); this subtask's result will be recorded as: %s", len(newSubtasks), args.Summary)), nil
}
