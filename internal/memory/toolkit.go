package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/AriseOS/amid/internal/common/logger"
	"github.com/AriseOS/amid/internal/memory/cache"
	"github.com/AriseOS/amid/internal/observability"
	"github.com/AriseOS/amid/internal/planner"
	"github.com/AriseOS/amid/internal/tools"
	v1 "github.com/AriseOS/amid/pkg/api/v1"
)

// pageOpsCacheTTL bounds how long a query_page_operations answer is reused
// for the same URL before it is asked of the memory service again.
const pageOpsCacheTTL = 10 * time.Minute

// Toolkit is the single entry point into memory for the rest of the
// codebase: it satisfies planner.MemoryQuerier (task decomposition) and
// browser.PageOpsQuerier (per-URL action hints), and exposes the
// framework's LLM-visible query tools (spec.md §4.9).
type Toolkit struct {
	client *Client
	cache  cache.Cache
	log    *logger.Logger
}

// New builds a Toolkit. cache may be nil, in which case every lookup goes
// straight to the memory service.
func New(client *Client, c cache.Cache, log *logger.Logger) *Toolkit {
	return &Toolkit{client: client, cache: c, log: log}
}

// QueryTask satisfies planner.MemoryQuerier.
func (t *Toolkit) QueryTask(ctx context.Context, text string) (*planner.MemoryResult, error) {
	res, err := t.client.QueryTask(ctx, text)
	if err != nil {
		observability.MemoryQueriesTotal.WithLabelValues("unknown", "error").Inc()
		return nil, err
	}
	observability.MemoryQueriesTotal.WithLabelValues(res.Level, "ok").Inc()
	return &planner.MemoryResult{
		Level:           v1.MemoryLevel(res.Level),
		CognitivePhrase: res.CognitivePhrase,
		States:          res.States,
		ExecutionPlan:   res.ExecutionPlan,
	}, nil
}

// QueryPageOperations satisfies browser.PageOpsQuerier: it looks up known
// outgoing actions for a URL, through the cache when one is configured.
func (t *Toolkit) QueryPageOperations(ctx context.Context, url string) (string, bool, error) {
	key := "page_ops:" + url
	if t.cache != nil {
		if val, hit, err := t.cache.Get(ctx, key); err == nil && hit {
			return val, val != "", nil
		}
	}

	res, err := t.client.QueryActions(ctx, url, "")
	if err != nil {
		return "", false, err
	}
	if len(res.Actions) == 0 {
		if t.cache != nil {
			_ = t.cache.Set(ctx, key, "", pageOpsCacheTTL)
		}
		return "", false, nil
	}

	block := formatActionsBlock(res.Actions)
	if t.cache != nil {
		_ = t.cache.Set(ctx, key, block, pageOpsCacheTTL)
	}
	return block, true, nil
}

func formatActionsBlock(actions []string) string {
	out := "Known actions for this page (from memory):\n"
	for _, a := range actions {
		out += "- " + a + "\n"
	}
	return out
}

// Tools returns the framework query tools an agent's dispatcher should
// expose: query_task, query_navigation, query_actions, plan_task, and
// query_page_operations (spec.md §4.9).
func (t *Toolkit) Tools() []tools.Tool {
	return []tools.Tool{
		&queryTaskTool{toolkit: t},
		&queryNavigationTool{toolkit: t},
		&queryActionsTool{toolkit: t},
		&planTaskTool{toolkit: t},
		&queryPageOperationsTool{toolkit: t},
	}
}

type queryTaskTool struct{ toolkit *Toolkit }

func (q *queryTaskTool) Name() string  { return "query_task" }
func (q *queryTaskTool) Label() string { return "Query Task Memory" }
func (q *queryTaskTool) Description() string {
	return "Looks up prior experience executing a similar task from memory."
}
func (q *queryTaskTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`)
}
func (q *queryTaskTool) Async() bool { return false }
func (q *queryTaskTool) Execute(ctx context.Context, toolCallID string, params json.RawMessage, cancel <-chan struct{}) (tools.Result, error) {
	var args struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return tools.Result{}, err
	}
	res, err := q.toolkit.client.QueryTask(ctx, args.Text)
	if err != nil {
		return tools.Result{}, err
	}
	return tools.TextResult(summarizeTaskResult(res)), nil
}

func summarizeTaskResult(res *TaskResult) string {
	if res.CognitivePhrase == "" && len(res.States) == 0 {
		return "no prior experience found (memory level L3)"
	}
	out := fmt.Sprintf("memory level %s", res.Level)
	if res.CognitivePhrase != "" {
		out += fmt.Sprintf("\ncognitive phrase: %s", res.CognitivePhrase)
	}
	if len(res.States) > 0 {
		out += "\nstates:"
		for _, s := range res.States {
			out += "\n- " + s
		}
	}
	return out
}

type queryNavigationTool struct{ toolkit *Toolkit }

func (q *queryNavigationTool) Name() string  { return "query_navigation" }
func (q *queryNavigationTool) Label() string { return "Query Navigation Memory" }
func (q *queryNavigationTool) Description() string {
	return "Looks up a remembered navigation path between a start state and an end state."
}
func (q *queryNavigationTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"start_state": {"type": "string"},
			"end_state": {"type": "string"}
		},
		"required": ["start_state", "end_state"]
	}`)
}
func (q *queryNavigationTool) Async() bool { return false }
func (q *queryNavigationTool) Execute(ctx context.Context, toolCallID string, params json.RawMessage, cancel <-chan struct{}) (tools.Result, error) {
	var args struct {
		StartState string `json:"start_state"`
		EndState   string `json:"end_state"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return tools.Result{}, err
	}
	res, err := q.toolkit.client.QueryNavigation(ctx, args.StartState, args.EndState)
	if err != nil {
		return tools.Result{}, err
	}
	if !res.Found {
		return tools.TextResult("no remembered path between these states"), nil
	}
	out := "remembered path:"
	for _, s := range res.States {
		out += "\n- " + s
	}
	return tools.TextResult(out), nil
}

type queryActionsTool struct{ toolkit *Toolkit }

func (q *queryActionsTool) Name() string  { return "query_actions" }
func (q *queryActionsTool) Label() string { return "Query Actions Memory" }
func (q *queryActionsTool) Description() string {
	return "Looks up remembered outgoing actions from the current state, optionally toward a target."
}
func (q *queryActionsTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"current_state": {"type": "string"},
			"target": {"type": "string"}
		},
		"required": ["current_state"]
	}`)
}
func (q *queryActionsTool) Async() bool { return false }
func (q *queryActionsTool) Execute(ctx context.Context, toolCallID string, params json.RawMessage, cancel <-chan struct{}) (tools.Result, error) {
	var args struct {
		CurrentState string `json:"current_state"`
		Target       string `json:"target"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return tools.Result{}, err
	}
	res, err := q.toolkit.client.QueryActions(ctx, args.CurrentState, args.Target)
	if err != nil {
		return tools.Result{}, err
	}
	if len(res.Actions) == 0 {
		return tools.TextResult("no remembered actions from this state"), nil
	}
	return tools.TextResult(formatActionsBlock(res.Actions)), nil
}

type planTaskTool struct{ toolkit *Toolkit }

func (q *planTaskTool) Name() string  { return "plan_task" }
func (q *planTaskTool) Label() string { return "Plan Task From Memory" }
func (q *planTaskTool) Description() string {
	return "Asks memory for a full execution plan for a task, when a rich match exists."
}
func (q *planTaskTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`)
}
func (q *planTaskTool) Async() bool { return false }
func (q *planTaskTool) Execute(ctx context.Context, toolCallID string, params json.RawMessage, cancel <-chan struct{}) (tools.Result, error) {
	var args struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return tools.Result{}, err
	}
	res, err := q.toolkit.client.PlanTask(ctx, args.Text)
	if err != nil {
		return tools.Result{}, err
	}
	if res.ExecutionPlan == "" {
		return tools.TextResult("no remembered execution plan for this task"), nil
	}
	return tools.TextResult(res.ExecutionPlan), nil
}

// queryPageOperationsTool is the LLM-visible form of
// Toolkit.QueryPageOperations, for agents that want to ask on demand
// rather than wait for the background-injected result.
type queryPageOperationsTool struct{ toolkit *Toolkit }

func (q *queryPageOperationsTool) Name() string  { return "query_page_operations" }
func (q *queryPageOperationsTool) Label() string { return "Query Page Operations Memory" }
func (q *queryPageOperationsTool) Description() string {
	return "Looks up known intent sequences and outgoing actions for the current page URL."
}
func (q *queryPageOperationsTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"url":{"type":"string"}},"required":["url"]}`)
}
func (q *queryPageOperationsTool) Async() bool { return false }
func (q *queryPageOperationsTool) Execute(ctx context.Context, toolCallID string, params json.RawMessage, cancel <-chan struct{}) (tools.Result, error) {
	var args struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return tools.Result{}, err
	}
	block, ok, err := q.toolkit.QueryPageOperations(ctx, args.URL)
	if err != nil {
		return tools.Result{}, err
	}
	if !ok {
		return tools.TextResult("no remembered operations for this page"), nil
	}
	return tools.TextResult(block), nil
}
