// Package agent implements the Agent Loop (spec.md §4.4): a multi-turn LLM
// conversation that dispatches tools, truncates in place on context
// overflow, and reports every transition through an events.Emitter.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/AriseOS/amid/internal/errkind"
	"github.com/AriseOS/amid/internal/events"
	"github.com/AriseOS/amid/internal/llm"
	"github.com/AriseOS/amid/internal/tools"
	v1 "github.com/AriseOS/amid/pkg/api/v1"
)

// DefaultMaxSteps bounds how many Step calls an agent accepts between
// resets; the call after the limit is aborted with errkind.StepLimit.
const DefaultMaxSteps = 40

// DefaultContextCeilingTokens is the approximate token budget above which
// in-place truncation runs (spec.md §4.4 step h: "default ≈180k").
const DefaultContextCeilingTokens = 180_000

// approxCharsPerToken is a cheap token estimator; spec.md does not mandate
// an exact tokenizer, only a consistent approximate ceiling.
const approxCharsPerToken = 4

// pausePollInterval bounds how long Step sleeps between pause checks;
// cancellation is still observed promptly via the select in cancelled().
const pausePollInterval = 50 * time.Millisecond

// StepResult is the return value of Step: the final assistant text plus
// bookkeeping the executor/orchestrator need.
type StepResult struct {
	Text       string
	ToolCalls  int
	StopReason llm.StopReason
}

// PauseSignal lets a caller (task.State) tell the loop to block between
// provider calls.
type PauseSignal interface {
	Paused() bool
}

// SteeringSource supplies steering messages injected as extra user turns
// between provider calls (spec.md §4.4 step 4c). A nil source means the
// agent never consumes steering (the Orchestrator's "disable_shared_queue"
// policy for child agents, spec.md §5).
type SteeringSource interface {
	// Poll returns a pending message and true, or ("", false) if none.
	Poll() (string, bool)
}

// Agent runs the core autonomous loop against one LLM provider and tool
// dispatcher, emitting lifecycle events as it goes.
type Agent struct {
	provider   llm.Provider
	dispatcher *tools.Dispatcher
	emitter    *events.Emitter
	systemBase string

	maxSteps       int
	contextCeiling int

	log        []llm.Message
	stepCount  int
	cancelCh   <-chan struct{}
	pause      PauseSignal
	steering   SteeringSource

	workflowGuide    string
	lastInjectedURL  string
	pageOpsProvider  func(url string) (string, bool)
	systemSuffix     string
}

// Config bundles the construction-time dependencies for an Agent.
type Config struct {
	Provider       llm.Provider
	Dispatcher     *tools.Dispatcher
	Emitter        *events.Emitter
	SystemPrompt   string
	MaxSteps       int
	ContextCeiling int
	CancelCh       <-chan struct{}
	Pause          PauseSignal
	Steering       SteeringSource
}

// New constructs an Agent from Config, filling in defaults for zero values.
func New(cfg Config) *Agent {
	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	ceiling := cfg.ContextCeiling
	if ceiling <= 0 {
		ceiling = DefaultContextCeilingTokens
	}
	return &Agent{
		provider:       cfg.Provider,
		dispatcher:     cfg.Dispatcher,
		emitter:        cfg.Emitter,
		systemBase:     cfg.SystemPrompt,
		maxSteps:       maxSteps,
		contextCeiling: ceiling,
		cancelCh:       cfg.CancelCh,
		pause:          cfg.Pause,
		steering:       cfg.Steering,
	}
}

// SetWorkflowGuide installs the per-subtask workflow guide text prepended to
// every subsequent Step's input (spec.md §4.4 step 2a, §4.5).
func (a *Agent) SetWorkflowGuide(guide string) {
	a.workflowGuide = guide
}

// SetSystemSuffix appends dynamic context (e.g. the Orchestrator's
// "currently running tasks" section, spec.md §4.8 step 3) to the system
// prompt used by the next Step call. Replaces any previously set suffix.
func (a *Agent) SetSystemSuffix(suffix string) {
	a.systemSuffix = suffix
}

// SetPageOpsProvider installs the browser agent's page-operations cache
// lookup, called at most once per Step, only when the current URL differs
// from the last URL whose block was injected (spec.md §4.5); a nil
// provider (the default) means no enrichment happens, matching non-browser
// agents.
func (a *Agent) SetPageOpsProvider(f func(url string) (string, bool)) {
	a.pageOpsProvider = f
}

// Reset clears the message log and step counter but preserves the tool set
// and provider (spec.md §4.4 "Reset"). Subtype hooks (browser page-ops
// cache) extend this via embedding; see internal/agent/browser.
func (a *Agent) Reset() {
	a.log = nil
	a.stepCount = 0
	a.lastInjectedURL = ""
}

// Clone returns a new Agent sharing the dispatcher and provider but with a
// fresh log and counter (spec.md §4.4 "Cloning"), used by the executor to
// give each subtask an independent conversation.
func (a *Agent) Clone() *Agent {
	clone := *a
	clone.log = nil
	clone.stepCount = 0
	clone.lastInjectedURL = ""
	return &clone
}

// CurrentURL reports the URL this agent's tools last observed. The base
// Agent has no notion of a current page, so it always returns "";
// internal/agent/browser overrides this with the browser tools' tracked
// URL (spec.md §4.5, §4.9 read side).
func (a *Agent) CurrentURL() string {
	return ""
}

// SetRecorder satisfies executor.Agent. The base Agent's tools never
// produce recordable operations, so this is a no-op; internal/agent/browser
// overrides it to forward to its browser tools (spec.md §4.9 write side).
func (a *Agent) SetRecorder(r tools.OperationRecorder) {}

// RegisterTool installs a tool into this agent's dispatcher, overwriting
// any existing tool of the same name. Used by the executor to install the
// per-subtask replan tools (spec.md §4.7.1) before a subtask's retry loop
// and to remove them afterward via UnregisterTool.
func (a *Agent) RegisterTool(t tools.Tool) {
	a.dispatcher.Register(t)
}

// UnregisterTool removes a previously installed tool by name.
func (a *Agent) UnregisterTool(name string) {
	a.dispatcher.Unregister(name)
}

// Step runs the contract from spec.md §4.4: enrich input, emit
// activate_agent, loop provider calls and tool dispatch until the
// assistant produces a tool-free turn, truncating the log in place if it
// grows past the context ceiling, then emit deactivate_agent.
func (a *Agent) Step(ctx context.Context, inputText string, currentURL string) (StepResult, error) {
	if a.cancelled() {
		return StepResult{}, errkind.New(errkind.Cancelled, "task was cancelled before step began")
	}

	a.stepCount++
	if a.stepCount > a.maxSteps {
		return StepResult{}, errkind.New(errkind.StepLimit, fmt.Sprintf("exceeded max steps (%d)", a.maxSteps))
	}

	enriched := a.enrichInput(inputText, currentURL)
	a.log = append(a.log, llm.Message{Role: llm.RoleUser, Text: enriched})

	a.emitter.EmitAction(v1.ActionActivateAgent, nil)
	defer a.emitter.EmitAction(v1.ActionDeactivateAgent, nil)

	toolCallCount := 0

	for {
		if a.cancelled() {
			return StepResult{}, errkind.New(errkind.Cancelled, "task was cancelled mid-step")
		}
		for a.pause != nil && a.pause.Paused() {
			if a.cancelled() {
				return StepResult{}, errkind.New(errkind.Cancelled, "task was cancelled while paused")
			}
			time.Sleep(pausePollInterval)
		}

		if a.steering != nil {
			if msg, ok := a.steering.Poll(); ok {
				a.log = append(a.log, llm.Message{Role: llm.RoleUser, Text: msg})
				a.emitter.EmitAction(v1.ActionNotice, map[string]interface{}{"kind": "steering", "message": msg})
			}
		}

		resp, err := a.provider.Complete(ctx, llm.Request{
			System:   a.systemPrompt(),
			Messages: a.log,
			Tools:    a.toolDefinitions(),
		})
		if err != nil {
			return StepResult{}, err
		}

		assistantMsg := llm.Message{Role: llm.RoleAssistant, Text: resp.Text}
		for _, tc := range resp.ToolCalls {
			assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, tc)
		}
		a.log = append(a.log, assistantMsg)

		if len(resp.ToolCalls) == 0 {
			return StepResult{Text: resp.Text, ToolCalls: toolCallCount, StopReason: resp.StopReason}, nil
		}

		results := make([]llm.ToolResult, 0, len(resp.ToolCalls))
		for _, tc := range resp.ToolCalls {
			toolCallCount++
			a.emitter.EmitAction(v1.ActionActivateToolkit, map[string]interface{}{
				"tool_name": tc.Name,
				"input":     json.RawMessage(tc.Input),
			})

			result := a.dispatcher.Dispatch(ctx, tc.Name, tc.ID, tc.Input, a.cancelCh)

			text := ""
			for _, block := range result.Content {
				if block.Type == tools.ContentText {
					text += block.Text
				}
			}
			ok := result.Details["error"] != true

			a.emitter.EmitAction(v1.ActionDeactivateToolkit, map[string]interface{}{
				"tool_name": tc.Name,
				"ok":        ok,
			})

			results = append(results, llm.ToolResult{
				ToolCallID: tc.ID,
				Content:    text,
				IsError:    !ok,
			})
		}

		a.log = append(a.log, llm.Message{Role: llm.RoleUser, ToolResults: results})

		a.truncateIfOverBudget()
	}
}

func (a *Agent) cancelled() bool {
	if a.cancelCh == nil {
		return false
	}
	select {
	case <-a.cancelCh:
		return true
	default:
		return false
	}
}

func (a *Agent) toolDefinitions() []llm.ToolDefinition {
	descs := a.dispatcher.Descriptors()
	out := make([]llm.ToolDefinition, 0, len(descs))
	for _, d := range descs {
		out = append(out, llm.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.Parameters,
		})
	}
	return out
}

// systemPrompt appends the dynamic suffix (if any) to the base system
// prompt for the next provider call.
func (a *Agent) systemPrompt() string {
	if a.systemSuffix == "" {
		return a.systemBase
	}
	return a.systemBase + "\n\n" + a.systemSuffix
}

// enrichInput prepends the workflow guide (on every Step while one is set)
// and any page-operations block for a changed URL (spec.md §4.4 step 2,
// §4.5).
func (a *Agent) enrichInput(inputText, currentURL string) string {
	enriched := inputText

	if a.workflowGuide != "" {
		enriched = fmt.Sprintf("FOLLOW THESE STEPS (Workflow Guide):\n%s\n\n%s", a.workflowGuide, enriched)
	}

	if a.pageOpsProvider != nil && currentURL != "" && currentURL != a.lastInjectedURL {
		if block, ok := a.pageOpsProvider(currentURL); ok && block != "" {
			enriched = fmt.Sprintf("Page Operations:\n%s\n\n%s", block, enriched)
			a.lastInjectedURL = currentURL
		}
	}

	return enriched
}

// truncateIfOverBudget implements spec.md §4.4 step h: walk the log
// oldest-first replacing tool_result content with "[Truncated]" until the
// estimated size falls under the ceiling. Messages are never removed,
// merged, or summarized.
func (a *Agent) truncateIfOverBudget() {
	if a.estimateTokens() <= a.contextCeiling {
		return
	}

	for i := range a.log {
		msg := &a.log[i]
		changed := false
		for j := range msg.ToolResults {
			if msg.ToolResults[j].Content != "[Truncated]" {
				msg.ToolResults[j].Content = "[Truncated]"
				changed = true
			}
		}
		if changed && a.estimateTokens() <= a.contextCeiling {
			return
		}
	}
}

func (a *Agent) estimateTokens() int {
	chars := len(a.systemBase)
	for _, msg := range a.log {
		chars += len(msg.Text)
		for _, tc := range msg.ToolCalls {
			chars += len(tc.Name) + len(tc.Input)
		}
		for _, tr := range msg.ToolResults {
			chars += len(tr.Content)
		}
	}
	return chars / approxCharsPerToken
}
