package main

import (
	"fmt"

	"github.com/AriseOS/amid/internal/agent"
	browseragent "github.com/AriseOS/amid/internal/agent/browser"
	"github.com/AriseOS/amid/internal/common/logger"
	"github.com/AriseOS/amid/internal/errkind"
	"github.com/AriseOS/amid/internal/events"
	"github.com/AriseOS/amid/internal/executor"
	"github.com/AriseOS/amid/internal/task"
	"github.com/AriseOS/amid/internal/tools"
	"github.com/AriseOS/amid/internal/tools/browsertools"
	"github.com/AriseOS/amid/internal/tools/builtin"
	v1 "github.com/AriseOS/amid/pkg/api/v1"
)

// taskAgentBuilder is the concrete orchestrator.AgentBuilder for one task:
// it closes over the daemon-wide provider/memory/browser wiring plus this
// task's working directory, emitter, and pause signal, and hands back a
// fresh, independently-dispatched agent for whichever agent_type a subtask
// names (spec.md §4.8 step 5).
type taskAgentBuilder struct {
	d       *daemon
	taskID  string
	workdir string
	state   *task.State
	emitter *events.Emitter
	log     *logger.Logger
}

// BuildAgent satisfies orchestrator.AgentBuilder.
func (b *taskAgentBuilder) BuildAgent(agentType v1.AgentType, cancelCh <-chan struct{}, steering agent.SteeringSource) (executor.Agent, error) {
	if !v1.ValidAgentType(agentType) {
		return nil, errkind.New(errkind.InvalidInput, fmt.Sprintf("unknown agent type %q", agentType))
	}

	dispatcher := tools.NewDispatcher(b.log)
	for _, t := range builtin.ForWorkdir(b.workdir) {
		dispatcher.Register(t)
	}
	for _, t := range b.d.memory.Tools() {
		dispatcher.Register(t)
	}
	for _, t := range b.d.mcpTools {
		dispatcher.Register(t)
	}

	baseCfg := agent.Config{
		Provider:       b.d.provider,
		Dispatcher:     dispatcher,
		Emitter:        b.emitter,
		SystemPrompt:   systemPromptFor(agentType),
		MaxSteps:       b.d.cfg.Agent.MaxSteps,
		ContextCeiling: b.d.cfg.Agent.ContextCeiling,
		CancelCh:       cancelCh,
		Pause:          b.state,
		Steering:       steering,
	}

	if agentType == v1.AgentTypeBrowser {
		browserTools, ctl := browsertools.ForTask(b.d.browser, b.taskID)
		for _, t := range browserTools {
			dispatcher.Register(t)
		}
		return browseragent.New(browseragent.Config{Config: baseCfg, Querier: b.d.memory, Controller: ctl}, b.log), nil
	}

	return agent.New(baseCfg), nil
}

// systemPromptFor gives each agent type the framing spec.md §4.5/§4.4
// assigns it: the browser agent's prompt emphasizes the claimed-tab
// contract, the others describe their tool surface plainly.
func systemPromptFor(agentType v1.AgentType) string {
	const shared = "You are a subtask agent running inside the ami daemon. " +
		"Work the subtask to completion using only the tools available to " +
		"you, then produce a final assistant turn with no further tool " +
		"calls summarizing what you did."

	switch agentType {
	case v1.AgentTypeBrowser:
		return shared + " Your tools operate on one browser tab claimed for " +
			"this task; use browser_snapshot to see the current interactive " +
			"elements before clicking or typing, and browser_visit to " +
			"navigate."
	case v1.AgentTypeCode:
		return shared + " Use read_file/write_file/list_directory/delete_file " +
			"and run_shell, all scoped to this task's working directory, to " +
			"make the requested code changes."
	case v1.AgentTypeDocument:
		return shared + " Use read_file/write_file/list_directory, scoped to " +
			"this task's working directory, to produce the requested " +
			"document."
	case v1.AgentTypeMultiModal:
		return shared + " This subtask may span file and shell tools as " +
			"needed; use whichever of those are relevant."
	default:
		return shared
	}
}
