// Package planner turns a user request into an ordered list of typed
// subtasks with optional per-subtask workflow guides (spec.md §4.6).
package planner

import (
	"context"
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/AriseOS/amid/internal/common/logger"
	"github.com/AriseOS/amid/internal/errkind"
	"github.com/AriseOS/amid/internal/events"
	"github.com/AriseOS/amid/internal/llm"
	v1 "github.com/AriseOS/amid/pkg/api/v1"
)

// MemoryResult is the planner-relevant projection of a memory task query
// (spec.md §4.9 query_task): a cognitive phrase and/or states/actions when
// memory has a match, or an L3 empty result when it doesn't.
type MemoryResult struct {
	Level           v1.MemoryLevel
	CognitivePhrase string
	States          []string
	ExecutionPlan   string
}

// MemoryQuerier is the narrow planner-side view of the memory read path, so
// internal/planner never needs to import internal/memory directly.
type MemoryQuerier interface {
	QueryTask(ctx context.Context, text string) (*MemoryResult, error)
}

// Planner decomposes a task prompt into subtasks via one LLM call, enriched
// by a memory task query.
type Planner struct {
	provider llm.Provider
	memory   MemoryQuerier
	log      *logger.Logger
}

// New builds a Planner. memory may be nil, in which case every
// decomposition proceeds with an L3 "no context" memory block.
func New(provider llm.Provider, memory MemoryQuerier, log *logger.Logger) *Planner {
	return &Planner{provider: provider, memory: memory, log: log}
}

// DecomposeAndQueryMemory implements spec.md §4.6's
// decompose_and_query_memory(task_text): query memory, prompt the planner
// LLM for an XML task list, parse it into subtasks, and assign the
// whole-guide memory context to exactly one subtask (policy B).
func (p *Planner) DecomposeAndQueryMemory(ctx context.Context, emitter *events.Emitter, taskText string) ([]*v1.Subtask, error) {
	mem, err := p.queryMemory(ctx, taskText)
	if err != nil {
		if p.log != nil {
			p.log.WithError(err).Warn("memory task query failed, planning without context")
		}
		mem = &MemoryResult{Level: v1.MemoryLevelL3}
	}

	contextBlock := formatMemoryContext(mem)

	emitter.EmitAction(v1.ActionMemoryLevel, map[string]interface{}{"memory_level": string(mem.Level)})

	resp, err := p.provider.Complete(ctx, llm.Request{
		System: plannerSystemPrompt,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Text: buildPlannerPrompt(taskText, contextBlock)},
		},
	})
	if err != nil {
		return nil, err
	}

	subtasks, err := parseTaskXML(resp.Text)
	if err != nil || len(subtasks) == 0 {
		if p.log != nil {
			p.log.Warn("planner produced no parsable subtasks, falling back to a single code subtask")
		}
		emitter.EmitAction(v1.ActionAgentReport, map[string]interface{}{
			"level":   "warning",
			"message": "planner returned no usable subtasks; running the request as a single task",
		})
		subtasks = []*v1.Subtask{{
			ID:        "task-1",
			Content:   taskText,
			AgentType: v1.AgentTypeCode,
			DependsOn: []string{},
			State:     v1.SubtaskPending,
		}}
	}

	assignWorkflowGuide(subtasks, contextBlock)

	emitter.EmitAction(v1.ActionTaskDecomposed, map[string]interface{}{
		"memory_level": string(mem.Level),
		"subtask_count": len(subtasks),
	})
	emitter.EmitAction(v1.ActionSubtaskState, map[string]interface{}{
		"subtasks": subtaskSummaries(subtasks),
	})

	return subtasks, nil
}

func (p *Planner) queryMemory(ctx context.Context, taskText string) (*MemoryResult, error) {
	if p.memory == nil {
		return &MemoryResult{Level: v1.MemoryLevelL3}, nil
	}
	return p.memory.QueryTask(ctx, taskText)
}

func formatMemoryContext(mem *MemoryResult) string {
	if mem == nil || mem.Level == v1.MemoryLevelL3 {
		return "no context"
	}

	var b strings.Builder
	if mem.CognitivePhrase != "" {
		fmt.Fprintf(&b, "Known approach: %s\n", mem.CognitivePhrase)
	}
	if len(mem.States) > 0 {
		b.WriteString("States: ")
		b.WriteString(strings.Join(mem.States, " -> "))
		b.WriteString("\n")
	}
	if mem.ExecutionPlan != "" {
		fmt.Fprintf(&b, "Plan hints: %s\n", mem.ExecutionPlan)
	}
	if b.Len() == 0 {
		return "no context"
	}
	return strings.TrimSpace(b.String())
}

const plannerSystemPrompt = `You decompose a user's request into an ordered list of typed subtasks.
Respond with exactly one XML document in the form:
<tasks>
  <task type="browser|document|code|multi_modal">subtask content</task>
  ...
</tasks>
Do not include any other XML elements or attributes.`

func buildPlannerPrompt(taskText, contextBlock string) string {
	return fmt.Sprintf("Request:\n%s\n\nMemory context:\n%s\n\nProduce the <tasks> XML now.", taskText, contextBlock)
}

var tasksBlockPattern = regexp.MustCompile(`(?s)<tasks>.*</tasks>`)

// parseTaskXML extracts and parses the <tasks> document from model output
// that may contain surrounding prose (spec.md §4.6 step 4: "robust to
// whitespace and extra prose").
func parseTaskXML(text string) ([]*v1.Subtask, error) {
	block := tasksBlockPattern.FindString(text)
	if block == "" {
		return nil, errkind.New(errkind.InvalidInput, "no <tasks> block found in planner output")
	}

	var doc struct {
		XMLName xml.Name `xml:"tasks"`
		Tasks   []struct {
			Type    string `xml:"type,attr"`
			Content string `xml:",chardata"`
		} `xml:"task"`
	}
	if err := xml.Unmarshal([]byte(block), &doc); err != nil {
		return nil, errkind.Wrap(errkind.InvalidInput, "parse planner task XML", err)
	}

	out := make([]*v1.Subtask, 0, len(doc.Tasks))
	for i, t := range doc.Tasks {
		content := strings.TrimSpace(t.Content)
		if content == "" {
			continue
		}
		agentType := v1.AgentType(strings.TrimSpace(t.Type))
		if !v1.ValidAgentType(agentType) {
			agentType = v1.AgentTypeCode
		}
		out = append(out, &v1.Subtask{
			ID:        "task-" + strconv.Itoa(i+1),
			Content:   content,
			AgentType: agentType,
			DependsOn: []string{},
			State:     v1.SubtaskPending,
		})
	}
	return out, nil
}

// assignWorkflowGuide implements spec.md §4.6 step 5 (policy B, whole-guide
// injection): the entire memory context goes to exactly one subtask — the
// first browser subtask if present, else the first subtask overall.
func assignWorkflowGuide(subtasks []*v1.Subtask, contextBlock string) {
	if contextBlock == "" || contextBlock == "no context" || len(subtasks) == 0 {
		return
	}

	target := subtasks[0]
	for _, s := range subtasks {
		if s.AgentType == v1.AgentTypeBrowser {
			target = s
			break
		}
	}
	target.WorkflowGuide = contextBlock
}

func subtaskSummaries(subtasks []*v1.Subtask) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(subtasks))
	for _, s := range subtasks {
		out = append(out, map[string]interface{}{
			"id":         s.ID,
			"content":    s.ContentPreview(200),
			"agent_type": string(s.AgentType),
			"depends_on": s.DependsOn,
			"state":      s.StateMarker(),
		})
	}
	return out
}
