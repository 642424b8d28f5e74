package v1

// AgentType is the typed agent a subtask is routed to (spec.md §3 Subtask).
type AgentType string

const (
	AgentTypeBrowser    AgentType = "browser"
	AgentTypeDocument   AgentType = "document"
	AgentTypeCode       AgentType = "code"
	AgentTypeMultiModal AgentType = "multi_modal"
)

// ValidAgentType reports whether t is one of the four agent types.
func ValidAgentType(t AgentType) bool {
	switch t {
	case AgentTypeBrowser, AgentTypeDocument, AgentTypeCode, AgentTypeMultiModal:
		return true
	default:
		return false
	}
}

// MemoryLevel is the memory-match confidence recorded on a subtask
// (spec.md GLOSSARY: L1 exact phrase, L2 stitched path, L3 no match).
type MemoryLevel string

const (
	MemoryLevelL1 MemoryLevel = "L1"
	MemoryLevelL2 MemoryLevel = "L2"
	MemoryLevelL3 MemoryLevel = "L3"
)

// SubtaskState is the state-machine position of a subtask.
type SubtaskState string

const (
	SubtaskPending SubtaskState = "pending"
	SubtaskRunning SubtaskState = "running"
	SubtaskDone    SubtaskState = "done"
	SubtaskFailed  SubtaskState = "failed"
)

// Subtask is an atomic unit of work assigned to one agent (spec.md §3).
type Subtask struct {
	ID            string       `json:"id"`
	Content       string       `json:"content"`
	AgentType     AgentType    `json:"agent_type"`
	DependsOn     []string     `json:"depends_on"`
	State         SubtaskState `json:"state"`
	WorkflowGuide string       `json:"workflow_guide,omitempty"`
	MemoryLevel   MemoryLevel  `json:"memory_level,omitempty"`
	Result        string       `json:"result,omitempty"`
	RetryCount    int          `json:"retry_count"`

	// dynamic marks a subtask added by replan_split_and_handoff. It is not
	// serialized; replan_subtasks still discards it like any other pending
	// subtask per spec.md §9 Open Questions ("Replan removes dynamic
	// subtasks" — the documented, current behavior).
	dynamic bool
}

// IsDynamic reports whether the subtask was added by split-and-handoff
// rather than present in the planner's original decomposition.
func (s *Subtask) IsDynamic() bool {
	return s.dynamic
}

// MarkDynamic tags a subtask as dynamically added.
func (s *Subtask) MarkDynamic() {
	s.dynamic = true
}

// ContentPreview returns content truncated to n runes for compact display.
func (s *Subtask) ContentPreview(n int) string {
	return previewString(s.Content, n)
}

// ResultPreview returns the result truncated to n runes for compact display.
func (s *Subtask) ResultPreview(n int) string {
	return previewString(s.Result, n)
}

func previewString(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// StateMarker renders a fixed-width state glyph used by the Orchestrator's
// refreshed system-prompt subtask list (spec.md §4.8 step 3).
func (s *Subtask) StateMarker() string {
	switch s.State {
	case SubtaskDone:
		return "OK"
	case SubtaskRunning:
		return ">>"
	case SubtaskFailed:
		return "XX"
	default:
		return ".."
	}
}
