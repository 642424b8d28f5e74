// Package tools implements the Tool Protocol (spec.md §4.3): typed,
// schema-validated callables the agent loop dispatches by name, with
// truncation and path-safety invariants enforced at the dispatcher
// boundary rather than left to each tool implementation.
package tools

import (
	"context"
	"encoding/json"
)

// ContentType enumerates the kinds of content a tool result may carry.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
)

// ContentBlock is one element of a tool result's content list.
type ContentBlock struct {
	Type ContentType `json:"type"`
	Text string      `json:"text,omitempty"`
	// Data is a base64-encoded payload for image (or other binary) blocks.
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// Result is a tool's return value: content blocks plus optional structured
// details for callers that want more than the text the LLM sees.
type Result struct {
	Content []ContentBlock         `json:"content"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// TextResult builds a single-block text Result.
func TextResult(text string) Result {
	return Result{Content: []ContentBlock{{Type: ContentText, Text: text}}}
}

// OperationRecorder receives one observed tool operation as it happens, so
// a tool that drives stateful external actions (spec.md §4.9's browser
// click/type/select/scroll/navigation) can feed an online-learning buffer
// without this package depending on whatever owns that buffer.
type OperationRecorder interface {
	Record(action, state string, detail map[string]interface{})
}

// Tool is a callable the agent loop can dispatch by name.
type Tool interface {
	// Name is the identifier the LLM refers to the tool by; unique per agent.
	Name() string
	// Label is a short human string for UI/event display.
	Label() string
	// Description is the prompt-visible natural-language explanation.
	Description() string
	// ParametersSchema is the JSON Schema derived from a typed descriptor,
	// preserving which fields are required vs optional.
	ParametersSchema() json.RawMessage
	// Async reports whether Execute should be dispatched as a goroutine
	// rather than a blocking-worker call (spec.md §4.3: "sync tools on a
	// worker ... async tools as coroutines").
	Async() bool
	// Execute runs the tool. params is the raw JSON arguments the LLM
	// supplied; cancel is closed if the owning task is cancelled mid-call.
	Execute(ctx context.Context, toolCallID string, params json.RawMessage, cancel <-chan struct{}) (Result, error)
}

// Descriptor is the static metadata half of a Tool, useful for building
// provider-facing tool listings without holding a live Tool instance.
type Descriptor struct {
	Name        string          `json:"name"`
	Label       string          `json:"label"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// DescriptorOf projects a Tool's static metadata into a Descriptor.
func DescriptorOf(t Tool) Descriptor {
	return Descriptor{
		Name:        t.Name(),
		Label:       t.Label(),
		Description: t.Description(),
		Parameters:  t.ParametersSchema(),
	}
}
