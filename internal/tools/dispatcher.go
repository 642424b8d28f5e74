package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/AriseOS/amid/internal/common/logger"
	"github.com/AriseOS/amid/internal/errkind"
	"github.com/AriseOS/amid/internal/observability"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"
)

// TruncationCeiling is the per-result size above which text content is cut
// with a trailing marker (spec.md §4.3: "≈8 KB per result").
const TruncationCeiling = 8 * 1024

// TruncationMarker is appended to truncated text content.
const TruncationMarker = "\n[Truncated]"

// Dispatcher owns a named tool set for one agent and enforces the protocol
// invariants every call must satisfy: schema validation, truncation, and
// exactly-one-result-per-call even on panic or error.
type Dispatcher struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	log    *logger.Logger
}

// NewDispatcher constructs an empty Dispatcher.
func NewDispatcher(log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		tools: make(map[string]Tool),
		log:   log.WithFields(zap.String("component", "tool_dispatcher")),
	}
}

// Register adds a tool, overwriting any prior tool registered under the
// same name (agents rebuild their dispatcher per activation).
func (d *Dispatcher) Register(t Tool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tools[t.Name()] = t
}

// Unregister removes a tool by name.
func (d *Dispatcher) Unregister(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.tools, name)
}

// Descriptors lists the currently registered tools' static metadata, for
// building a provider-facing tool listing.
func (d *Dispatcher) Descriptors() []Descriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Descriptor, 0, len(d.tools))
	for _, t := range d.tools {
		out = append(out, DescriptorOf(t))
	}
	return out
}

// Dispatch validates params against the named tool's schema, then runs it
// (synchronously for blocking tools, respecting Async() for coroutine-style
// tools would be the agent loop's concern — Dispatch itself always returns
// once the call completes, errors, or the cancel signal fires). Every path
// returns exactly one Result so the caller can always produce a matching
// tool_result for the tool_use that triggered this call.
func (d *Dispatcher) Dispatch(ctx context.Context, name, toolCallID string, params json.RawMessage, cancel <-chan struct{}) Result {
	d.mu.RLock()
	t, ok := d.tools[name]
	d.mu.RUnlock()

	if !ok {
		return errorResult(errkind.New(errkind.NotFound, fmt.Sprintf("unknown tool %q", name)))
	}

	timer := observability.NewTimer()

	if err := validateParams(t.ParametersSchema(), params); err != nil {
		timer.ObserveToolCall(name, "invalid_input")
		return errorResult(errkind.Wrap(errkind.InvalidInput, "parameter validation failed", err))
	}

	result, err := d.runSafely(ctx, t, toolCallID, params, cancel)
	if err != nil {
		d.log.Debug("tool call failed",
			zap.String("tool", name),
			zap.String("tool_call_id", toolCallID),
			zap.Error(err))
		timer.ObserveToolCall(name, "error")
		return errorResult(err)
	}

	timer.ObserveToolCall(name, "ok")
	return truncate(result)
}

// runSafely recovers from a panicking tool implementation and reports it as
// a TOOL_FAILURE, so a single broken tool never takes down the agent loop
// (spec.md §7: "Tool exception ... Never propagates out of step").
func (d *Dispatcher) runSafely(ctx context.Context, t Tool, toolCallID string, params json.RawMessage, cancel <-chan struct{}) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errkind.New(errkind.ToolFailure, fmt.Sprintf("tool panicked: %v", r))
		}
	}()
	result, err = t.Execute(ctx, toolCallID, params, cancel)
	if err != nil {
		if _, ok := err.(*errkind.Error); !ok {
			err = errkind.Wrap(errkind.ToolFailure, "tool execution failed", err)
		}
	}
	return result, err
}

// errorResult turns a dispatch-time error into the single Result the caller
// returns as the tool_result, tagged so callers (internal/agent) can flip
// the tool_result's is_error flag without re-parsing the text.
func errorResult(err error) Result {
	r := TextResult(err.Error())
	r.Details = map[string]interface{}{"error": true}
	return r
}

func truncate(r Result) Result {
	out := make([]ContentBlock, len(r.Content))
	for i, block := range r.Content {
		if block.Type == ContentText && len(block.Text) > TruncationCeiling {
			block.Text = block.Text[:TruncationCeiling] + TruncationMarker
		}
		out[i] = block
	}
	r.Content = out
	return r
}

func validateParams(schema json.RawMessage, params json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}

	var schemaDoc any
	if err := json.Unmarshal(schema, &schemaDoc); err != nil {
		return fmt.Errorf("unmarshal schema: %w", err)
	}

	var paramsDoc any
	if len(params) == 0 {
		paramsDoc = map[string]interface{}{}
	} else if err := json.Unmarshal(params, &paramsDoc); err != nil {
		return fmt.Errorf("unmarshal params: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("params.json", schemaDoc); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile("params.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	if err := compiled.Validate(paramsDoc); err != nil {
		return err
	}
	return nil
}
