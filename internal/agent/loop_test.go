package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/AriseOS/amid/internal/common/logger"
	"github.com/AriseOS/amid/internal/errkind"
	"github.com/AriseOS/amid/internal/events"
	"github.com/AriseOS/amid/internal/llm"
	"github.com/AriseOS/amid/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAgentLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

func testEmitter(t *testing.T) *events.Emitter {
	return events.NewEmitter("task-1", testAgentLogger(t))
}

// scriptedProvider replays a fixed sequence of responses, one per Complete
// call, recording the requests it was given.
type scriptedProvider struct {
	responses []*llm.Response
	errs      []error
	calls     int
	requests  []llm.Request
}

func (s *scriptedProvider) Name() string { return "scripted" }

func (s *scriptedProvider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	i := s.calls
	s.calls++
	s.requests = append(s.requests, req)
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return &llm.Response{Text: "done", StopReason: llm.StopEndTurn}, nil
}

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Label() string       { return "Echo" }
func (echoTool) Description() string { return "echoes back its input" }
func (echoTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"message":{"type":"string"}},"required":["message"]}`)
}
func (echoTool) Async() bool { return false }
func (echoTool) Execute(ctx context.Context, toolCallID string, params json.RawMessage, cancel <-chan struct{}) (tools.Result, error) {
	var args struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(params, &args)
	return tools.TextResult(args.Message), nil
}

type failingTool struct{}

func (failingTool) Name() string                     { return "fails" }
func (failingTool) Label() string                     { return "Fails" }
func (failingTool) Description() string               { return "always fails" }
func (failingTool) ParametersSchema() json.RawMessage { return nil }
func (failingTool) Async() bool                       { return false }
func (failingTool) Execute(ctx context.Context, toolCallID string, params json.RawMessage, cancel <-chan struct{}) (tools.Result, error) {
	return tools.Result{}, errkind.New(errkind.ToolFailure, "boom")
}

func newTestDispatcher(t *testing.T, ts ...tools.Tool) *tools.Dispatcher {
	d := tools.NewDispatcher(testAgentLogger(t))
	for _, tl := range ts {
		d.Register(tl)
	}
	return d
}

func TestStepReturnsOnToolFreeTurn(t *testing.T) {
	p := &scriptedProvider{responses: []*llm.Response{{Text: "hello there", StopReason: llm.StopEndTurn}}}
	a := New(Config{
		Provider:   p,
		Dispatcher: newTestDispatcher(t),
		Emitter:    testEmitter(t),
	})

	res, err := a.Step(context.Background(), "hi", "")
	require.NoError(t, err)
	assert.Equal(t, "hello there", res.Text)
	assert.Equal(t, 0, res.ToolCalls)
	assert.Equal(t, 1, p.calls)
}

func TestStepDispatchesToolCallsAndLoopsUntilTextTurn(t *testing.T) {
	p := &scriptedProvider{
		responses: []*llm.Response{
			{
				ToolCalls:  []llm.ToolCall{{ID: "call-1", Name: "echo", Input: json.RawMessage(`{"message":"ping"}`)}},
				StopReason: llm.StopToolUse,
			},
			{Text: "all done", StopReason: llm.StopEndTurn},
		},
	}
	a := New(Config{
		Provider:   p,
		Dispatcher: newTestDispatcher(t, echoTool{}),
		Emitter:    testEmitter(t),
	})

	res, err := a.Step(context.Background(), "run echo", "")
	require.NoError(t, err)
	assert.Equal(t, "all done", res.Text)
	assert.Equal(t, 1, res.ToolCalls)
	assert.Equal(t, 2, p.calls)

	require.Len(t, p.requests, 2)
	last := p.requests[1]
	require.NotEmpty(t, last.Messages)
	toolMsg := last.Messages[len(last.Messages)-1]
	require.Len(t, toolMsg.ToolResults, 1)
	assert.Equal(t, "ping", toolMsg.ToolResults[0].Content)
	assert.False(t, toolMsg.ToolResults[0].IsError)
}

func TestStepMarksFailingToolResultsAsError(t *testing.T) {
	p := &scriptedProvider{
		responses: []*llm.Response{
			{
				ToolCalls:  []llm.ToolCall{{ID: "call-1", Name: "fails", Input: json.RawMessage(`{}`)}},
				StopReason: llm.StopToolUse,
			},
			{Text: "recovered", StopReason: llm.StopEndTurn},
		},
	}
	a := New(Config{
		Provider:   p,
		Dispatcher: newTestDispatcher(t, failingTool{}),
		Emitter:    testEmitter(t),
	})

	res, err := a.Step(context.Background(), "run fails", "")
	require.NoError(t, err)
	assert.Equal(t, "recovered", res.Text)

	last := p.requests[1]
	toolMsg := last.Messages[len(last.Messages)-1]
	require.Len(t, toolMsg.ToolResults, 1)
	assert.True(t, toolMsg.ToolResults[0].IsError)
}

func TestStepReturnsCancelledWhenCancelChClosedBeforeStep(t *testing.T) {
	cancelCh := make(chan struct{})
	close(cancelCh)
	p := &scriptedProvider{}
	a := New(Config{
		Provider:   p,
		Dispatcher: newTestDispatcher(t),
		Emitter:    testEmitter(t),
		CancelCh:   cancelCh,
	})

	_, err := a.Step(context.Background(), "hi", "")
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.Cancelled))
	assert.Equal(t, 0, p.calls)
}

func TestStepEnforcesStepLimit(t *testing.T) {
	p := &scriptedProvider{}
	a := New(Config{
		Provider:   p,
		Dispatcher: newTestDispatcher(t),
		Emitter:    testEmitter(t),
		MaxSteps:   1,
	})

	_, err := a.Step(context.Background(), "first", "")
	require.NoError(t, err)

	_, err = a.Step(context.Background(), "second", "")
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.StepLimit))
}

func TestStepInjectsSteeringMessages(t *testing.T) {
	p := &scriptedProvider{
		responses: []*llm.Response{
			{
				ToolCalls:  []llm.ToolCall{{ID: "call-1", Name: "echo", Input: json.RawMessage(`{"message":"ping"}`)}},
				StopReason: llm.StopToolUse,
			},
			{Text: "done", StopReason: llm.StopEndTurn},
		},
	}
	steering := &fakeSteering{messages: []string{"stop and check the logs first"}}
	a := New(Config{
		Provider:   p,
		Dispatcher: newTestDispatcher(t, echoTool{}),
		Emitter:    testEmitter(t),
		Steering:   steering,
	})

	_, err := a.Step(context.Background(), "run echo", "")
	require.NoError(t, err)

	found := false
	for _, msg := range p.requests[1].Messages {
		if msg.Text == "stop and check the logs first" {
			found = true
		}
	}
	assert.True(t, found, "expected steering message to be injected into the conversation log")
}

type fakeSteering struct {
	messages []string
	i        int
}

func (f *fakeSteering) Poll() (string, bool) {
	if f.i >= len(f.messages) {
		return "", false
	}
	m := f.messages[f.i]
	f.i++
	return m, true
}

func TestResetClearsLogAndStepCount(t *testing.T) {
	p := &scriptedProvider{responses: []*llm.Response{{Text: "one"}, {Text: "two"}}}
	a := New(Config{
		Provider:   p,
		Dispatcher: newTestDispatcher(t),
		Emitter:    testEmitter(t),
	})

	_, err := a.Step(context.Background(), "hi", "")
	require.NoError(t, err)
	assert.NotZero(t, a.stepCount)

	a.Reset()
	assert.Zero(t, a.stepCount)
	assert.Empty(t, a.log)
}

func TestCloneSharesProviderButFreshState(t *testing.T) {
	p := &scriptedProvider{responses: []*llm.Response{{Text: "one"}}}
	a := New(Config{
		Provider:   p,
		Dispatcher: newTestDispatcher(t),
		Emitter:    testEmitter(t),
	})
	_, err := a.Step(context.Background(), "hi", "")
	require.NoError(t, err)

	clone := a.Clone()
	assert.Empty(t, clone.log)
	assert.Zero(t, clone.stepCount)
	assert.Same(t, a.provider, clone.provider)
}

func TestTruncateIfOverBudgetReplacesOldestToolResultsFirst(t *testing.T) {
	a := New(Config{
		Provider:       &scriptedProvider{},
		Dispatcher:     newTestDispatcher(t),
		Emitter:        testEmitter(t),
		ContextCeiling: 10,
	})
	a.log = []llm.Message{
		{Role: llm.RoleUser, ToolResults: []llm.ToolResult{{ToolCallID: "1", Content: "a very long piece of tool output here"}}},
		{Role: llm.RoleUser, ToolResults: []llm.ToolResult{{ToolCallID: "2", Content: "another very long piece of tool output"}}},
	}

	a.truncateIfOverBudget()

	assert.Equal(t, "[Truncated]", a.log[0].ToolResults[0].Content)
}
