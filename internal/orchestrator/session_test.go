package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/AriseOS/amid/internal/agent"
	"github.com/AriseOS/amid/internal/common/logger"
	"github.com/AriseOS/amid/internal/events"
	"github.com/AriseOS/amid/internal/executor"
	"github.com/AriseOS/amid/internal/llm"
	"github.com/AriseOS/amid/internal/planner"
	"github.com/AriseOS/amid/internal/task"
	"github.com/AriseOS/amid/internal/tools"
	v1 "github.com/AriseOS/amid/pkg/api/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOrchLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

// scriptedProvider replays a fixed sequence of responses, one per Complete
// call, mirroring internal/agent's own test helper.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*llm.Response
	calls     int
}

func (s *scriptedProvider) Name() string { return "scripted" }

func (s *scriptedProvider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return &llm.Response{Text: "idle", StopReason: llm.StopEndTurn}, nil
}

// fakeDownstreamAgent is the narrowest possible executor.Agent stub: it
// always finishes its subtask immediately with no tool calls.
type fakeDownstreamAgent struct{}

func (fakeDownstreamAgent) Step(ctx context.Context, inputText, currentURL string) (agent.StepResult, error) {
	return agent.StepResult{Text: "subtask done", StopReason: llm.StopEndTurn}, nil
}
func (fakeDownstreamAgent) Reset()                            {}
func (fakeDownstreamAgent) RegisterTool(t tools.Tool)          {}
func (fakeDownstreamAgent) UnregisterTool(name string)         {}
func (fakeDownstreamAgent) CurrentURL() string                { return "" }
func (fakeDownstreamAgent) SetRecorder(r tools.OperationRecorder) {}

type fakeAgentBuilder struct{}

func (fakeAgentBuilder) BuildAgent(agentType v1.AgentType, cancelCh <-chan struct{}, steering agent.SteeringSource) (executor.Agent, error) {
	return fakeDownstreamAgent{}, nil
}

type noMemory struct{}

func (noMemory) QueryTask(ctx context.Context, text string) (*planner.MemoryResult, error) {
	return &planner.MemoryResult{Level: v1.MemoryLevelL3}, nil
}

func newTestSession(t *testing.T, provider llm.Provider) (*Session, *task.State) {
	log := testOrchLogger(t)
	emitter := events.NewEmitter("task-1", log)
	state := task.NewState("task-1", "build the thing", t.TempDir(), emitter)
	dispatcher := tools.NewDispatcher(log)

	plannerProvider := &scriptedProvider{responses: []*llm.Response{
		{Text: `<tasks><task type="code">do it</task></tasks>`, StopReason: llm.StopEndTurn},
	}}

	s := New(Config{
		TaskID:          "task-1",
		OriginalRequest: "build the thing",
		WorkingDir:      state.WorkingDir,
		State:           state,
		Emitter:         emitter,
		Provider:        provider,
		Dispatcher:      dispatcher,
		SystemPrompt:    "you are the orchestrator",
		AgentBuilder:    fakeAgentBuilder{},
		Planner:         planner.New(plannerProvider, noMemory{}, log),
		Log:             log,
	})
	return s, state
}

func toolCallResponse(name, argsJSON string) *llm.Response {
	return &llm.Response{
		ToolCalls: []llm.ToolCall{{ID: "call-1", Name: name, Input: json.RawMessage(argsJSON)}},
		StopReason: llm.StopToolUse,
	}
}

func TestRunDecomposesAndReportsCompletionThenIdlesOut(t *testing.T) {
	// Step 1 (first loop iteration): decompose_task fires, spawning an
	// executor that finishes almost immediately; the agent's follow-up
	// text is emitted as a plain notice since the executor is still
	// registered as running at that instant. Step 2 (second loop
	// iteration, once drainCompleted observes the executor finished) is
	// the actual final summary, wrapped in wait_confirm.
	provider := &scriptedProvider{responses: []*llm.Response{
		toolCallResponse("decompose_task", `{"task":"build the thing"}`),
		{Text: "spawned the work, standing by", StopReason: llm.StopEndTurn},
		{Text: "all done, here is your summary", StopReason: llm.StopEndTurn},
	}}
	s, state := newTestSession(t, provider)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-pollWaitConfirm(t, state):
			assert.Equal(t, "all done, here is your summary", ev)
			cancel()
			<-done
			return
		case <-deadline:
			t.Fatal("timed out waiting for wait_confirm event")
		}
	}
}

// pollWaitConfirm drains the task's emitter until a wait_confirm event
// appears, returning its content on a channel.
func pollWaitConfirm(t *testing.T, state *task.State) <-chan string {
	out := make(chan string, 1)
	go func() {
		for i := 0; i < 200; i++ {
			ev := state.Emitter.GetEvent(10 * time.Millisecond)
			if ev != nil && !events.IsTimeout(ev) && ev.Action == v1.ActionWaitConfirm {
				content, _ := ev.Data["content"].(string)
				out <- content
				return
			}
		}
	}()
	return out
}

func TestSupervisedExecuteRejectsSecondCallWhileOneRunning(t *testing.T) {
	provider := &scriptedProvider{}
	s, _ := newTestSession(t, provider)

	ctx := context.Background()
	_, err := s.supervisedExecute(ctx, "first")
	require.NoError(t, err)

	_, err = s.supervisedExecute(ctx, "second")
	require.Error(t, err)

	s.cancelAllExecutors()
}

func TestBuildNextInputUsesOriginalRequestOnFirstCall(t *testing.T) {
	s, _ := newTestSession(t, &scriptedProvider{})

	input, shouldStep := s.buildNextInput(nil)
	assert.True(t, shouldStep)
	assert.Equal(t, "build the thing", input)

	s.firstStepDone = true
	input, shouldStep = s.buildNextInput(nil)
	assert.False(t, shouldStep)
	assert.Empty(t, input)

	input, shouldStep = s.buildNextInput([]string{"[EXECUTION COMPLETE] exec_1: done"})
	assert.True(t, shouldStep)
	assert.Contains(t, input, "EXECUTION COMPLETE")
}

func TestDrainCompletedRemovesFinishedExecutorsOnly(t *testing.T) {
	s, _ := newTestSession(t, &scriptedProvider{})

	doneCh := make(chan struct{})
	close(doneCh)
	s.executors["exec_1"] = &runningExecutor{
		exec:      executor.New(executor.Config{TaskID: "task-1", Subtasks: nil, Agents: &executorAgentFactory{builder: fakeAgentBuilder{}}, Emitter: s.emitter, Log: s.log}),
		cancel:    func() {},
		label:     "finished one",
		startedAt: time.Now(),
		done:      doneCh,
	}
	s.executors["exec_2"] = &runningExecutor{
		exec:      executor.New(executor.Config{TaskID: "task-1", Subtasks: nil, Agents: &executorAgentFactory{builder: fakeAgentBuilder{}}, Emitter: s.emitter, Log: s.log}),
		cancel:    func() {},
		label:     "still running",
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}

	blocks := s.drainCompleted()
	require.Len(t, blocks, 1)
	assert.Contains(t, blocks[0], "exec_1")
	assert.Contains(t, blocks[0], "finished one")

	_, stillThere := s.executors["exec_2"]
	assert.True(t, stillThere)
	_, gone := s.executors["exec_1"]
	assert.False(t, gone)
}

func TestInjectMessageToolRoutesToNamedExecutorQueue(t *testing.T) {
	s, _ := newTestSession(t, &scriptedProvider{})

	q := newSteeringQueue()
	s.executors["exec_1"] = &runningExecutor{steering: q, done: make(chan struct{})}

	tool := &injectMessageTool{session: s}
	_, err := tool.Execute(context.Background(), "call-1", json.RawMessage(`{"executor_id":"exec_1","text":"hurry up"}`), nil)
	require.NoError(t, err)

	msg, ok := q.Poll()
	require.True(t, ok)
	assert.Equal(t, "hurry up", msg)
}

func TestCancelTaskToolStopsNamedExecutor(t *testing.T) {
	s, _ := newTestSession(t, &scriptedProvider{})

	cancelled := false
	_, cancel := context.WithCancel(context.Background())
	s.executors["exec_1"] = &runningExecutor{
		exec:   executor.New(executor.Config{TaskID: "task-1", Agents: &executorAgentFactory{builder: fakeAgentBuilder{}}, Emitter: s.emitter, Log: s.log}),
		cancel: func() { cancelled = true; cancel() },
		done:   make(chan struct{}),
	}

	tool := &cancelTaskTool{session: s}
	_, err := tool.Execute(context.Background(), "call-1", json.RawMessage(`{"executor_id":"exec_1"}`), nil)
	require.NoError(t, err)
	assert.True(t, cancelled)
}

func TestReplanTaskToolPausesReplansAndResumes(t *testing.T) {
	s, _ := newTestSession(t, &scriptedProvider{})

	ex := executor.New(executor.Config{
		TaskID: "task-1",
		Subtasks: []*v1.Subtask{
			{ID: "task-1", Content: "original", AgentType: v1.AgentTypeCode, State: v1.SubtaskPending},
		},
		Agents:  &executorAgentFactory{builder: fakeAgentBuilder{}},
		Emitter: s.emitter,
		Log:     s.log,
	})
	s.executors["exec_1"] = &runningExecutor{exec: ex, cancel: func() {}, done: make(chan struct{})}

	tool := &replanTaskTool{session: s}
	newPlan := `[{"id":"task-2","content":"replaced","agent_type":"code","depends_on":[]}]`
	params, err := json.Marshal(map[string]string{
		"executor_id":   "exec_1",
		"new_plan_json": newPlan,
	})
	require.NoError(t, err)

	_, err = tool.Execute(context.Background(), "call-1", params, nil)
	require.NoError(t, err)

	ids := make([]string, 0)
	for _, sub := range ex.Subtasks() {
		ids = append(ids, sub.ID)
	}
	assert.Equal(t, []string{"task-2"}, ids)
}

func TestAttachFileToolAccumulatesAttachments(t *testing.T) {
	s, _ := newTestSession(t, &scriptedProvider{})

	tool := &attachFileTool{session: s}
	_, err := tool.Execute(context.Background(), "call-1", json.RawMessage(`{"path":"report.pdf"}`), nil)
	require.NoError(t, err)

	require.Len(t, s.attachments, 1)
	assert.Equal(t, "report.pdf", s.attachments[0].FileName)
}
