package planner

import (
	"context"
	"testing"

	"github.com/AriseOS/amid/internal/common/logger"
	"github.com/AriseOS/amid/internal/events"
	"github.com/AriseOS/amid/internal/llm"
	v1 "github.com/AriseOS/amid/pkg/api/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPlannerLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

type scriptedProvider struct {
	text string
}

func (s *scriptedProvider) Name() string { return "scripted" }
func (s *scriptedProvider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return &llm.Response{Text: s.text, StopReason: llm.StopEndTurn}, nil
}

type fakeMemory struct {
	result *MemoryResult
	err    error
}

func (f *fakeMemory) QueryTask(ctx context.Context, text string) (*MemoryResult, error) {
	return f.result, f.err
}

func TestDecomposeParsesXMLIntoSubtasks(t *testing.T) {
	p := New(&scriptedProvider{text: `Sure thing, here is the plan:
<tasks>
  <task type="browser">Navigate to the dashboard and open settings</task>
  <task type="code">Update the config file with the new value</task>
</tasks>
Let me know if this looks right.`}, nil, testPlannerLogger(t))

	emitter := events.NewEmitter("task-1", testPlannerLogger(t))
	subtasks, err := p.DecomposeAndQueryMemory(context.Background(), emitter, "update my settings")
	require.NoError(t, err)
	require.Len(t, subtasks, 2)
	assert.Equal(t, v1.AgentTypeBrowser, subtasks[0].AgentType)
	assert.Equal(t, v1.AgentTypeCode, subtasks[1].AgentType)
	assert.Equal(t, "task-1", subtasks[0].ID)
	assert.Equal(t, "task-2", subtasks[1].ID)
	assert.Equal(t, v1.SubtaskPending, subtasks[0].State)
}

func TestDecomposeFallsBackToSingleCodeSubtaskOnZeroTasks(t *testing.T) {
	p := New(&scriptedProvider{text: "I could not produce a plan."}, nil, testPlannerLogger(t))

	emitter := events.NewEmitter("task-1", testPlannerLogger(t))
	subtasks, err := p.DecomposeAndQueryMemory(context.Background(), emitter, "do something")
	require.NoError(t, err)
	require.Len(t, subtasks, 1)
	assert.Equal(t, v1.AgentTypeCode, subtasks[0].AgentType)
	assert.Equal(t, "do something", subtasks[0].Content)
}

func TestWorkflowGuideGoesToFirstBrowserSubtask(t *testing.T) {
	p := New(&scriptedProvider{text: `<tasks>
  <task type="code">prep files</task>
  <task type="browser">fill out the form</task>
  <task type="document">summarize results</task>
</tasks>`}, &fakeMemory{result: &MemoryResult{Level: v1.MemoryLevelL1, CognitivePhrase: "fill checkout form"}}, testPlannerLogger(t))

	emitter := events.NewEmitter("task-1", testPlannerLogger(t))
	subtasks, err := p.DecomposeAndQueryMemory(context.Background(), emitter, "checkout")
	require.NoError(t, err)
	require.Len(t, subtasks, 3)

	assert.Empty(t, subtasks[0].WorkflowGuide)
	assert.Contains(t, subtasks[1].WorkflowGuide, "fill checkout form")
	assert.Empty(t, subtasks[2].WorkflowGuide)
}

func TestWorkflowGuideGoesToFirstSubtaskWhenNoBrowserSubtask(t *testing.T) {
	p := New(&scriptedProvider{text: `<tasks>
  <task type="code">step one</task>
  <task type="document">step two</task>
</tasks>`}, &fakeMemory{result: &MemoryResult{Level: v1.MemoryLevelL2, States: []string{"home", "form", "confirm"}}}, testPlannerLogger(t))

	emitter := events.NewEmitter("task-1", testPlannerLogger(t))
	subtasks, err := p.DecomposeAndQueryMemory(context.Background(), emitter, "do it")
	require.NoError(t, err)
	require.Len(t, subtasks, 2)

	assert.Contains(t, subtasks[0].WorkflowGuide, "home -> form -> confirm")
	assert.Empty(t, subtasks[1].WorkflowGuide)
}

func TestMemoryQueryFailureDegradesToL3(t *testing.T) {
	p := New(&scriptedProvider{text: `<tasks><task type="code">do it</task></tasks>`},
		&fakeMemory{err: assertErr{}}, testPlannerLogger(t))

	emitter := events.NewEmitter("task-1", testPlannerLogger(t))
	subtasks, err := p.DecomposeAndQueryMemory(context.Background(), emitter, "do it")
	require.NoError(t, err)
	require.Len(t, subtasks, 1)
	assert.Empty(t, subtasks[0].WorkflowGuide)
}

type assertErr struct{}

func (assertErr) Error() string { return "memory unavailable" }
