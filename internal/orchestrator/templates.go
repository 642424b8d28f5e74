package orchestrator

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/AriseOS/amid/internal/agent"
	"github.com/AriseOS/amid/internal/executor"
	v1 "github.com/AriseOS/amid/pkg/api/v1"
)

// AgentBuilder constructs a fresh, independent agent for one agent type,
// wired to the given cancellation signal and steering source (spec.md
// §4.8 step 5: the Orchestrator "lazily creates the downstream agent set").
// cmd/amid supplies the concrete implementation, closing over the
// provider/dispatcher/tool wiring for each of the four agent types.
type AgentBuilder interface {
	BuildAgent(agentType v1.AgentType, cancelCh <-chan struct{}, steering agent.SteeringSource) (executor.Agent, error)
}

// executorAgentFactory adapts one executor's shared cancellation signal
// and steering queue into executor.AgentFactory by closing over the
// daemon-wide AgentBuilder. A fresh instance is built per executor
// (supervisedExecute), since AgentFactory.AgentFor takes no cancelCh
// parameter of its own.
type executorAgentFactory struct {
	builder  AgentBuilder
	cancelCh <-chan struct{}
	steering *steeringQueue
}

func (f *executorAgentFactory) AgentFor(agentType v1.AgentType) (executor.Agent, error) {
	return f.builder.BuildAgent(agentType, f.cancelCh, f.steering)
}

// steeringQueue is a small mutex-guarded FIFO implementing
// agent.SteeringSource, shared by every agent one executor's factory
// builds over its lifetime so inject_message reaches whichever subtask
// agent is currently running (internal/executor.Executor.CurrentAgent
// tracks that without owning a queue of its own).
type steeringQueue struct {
	mu   sync.Mutex
	msgs []string
}

func newSteeringQueue() *steeringQueue {
	return &steeringQueue{}
}

// Push enqueues a steering message (inject_message tool).
func (q *steeringQueue) Push(msg string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, msg)
}

// Poll implements agent.SteeringSource.
func (q *steeringQueue) Poll() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.msgs) == 0 {
		return "", false
	}
	msg := q.msgs[0]
	q.msgs = q.msgs[1:]
	return msg, true
}

type workspaceEntry struct {
	path string
	size int64
}

// scanWorkspace lists up to max files under dir (by relative path) with
// their sizes, for the Orchestrator's completion-block workspace listing
// (spec.md §4.8 step 1). Grounded on internal/executor's own
// replan_review_context scan of the same shape.
func scanWorkspace(dir string, max int) []workspaceEntry {
	if dir == "" {
		return nil
	}

	var out []workspaceEntry
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if len(out) >= max {
			return filepath.SkipDir
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			rel = path
		}
		out = append(out, workspaceEntry{path: rel, size: info.Size()})
		if len(out) >= max {
			return filepath.SkipAll
		}
		return nil
	})

	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out
}

// workspaceFileSize returns the size of a workspace-relative path, or 0 if
// it cannot be stat'd (attach_file tolerates attaching a file the agent
// wrote moments earlier, outside any size guarantee).
func workspaceFileSize(dir, relPath string) int64 {
	info, err := os.Stat(filepath.Join(dir, relPath))
	if err != nil {
		return 0
	}
	return info.Size()
}

func fileNameOf(path string) string {
	return filepath.Base(path)
}
