package task

import (
	"errors"
	"sync"
	"time"

	"github.com/AriseOS/amid/internal/common/constants"
	"github.com/AriseOS/amid/internal/common/logger"
	"github.com/AriseOS/amid/internal/events"
	"github.com/AriseOS/amid/internal/observability"
	v1 "github.com/AriseOS/amid/pkg/api/v1"
	"go.uber.org/zap"
)

// ErrTaskExists is returned by Register when task_id is already tracked.
var ErrTaskExists = errors.New("task already exists")

// ErrTaskNotFound is returned when a lookup misses.
var ErrTaskNotFound = errors.New("task not found")

// Stats summarizes the registry's contents by status.
type Stats struct {
	Total     int
	Pending   int
	Running   int
	Waiting   int
	Completed int
	Failed    int
	Cancelled int
}

// Registry is the single source of truth for all live task states. It
// guarantees unique task_id and periodically sweeps terminal tasks past
// their max age, closing their emitters and dropping them.
type Registry struct {
	mu     sync.RWMutex
	states map[string]*State
	logger *logger.Logger

	maxAge   time.Duration
	interval time.Duration

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	runMu   sync.Mutex
}

// NewRegistry constructs a Registry with the spec's default GC cadence
// (sweep every constants.TaskGCInterval, drop terminal tasks older than
// constants.TaskGCMaxAge).
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		states:   make(map[string]*State),
		logger:   log.WithFields(zap.String("component", "task_registry")),
		maxAge:   constants.TaskGCMaxAge,
		interval: constants.TaskGCInterval,
	}
}

// Register adds a newly created state, failing if task_id is already in use.
func (r *Registry) Register(s *State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.states[s.TaskID]; exists {
		return ErrTaskExists
	}
	r.states[s.TaskID] = s
	observability.TasksTotal.WithLabelValues("started").Inc()
	observability.TasksRunning.Set(float64(len(r.states)))
	return nil
}

// Get retrieves a state by task_id.
func (r *Registry) Get(taskID string) (*State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.states[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return s, nil
}

// List returns every tracked state's projection, in no particular order.
func (r *Registry) List() []v1.TaskSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]v1.TaskSummary, 0, len(r.states))
	for _, s := range r.states {
		out = append(out, s.ToJSON())
	}
	return out
}

// Stats tallies tasks by status.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var st Stats
	for _, s := range r.states {
		st.Total++
		switch s.Status() {
		case v1.TaskStatusPending:
			st.Pending++
		case v1.TaskStatusRunning:
			st.Running++
		case v1.TaskStatusWaiting:
			st.Waiting++
		case v1.TaskStatusCompleted:
			st.Completed++
		case v1.TaskStatusFailed:
			st.Failed++
		case v1.TaskStatusCancelled:
			st.Cancelled++
		}
	}
	return st
}

// Start launches the background GC sweep loop. Safe to call once; a second
// call is a no-op.
func (r *Registry) Start() {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})

	r.wg.Add(1)
	go r.sweepLoop()
}

// Stop halts the GC sweep loop and waits for it to exit.
func (r *Registry) Stop() {
	r.runMu.Lock()
	if !r.running {
		r.runMu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	r.runMu.Unlock()

	r.wg.Wait()
}

func (r *Registry) sweepLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("task registry sweep started",
		zap.Duration("interval", r.interval),
		zap.Duration("max_age", r.maxAge))

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep drops terminal tasks whose last update is older than maxAge,
// closing their emitters first (spec.md §4.2 cleanup).
func (r *Registry) sweep() {
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, s := range r.states {
		if !s.Status().Terminal() {
			continue
		}
		if now.Sub(s.UpdatedAt()) < r.maxAge {
			continue
		}
		if s.Emitter != nil {
			s.Emitter.Close()
		}
		delete(r.states, id)
		r.logger.Debug("task garbage collected", zap.String("task_id", id))
	}
	observability.TasksRunning.Set(float64(len(r.states)))
}

// NewTaskEmitter is a convenience constructor tying a fresh events.Emitter
// to a new task id, so callers building a State don't reach into the
// events package directly.
func NewTaskEmitter(taskID string, log *logger.Logger) *events.Emitter {
	return events.NewEmitter(taskID, log)
}
