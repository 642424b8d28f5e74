// Package browser specializes the base agent loop for browser subtasks
// (spec.md §4.5): workflow-guide injection is inherited unchanged from
// internal/agent, and this package adds the asynchronous page-operations
// cache that the base loop's PageOpsProvider hook consumes.
package browser

import (
	"context"
	"sync"

	"github.com/AriseOS/amid/internal/agent"
	"github.com/AriseOS/amid/internal/common/logger"
	"github.com/AriseOS/amid/internal/events"
	"github.com/AriseOS/amid/internal/tools"
	"github.com/AriseOS/amid/internal/tools/browsertools"
	v1 "github.com/AriseOS/amid/pkg/api/v1"
)

// PageOpsQuerier looks up "known intent sequences and outgoing actions" for
// a URL from memory (spec.md §4.5, §4.9 query_page_operations). A nil
// result with ok=false means memory had nothing for this URL.
type PageOpsQuerier interface {
	QueryPageOperations(ctx context.Context, url string) (block string, ok bool, err error)
}

// Config bundles the base agent.Config with the browser-specific memory
// querier and the Controller the registered browsertools tools share
// (spec.md §4.9): it is how this Agent learns the real current page URL
// and installs the active subtask attempt's operation recorder.
type Config struct {
	agent.Config
	Querier    PageOpsQuerier
	Controller *browsertools.Controller
}

// Agent wraps agent.Agent, firing a background memory query the first time
// a URL is seen in a subtask and injecting the cached result on the next
// turn, deduplicated per URL until Reset (spec.md §4.5).
//
// The browser agent never calls memory tools itself: tool-side injection
// through this cache is mandatory, so the model is never prompted to
// reason about whether to query memory.
type Agent struct {
	*agent.Agent

	querier PageOpsQuerier
	ctl     *browsertools.Controller
	emitter *events.Emitter
	log     *logger.Logger

	mu      sync.Mutex
	cache   map[string]string
	queried map[string]bool
}

// New builds a browser Agent from Config.
func New(cfg Config, log *logger.Logger) *Agent {
	a := &Agent{
		querier: cfg.Querier,
		ctl:     cfg.Controller,
		emitter: cfg.Emitter,
		log:     log,
		cache:   make(map[string]string),
		queried: make(map[string]bool),
	}
	a.Agent = agent.New(cfg.Config)
	a.Agent.SetPageOpsProvider(a.lookupPageOps)
	return a
}

// CurrentURL overrides the base Agent's method (which always returns "")
// with the browsertools Controller's tracked current
// page URL, so the executor's next Step call can thread it forward
// (spec.md §4.5, §4.9 read side).
func (a *Agent) CurrentURL() string {
	if a.ctl == nil {
		return ""
	}
	return a.ctl.CurrentURL()
}

// SetRecorder forwards to the Controller shared with this task's registered
// browsertools, so their Execute calls feed the active subtask attempt's
// recorder (spec.md §4.9 write side).
func (a *Agent) SetRecorder(r tools.OperationRecorder) {
	if a.ctl != nil {
		a.ctl.SetRecorder(r)
	}
}

// Step fires the background page-operations query for currentURL (if not
// already queried this subtask) before delegating to the base loop, so the
// cache has a chance to populate by the following turn.
func (a *Agent) Step(ctx context.Context, inputText string, currentURL string) (agent.StepResult, error) {
	a.maybeQueryPageOps(ctx, currentURL)
	return a.Agent.Step(ctx, inputText, currentURL)
}

// Reset clears the message log and step counter (via the embedded base
// Agent) and also clears the per-URL page-ops cache and dedup set, so
// memory writes from the just-finished subtask become visible to the next
// one (spec.md §4.4 "the browser agent extends reset").
func (a *Agent) Reset() {
	a.Agent.Reset()
	a.mu.Lock()
	a.cache = make(map[string]string)
	a.queried = make(map[string]bool)
	a.mu.Unlock()
}

// Clone returns a new browser Agent sharing the querier and logger but
// with a fresh base agent, cache, and dedup set.
func (a *Agent) Clone() *Agent {
	c := &Agent{
		Agent:   a.Agent.Clone(),
		querier: a.querier,
		ctl:     a.ctl,
		emitter: a.emitter,
		log:     a.log,
		cache:   make(map[string]string),
		queried: make(map[string]bool),
	}
	c.Agent.SetPageOpsProvider(c.lookupPageOps)
	return c
}

func (a *Agent) lookupPageOps(url string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	block, ok := a.cache[url]
	return block, ok
}

func (a *Agent) maybeQueryPageOps(ctx context.Context, url string) {
	if url == "" || a.querier == nil {
		return
	}

	a.mu.Lock()
	if a.queried[url] {
		a.mu.Unlock()
		return
	}
	a.queried[url] = true
	a.mu.Unlock()

	if a.emitter != nil {
		a.emitter.EmitAction(v1.ActionMemoryQuery, map[string]interface{}{"kind": "page_operations", "url": url})
	}

	go a.runPageOpsQuery(ctx, url)
}

// runPageOpsQuery runs on its own goroutine so the calling Step never blocks
// on a memory round trip; a failed or empty lookup just leaves the URL
// uncached, which is indistinguishable from "memory had nothing".
func (a *Agent) runPageOpsQuery(ctx context.Context, url string) {
	block, ok, err := a.querier.QueryPageOperations(ctx, url)
	if err != nil {
		if a.log != nil {
			a.log.WithError(err).Debug("page operations query failed")
		}
		return
	}
	if !ok || block == "" {
		return
	}

	a.mu.Lock()
	a.cache[url] = block
	a.mu.Unlock()

	if a.emitter != nil {
		a.emitter.EmitAction(v1.ActionMemoryResult, map[string]interface{}{"kind": "page_operations", "url": url})
	}
}
