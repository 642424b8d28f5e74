// Package httpapi implements spec.md §6's external HTTP surface as thin
// gin handlers over the task registry and Orchestrator sessions: task
// lifecycle (execute/stream/message/cancel/pause/resume/list/status/
// result/detail), scoped workspace access, and the /metrics route.
package httpapi

import (
	"context"

	"github.com/AriseOS/amid/internal/common/logger"
	"github.com/AriseOS/amid/internal/task"
)

// Starter begins running one task end to end: it registers a fresh
// task.State with the shared registry, wires and launches its Orchestrator
// session in the background, and returns once the session has started (not
// once it completes). cmd/amid supplies the concrete implementation,
// closing over the provider/dispatcher/memory/browser wiring Handler never
// needs to see.
type Starter interface {
	Start(ctx context.Context, prompt string) (*task.State, error)
}

// Handler holds the dependencies every route needs: the task registry
// (shared with the rest of the daemon) and the Starter that launches new
// sessions.
type Handler struct {
	registry *task.Registry
	starter  Starter
	log      *logger.Logger
}

// New builds a Handler.
func New(registry *task.Registry, starter Starter, log *logger.Logger) *Handler {
	return &Handler{registry: registry, starter: starter, log: log}
}
