// Package observability exposes amid's runtime metrics (spec.md is silent
// on observability, but a complete daemon carries it regardless — see
// SPEC_FULL.md §5) as Prometheus collectors on a /metrics endpoint,
// following the package-level var-block-plus-init-registration style
// cuemby-warren's pkg/metrics uses.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TasksTotal counts tasks started. Its only call site, the task
	// registry's Register, labels every increment "started"; no terminal
	// status label is recorded.
	TasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amid_tasks_total",
			Help: "Total number of tasks started, labeled by status",
		},
		[]string{"status"},
	)

	// TasksRunning gauges how many tasks the task registry holds, including
	// finished tasks not yet garbage-collected by its sweep.
	TasksRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "amid_tasks_running",
			Help: "Number of tasks currently held in the task registry",
		},
	)

	// ExecutorsRunning is a live gauge of in-flight executors across all
	// Orchestrator sessions.
	ExecutorsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "amid_executors_running",
			Help: "Number of executors currently running",
		},
	)

	// EventQueueDepth samples how full a task's event queue is at emit
	// time (internal/events.Emitter, QueueCapacity-bounded).
	EventQueueDepth = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "amid_event_queue_depth",
			Help:    "Event emitter queue depth observed at emit time",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
		},
	)

	// EventsDroppedTotal counts events dropped because a task's queue was
	// full (internal/events.Emitter.Emit never blocks the caller).
	EventsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "amid_events_dropped_total",
			Help: "Total number of events dropped due to a full emitter queue",
		},
	)

	// ToolCallDuration is a per-tool-name latency histogram for
	// internal/tools.Dispatcher.Dispatch calls.
	ToolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "amid_tool_call_duration_seconds",
			Help:    "Tool call duration in seconds, labeled by tool name",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool", "outcome"},
	)

	// ProviderRequestDuration is a per-provider latency histogram for
	// internal/llm.Provider.Complete calls.
	ProviderRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "amid_provider_request_duration_seconds",
			Help:    "LLM provider request duration in seconds, labeled by provider and outcome",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "outcome"},
	)

	// MemoryQueriesTotal counts memory read calls, labeled by resolved
	// level (spec.md §4.9's L1/L2/L3) and outcome.
	MemoryQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amid_memory_queries_total",
			Help: "Total number of memory queries, labeled by level and outcome",
		},
		[]string{"level", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		TasksTotal,
		TasksRunning,
		ExecutorsRunning,
		EventQueueDepth,
		EventsDroppedTotal,
		ToolCallDuration,
		ProviderRequestDuration,
		MemoryQueriesTotal,
	)
}

// Handler returns the Prometheus scrape handler for the daemon's /metrics
// route (internal/httpapi wires this in directly).
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times a single operation and reports it to one of the histograms
// above, mirroring the teacher's own metrics.Timer helper.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveToolCall records the elapsed time since t was created against
// ToolCallDuration for the given tool name and outcome ("ok"/"error").
func (t *Timer) ObserveToolCall(tool, outcome string) {
	ToolCallDuration.WithLabelValues(tool, outcome).Observe(time.Since(t.start).Seconds())
}

// ObserveProviderRequest records the elapsed time since t was created
// against ProviderRequestDuration for the given provider name and outcome.
func (t *Timer) ObserveProviderRequest(provider, outcome string) {
	ProviderRequestDuration.WithLabelValues(provider, outcome).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
