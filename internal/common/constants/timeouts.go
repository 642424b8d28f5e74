// Package constants provides application-wide constants and timeouts.
package constants

import "time"

// Timeouts for various operations (spec.md §5 "Timeouts").
const (
	// SSEHeartbeatInterval is how often a heartbeat comment is written to an
	// idle SSE stream.
	SSEHeartbeatInterval = 30 * time.Second

	// SSEIdleTimeout aborts an SSE stream that has seen no event for this long.
	SSEIdleTimeout = 10 * time.Minute

	// OrchestratorIdleTimeout ends an Orchestrator session's wait when no user
	// message or executor completion arrives in time.
	OrchestratorIdleTimeout = 30 * time.Minute

	// HumanResponseTimeout is the default wait for the ask_human tool.
	HumanResponseTimeout = 5 * time.Minute

	// MemoryPlanTimeout bounds the higher-level plan_task memory call.
	MemoryPlanTimeout = 30 * time.Second

	// MemoryQueryTimeout bounds task/navigation/action memory queries.
	MemoryQueryTimeout = 15 * time.Second

	// ShellCommandTimeout is the default per-command shell tool timeout.
	ShellCommandTimeout = 120 * time.Second

	// ShellCommandTimeoutCap is the maximum a caller may raise ShellCommandTimeout to.
	ShellCommandTimeoutCap = 600 * time.Second

	// LLMRequestTimeout bounds a single LLM provider HTTP call.
	LLMRequestTimeout = 120 * time.Second

	// CloudHTTPTimeout bounds a generic cloud-backend HTTP call (auth proxy, etc).
	CloudHTTPTimeout = 30 * time.Second

	// ImageGenerationTimeout bounds the image-generation tool.
	ImageGenerationTimeout = 120 * time.Second

	// YTDLPTimeout bounds the yt-dlp download tool.
	YTDLPTimeout = 5 * time.Minute

	// ProviderMaxRetries bounds LLM provider retry attempts on transient errors.
	ProviderMaxRetries = 3

	// TaskGCInterval is how often the task registry sweeps terminal tasks.
	TaskGCInterval = 10 * time.Minute

	// TaskGCMaxAge is the default age after which a terminal task is dropped.
	TaskGCMaxAge = 1 * time.Hour
)
