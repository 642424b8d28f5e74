package main

import (
	"context"
	"fmt"

	"github.com/AriseOS/amid/internal/browser"
	"github.com/AriseOS/amid/internal/common/config"
	"github.com/AriseOS/amid/internal/common/logger"
	"github.com/AriseOS/amid/internal/events/bus"
	"github.com/AriseOS/amid/internal/llm"
	"github.com/AriseOS/amid/internal/llm/anthropic"
	"github.com/AriseOS/amid/internal/llm/openai"
	"github.com/AriseOS/amid/internal/memory"
	"github.com/AriseOS/amid/internal/memory/cache"
	"github.com/AriseOS/amid/internal/task"
	"github.com/AriseOS/amid/internal/tools"
	"github.com/AriseOS/amid/internal/tools/mcp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// daemon holds every long-lived dependency the HTTP surface and the
// per-task wiring (starter.go, agentbuilder.go) share: one provider, one
// memory toolkit, one browser pool, one set of dialed MCP adapters, one
// event bus connection. Everything task-scoped (working directory,
// dispatcher, agent builder) is constructed fresh per task in starter.go.
type daemon struct {
	cfg      *config.Config
	log      *logger.Logger
	registry *task.Registry
	provider llm.Provider
	memory   *memory.Toolkit
	recorder *memory.Recorder
	browser  browser.Session
	mcpTools []tools.Tool
	mcpConns []*mcp.Adapter
	bus      bus.EventBus
}

// newDaemon assembles every dependency from cfg. MCP servers that fail to
// dial are logged and skipped rather than failing startup (spec.md's
// "MCP-backed services" are one tool category among several; a daemon with
// zero configured MCP servers, or one unreachable one, still runs).
func newDaemon(ctx context.Context, cfg *config.Config, log *logger.Logger) (*daemon, error) {
	provider, err := buildProvider(cfg)
	if err != nil {
		log.WithError(err).Warn("default provider failed to initialize; tasks will fail until configuration is fixed")
		provider = &unconfiguredProvider{name: cfg.Providers.Default, err: err}
	}

	memClient := memory.NewClient(cfg.Memory.BaseURL, cfg.Memory.AuthToken, log)
	var pageOpsCache cache.Cache
	if cfg.Memory.RedisAddr != "" {
		pageOpsCache = cache.NewRedisCache(cfg.Memory.RedisAddr, 0)
	}
	toolkit := memory.New(memClient, pageOpsCache, log)
	recorder := memory.NewRecorder(memClient, log)

	browserPool := browser.NewFakePool(cfg.Browser.PoolSize)

	mcpTools, mcpConns := dialMCPServers(ctx, cfg.MCP.Servers, log)

	eventBus, err := buildEventBus(cfg, log)
	if err != nil {
		return nil, err
	}

	registry := task.NewRegistry(log)
	registry.Start()

	return &daemon{
		cfg:      cfg,
		log:      log,
		registry: registry,
		provider: provider,
		memory:   toolkit,
		recorder: recorder,
		browser:  browserPool,
		mcpTools: mcpTools,
		mcpConns: mcpConns,
		bus:      eventBus,
	}, nil
}

// mcpDialResult is one dialed server's outcome, collected positionally so
// dialMCPServers can aggregate without a mutex.
type mcpDialResult struct {
	tools []tools.Tool
	conn  *mcp.Adapter
}

// dialMCPServers dials every configured MCP server concurrently — one slow
// or unreachable server shouldn't serialize startup behind the others — and
// logs-and-skips any that fail rather than failing the whole daemon (one
// "MCP-backed services" tool category among several per spec.md §4.3; a
// daemon with zero configured servers, or one unreachable one, still runs).
func dialMCPServers(ctx context.Context, specs []mcp.ServerSpec, log *logger.Logger) ([]tools.Tool, []*mcp.Adapter) {
	results := make([]mcpDialResult, len(specs))

	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			adapter, dialErr := mcp.Dial(gctx, spec, log)
			if dialErr != nil {
				log.WithError(dialErr).Warn("failed to dial MCP server, skipping", zap.String("server", spec.Name))
				return nil
			}
			serverTools, listErr := adapter.ListTools(gctx)
			if listErr != nil {
				log.WithError(listErr).Warn("failed to list MCP server tools, skipping", zap.String("server", spec.Name))
				_ = adapter.Close()
				return nil
			}
			results[i] = mcpDialResult{tools: serverTools, conn: adapter}
			return nil
		})
	}
	_ = g.Wait() // dial errors are per-server warnings, never fatal to startup

	var mcpTools []tools.Tool
	var mcpConns []*mcp.Adapter
	for _, r := range results {
		if r.conn == nil {
			continue
		}
		mcpTools = append(mcpTools, r.tools...)
		mcpConns = append(mcpConns, r.conn)
	}
	return mcpTools, mcpConns
}

// buildProvider selects the configured default LLM provider.
func buildProvider(cfg *config.Config) (llm.Provider, error) {
	switch cfg.Providers.Default {
	case "openai":
		return openai.New(cfg.Providers.OpenAIKey, cfg.Providers.OpenAIModel, 0)
	default:
		return anthropic.New(cfg.Providers.AnthropicKey, cfg.Providers.AnthropicModel, 0)
	}
}

// unconfiguredProvider stands in for a provider that failed to initialize
// (e.g. a missing API key). As with config.validate's treatment of absent
// provider keys, a misconfigured provider fails only the tasks that use it,
// never daemon startup, so newDaemon
// substitutes this instead of propagating buildProvider's error.
type unconfiguredProvider struct {
	name string
	err  error
}

func (p *unconfiguredProvider) Name() string { return p.name }

func (p *unconfiguredProvider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return nil, fmt.Errorf("provider %q is not configured: %w", p.name, p.err)
}

// buildEventBus mirrors the teacher's own construction: NATS when
// configured for a clustered deployment, in-memory for the common single
// daemon/single UI case (spec.md's Non-goals exclude cross-daemon
// consistency, not a multi-instance transport existing at all).
func buildEventBus(cfg *config.Config, log *logger.Logger) (bus.EventBus, error) {
	if cfg.NATS.URL != "" {
		natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			return nil, fmt.Errorf("connect to NATS: %w", err)
		}
		return natsBus, nil
	}
	return bus.NewMemoryEventBus(log), nil
}

// Close releases every dialed MCP connection, the event bus, and stops the
// task registry's GC sweep. Safe to call once during graceful shutdown.
func (d *daemon) Close() {
	for _, conn := range d.mcpConns {
		_ = conn.Close()
	}
	if d.bus != nil {
		d.bus.Close()
	}
	d.registry.Stop()
}
