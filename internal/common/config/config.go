// Package config provides configuration management for amid.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/AriseOS/amid/internal/tools/mcp"
)

// Config holds all configuration sections for amid.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Events    EventsConfig    `mapstructure:"events"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	MCP       MCPConfig       `mapstructure:"mcp"`
}

// MCPConfig lists the external MCP servers amid connects to at startup
// (spec.md §1 "MCP-backed services"); empty by default, since any given
// deployment may configure zero or more.
type MCPConfig struct {
	Servers []mcp.ServerSpec `mapstructure:"servers"`
}

// ServerConfig holds HTTP server configuration for the daemon's local API.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// ProvidersConfig holds LLM provider credentials and selection.
type ProvidersConfig struct {
	Default        string `mapstructure:"default"` // "anthropic" or "openai"
	AnthropicKey   string `mapstructure:"anthropicKey"`
	AnthropicModel string `mapstructure:"anthropicModel"`
	OpenAIKey      string `mapstructure:"openaiKey"`
	OpenAIModel    string `mapstructure:"openaiModel"`
}

// BrowserConfig holds the CDP endpoint for the browser session.
type BrowserConfig struct {
	CDPPort    int `mapstructure:"cdpPort"`
	PoolSize   int `mapstructure:"poolSize"`
	TabTimeout int `mapstructure:"tabTimeoutSeconds"`
}

// MemoryConfig holds cloud memory service and local cache configuration.
type MemoryConfig struct {
	BaseURL      string `mapstructure:"baseUrl"`
	AuthToken    string `mapstructure:"authToken"`
	RedisAddr    string `mapstructure:"redisAddr"` // empty disables the page-ops cache
	CacheTTL     int    `mapstructure:"cacheTtlSeconds"`
	RequestTimeo int    `mapstructure:"requestTimeoutSeconds"`
}

// WorkspaceConfig holds per-task workspace root configuration.
type WorkspaceConfig struct {
	Root string `mapstructure:"root"` // default ~/.ami/workspaces
}

// AgentConfig holds agent loop tuning.
type AgentConfig struct {
	MaxSteps           int `mapstructure:"maxSteps"`
	ContextCeiling     int `mapstructure:"contextCeilingTokens"`
	ToolResultCeiling  int `mapstructure:"toolResultCeilingBytes"`
	MaxRetries         int `mapstructure:"maxRetries"`
	HumanResponseSecs  int `mapstructure:"humanResponseTimeoutSeconds"`
	OrchestratorIdleMn int `mapstructure:"orchestratorIdleMinutes"`
}

// EventsConfig holds event queue bounds.
type EventsConfig struct {
	Namespace       string `mapstructure:"namespace"`
	QueueSize       int    `mapstructure:"queueSize"`
	SSEHeartbeatSec int    `mapstructure:"sseHeartbeatSeconds"`
	SSEIdleMinutes  int    `mapstructure:"sseIdleMinutes"`
}

// NATSConfig holds optional clustered steering/event transport configuration.
// Empty URL means use the in-memory event bus (single-process mode).
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

func (a *AgentConfig) HumanResponseTimeout() time.Duration {
	return time.Duration(a.HumanResponseSecs) * time.Second
}

func (a *AgentConfig) OrchestratorIdleTimeout() time.Duration {
	return time.Duration(a.OrchestratorIdleMn) * time.Minute
}

// detectDefaultLogFormat returns "json" when AMI_ENV is "production" or "prod", "text" otherwise.
func detectDefaultLogFormat() string {
	if env := os.Getenv("AMI_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

func defaultWorkspaceRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./.ami/workspaces"
	}
	return filepath.Join(home, ".ami", "workspaces")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8787)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("providers.default", "anthropic")
	v.SetDefault("providers.anthropicModel", "claude-sonnet-4-5")
	v.SetDefault("providers.openaiModel", "gpt-4.1")

	v.SetDefault("browser.cdpPort", 9222)
	v.SetDefault("browser.poolSize", 4)
	v.SetDefault("browser.tabTimeoutSeconds", 120)

	v.SetDefault("memory.baseUrl", "")
	v.SetDefault("memory.redisAddr", "")
	v.SetDefault("memory.cacheTtlSeconds", 300)
	v.SetDefault("memory.requestTimeoutSeconds", 30)

	v.SetDefault("workspace.root", defaultWorkspaceRoot())

	v.SetDefault("agent.maxSteps", 40)
	v.SetDefault("agent.contextCeilingTokens", 180_000)
	v.SetDefault("agent.toolResultCeilingBytes", 8192)
	v.SetDefault("agent.maxRetries", 2)
	v.SetDefault("agent.humanResponseTimeoutSeconds", 300)
	v.SetDefault("agent.orchestratorIdleMinutes", 30)

	v.SetDefault("events.namespace", "")
	v.SetDefault("events.queueSize", 128)
	v.SetDefault("events.sseHeartbeatSeconds", 30)
	v.SetDefault("events.sseIdleMinutes", 10)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "amid")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
// Environment variables use the prefix AMI_ with snake_case naming.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AMI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("providers.anthropicKey", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("providers.openaiKey", "OPENAI_API_KEY")
	_ = v.BindEnv("logging.level", "AMI_LOG_LEVEL")
	_ = v.BindEnv("events.namespace", "AMI_EVENTS_NAMESPACE")

	v.SetConfigName("settings")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".ami"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that required configuration fields are sane.
// Missing provider keys are not a validation error (spec: missing keys fail
// only the tools/providers that need them, never daemon startup).
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535 (0 allocates a free port)")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if cfg.Agent.MaxSteps <= 0 {
		errs = append(errs, "agent.maxSteps must be positive")
	}
	if cfg.Agent.ContextCeiling <= 0 {
		errs = append(errs, "agent.contextCeilingTokens must be positive")
	}
	if cfg.Events.QueueSize <= 0 {
		errs = append(errs, "events.queueSize must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
