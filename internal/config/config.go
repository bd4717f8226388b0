// Package config loads and validates the assistant configuration from YAML.
// The loaded snapshot is read-only; the engine never writes it back.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/tinker/internal/ratelimit"
)

// Config is the top-level configuration structure.
type Config struct {
	LLM         LLMConfig        `yaml:"llm"`
	Loop        LoopConfig       `yaml:"loop"`
	Tools       ToolsConfig      `yaml:"tools"`
	Permissions PermissionConfig `yaml:"permissions"`
	Cache       CacheConfig      `yaml:"cache"`
	Session     SessionConfig    `yaml:"session"`
	Logging     LoggingConfig    `yaml:"logging"`
}

// LLMConfig selects and configures the model provider.
type LLMConfig struct {
	Provider string `yaml:"provider"` // anthropic | openai
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url,omitempty"`

	// MaxTokens caps response length per round-trip.
	MaxTokens int `yaml:"max_tokens"`

	// RateLimit paces provider requests. Zero requests_per_second
	// disables it.
	RateLimit ratelimit.Config `yaml:"rate_limit"`
}

// LoopConfig bounds a conversation turn.
type LoopConfig struct {
	// MaxRounds limits provider round-trips per user turn.
	MaxRounds int `yaml:"max_rounds"`

	// MaxTurnTokens bounds cumulative token usage per turn (0 = unlimited).
	MaxTurnTokens int `yaml:"max_turn_tokens"`
}

// ToolsConfig configures tool execution.
type ToolsConfig struct {
	// Parallelism caps concurrent read-only tool executions.
	Parallelism int `yaml:"parallelism"`

	// Timeout applies to each tool invocation.
	Timeout time.Duration `yaml:"timeout"`

	// MaxResultBytes truncates tool output beyond this size.
	MaxResultBytes int `yaml:"max_result_bytes"`

	// Workspace is the project root tools operate in. Defaults to the
	// current directory.
	Workspace string `yaml:"workspace"`
}

// PermissionConfig is the session permission snapshot read by the gate.
type PermissionConfig struct {
	// AutoApproveBelow names the highest risk level executed without
	// confirmation: "low", "medium", or "high".
	AutoApproveBelow string `yaml:"auto_approve_below"`

	// RiskOverrides reassigns risk levels per tool name.
	RiskOverrides map[string]string `yaml:"risk_overrides,omitempty"`

	// Blocked lists tools that are always denied.
	Blocked []string `yaml:"blocked,omitempty"`

	// AllowSessionGrants permits "remember for session" on confirmations.
	AllowSessionGrants bool `yaml:"allow_session_grants"`
}

// CacheConfig bounds the read-only result cache.
type CacheConfig struct {
	MaxEntries int           `yaml:"max_entries"`
	TTL        time.Duration `yaml:"ttl"`
}

// SessionConfig configures conversation persistence.
type SessionConfig struct {
	// Store selects the backend: "memory" or "sqlite".
	Store string `yaml:"store"`
	// Path is the SQLite database path when Store is "sqlite".
	Path string `yaml:"path,omitempty"`
}

// LoggingConfig configures structured logging output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:  "anthropic",
			MaxTokens: 4096,
		},
		Loop: LoopConfig{
			MaxRounds:     8,
			MaxTurnTokens: 0,
		},
		Tools: ToolsConfig{
			Parallelism:    5,
			Timeout:        30 * time.Second,
			MaxResultBytes: 48 * 1024,
			Workspace:      ".",
		},
		Permissions: PermissionConfig{
			AutoApproveBelow:   "medium",
			AllowSessionGrants: true,
		},
		Cache: CacheConfig{
			MaxEntries: 256,
			TTL:        90 * time.Second,
		},
		Session: SessionConfig{
			Store: "memory",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path, expands ${ENV} references, and unmarshals over defaults.
// A missing file yields the defaults with APIKey sourced from the
// environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else {
			expanded := os.ExpandEnv(string(data))
			if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = apiKeyFromEnv(cfg.LLM.Provider)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func apiKeyFromEnv(provider string) string {
	switch provider {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	default:
		return os.Getenv("ANTHROPIC_API_KEY")
	}
}

// Validate checks invariants the engine depends on.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("unknown llm provider: %q", c.LLM.Provider)
	}
	if c.Loop.MaxRounds <= 0 {
		return fmt.Errorf("loop.max_rounds must be positive, got %d", c.Loop.MaxRounds)
	}
	if c.Tools.Parallelism <= 0 {
		return fmt.Errorf("tools.parallelism must be positive, got %d", c.Tools.Parallelism)
	}
	switch c.Permissions.AutoApproveBelow {
	case "low", "medium", "high":
	default:
		return fmt.Errorf("permissions.auto_approve_below must be low, medium, or high, got %q", c.Permissions.AutoApproveBelow)
	}
	switch c.Session.Store {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown session store: %q", c.Session.Store)
	}
	if c.Session.Store == "sqlite" && c.Session.Path == "" {
		return fmt.Errorf("session.path is required for the sqlite store")
	}
	return nil
}
