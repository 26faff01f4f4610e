package config

import (
	"cmp"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// ModelConfig selects the provider and its request parameters.
type ModelConfig struct {
	Provider       string `yaml:"provider"`
	Name           string `yaml:"name"`
	BaseURL        string `yaml:"base_url,omitempty"`
	MaxTokens      int64  `yaml:"max_tokens,omitempty"`
	ThinkingBudget int64  `yaml:"thinking_budget,omitempty"`
}

// RetryConfig tunes the retry policy for transient provider failures.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts,omitempty"`
	BaseDelay    time.Duration `yaml:"base_delay,omitempty"`
	MaxDelay     time.Duration `yaml:"max_delay,omitempty"`
	JitterFactor float64       `yaml:"jitter_factor,omitempty"`
}

// BudgetConfig bounds a conversation. Zero cost means unlimited spend.
type BudgetConfig struct {
	MaxIterations int     `yaml:"max_iterations,omitempty"`
	Cost          float64 `yaml:"cost,omitempty"`
}

type StreamingConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Typewriter  bool          `yaml:"typewriter,omitempty"`
	CharDelay   time.Duration `yaml:"char_delay,omitempty"`
	IdleTimeout time.Duration `yaml:"idle_timeout,omitempty"`
}

type SessionConfig struct {
	// Database is a path to a SQLite file. Empty keeps sessions in memory.
	Database         string `yaml:"database,omitempty"`
	MaxHistoryTokens int64  `yaml:"max_history_tokens,omitempty"`
}

// Config is the full runtime configuration file.
type Config struct {
	Model        ModelConfig     `yaml:"model"`
	SystemPrompt string          `yaml:"system_prompt,omitempty"`
	Retry        RetryConfig     `yaml:"retry,omitempty"`
	Budgets      BudgetConfig    `yaml:"budgets,omitempty"`
	Streaming    StreamingConfig `yaml:"streaming,omitempty"`
	Session      SessionConfig   `yaml:"session,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Provider: "anthropic",
			Name:     "claude-sonnet-4-0",
		},
		Budgets: BudgetConfig{
			MaxIterations: 25,
		},
		Streaming: StreamingConfig{
			Enabled:     true,
			CharDelay:   15 * time.Millisecond,
			IdleTimeout: 60 * time.Second,
		},
	}
}

// Load reads and validates a YAML configuration file. Missing fields fall
// back to defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file\n%s", yaml.FormatError(err, true, true))
	}

	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	def := Default()
	cfg.Model.Provider = cmp.Or(cfg.Model.Provider, def.Model.Provider)
	cfg.Model.Name = cmp.Or(cfg.Model.Name, def.Model.Name)
	cfg.Budgets.MaxIterations = cmp.Or(cfg.Budgets.MaxIterations, def.Budgets.MaxIterations)
	if cfg.Streaming.CharDelay == 0 {
		cfg.Streaming.CharDelay = def.Streaming.CharDelay
	}
	if cfg.Streaming.IdleTimeout == 0 {
		cfg.Streaming.IdleTimeout = def.Streaming.IdleTimeout
	}
}

func Validate(cfg *Config) error {
	if cfg.Model.Provider != "anthropic" {
		return fmt.Errorf("unsupported provider: %q", cfg.Model.Provider)
	}
	if cfg.Model.Name == "" {
		return fmt.Errorf("model name is required")
	}
	if cfg.Budgets.MaxIterations < 1 {
		return fmt.Errorf("budgets.max_iterations must be positive, got %d", cfg.Budgets.MaxIterations)
	}
	if cfg.Budgets.Cost < 0 {
		return fmt.Errorf("budgets.cost must not be negative, got %f", cfg.Budgets.Cost)
	}
	if cfg.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must not be negative, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.JitterFactor < 0 || cfg.Retry.JitterFactor > 1 {
		return fmt.Errorf("retry.jitter_factor must be within [0, 1], got %f", cfg.Retry.JitterFactor)
	}
	return nil
}
