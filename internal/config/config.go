// Package config loads the steer configuration file: engine limits, the
// decision policy provider, the session store, and logging.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for steer.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Policy  PolicyConfig  `yaml:"policy"`
	Store   StoreConfig   `yaml:"store"`
	Search  SearchConfig  `yaml:"search"`
	Logging LoggingConfig `yaml:"logging"`
}

// EngineConfig bounds the controller loop.
type EngineConfig struct {
	MaxIterations        int    `yaml:"max_iterations"`
	MaxConsecutiveErrors int    `yaml:"max_consecutive_errors"`
	MaxToolAttempts      int    `yaml:"max_tool_attempts"`
	Mode                 string `yaml:"mode"`
	RetrievalTool        string `yaml:"retrieval_tool"`
}

// PolicyConfig selects and configures the decision policy provider.
type PolicyConfig struct {
	Provider  string `yaml:"provider"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	System    string `yaml:"system"`
	MaxTokens int    `yaml:"max_tokens"`
}

// StoreConfig selects the session store backend.
type StoreConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend"`
	// Path is the SQLite database file for the sqlite backend.
	Path string `yaml:"path"`
}

// SearchConfig seeds the built-in search tool's document index.
type SearchConfig struct {
	Documents []SearchDocument `yaml:"documents"`
}

// SearchDocument is one indexed document.
type SearchDocument struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title"`
	Body  string `yaml:"body"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file. Environment variables in
// the file are expanded, so api_key: ${ANTHROPIC_API_KEY} works.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Engine.MaxIterations == 0 {
		cfg.Engine.MaxIterations = 10
	}
	if cfg.Engine.MaxConsecutiveErrors == 0 {
		cfg.Engine.MaxConsecutiveErrors = 3
	}
	if cfg.Engine.MaxToolAttempts == 0 {
		cfg.Engine.MaxToolAttempts = 3
	}
	if cfg.Engine.Mode == "" {
		cfg.Engine.Mode = "default"
	}
	if cfg.Policy.Provider == "" {
		cfg.Policy.Provider = "anthropic"
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

func validate(cfg *Config) error {
	switch cfg.Engine.Mode {
	case "default", "plan":
	default:
		return fmt.Errorf("invalid engine mode %q (want default or plan)", cfg.Engine.Mode)
	}

	switch cfg.Policy.Provider {
	case "anthropic", "openai", "scripted":
	default:
		return fmt.Errorf("invalid policy provider %q (want anthropic, openai, or scripted)", cfg.Policy.Provider)
	}

	switch cfg.Store.Backend {
	case "memory":
	case "sqlite":
		if cfg.Store.Path == "" {
			return fmt.Errorf("sqlite store requires a path")
		}
	default:
		return fmt.Errorf("invalid store backend %q (want memory or sqlite)", cfg.Store.Backend)
	}

	return nil
}
