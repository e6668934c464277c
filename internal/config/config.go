// Package config loads and validates the convergence engine's
// configuration: budgets, logging, concurrency, and invariant bundle
// locations.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every job-independent setting the engine and its CLI
// harness need.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Budgets   BudgetConfig    `yaml:"budgets"`
	Engine    EngineConfig    `yaml:"engine"`
	Invariant InvariantConfig `yaml:"invariant"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DefaultConfig returns the engine's out-of-the-box settings, matching
// the defaults named in the kernel's own budget model.
func DefaultConfig() *Config {
	return &Config{
		Name:    "converge",
		Version: "0.1.0",
		Budgets: BudgetConfig{
			MaxCycles: 100,
			MaxFacts:  10_000,
		},
		Engine: EngineConfig{
			MaxConcurrentAgents: 8,
			PerAgentTimeout:     "30s",
		},
		Invariant: InvariantConfig{
			DerivedFactLimit: 50_000,
			StrictMode:       false,
		},
		Logging: LoggingConfig{
			Level:     "info",
			DebugMode: false,
		},
	}
}

// Load reads YAML configuration from path, falling back to defaults if
// the file does not exist, then applies environment-variable overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration back out as YAML, creating parent
// directories as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// applyEnvOverrides lets deployment environments tune budgets and
// logging without editing the YAML file, in order of precedence:
// later checks win over earlier ones within a family.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CONVERGE_MAX_CYCLES"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			c.Budgets.MaxCycles = n
		}
	}
	if v := os.Getenv("CONVERGE_MAX_FACTS"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			c.Budgets.MaxFacts = n
		}
	}
	if v := os.Getenv("CONVERGE_MAX_WALL_CLOCK"); v != "" {
		c.Budgets.MaxWallClock = v
	}
	if v := os.Getenv("CONVERGE_INVARIANT_BUNDLE"); v != "" {
		c.Invariant.BundlePath = v
	}
	if v := os.Getenv("CONVERGE_DEBUG"); v != "" {
		c.Logging.DebugMode = v == "1" || v == "true"
	}
	if v := os.Getenv("CONVERGE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func parsePositiveInt(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("must be positive: %q", s)
	}
	return n, nil
}

// PerAgentTimeoutDuration parses Engine.PerAgentTimeout, defaulting to
// 30s on a malformed value.
func (c *Config) PerAgentTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Engine.PerAgentTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// MaxWallClockDuration parses Budgets.MaxWallClock; the zero duration
// means "no wall-clock budget", matching spec.md's "optional" cap.
func (c *Config) MaxWallClockDuration() time.Duration {
	if c.Budgets.MaxWallClock == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Budgets.MaxWallClock)
	if err != nil {
		return 0
	}
	return d
}
