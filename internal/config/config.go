// Package config loads drip's YAML configuration and applies environment
// overrides. Everything has a sensible default; a missing config file is
// not an error.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete drip configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Pool    PoolConfig    `yaml:"pool"`
	History HistoryConfig `yaml:"history"`
}

// ServiceConfig defines client-side service settings.
type ServiceConfig struct {
	LogLevel string `yaml:"log_level"`
}

// PoolConfig defines pool sizing and placement.
type PoolConfig struct {
	// Root is the directory holding per-key pools.
	Root string `yaml:"root"`
	// Size is the idle worker target per pool key.
	Size int `yaml:"size"`
	// IdleMinutes is the idle budget before an unclaimed worker retires.
	// Zero disables reaping.
	IdleMinutes int `yaml:"idle_minutes"`
}

// HistoryConfig defines the invocation ledger settings.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns the configuration used when no file is present.
func Defaults() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		Service: ServiceConfig{LogLevel: "INFO"},
		Pool: PoolConfig{
			Root:        filepath.Join(home, ".drip", "pool"),
			Size:        2,
			IdleMinutes: 4 * 60,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    filepath.Join(home, ".drip", "history.db"),
		},
	}
}

// Load reads configuration from a file, or from config.yaml inside a
// directory. Unset fields fall back to defaults.
func Load(path string) (*Config, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path %q: %w", path, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("config not found: %s", abs)
	}
	if info.IsDir() {
		abs = filepath.Join(abs, "config.yaml")
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", abs, err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Discover finds the config directory: $DRIP_CONFIG_DIR, then
// ~/.config/drip. Empty when neither exists.
func Discover() string {
	if dir := os.Getenv("DRIP_CONFIG_DIR"); dir != "" {
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		dir := filepath.Join(home, ".config", "drip")
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
	}
	return ""
}

// LoadOrDefault loads from path when given, otherwise from the discovered
// config directory, otherwise returns defaults. Environment overrides are
// applied in all cases.
func LoadOrDefault(path string) (*Config, error) {
	var cfg *Config
	var err error
	switch {
	case path != "":
		cfg, err = Load(path)
	case Discover() != "":
		cfg, err = Load(Discover())
	default:
		cfg = Defaults()
	}
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv applies the environment surface: DRIP_SHUTDOWN overrides the
// idle budget in minutes, 0 disabling reaping. An unparsable value is
// ignored.
func (c *Config) applyEnv() {
	if s, ok := os.LookupEnv("DRIP_SHUTDOWN"); ok {
		if m, err := strconv.Atoi(s); err == nil && m >= 0 {
			c.Pool.IdleMinutes = m
		}
	}
}

// IdleBudget returns the idle budget as a duration; zero disables reaping.
func (c *Config) IdleBudget() time.Duration {
	return time.Duration(c.Pool.IdleMinutes) * time.Minute
}

func validate(c *Config) error {
	if c.Pool.Root == "" {
		return fmt.Errorf("pool.root is empty")
	}
	if c.Pool.Size < 0 {
		return fmt.Errorf("pool.size must not be negative")
	}
	if c.Pool.IdleMinutes < 0 {
		return fmt.Errorf("pool.idle_minutes must not be negative")
	}
	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("history.path is required when history is enabled")
	}
	return nil
}
