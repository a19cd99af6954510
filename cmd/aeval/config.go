package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

// Config is the optional YAML configuration file of the CLI.
type Config struct {
	// LogLevel is one of debug, info, warn or error.
	LogLevel     string         `yaml:"log_level"`
	CacheSize    int            `yaml:"cache_size"`
	StarlarkPath []string       `yaml:"starlark_path"`
	WasmPath     []string       `yaml:"wasm_path"`
	Globals      map[string]any `yaml:"globals"`
	Color        *bool          `yaml:"color"`
}

func defaultConfig() *Config {
	return &Config{LogLevel: "warn"}
}

// loadConfig reads path on top of the defaults. An empty path returns the
// defaults.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if _, err := cfg.level(); err != nil {
		return nil, err
	}
	if cfg.CacheSize < 0 {
		return nil, fmt.Errorf("cache_size must not be negative, got %d", cfg.CacheSize)
	}
	return cfg, nil
}

func (c *Config) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return level, nil
}
