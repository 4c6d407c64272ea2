package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the essai service configuration. Values load from an optional
// YAML file; PORT, DB_PATH, LOG_LEVEL and MCP_TRANSPORT env vars override.
type Config struct {
	Port         string          `yaml:"port"`
	DBPath       string          `yaml:"db_path"`
	LogLevel     string          `yaml:"log_level"`
	MCPTransport string          `yaml:"mcp_transport"` // "" or "stdio"
	Kinds        []string        `yaml:"kinds"`         // empty = built-in defaults
	Scheduler    SchedulerConfig `yaml:"scheduler"`
}

// SchedulerConfig controls the significance sweep.
type SchedulerConfig struct {
	Enabled         bool `yaml:"enabled"`
	CheckIntervalMs int  `yaml:"check_interval_ms"`
}

// CheckInterval converts the configured interval to a Duration.
func (c SchedulerConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalMs) * time.Millisecond
}

func defaultConfig() Config {
	return Config{
		Port:     "8086",
		DBPath:   "db/essai.db",
		LogLevel: "info",
		Scheduler: SchedulerConfig{
			Enabled:         true,
			CheckIntervalMs: 300_000, // 5 minutes
		},
	}
}

// loadConfig reads the YAML file at path (when non-empty) over the defaults,
// then applies env overrides.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MCP_TRANSPORT"); v != "" {
		cfg.MCPTransport = v
	}
	return cfg, nil
}
