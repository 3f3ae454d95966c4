// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads agent configuration with priority: env > file >
// defaults. Environment variables use the RIFT_ prefix.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the full agent configuration.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after
// creation.
type Config struct {
	// Server contains the HTTP API settings.
	Server ServerConfig `json:"server" yaml:"server"`

	// Workspace contains clone workspace settings.
	Workspace WorkspaceConfig `json:"workspace" yaml:"workspace"`

	// Sandbox contains container execution settings.
	Sandbox SandboxConfig `json:"sandbox" yaml:"sandbox"`

	// Run contains orchestration loop settings.
	Run RunConfig `json:"run" yaml:"run"`

	// Logging contains log output settings.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// ServerConfig contains HTTP API settings.
type ServerConfig struct {
	Host              string `json:"host" yaml:"host" env:"RIFT_HOST"`
	Port              int    `json:"port" yaml:"port" env:"RIFT_PORT"`
	MaxConcurrentRuns int    `json:"max_concurrent_runs" yaml:"max_concurrent_runs" env:"RIFT_MAX_CONCURRENT_RUNS"`
}

// WorkspaceConfig contains clone workspace settings.
type WorkspaceConfig struct {
	Dir           string `json:"dir" yaml:"dir" env:"RIFT_WORKSPACE_DIR"`
	CleanupClones bool   `json:"cleanup_clones" yaml:"cleanup_clones" env:"RIFT_CLEANUP_CLONES"`
}

// SandboxConfig contains container execution settings.
type SandboxConfig struct {
	NamePrefix   string        `json:"name_prefix" yaml:"name_prefix" env:"RIFT_SANDBOX_PREFIX"`
	MemoryLimit  string        `json:"memory_limit" yaml:"memory_limit" env:"RIFT_SANDBOX_MEMORY"`
	CPULimit     string        `json:"cpu_limit" yaml:"cpu_limit" env:"RIFT_SANDBOX_CPUS"`
	RunTimeout   time.Duration `json:"run_timeout" yaml:"run_timeout" env:"RIFT_SANDBOX_RUN_TIMEOUT"`
	BuildTimeout time.Duration `json:"build_timeout" yaml:"build_timeout" env:"RIFT_SANDBOX_BUILD_TIMEOUT"`
	BuildDir     string        `json:"build_dir" yaml:"build_dir" env:"RIFT_SANDBOX_BUILD_DIR"`
}

// RunConfig contains orchestration loop settings.
type RunConfig struct {
	RetryBudget       int           `json:"retry_budget" yaml:"retry_budget" env:"RIFT_RETRY_BUDGET"`
	HostTestTimeout   time.Duration `json:"host_test_timeout" yaml:"host_test_timeout" env:"RIFT_HOST_TEST_TIMEOUT"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval" yaml:"heartbeat_interval" env:"RIFT_HEARTBEAT_INTERVAL"`
}

// LoggingConfig contains log output settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"RIFT_LOG_LEVEL"`
	Format string `json:"format" yaml:"format" env:"RIFT_LOG_FORMAT"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			MaxConcurrentRuns: 4,
		},
		Workspace: WorkspaceConfig{
			Dir:           filepath.Join(os.TempDir(), "rift-workspace"),
			CleanupClones: false,
		},
		Sandbox: SandboxConfig{
			NamePrefix:   "rift-agent",
			MemoryLimit:  "1g",
			CPULimit:     "2.0",
			RunTimeout:   3 * time.Minute,
			BuildTimeout: 5 * time.Minute,
		},
		Run: RunConfig{
			RetryBudget:       5,
			HostTestTimeout:   2 * time.Minute,
			HeartbeatInterval: 15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds configuration with priority: env > file > defaults.
//
// Inputs:
//   - configPath: Path to YAML/JSON config file (optional, can be empty).
//
// Outputs:
//   - Config: Merged configuration.
//   - error: Non-nil if the file or environment is invalid.
func Load(configPath string) (Config, error) {
	config := Default()

	if configPath != "" {
		if err := loadFile(configPath, &config); err != nil {
			return config, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := env.Parse(&config); err != nil {
		return config, fmt.Errorf("parse environment: %w", err)
	}

	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

func loadFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, config); err != nil {
		if jsonErr := json.Unmarshal(data, config); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

// Validate checks the configuration for nonsensical values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Server.MaxConcurrentRuns < 1 {
		return fmt.Errorf("max_concurrent_runs must be at least 1, got %d", c.Server.MaxConcurrentRuns)
	}
	if c.Workspace.Dir == "" {
		return fmt.Errorf("workspace dir must not be empty")
	}
	if c.Run.RetryBudget < 1 {
		return fmt.Errorf("retry_budget must be at least 1, got %d", c.Run.RetryBudget)
	}
	if c.Sandbox.RunTimeout <= 0 || c.Sandbox.BuildTimeout <= 0 {
		return fmt.Errorf("sandbox timeouts must be positive")
	}
	return nil
}
