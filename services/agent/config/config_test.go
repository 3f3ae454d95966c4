// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	config, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if config.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", config.Server.Port)
	}
	if config.Server.MaxConcurrentRuns != 4 {
		t.Errorf("Server.MaxConcurrentRuns = %d, want 4", config.Server.MaxConcurrentRuns)
	}
	if config.Run.RetryBudget != 5 {
		t.Errorf("Run.RetryBudget = %d, want 5", config.Run.RetryBudget)
	}
	if config.Sandbox.NamePrefix != "rift-agent" {
		t.Errorf("Sandbox.NamePrefix = %q, want rift-agent", config.Sandbox.NamePrefix)
	}
	if config.Logging.Level != "info" || config.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want info/json", config.Logging)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9090
  max_concurrent_runs: 8
run:
  retry_budget: 10
`
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		t.Fatal(err)
	}

	config, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if config.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", config.Server.Port)
	}
	if config.Server.MaxConcurrentRuns != 8 {
		t.Errorf("Server.MaxConcurrentRuns = %d, want 8", config.Server.MaxConcurrentRuns)
	}
	if config.Run.RetryBudget != 10 {
		t.Errorf("Run.RetryBudget = %d, want 10", config.Run.RetryBudget)
	}
	// Unset file keys keep their defaults.
	if config.Sandbox.MemoryLimit != "1g" {
		t.Errorf("Sandbox.MemoryLimit = %q, want default 1g", config.Sandbox.MemoryLimit)
	}
}

func TestLoad_JSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"server": {"port": 7070, "host": "127.0.0.1"}}`
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		t.Fatal(err)
	}

	config, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if config.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070", config.Server.Port)
	}
	if config.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want 127.0.0.1", config.Server.Host)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o640); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RIFT_PORT", "6060")
	t.Setenv("RIFT_WORKSPACE_DIR", "/var/lib/rift")
	t.Setenv("RIFT_SANDBOX_RUN_TIMEOUT", "90s")

	config, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if config.Server.Port != 6060 {
		t.Errorf("Server.Port = %d, env must beat file", config.Server.Port)
	}
	if config.Workspace.Dir != "/var/lib/rift" {
		t.Errorf("Workspace.Dir = %q, want env value", config.Workspace.Dir)
	}
	if config.Sandbox.RunTimeout != 90*time.Second {
		t.Errorf("Sandbox.RunTimeout = %v, want 90s", config.Sandbox.RunTimeout)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	config, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() with missing file error = %v", err)
	}
	if config.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want default 8080", config.Server.Port)
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("{not valid yaml or json"), 0o640); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Load() with malformed file must fail")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(*Config) {}, false},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, true},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, true},
		{"zero concurrency", func(c *Config) { c.Server.MaxConcurrentRuns = 0 }, true},
		{"empty workspace", func(c *Config) { c.Workspace.Dir = "" }, true},
		{"zero budget", func(c *Config) { c.Run.RetryBudget = 0 }, true},
		{"negative run timeout", func(c *Config) { c.Sandbox.RunTimeout = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(&config)
			err := config.Validate()
			if tt.wantErr && err == nil {
				t.Error("Validate() = nil, want error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() error = %v", err)
			}
		})
	}
}
