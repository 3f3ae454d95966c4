// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sandbox

import (
	"errors"
	"time"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrRuntimeUnavailable indicates no container runtime was found. Callers
	// are expected to fall back to host execution.
	ErrRuntimeUnavailable = errors.New("container runtime unavailable")

	// ErrImageBuild indicates the agent image could not be built.
	ErrImageBuild = errors.New("image build failed")

	// ErrExecTimeout indicates the execution unit exceeded its time budget
	// and was forcibly terminated. Treated as a failed iteration, not a
	// fatal run error.
	ErrExecTimeout = errors.New("sandbox execution timed out")

	// ErrInvalidInput indicates invalid input to a sandbox function.
	ErrInvalidInput = errors.New("invalid input")
)

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// Result captures one test execution, sandboxed or host-local.
//
// Thread Safety: Immutable after creation.
type Result struct {
	// Output is the combined stdout/stderr text.
	Output string

	// ExitCode is the test process exit status. 124 indicates a timeout
	// kill, matching the coreutils convention.
	ExitCode int

	// Success is true when the test command exited zero.
	Success bool

	// Duration is wall time for the execution.
	Duration time.Duration
}

// Spec describes one sandboxed execution.
type Spec struct {
	// RepoPath is the absolute host path to the working clone.
	RepoPath string

	// Image is the plugin-selected agent image.
	Image string

	// Network enables container networking. Low-trust languages run with
	// networking off; package installation requires it on.
	Network bool
}

// Config holds sandbox executor tunables.
type Config struct {
	// NamePrefix is shared by all execution units so orphans from
	// interrupted runs can be found and removed.
	NamePrefix string

	// MemoryLimit is the container memory ceiling (docker syntax).
	MemoryLimit string

	// CPULimit is the container CPU ceiling (docker syntax).
	CPULimit string

	// RunTimeout bounds one test execution.
	RunTimeout time.Duration

	// BuildTimeout bounds an on-demand image build.
	BuildTimeout time.Duration

	// ProbeTimeout bounds runtime availability checks.
	ProbeTimeout time.Duration
}

// ApplyDefaults fills zero values with production defaults.
func (c *Config) ApplyDefaults() {
	if c.NamePrefix == "" {
		c.NamePrefix = "rift-agent"
	}
	if c.MemoryLimit == "" {
		c.MemoryLimit = "1g"
	}
	if c.CPULimit == "" {
		c.CPULimit = "2.0"
	}
	if c.RunTimeout == 0 {
		c.RunTimeout = 3 * time.Minute
	}
	if c.BuildTimeout == 0 {
		c.BuildTimeout = 5 * time.Minute
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = 5 * time.Second
	}
}

// timeoutExitCode is reported when an execution unit is killed on timeout.
const timeoutExitCode = 124
