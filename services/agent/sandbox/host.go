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
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// =============================================================================
// HOST FALLBACK
// =============================================================================

// HostRunner executes test and install commands directly on the host.
//
// Description:
//
//	The degraded path used when no container runtime is usable. Commands
//	run in the working clone with the same timeout and kill semantics as
//	sandboxed execution; the dependency install step that a sandbox
//	entrypoint would perform runs here in the host environment instead.
//
// Thread Safety: Safe for concurrent use; holds no per-run state.
type HostRunner struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewHostRunner creates a host runner with the given execution timeout.
func NewHostRunner(timeout time.Duration, logger *slog.Logger) *HostRunner {
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HostRunner{
		timeout: timeout,
		logger:  logger.With(slog.String("component", "host_runner")),
	}
}

// Run executes argv in the repository directory.
//
// Description:
//
//	A timeout kills the process and yields a Result with the timeout exit
//	code; other invocation failures yield the captured output with the
//	process exit code. Neither is returned as an error: a failing test
//	command is the expected input to error extraction.
func (h *HostRunner) Run(ctx context.Context, repoPath string, argv []string) (Result, error) {
	if len(argv) == 0 {
		return Result{}, fmt.Errorf("%w: empty command", ErrInvalidInput)
	}

	runCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = repoPath
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		h.logger.Warn("Host execution timed out",
			slog.String("command", argv[0]),
			slog.Duration("timeout", h.timeout),
		)
		return Result{
			Output:   "",
			ExitCode: timeoutExitCode,
			Success:  false,
			Duration: elapsed,
		}, nil
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			// Command not found or not startable: failed iteration, not
			// a crash.
			h.logger.Warn("Host execution failed to start",
				slog.String("command", argv[0]),
				slog.String("error", runErr.Error()),
			)
			return Result{ExitCode: 1, Success: false, Duration: elapsed}, nil
		}
	}

	return Result{
		Output:   stdout.String() + "\n" + stderr.String(),
		ExitCode: exitCode,
		Success:  exitCode == 0,
		Duration: elapsed,
	}, nil
}

// Install runs the plugin's dependency install command on the host.
//
// Description:
//
//	Install failures and timeouts are logged and swallowed: a repository
//	whose dependencies cannot install still gets a test run, which is
//	where the actionable error evidence comes from.
func (h *HostRunner) Install(ctx context.Context, repoPath string, argv []string) {
	if len(argv) == 0 {
		return
	}

	installCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	h.logger.Info("Installing dependencies on host", slog.String("command", argv[0]))
	cmd := exec.CommandContext(installCtx, argv[0], argv[1:]...)
	cmd.Dir = repoPath
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		h.logger.Warn("Dependency install failed",
			slog.String("command", argv[0]),
			slog.String("error", err.Error()),
		)
	}
}
