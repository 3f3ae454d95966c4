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
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// SANDBOX EXECUTOR
// =============================================================================

// Executor runs test commands in isolated, resource-limited containers.
//
// Description:
//
//	Wraps the docker CLI. Detects runtime availability, builds the agent
//	image on demand (once), and invokes throwaway, uniquely named
//	containers with the working clone mounted, memory/CPU ceilings
//	applied, and networking disabled for low-trust languages. A failed
//	probe or build makes Available return false; callers fall back to
//	host execution.
//
// Thread Safety: Safe for concurrent use across runs; each run gets its
// own container name.
type Executor struct {
	config Config
	logger *slog.Logger

	builtMu sync.Mutex
	built   map[string]bool
}

// NewExecutor creates an executor with the given configuration.
func NewExecutor(config Config, logger *slog.Logger) *Executor {
	config.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		config: config,
		logger: logger.With(slog.String("component", "sandbox_executor")),
		built:  make(map[string]bool),
	}
}

// Available reports whether a container runtime responds.
//
// Description:
//
//	Probes `docker --version` with a short timeout. Never returns an
//	error: an unusable runtime is a supported condition, reported as a
//	boolean so the caller can fall back to host execution.
func (e *Executor) Available(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, e.config.ProbeTimeout)
	defer cancel()

	if err := exec.CommandContext(probeCtx, "docker", "--version").Run(); err != nil {
		e.logger.Warn("Container runtime unavailable", slog.String("error", err.Error()))
		return false
	}
	return true
}

// ImageExists reports whether the agent image is present locally.
func (e *Executor) ImageExists(ctx context.Context, image string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, e.config.ProbeTimeout)
	defer cancel()

	out, err := exec.CommandContext(probeCtx, "docker", "images", "-q", image).Output()
	return err == nil && len(bytes.TrimSpace(out)) > 0
}

// EnsureImage builds the agent image when it is not already present.
//
// Description:
//
//	Builds at most once per image per process. Build failures are
//	environment errors: the caller should treat the sandbox as unusable
//	rather than failing the run.
//
// Inputs:
//
//	ctx - Context for cancellation
//	image - Image tag to ensure
//	dockerfile - Dockerfile path relative to the build context, may be ""
//	buildDir - Build context directory, may be "" to skip building
//
// Outputs:
//
//	error - Wraps ErrImageBuild on failure
func (e *Executor) EnsureImage(ctx context.Context, image, dockerfile, buildDir string) error {
	if e.ImageExists(ctx, image) {
		return nil
	}

	e.builtMu.Lock()
	defer e.builtMu.Unlock()
	if e.built[image] {
		return nil
	}
	if buildDir == "" {
		return fmt.Errorf("%w: image %s missing and no build context configured", ErrImageBuild, image)
	}

	e.logger.Info("Building agent image", slog.String("image", image))
	buildCtx, cancel := context.WithTimeout(ctx, e.config.BuildTimeout)
	defer cancel()

	args := []string{"build", "-t", image}
	if dockerfile != "" {
		args = append(args, "-f", dockerfile)
	}
	args = append(args, ".")

	cmd := exec.CommandContext(buildCtx, "docker", args...)
	cmd.Dir = buildDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(buildCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: build timed out after %s", ErrImageBuild, e.config.BuildTimeout)
		}
		return fmt.Errorf("%w: %v: %s", ErrImageBuild, err, strings.TrimSpace(stderr.String()))
	}

	e.built[image] = true
	e.logger.Info("Agent image built", slog.String("image", image))
	return nil
}

// Run executes the requested image against the working clone.
//
// Description:
//
//	Invokes a throwaway container named `{prefix}-{uuid}` with the clone
//	mounted at SandboxMountRoot. Low-trust specs (Network false) get
//	`--network none`, a read-only root filesystem, and tmpfs scratch
//	mounts. The container must emit its result between the payload
//	markers; missing markers degrade to raw output with a failure code.
//	On timeout the container is forcibly stopped and the result reports
//	a timeout exit, which the loop treats as a failed iteration.
//
// Outputs:
//
//	Result - Always populated, even on timeout
//	error - Wraps ErrExecTimeout on timeout; other errors are container
//	        invocation failures
func (e *Executor) Run(ctx context.Context, spec Spec) (Result, error) {
	ctx, span := startSandboxSpan(ctx, spec.Image)
	defer span.End()

	if spec.RepoPath == "" || spec.Image == "" {
		return Result{}, fmt.Errorf("%w: repo path and image are required", ErrInvalidInput)
	}

	name := fmt.Sprintf("%s-%s", e.config.NamePrefix, uuid.NewString())
	args := []string{
		"run", "--rm",
		"--name", name,
		"-v", spec.RepoPath + ":/workspace",
		"--workdir", "/workspace",
		"--memory", e.config.MemoryLimit,
		"--cpus", e.config.CPULimit,
	}
	if !spec.Network {
		args = append(args,
			"--network", "none",
			"--read-only",
			"--tmpfs", "/tmp:rw,size=200m",
			"--tmpfs", "/home/agent:rw,size=100m",
		)
	}
	args = append(args, spec.Image)

	e.logger.Info("Starting execution unit",
		slog.String("container", name),
		slog.String("image", spec.Image),
		slog.Bool("network", spec.Network),
	)

	runCtx, cancel := context.WithTimeout(ctx, e.config.RunTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "docker", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		e.stopContainer(name)
		recordSandboxMetrics(ctx, spec.Image, elapsed, false, true)
		return Result{
			Output:   "sandbox execution timed out after " + e.config.RunTimeout.String(),
			ExitCode: timeoutExitCode,
			Success:  false,
			Duration: elapsed,
		}, fmt.Errorf("%w: container %s", ErrExecTimeout, name)
	}

	output, exitCode, structured := extractPayload(stdout.String(), stderr.String())
	if !structured {
		// Degraded mode: no payload markers, raw output with a failure
		// exit code stands in for the result.
		e.logger.Warn("No structured payload from execution unit",
			slog.String("container", name),
			slog.Any("run_error", runErr),
		)
	}

	success := exitCode == 0
	recordSandboxMetrics(ctx, spec.Image, elapsed, success, false)
	e.logger.Info("Execution unit finished",
		slog.String("container", name),
		slog.Int("exit_code", exitCode),
		slog.Duration("duration", elapsed),
	)

	return Result{
		Output:   output,
		ExitCode: exitCode,
		Success:  success,
		Duration: elapsed,
	}, nil
}

// CleanupOrphans removes execution units left behind by interrupted runs.
//
// Description:
//
//	Finds containers sharing the configured name prefix and force-removes
//	them. Opportunistic: failures are logged and swallowed.
func (e *Executor) CleanupOrphans(ctx context.Context) {
	listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(listCtx, "docker", "ps", "-a",
		"--filter", "name="+e.config.NamePrefix, "-q").Output()
	if err != nil {
		return
	}

	ids := strings.Fields(string(out))
	if len(ids) == 0 {
		return
	}

	e.logger.Info("Removing orphaned execution units", slog.Int("count", len(ids)))
	rmCtx, rmCancel := context.WithTimeout(ctx, 30*time.Second)
	defer rmCancel()

	args := append([]string{"rm", "-f"}, ids...)
	if err := exec.CommandContext(rmCtx, "docker", args...).Run(); err != nil {
		e.logger.Warn("Orphan cleanup incomplete", slog.String("error", err.Error()))
	}
}

// stopContainer force-stops a container, best effort.
func (e *Executor) stopContainer(name string) {
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := exec.CommandContext(stopCtx, "docker", "stop", name).Run(); err != nil {
		e.logger.Warn("Failed to stop container",
			slog.String("container", name),
			slog.String("error", err.Error()),
		)
	}
}
