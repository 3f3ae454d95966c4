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
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestHostRunner_RunSuccess(t *testing.T) {
	requireShell(t)
	h := NewHostRunner(0, nil)

	result, err := h.Run(context.Background(), t.TempDir(),
		[]string{"sh", "-c", "echo all tests passed"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.Success || result.ExitCode != 0 {
		t.Errorf("Success = %v, ExitCode = %d, want clean exit", result.Success, result.ExitCode)
	}
	if !strings.Contains(result.Output, "all tests passed") {
		t.Errorf("Output = %q, want command stdout", result.Output)
	}
}

func TestHostRunner_RunNonZeroExit(t *testing.T) {
	requireShell(t)
	h := NewHostRunner(0, nil)

	result, err := h.Run(context.Background(), t.TempDir(),
		[]string{"sh", "-c", "echo FAILED test_one 1>&2; exit 3"})
	if err != nil {
		t.Fatalf("failing command must not return an error, got %v", err)
	}
	if result.Success {
		t.Error("Success = true for non-zero exit")
	}
	if result.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", result.ExitCode)
	}
	if !strings.Contains(result.Output, "FAILED test_one") {
		t.Errorf("Output = %q, want captured stderr", result.Output)
	}
}

func TestHostRunner_RunTimeout(t *testing.T) {
	requireShell(t)
	h := NewHostRunner(100*time.Millisecond, nil)

	result, err := h.Run(context.Background(), t.TempDir(),
		[]string{"sh", "-c", "sleep 5"})
	if err != nil {
		t.Fatalf("timeout must not return an error, got %v", err)
	}
	if result.ExitCode != timeoutExitCode {
		t.Errorf("ExitCode = %d, want %d", result.ExitCode, timeoutExitCode)
	}
	if result.Success {
		t.Error("Success = true for timed out run")
	}
}

func TestHostRunner_RunEmptyCommand(t *testing.T) {
	h := NewHostRunner(0, nil)

	_, err := h.Run(context.Background(), t.TempDir(), nil)
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("error = %v, want ErrInvalidInput", err)
	}
}

func TestHostRunner_RunUnstartableCommand(t *testing.T) {
	h := NewHostRunner(0, nil)

	result, err := h.Run(context.Background(), t.TempDir(),
		[]string{"definitely-not-a-real-binary-4f2a"})
	if err != nil {
		t.Fatalf("unstartable command must not return an error, got %v", err)
	}
	if result.Success || result.ExitCode != 1 {
		t.Errorf("Success = %v, ExitCode = %d, want failed result", result.Success, result.ExitCode)
	}
}

func TestHostRunner_RunsInRepoDir(t *testing.T) {
	requireShell(t)
	h := NewHostRunner(0, nil)
	dir := t.TempDir()

	result, err := h.Run(context.Background(), dir, []string{"sh", "-c", "pwd"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(result.Output, dir) {
		t.Errorf("Output = %q, want working directory %q", result.Output, dir)
	}
}

func TestHostRunner_InstallSwallowsFailure(t *testing.T) {
	requireShell(t)
	h := NewHostRunner(0, nil)

	// Must not panic or surface the failure.
	h.Install(context.Background(), t.TempDir(), []string{"sh", "-c", "exit 1"})
	h.Install(context.Background(), t.TempDir(), nil)
}
