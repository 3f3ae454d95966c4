// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package integration exercises the repair loop end to end against a
// real local git origin: clone, branch, parse scripted test output,
// mutate the cloned source through the real fix rules, commit, and push
// the fix branch back. Only the test executions themselves are
// scripted.
package integration

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/rift/services/agent/language"
	"github.com/AleutianAI/rift/services/agent/progress"
	"github.com/AleutianAI/rift/services/agent/run"
	"github.com/AleutianAI/rift/services/agent/sandbox"
)

// scriptedHost replays canned test output, re-reading the broken file
// state is left to the real fixer.
type scriptedHost struct {
	outputs []sandbox.Result
	calls   int
}

func (h *scriptedHost) Run(_ context.Context, _ string, _ []string) (sandbox.Result, error) {
	h.calls++
	if h.calls > len(h.outputs) {
		return sandbox.Result{Success: true}, nil
	}
	return h.outputs[h.calls-1], nil
}

func (h *scriptedHost) Install(context.Context, string, []string) {}

// unavailableSandbox forces the host execution path.
type unavailableSandbox struct{}

func (unavailableSandbox) Available(context.Context) bool { return false }
func (unavailableSandbox) EnsureImage(_ context.Context, _, _, _ string) error {
	return nil
}
func (unavailableSandbox) CleanupOrphans(context.Context) {}
func (unavailableSandbox) Run(_ context.Context, _ sandbox.Spec) (sandbox.Result, error) {
	return sandbox.Result{}, nil
}

func gitExec(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return string(out)
}

// newPythonOrigin builds a clonable repository holding one python file
// with a missing colon.
func newPythonOrigin(t *testing.T) string {
	t.Helper()
	origin := filepath.Join(t.TempDir(), "calc")
	if err := os.MkdirAll(origin, 0o750); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"requirements.txt": "pytest\n",
		"app.py":           "def add(a, b)\n    return a + b\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(origin, name), []byte(content), 0o640); err != nil {
			t.Fatal(err)
		}
	}
	gitExec(t, origin, "init")
	gitExec(t, origin, "config", "user.email", "ci@example.com")
	gitExec(t, origin, "config", "user.name", "ci")
	gitExec(t, origin, "add", ".")
	gitExec(t, origin, "commit", "-m", "initial")
	gitExec(t, origin, "config", "receive.denyCurrentBranch", "ignore")
	return origin
}

func TestRepairLoop_EndToEnd(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	t.Setenv("GIT_AUTHOR_NAME", "agent")
	t.Setenv("GIT_AUTHOR_EMAIL", "agent@example.com")
	t.Setenv("GIT_COMMITTER_NAME", "agent")
	t.Setenv("GIT_COMMITTER_EMAIL", "agent@example.com")

	origin := newPythonOrigin(t)

	failingOutput := `============================= test session starts ==============================
collected 0 items / 1 error

==================================== ERRORS ====================================
  File "app.py", line 1
    def add(a, b)
                 ^
SyntaxError: expected ':'
=========================== short test summary info ============================
`
	passingOutput := `============================= test session starts ==============================
collected 2 items

test_app.py ..                                                           [100%]
============================== 2 passed in 0.01s ===============================
`
	host := &scriptedHost{outputs: []sandbox.Result{
		{Output: failingOutput, ExitCode: 2},
		{Output: passingOutput, ExitCode: 0, Success: true},
	}}

	runner := run.NewRunner(
		language.NewRegistry(),
		unavailableSandbox{},
		host,
		progress.NewBroker(nil),
		t.TempDir(),
		nil,
	)

	report, err := runner.Execute(context.Background(), "run-e2e", run.Request{
		RepoURL: origin,
		Team:    "qa team",
		Leader:  "jane doe",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if report.Status != run.StatusPassed {
		t.Errorf("Status = %s, want Passed (push error: %q)", report.Status, report.PushError)
	}
	if report.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2", report.Iterations)
	}
	if report.Language != "python" {
		t.Errorf("Language = %q, want python", report.Language)
	}
	if report.Branch != "QA_TEAM_JANE_DOE_AI_FIX" {
		t.Errorf("Branch = %q", report.Branch)
	}
	if report.TotalFixes != 1 || len(report.Fixes) != 1 {
		t.Fatalf("TotalFixes = %d, Fixes = %d, want 1 fixed attempt", report.TotalFixes, len(report.Fixes))
	}
	fix := report.Fixes[0]
	if !fix.Fixed {
		t.Error("fix attempt not marked Fixed")
	}
	if fix.CommitMessage != "[AI-AGENT] Fixed SYNTAX error in app.py line 1" {
		t.Errorf("CommitMessage = %q", fix.CommitMessage)
	}
	if fix.LinesAdded != 1 || fix.LinesDeleted != 1 {
		t.Errorf("line churn = +%d/-%d, want +1/-1", fix.LinesAdded, fix.LinesDeleted)
	}
	if report.PushError != "" {
		t.Errorf("PushError = %q, want none", report.PushError)
	}
	if host.calls != 2 {
		t.Errorf("test executions = %d, want 2", host.calls)
	}

	// The fix branch reached the origin with the repaired file.
	branches := gitExec(t, origin, "branch", "--list", "QA_TEAM_JANE_DOE_AI_FIX")
	if !strings.Contains(branches, "QA_TEAM_JANE_DOE_AI_FIX") {
		t.Fatalf("fix branch not pushed to origin: %q", branches)
	}
	fixedSource := gitExec(t, origin, "show", "QA_TEAM_JANE_DOE_AI_FIX:app.py")
	if !strings.Contains(fixedSource, "def add(a, b):") {
		t.Errorf("pushed source not repaired:\n%s", fixedSource)
	}
}

func TestRepairLoop_StuckRepository(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	t.Setenv("GIT_AUTHOR_NAME", "agent")
	t.Setenv("GIT_AUTHOR_EMAIL", "agent@example.com")
	t.Setenv("GIT_COMMITTER_NAME", "agent")
	t.Setenv("GIT_COMMITTER_EMAIL", "agent@example.com")

	origin := newPythonOrigin(t)

	// The reported line is past the end of app.py, so the fix rule's
	// precondition fails every iteration and the loop stops stuck.
	failingOutput := `  File "app.py", line 99
    def add(a, b)
SyntaxError: expected ':'
`
	host := &scriptedHost{outputs: []sandbox.Result{
		{Output: failingOutput, ExitCode: 2},
		{Output: failingOutput, ExitCode: 2},
	}}

	runner := run.NewRunner(
		language.NewRegistry(),
		unavailableSandbox{},
		host,
		progress.NewBroker(nil),
		t.TempDir(),
		nil,
	)

	report, err := runner.Execute(context.Background(), "run-stuck", run.Request{
		RepoURL: origin,
		Team:    "qa",
		Leader:  "lee",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if report.Status != run.StatusFailed {
		t.Errorf("Status = %s, want Failed", report.Status)
	}
	if report.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", report.Iterations)
	}
	if host.calls != 1 {
		t.Errorf("test executions = %d, want 1", host.calls)
	}
	if branches := gitExec(t, origin, "branch", "--list", "QA_LEE_AI_FIX"); strings.Contains(branches, "QA_LEE_AI_FIX") {
		t.Error("fix branch pushed despite zero commits")
	}
}
