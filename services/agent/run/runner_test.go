// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/rift/services/agent/gitrepo"
	"github.com/AleutianAI/rift/services/agent/language"
	"github.com/AleutianAI/rift/services/agent/progress"
	"github.com/AleutianAI/rift/services/agent/sandbox"
)

// ===== FAKES =====

// fakePlugin scripts Parse output per iteration and Fix outcomes per
// file.
type fakePlugin struct {
	iterations [][]language.ErrorRecord
	parseCalls int
	fixErrs    map[string]error
	fixCalls   int
	install    []string
}

func (p *fakePlugin) Name() string                   { return "python" }
func (p *fakePlugin) SandboxImage() string           { return "rift-agent-python" }
func (p *fakePlugin) TestCommand() []string          { return []string{"python", "-m", "pytest"} }
func (p *fakePlugin) InstallCommand(string) []string { return p.install }
func (p *fakePlugin) FileExtensions() []string       { return []string{".py"} }
func (p *fakePlugin) NetworkRequired() bool          { return false }

func (p *fakePlugin) Parse(string) []language.ErrorRecord {
	p.parseCalls++
	if p.parseCalls > len(p.iterations) {
		return []language.ErrorRecord{}
	}
	return p.iterations[p.parseCalls-1]
}

func (p *fakePlugin) Fix(rec language.ErrorRecord) (bool, error) {
	p.fixCalls++
	if err, ok := p.fixErrs[rec.File]; ok && err != nil {
		return false, err
	}
	return true, nil
}

// fakeCheckpoint is an in-memory Checkpointer.
type fakeCheckpoint struct {
	repoPath  string
	cloneErr  error
	branchErr error
	commitErr error
	pushErr   error

	commits    int
	pushCalled bool
	tornDown   bool
}

func (c *fakeCheckpoint) Clone(_ context.Context, _ string) (string, error) {
	if c.cloneErr != nil {
		return "", c.cloneErr
	}
	return c.repoPath, nil
}

func (c *fakeCheckpoint) CreateBranch(_ context.Context, team, leader string) (string, error) {
	if c.branchErr != nil {
		return "", c.branchErr
	}
	return "QA_TEAM_JANE_DOE_AI_FIX", nil
}

func (c *fakeCheckpoint) CommitFix(_ context.Context, filePath, kind string, line int) (string, error) {
	if c.commitErr != nil {
		return "", c.commitErr
	}
	c.commits++
	return fmt.Sprintf("[AI-AGENT] Fixed %s error in %s line %d", kind, filePath, line), nil
}

func (c *fakeCheckpoint) LastCommitStat(context.Context) (gitrepo.DiffStat, error) {
	return gitrepo.DiffStat{Added: 1, Deleted: 1}, nil
}

func (c *fakeCheckpoint) Push(context.Context) error {
	c.pushCalled = true
	return c.pushErr
}

func (c *fakeCheckpoint) CommitCount() int { return c.commits }
func (c *fakeCheckpoint) Teardown() error  { c.tornDown = true; return nil }

// fakeSandbox scripts the sandboxed execution surface.
type fakeSandbox struct {
	available bool
	imageErr  error
	runs      int
	cleanups  int
	lastSpec  sandbox.Spec
}

func (s *fakeSandbox) Available(context.Context) bool { return s.available }

func (s *fakeSandbox) EnsureImage(_ context.Context, image, _, _ string) error {
	return s.imageErr
}

func (s *fakeSandbox) CleanupOrphans(context.Context) { s.cleanups++ }

func (s *fakeSandbox) Run(_ context.Context, spec sandbox.Spec) (sandbox.Result, error) {
	s.runs++
	s.lastSpec = spec
	return sandbox.Result{Output: "scripted", ExitCode: 1}, nil
}

// fakeHost scripts the host fallback surface.
type fakeHost struct {
	runs     int
	installs int
}

func (h *fakeHost) Run(_ context.Context, _ string, _ []string) (sandbox.Result, error) {
	h.runs++
	return sandbox.Result{Output: "scripted", ExitCode: 1}, nil
}

func (h *fakeHost) Install(_ context.Context, _ string, _ []string) { h.installs++ }

// ===== HARNESS =====

type harness struct {
	runner *Runner
	plugin *fakePlugin
	ckpt   *fakeCheckpoint
	sb     *fakeSandbox
	host   *fakeHost
	broker *progress.Broker
}

func newHarness(t *testing.T, plugin *fakePlugin, ckpt *fakeCheckpoint, sb *fakeSandbox) *harness {
	t.Helper()
	if ckpt.repoPath == "" {
		ckpt.repoPath = t.TempDir()
	}
	registry := language.NewRegistry()
	registry.Register("python", func(string) language.Plugin { return plugin })

	host := &fakeHost{}
	broker := progress.NewBroker(nil)
	runner := NewRunner(registry, sb, host, broker, t.TempDir(), slog.Default(),
		WithCheckpointFactory(func(string, *slog.Logger) Checkpointer { return ckpt }),
	)
	return &harness{runner: runner, plugin: plugin, ckpt: ckpt, sb: sb, host: host, broker: broker}
}

func record(file string, line int, kind language.ErrorKind) language.ErrorRecord {
	return language.ErrorRecord{File: file, Line: line, Kind: kind, Message: "scripted failure"}
}

func validRequest() Request {
	return Request{
		RepoURL: "https://example.com/acme/widgets.git",
		Team:    "qa team",
		Leader:  "jane doe",
	}
}

// ===== STATUS LAW =====

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name  string
		fixes []FixAttempt
		want  Status
	}{
		{"no attempts", nil, StatusFailed},
		{"all failed", []FixAttempt{{}, {}}, StatusFailed},
		{"all fixed", []FixAttempt{{Fixed: true}, {Fixed: true}}, StatusPassed},
		{"mixed", []FixAttempt{{Fixed: true}, {}}, StatusPartial},
		{"single fixed", []FixAttempt{{Fixed: true}}, StatusPassed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, deriveStatus(tt.fixes))
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Request)
		wantErr bool
	}{
		{"valid", func(*Request) {}, false},
		{"missing url", func(r *Request) { r.RepoURL = " " }, true},
		{"missing team", func(r *Request) { r.Team = "" }, true},
		{"missing leader", func(r *Request) { r.Leader = "  " }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			err := validate(req)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRequest)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// ===== LOOP SCENARIOS =====

func TestRunner_Execute_AllFixed(t *testing.T) {
	plugin := &fakePlugin{
		iterations: [][]language.ErrorRecord{
			{record("/repo/app.py", 10, language.KindSyntax), record("/repo/util.py", 3, language.KindImport)},
			{},
		},
	}
	h := newHarness(t, plugin, &fakeCheckpoint{}, &fakeSandbox{available: false})

	report, err := h.runner.Execute(context.Background(), "run-1", validRequest())
	require.NoError(t, err)

	assert.Equal(t, StatusPassed, report.Status)
	assert.Equal(t, 2, report.Iterations)
	assert.Equal(t, 2, report.TotalFailures)
	assert.Equal(t, 2, report.TotalFixes)
	assert.False(t, report.Sandboxed)
	assert.Equal(t, "QA_TEAM_JANE_DOE_AI_FIX", report.Branch)
	assert.Equal(t, "python", report.Language)
	require.Len(t, report.Fixes, 2)
	for _, fix := range report.Fixes {
		assert.True(t, fix.Fixed)
		assert.Contains(t, fix.CommitMessage, "[AI-AGENT] Fixed")
		assert.Equal(t, 1, fix.LinesAdded)
		assert.Equal(t, 1, fix.LinesDeleted)
	}
	assert.Equal(t, 2, h.host.runs)
	assert.True(t, h.ckpt.pushCalled)
	assert.Empty(t, report.PushError)
}

func TestRunner_Execute_PartialConvergence(t *testing.T) {
	plugin := &fakePlugin{
		iterations: [][]language.ErrorRecord{
			{
				record("/repo/a.py", 1, language.KindSyntax),
				record("/repo/b.py", 2, language.KindImport),
				record("/repo/c.py", 3, language.KindLogic),
			},
			{},
		},
		fixErrs: map[string]error{
			"/repo/c.py": fmt.Errorf("%w: already satisfied", language.ErrFixPrecondition),
		},
	}
	h := newHarness(t, plugin, &fakeCheckpoint{}, &fakeSandbox{})

	report, err := h.runner.Execute(context.Background(), "run-1", validRequest())
	require.NoError(t, err)

	assert.Equal(t, StatusPartial, report.Status)
	assert.Equal(t, 2, report.Iterations)
	assert.Equal(t, 3, report.TotalFailures)
	assert.Equal(t, 2, report.TotalFixes)
	require.Len(t, report.Fixes, 3)
	assert.Equal(t, 2, h.ckpt.commits)
}

func TestRunner_Execute_StuckStopsEarly(t *testing.T) {
	plugin := &fakePlugin{
		iterations: [][]language.ErrorRecord{
			{record("/repo/a.py", 1, language.KindSyntax), record("/repo/b.py", 2, language.KindLogic)},
		},
		fixErrs: map[string]error{
			"/repo/a.py": fmt.Errorf("%w: line out of range", language.ErrFixPrecondition),
			"/repo/b.py": fmt.Errorf("%w: no initializer target", language.ErrFixPrecondition),
		},
	}
	h := newHarness(t, plugin, &fakeCheckpoint{}, &fakeSandbox{})

	report, err := h.runner.Execute(context.Background(), "run-1", validRequest())
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, report.Status)
	assert.Equal(t, 1, report.Iterations)
	assert.Equal(t, 1, h.host.runs)
	assert.Equal(t, 0, report.TotalFixes)
	assert.Zero(t, h.ckpt.commits)
}

func TestRunner_Execute_BudgetBoundsIterations(t *testing.T) {
	// Every iteration finds the same error and "fixes" it, so only the
	// budget can end the loop.
	plugin := &fakePlugin{
		iterations: [][]language.ErrorRecord{
			{record("/repo/a.py", 1, language.KindSyntax)},
			{record("/repo/a.py", 1, language.KindSyntax)},
			{record("/repo/a.py", 1, language.KindSyntax)},
			{record("/repo/a.py", 1, language.KindSyntax)},
		},
	}
	h := newHarness(t, plugin, &fakeCheckpoint{}, &fakeSandbox{})

	req := validRequest()
	req.RetryBudget = 3
	report, err := h.runner.Execute(context.Background(), "run-1", req)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Iterations)
	assert.Equal(t, 3, h.host.runs)
	assert.Equal(t, 3, report.TotalFailures)
	assert.Equal(t, StatusPassed, report.Status)
}

func TestRunner_Execute_DefaultBudget(t *testing.T) {
	iterations := make([][]language.ErrorRecord, DefaultRetryBudget+3)
	for i := range iterations {
		iterations[i] = []language.ErrorRecord{record("/repo/a.py", 1, language.KindSyntax)}
	}
	h := newHarness(t, &fakePlugin{iterations: iterations}, &fakeCheckpoint{}, &fakeSandbox{})

	report, err := h.runner.Execute(context.Background(), "run-1", validRequest())
	require.NoError(t, err)

	assert.Equal(t, DefaultRetryBudget, report.Iterations)
}

// ===== EXECUTION PATH SELECTION =====

func TestRunner_Execute_SandboxPath(t *testing.T) {
	plugin := &fakePlugin{
		iterations: [][]language.ErrorRecord{
			{record("/repo/a.py", 1, language.KindSyntax)},
			{},
		},
	}
	sb := &fakeSandbox{available: true}
	h := newHarness(t, plugin, &fakeCheckpoint{}, sb)

	report, err := h.runner.Execute(context.Background(), "run-1", validRequest())
	require.NoError(t, err)

	assert.True(t, report.Sandboxed)
	assert.Equal(t, 2, sb.runs)
	assert.Equal(t, 1, sb.cleanups)
	assert.Zero(t, h.host.runs)
	assert.Equal(t, "rift-agent-python", sb.lastSpec.Image)
	assert.Equal(t, h.ckpt.repoPath, sb.lastSpec.RepoPath)
}

func TestRunner_Execute_ImageFailureFallsBackToHost(t *testing.T) {
	plugin := &fakePlugin{
		iterations: [][]language.ErrorRecord{{}},
		install:    []string{"pip", "install", "-r", "requirements.txt"},
	}
	sb := &fakeSandbox{available: true, imageErr: errors.New("image build failed")}
	h := newHarness(t, plugin, &fakeCheckpoint{}, sb)

	report, err := h.runner.Execute(context.Background(), "run-1", validRequest())
	require.NoError(t, err)

	assert.False(t, report.Sandboxed)
	assert.Zero(t, sb.runs)
	assert.Equal(t, 1, h.host.runs)
	assert.Equal(t, 1, h.host.installs)
}

// ===== FAILURE MODES =====

func TestRunner_Execute_InvalidRequest(t *testing.T) {
	h := newHarness(t, &fakePlugin{}, &fakeCheckpoint{}, &fakeSandbox{})

	_, err := h.runner.Execute(context.Background(), "run-1", Request{RepoURL: "https://example.com/r.git"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRunner_Execute_CloneFailureIsFatal(t *testing.T) {
	cloneErr := errors.New("clone failed: repository not found")
	h := newHarness(t, &fakePlugin{}, &fakeCheckpoint{cloneErr: cloneErr}, &fakeSandbox{})

	events, cancel := h.broker.Subscribe("run-1")
	defer cancel()

	_, err := h.runner.Execute(context.Background(), "run-1", validRequest())
	assert.ErrorIs(t, err, cloneErr)

	var sawTerminal bool
	for ev := range events {
		if ev.Terminal {
			sawTerminal = true
			assert.Contains(t, ev.Message, "clone failed")
		}
	}
	assert.True(t, sawTerminal, "terminal event not published on clone failure")
}

func TestRunner_Execute_PushFailureIsRecorded(t *testing.T) {
	plugin := &fakePlugin{
		iterations: [][]language.ErrorRecord{
			{record("/repo/a.py", 1, language.KindSyntax)},
			{},
		},
	}
	pushErr := errors.New("push failed: remote rejected")
	h := newHarness(t, plugin, &fakeCheckpoint{pushErr: pushErr}, &fakeSandbox{})

	report, err := h.runner.Execute(context.Background(), "run-1", validRequest())
	require.NoError(t, err)

	assert.Equal(t, StatusPassed, report.Status)
	assert.Contains(t, report.PushError, "remote rejected")
}

func TestRunner_Execute_CommitFailureIsFailedAttempt(t *testing.T) {
	plugin := &fakePlugin{
		iterations: [][]language.ErrorRecord{
			{record("/repo/a.py", 1, language.KindSyntax)},
		},
	}
	ckpt := &fakeCheckpoint{commitErr: errors.New("git command failed: index locked")}
	h := newHarness(t, plugin, ckpt, &fakeSandbox{})

	report, err := h.runner.Execute(context.Background(), "run-1", validRequest())
	require.NoError(t, err)

	// The fix landed on disk but could not be committed, so the attempt
	// counts as failed and the loop stops stuck.
	assert.Equal(t, StatusFailed, report.Status)
	assert.Equal(t, 1, report.Iterations)
	require.Len(t, report.Fixes, 1)
	assert.False(t, report.Fixes[0].Fixed)
	assert.Empty(t, report.Fixes[0].CommitMessage)
}

// ===== PROGRESS =====

func TestRunner_Execute_PublishesLifecycleEvents(t *testing.T) {
	plugin := &fakePlugin{
		iterations: [][]language.ErrorRecord{
			{record("/repo/a.py", 1, language.KindSyntax)},
			{},
		},
	}
	h := newHarness(t, plugin, &fakeCheckpoint{}, &fakeSandbox{})

	events, cancel := h.broker.Subscribe("run-1")
	defer cancel()

	_, err := h.runner.Execute(context.Background(), "run-1", validRequest())
	require.NoError(t, err)

	seen := map[progress.Stage]bool{}
	var terminal progress.Event
	for ev := range events {
		seen[ev.Stage] = true
		if ev.Terminal {
			terminal = ev
		}
	}
	for _, stage := range []progress.Stage{
		progress.StageClone, progress.StageDetect, progress.StageSandbox,
		progress.StageTest, progress.StageFix, progress.StageCommit,
		progress.StageDone,
	} {
		assert.True(t, seen[stage], "missing stage %s", stage)
	}
	assert.Equal(t, progress.StageDone, terminal.Stage)
	assert.Contains(t, terminal.Message, "1 fixes")
}
