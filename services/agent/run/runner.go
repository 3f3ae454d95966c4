// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package run composes the language plugins, the sandbox, the fix
// engine, and the git checkpoint manager into a bounded test-fix-commit
// loop. Each run executes sequentially on one worker; the only intra-run
// concurrency is the heartbeat goroutine that keeps progress observers
// informed while a test execution blocks.
//
// A test execution whose output yields no error records ends the loop as
// passing. Unparseable tool output is therefore indistinguishable from a
// genuinely green test run; the loop accepts that ambiguity in favor of
// terminating rather than inventing an inconclusive state.
package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/rift/services/agent/gitrepo"
	"github.com/AleutianAI/rift/services/agent/language"
	"github.com/AleutianAI/rift/services/agent/progress"
	"github.com/AleutianAI/rift/services/agent/sandbox"
)

// ===== CONSTANTS =====

const (
	// DefaultRetryBudget bounds the test-fix cycles when the request
	// does not set one.
	DefaultRetryBudget = 5

	defaultHeartbeatInterval = 15 * time.Second
)

// ===== COLLABORATOR INTERFACES =====

// SandboxExecutor is the sandboxed execution surface the loop needs.
// *sandbox.Executor satisfies it.
type SandboxExecutor interface {
	Available(ctx context.Context) bool
	EnsureImage(ctx context.Context, image, dockerfile, buildDir string) error
	CleanupOrphans(ctx context.Context)
	Run(ctx context.Context, spec sandbox.Spec) (sandbox.Result, error)
}

// HostExecutor is the host fallback surface. *sandbox.HostRunner
// satisfies it.
type HostExecutor interface {
	Run(ctx context.Context, repoPath string, argv []string) (sandbox.Result, error)
	Install(ctx context.Context, repoPath string, argv []string)
}

// Checkpointer is the git surface the loop needs. *gitrepo.Manager
// satisfies it.
type Checkpointer interface {
	Clone(ctx context.Context, repoURL string) (string, error)
	CreateBranch(ctx context.Context, team, leader string) (string, error)
	CommitFix(ctx context.Context, filePath, kind string, line int) (string, error)
	LastCommitStat(ctx context.Context) (gitrepo.DiffStat, error)
	Push(ctx context.Context) error
	CommitCount() int
	Teardown() error
}

// CheckpointFactory builds the Checkpointer for one run's workspace.
type CheckpointFactory func(workspace string, logger *slog.Logger) Checkpointer

// ===== RUNNER =====

// Runner executes repair runs. Construct once and share across runs;
// per-run state lives on the stack of Execute.
type Runner struct {
	registry  *language.Registry
	executor  SandboxExecutor
	host      HostExecutor
	broker    *progress.Broker
	logger    *slog.Logger
	workspace string

	checkpoints       CheckpointFactory
	buildDir          string
	heartbeatInterval time.Duration
	cleanupClones     bool
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithBuildDir sets the docker build context used when a sandbox image
// is missing. Empty disables on-demand builds.
func WithBuildDir(dir string) RunnerOption {
	return func(r *Runner) { r.buildDir = dir }
}

// WithHeartbeatInterval sets the liveness event interval.
func WithHeartbeatInterval(d time.Duration) RunnerOption {
	return func(r *Runner) { r.heartbeatInterval = d }
}

// WithCleanupClones removes each run's working clone after the report
// is produced.
func WithCleanupClones(cleanup bool) RunnerOption {
	return func(r *Runner) { r.cleanupClones = cleanup }
}

// WithCheckpointFactory overrides how per-run checkpoint managers are
// built.
func WithCheckpointFactory(f CheckpointFactory) RunnerOption {
	return func(r *Runner) { r.checkpoints = f }
}

// NewRunner wires a Runner from its collaborators.
func NewRunner(
	registry *language.Registry,
	executor SandboxExecutor,
	host HostExecutor,
	broker *progress.Broker,
	workspace string,
	logger *slog.Logger,
	opts ...RunnerOption,
) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		registry:          registry,
		executor:          executor,
		host:              host,
		broker:            broker,
		logger:            logger,
		workspace:         workspace,
		heartbeatInterval: defaultHeartbeatInterval,
		checkpoints: func(workspace string, logger *slog.Logger) Checkpointer {
			return gitrepo.NewManager(workspace, logger)
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute performs one complete repair run.
//
// Description:
//
//	Clones the repository into a run-private workspace, detects its
//	language, creates the fix branch, then iterates test → extract →
//	fix → commit until the error list is empty, no fix lands in an
//	iteration, or the retry budget is spent. The branch is pushed when
//	any commits exist, and the final report is returned to the caller
//	for persistence.
//
//	Only a clone failure is fatal. Sandbox unavailability falls back to
//	host execution, push failure is recorded in the report, and every
//	other step failure degrades to a failed iteration or fix attempt.
//
// Outputs:
//
//	Report - Complete except when error is non-nil
//	error - ErrInvalidRequest or a gitrepo.ErrCloneFailed wrap
func (r *Runner) Execute(ctx context.Context, runID string, req Request) (Report, error) {
	ctx, span := startRunSpan(ctx, runID)
	defer span.End()

	if err := validate(req); err != nil {
		return Report{}, err
	}
	budget := req.RetryBudget
	if budget <= 0 {
		budget = DefaultRetryBudget
	}

	started := time.Now()
	report := Report{
		RunID:     runID,
		StartedAt: started.UTC(),
		Fixes:     []FixAttempt{},
	}

	mgr := r.checkpoints(filepath.Join(r.workspace, runID), r.logger)

	r.emit(runID, progress.StageClone, 0, "cloning "+req.RepoURL)
	repoPath, err := mgr.Clone(ctx, req.RepoURL)
	if err != nil {
		r.broker.Complete(runID, progress.Event{
			Stage:   progress.StageDone,
			Message: "clone failed: " + err.Error(),
		})
		return Report{}, err
	}
	if r.cleanupClones {
		defer func() {
			if err := mgr.Teardown(); err != nil {
				r.logger.Warn("workspace cleanup failed", slog.Any("error", err))
			}
		}()
	}

	r.emit(runID, progress.StageDetect, 0, "detecting project language")
	tag := language.Detect(repoPath)
	plugin := r.registry.Get(tag, repoPath)
	report.Language = plugin.Name()
	r.logger.Info("language detected",
		slog.String("run_id", runID),
		slog.String("language", plugin.Name()))

	branch, err := mgr.CreateBranch(ctx, req.Team, req.Leader)
	if err != nil {
		// CreateBranch retries with a uniquified name; a failure here
		// means git itself is broken, which clone would have caught.
		r.broker.Complete(runID, progress.Event{
			Stage:   progress.StageDone,
			Message: "branch creation failed: " + err.Error(),
		})
		return Report{}, err
	}
	report.Branch = branch

	sandboxed := r.prepareSandbox(ctx, runID, plugin, repoPath)
	report.Sandboxed = sandboxed

	r.iterate(ctx, runID, budget, plugin, mgr, repoPath, sandboxed, &report)

	if err := mgr.Push(ctx); err != nil {
		report.PushError = err.Error()
		r.emit(runID, progress.StagePush, report.Iterations, "push failed: "+err.Error())
	} else if mgr.CommitCount() > 0 {
		r.emit(runID, progress.StagePush, report.Iterations, "pushed "+branch)
	}

	report.Status = deriveStatus(report.Fixes)
	report.TotalFixes = countFixed(report.Fixes)
	report.Duration = time.Since(started)

	recordRunMetrics(ctx, string(report.Status), report.Iterations, report.Duration)
	r.broker.Complete(runID, progress.Event{
		Stage: progress.StageDone,
		Message: fmt.Sprintf("run %s: %d fixes over %d iterations",
			report.Status, report.TotalFixes, report.Iterations),
	})
	r.logger.Info("run complete",
		slog.String("run_id", runID),
		slog.String("status", string(report.Status)),
		slog.Int("iterations", report.Iterations),
		slog.Int("fixes", report.TotalFixes))
	return report, nil
}

// prepareSandbox decides the execution path for this run. Any sandbox
// problem downgrades to host execution, in which case the dependency
// install runs on the host instead of inside the image.
func (r *Runner) prepareSandbox(ctx context.Context, runID string, plugin language.Plugin, repoPath string) bool {
	r.emit(runID, progress.StageSandbox, 0, "probing sandbox runtime")

	if !r.executor.Available(ctx) {
		r.logger.Warn("sandbox runtime unavailable, using host execution",
			slog.String("run_id", runID))
		r.hostInstall(ctx, runID, plugin, repoPath)
		return false
	}

	r.executor.CleanupOrphans(ctx)
	if err := r.executor.EnsureImage(ctx, plugin.SandboxImage(), "", r.buildDir); err != nil {
		r.logger.Warn("sandbox image unusable, using host execution",
			slog.String("run_id", runID),
			slog.Any("error", err))
		r.hostInstall(ctx, runID, plugin, repoPath)
		return false
	}
	return true
}

func (r *Runner) hostInstall(ctx context.Context, runID string, plugin language.Plugin, repoPath string) {
	argv := plugin.InstallCommand(repoPath)
	if len(argv) == 0 {
		return
	}
	r.emit(runID, progress.StageSandbox, 0, "installing dependencies on host")
	r.host.Install(ctx, repoPath, argv)
}

// iterate runs the bounded test-fix-commit loop, mutating report in
// place. It returns when errors reach zero, an iteration lands no fix,
// or the budget is spent.
func (r *Runner) iterate(
	ctx context.Context,
	runID string,
	budget int,
	plugin language.Plugin,
	mgr Checkpointer,
	repoPath string,
	sandboxed bool,
	report *Report,
) {
	for iter := 1; iter <= budget; iter++ {
		report.Iterations = iter

		r.emit(runID, progress.StageTest, iter,
			fmt.Sprintf("running tests (iteration %d/%d)", iter, budget))
		result := r.runTests(ctx, runID, plugin, repoPath, sandboxed)

		records := plugin.Parse(result.Output)
		report.TotalFailures += len(records)

		if len(records) == 0 {
			r.emit(runID, progress.StageTest, iter, "no errors detected")
			return
		}
		r.emit(runID, progress.StageFix, iter,
			fmt.Sprintf("%d errors extracted", len(records)))

		fixedThisIter := 0
		for _, rec := range records {
			attempt := r.applyFix(ctx, runID, iter, plugin, mgr, rec)
			report.Fixes = append(report.Fixes, attempt)
			if attempt.Fixed {
				fixedThisIter++
			}
		}

		if fixedThisIter == 0 {
			r.emit(runID, progress.StageFix, iter, "no fixes applied, stopping")
			return
		}
	}
}

// runTests executes the plugin's test command with a heartbeat alive for
// the duration. Timeouts and invocation failures come back as a failed
// Result whose output feeds the extractor like any other.
func (r *Runner) runTests(ctx context.Context, runID string, plugin language.Plugin, repoPath string, sandboxed bool) sandbox.Result {
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go r.broker.Heartbeat(hbCtx, runID, r.heartbeatInterval)
	defer stopHeartbeat()

	if sandboxed {
		result, err := r.executor.Run(ctx, sandbox.Spec{
			RepoPath: repoPath,
			Image:    plugin.SandboxImage(),
			Network:  plugin.NetworkRequired(),
		})
		if err != nil && !errors.Is(err, sandbox.ErrExecTimeout) {
			r.logger.Warn("sandboxed execution failed",
				slog.String("run_id", runID),
				slog.Any("error", err))
		}
		return result
	}

	result, err := r.host.Run(ctx, repoPath, plugin.TestCommand())
	if err != nil {
		r.logger.Warn("host execution failed",
			slog.String("run_id", runID),
			slog.Any("error", err))
	}
	return result
}

// applyFix attempts one repair and, when it lands, commits the touched
// file. Every failure mode becomes a Failed attempt; nothing here can
// abort the loop.
func (r *Runner) applyFix(
	ctx context.Context,
	runID string,
	iter int,
	plugin language.Plugin,
	mgr Checkpointer,
	rec language.ErrorRecord,
) FixAttempt {
	attempt := FixAttempt{Record: rec}

	ok, err := plugin.Fix(rec)
	if err != nil || !ok {
		if err != nil && !errors.Is(err, language.ErrFixPrecondition) {
			r.logger.Warn("fix rule failed",
				slog.String("run_id", runID),
				slog.String("file", rec.File),
				slog.Int("line", rec.Line),
				slog.Any("error", err))
		}
		return attempt
	}

	msg, err := mgr.CommitFix(ctx, rec.File, rec.Kind.String(), rec.Line)
	if err != nil {
		r.logger.Warn("commit failed after fix",
			slog.String("run_id", runID),
			slog.String("file", rec.File),
			slog.Any("error", err))
		return attempt
	}

	attempt.Fixed = true
	attempt.CommitMessage = msg

	// Stat failures leave the counts at zero.
	if stat, err := mgr.LastCommitStat(ctx); err == nil {
		attempt.LinesAdded = stat.Added
		attempt.LinesDeleted = stat.Deleted
	}

	r.emit(runID, progress.StageCommit, iter, msg)
	return attempt
}

// ===== HELPERS =====

func (r *Runner) emit(runID string, stage progress.Stage, iter int, msg string) {
	r.broker.Publish(runID, progress.Event{
		Stage:     stage,
		Iteration: iter,
		Message:   msg,
	})
}

func validate(req Request) error {
	if strings.TrimSpace(req.RepoURL) == "" {
		return fmt.Errorf("%w: repository URL is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Team) == "" || strings.TrimSpace(req.Leader) == "" {
		return fmt.Errorf("%w: team and leader are required", ErrInvalidRequest)
	}
	return nil
}

func countFixed(fixes []FixAttempt) int {
	n := 0
	for _, f := range fixes {
		if f.Fixed {
			n++
		}
	}
	return n
}
