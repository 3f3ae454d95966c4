// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gitrepo manages the working clone and the fix branch for a
// repair run. Every accepted fix becomes exactly one commit on a branch
// named for the requesting team and leader, so a human reviewer can walk
// the branch commit by commit and see each change in isolation.
//
// The manager is a linear state machine (see State). It shells out to the
// git binary rather than linking a git implementation; clone targets are
// removed with escalating strategies before reuse so a stale or
// permission-damaged checkout never poisons a new run.
package gitrepo

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ===== CONSTANTS =====

const (
	// BranchSuffix terminates every fix branch name.
	BranchSuffix = "AI_FIX"

	// commitPrefix marks every fix commit as machine-authored.
	commitPrefix = "[AI-AGENT]"

	defaultCloneTimeout = 5 * time.Minute
	defaultGitTimeout   = 60 * time.Second
)

// ===== BRANCH NAMING =====

// FormatBranch builds the fix branch name from the requesting team and
// leader: both are upper-cased, runs of whitespace collapse to single
// underscores, and the AI_FIX suffix is appended.
//
// Example:
//
//	FormatBranch("qa team", "jane doe") == "QA_TEAM_JANE_DOE_AI_FIX"
func FormatBranch(team, leader string) string {
	return sanitizeRef(team) + "_" + sanitizeRef(leader) + "_" + BranchSuffix
}

func sanitizeRef(s string) string {
	fields := strings.Fields(strings.ToUpper(strings.TrimSpace(s)))
	return strings.Join(fields, "_")
}

// ===== MANAGER =====

// Manager owns one working clone and its fix branch.
//
// Thread Safety: all methods take the internal mutex; a Manager may be
// shared, though runs normally use one Manager each.
type Manager struct {
	mu sync.Mutex

	workspaceDir string
	logger       *slog.Logger

	cloneTimeout time.Duration
	gitTimeout   time.Duration

	repoPath string
	branch   string
	state    State
	commits  int
}

// Option configures a Manager.
type Option func(*Manager)

// WithCloneTimeout bounds the clone subprocess.
func WithCloneTimeout(d time.Duration) Option {
	return func(m *Manager) { m.cloneTimeout = d }
}

// WithGitTimeout bounds every non-clone git subprocess.
func WithGitTimeout(d time.Duration) Option {
	return func(m *Manager) { m.gitTimeout = d }
}

// NewManager creates a Manager that clones under workspaceDir.
func NewManager(workspaceDir string, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		workspaceDir: workspaceDir,
		logger:       logger,
		cloneTimeout: defaultCloneTimeout,
		gitTimeout:   defaultGitTimeout,
		state:        StateAbsent,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// RepoPath returns the absolute path of the working clone, or "" before
// Clone succeeds.
func (m *Manager) RepoPath() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repoPath
}

// Branch returns the fix branch name, or "" before CreateBranch.
func (m *Manager) Branch() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.branch
}

// CommitCount returns how many fix commits have been made.
func (m *Manager) CommitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}

// Clone fetches repoURL into a directory under the workspace named after
// the repository. A pre-existing target directory is removed first with
// the escalating strategies in removeTree. Failure is fatal to the run
// and wraps ErrCloneFailed.
//
// Outputs:
//   - string: absolute path of the working clone.
//   - error: nil on success.
func (m *Manager) Clone(ctx context.Context, repoURL string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	target := filepath.Join(m.workspaceDir, repoDirName(repoURL))
	m.state = StateCloning

	// The workspace is keyed by run id and does not exist yet on the
	// first clone into it.
	if err := os.MkdirAll(m.workspaceDir, 0o750); err != nil {
		m.state = StateAbsent
		return "", fmt.Errorf("%w: creating workspace %s: %v", ErrCloneFailed, m.workspaceDir, err)
	}

	if err := removeTree(target, m.logger); err != nil {
		m.state = StateAbsent
		return "", fmt.Errorf("%w: clearing %s: %v", ErrCloneFailed, target, err)
	}

	m.logger.Info("cloning repository",
		slog.String("url", repoURL),
		slog.String("target", target))

	cloneCtx, cancel := context.WithTimeout(ctx, m.cloneTimeout)
	defer cancel()
	if _, err := runGit(cloneCtx, m.workspaceDir, "clone", repoURL, target); err != nil {
		m.state = StateAbsent
		return "", fmt.Errorf("%w: %v", ErrCloneFailed, err)
	}

	m.repoPath = target
	m.state = StateClean
	return target, nil
}

// CreateBranch checks out the fix branch for the given team and leader.
// If the branch already exists locally it is checked out as-is; if
// creation fails for any other reason a monotonic suffix derived from the
// clock is appended until creation succeeds.
//
// Outputs:
//   - string: the branch name actually checked out.
//   - error: nil on success.
func (m *Manager) CreateBranch(ctx context.Context, team, leader string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateAbsent || m.state == StateCloning {
		return "", ErrNotCloned
	}

	name := FormatBranch(team, leader)
	branch, err := m.checkoutBranch(ctx, name)
	if err != nil {
		return "", err
	}

	m.branch = branch
	m.state = StateBranched
	m.logger.Info("fix branch ready", slog.String("branch", branch))
	return branch, nil
}

func (m *Manager) checkoutBranch(ctx context.Context, name string) (string, error) {
	if _, err := m.git(ctx, "checkout", "-b", name); err == nil {
		return name, nil
	}

	// The branch may survive from an earlier run against the same clone.
	if _, err := m.git(ctx, "checkout", name); err == nil {
		m.logger.Warn("reusing existing fix branch", slog.String("branch", name))
		return name, nil
	}

	suffixed := fmt.Sprintf("%s_%d", name, time.Now().Unix())
	if _, err := m.git(ctx, "checkout", "-b", suffixed); err != nil {
		return "", fmt.Errorf("creating branch %s: %w", suffixed, err)
	}
	m.logger.Warn("branch name collided, using suffixed name",
		slog.String("requested", name),
		slog.String("branch", suffixed))
	return suffixed, nil
}

// CommitFix stages exactly the given file and commits it with the
// standard machine-authored message. filePath may be absolute (inside
// the clone) or relative to the clone root.
//
// Outputs:
//   - string: the commit message used.
//   - error: nil on success.
func (m *Manager) CommitFix(ctx context.Context, filePath, kind string, line int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateBranched && m.state != StateCommitting {
		return "", ErrNotCloned
	}

	rel := filePath
	if filepath.IsAbs(filePath) {
		r, err := filepath.Rel(m.repoPath, filePath)
		if err != nil || strings.HasPrefix(r, "..") {
			return "", fmt.Errorf("%w: %s is outside the clone", ErrGitCommand, filePath)
		}
		rel = r
	}

	if _, err := m.git(ctx, "add", "--", rel); err != nil {
		return "", fmt.Errorf("staging %s: %w", rel, err)
	}

	msg := fmt.Sprintf("%s Fixed %s error in %s line %d",
		commitPrefix, kind, filepath.Base(rel), line)
	if _, err := m.git(ctx, "commit", "-m", msg); err != nil {
		return "", fmt.Errorf("committing %s: %w", rel, err)
	}

	m.commits++
	m.state = StateCommitting
	m.logger.Info("fix committed",
		slog.String("file", rel),
		slog.String("kind", kind),
		slog.Int("line", line))
	return msg, nil
}

// Push uploads the fix branch to origin. It is a no-op when no fix
// commits exist. Failure wraps ErrPushFailed and leaves the local
// commits intact.
func (m *Manager) Push(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.commits == 0 {
		m.logger.Info("no fix commits, skipping push")
		return nil
	}

	if _, err := m.git(ctx, "push", "-u", "origin", m.branch); err != nil {
		m.state = StatePushFailed
		return fmt.Errorf("%w: %v", ErrPushFailed, err)
	}

	m.state = StatePushed
	m.logger.Info("fix branch pushed",
		slog.String("branch", m.branch),
		slog.Int("commits", m.commits))
	return nil
}

// Teardown removes the working clone. Safe to call in any state.
func (m *Manager) Teardown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.repoPath == "" {
		return nil
	}
	err := removeTree(m.repoPath, m.logger)
	if err == nil {
		m.repoPath = ""
		m.state = StateAbsent
	}
	return err
}

// ===== GIT SUBPROCESS =====

func (m *Manager) git(ctx context.Context, args ...string) (string, error) {
	gitCtx, cancel := context.WithTimeout(ctx, m.gitTimeout)
	defer cancel()
	return runGit(gitCtx, m.repoPath, args...)
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return stdout.String(), fmt.Errorf("%w: git %s: %s",
			ErrGitCommand, strings.Join(args, " "), detail)
	}
	return stdout.String(), nil
}

// repoDirName derives the clone directory name from a repository URL.
func repoDirName(repoURL string) string {
	trimmed := strings.TrimSuffix(strings.TrimSuffix(repoURL, "/"), ".git")
	if idx := strings.LastIndexAny(trimmed, "/:"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	if trimmed == "" {
		return "repo"
	}
	return trimmed
}
