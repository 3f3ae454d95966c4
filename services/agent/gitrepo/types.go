// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gitrepo

import "errors"

var (
	// ErrCloneFailed indicates the repository could not be cloned. This is
	// the only error fatal to a run: no report can be produced without a
	// working clone.
	ErrCloneFailed = errors.New("clone failed")

	// ErrPushFailed indicates the fix branch could not be pushed. Local
	// commits are kept; the failure is surfaced in the final report.
	ErrPushFailed = errors.New("push failed")

	// ErrNotCloned indicates an operation that requires a working clone
	// was called before Clone succeeded.
	ErrNotCloned = errors.New("repository not cloned")

	// ErrGitCommand indicates a git subprocess failed.
	ErrGitCommand = errors.New("git command failed")
)

// State tracks the manager's position in its lifecycle. Transitions are
// linear: Absent -> Cloning -> Clean -> Branched -> (Committing)* ->
// Pushed or PushFailed.
type State int

const (
	// StateAbsent means no working clone exists yet.
	StateAbsent State = iota

	// StateCloning means a clone is in progress.
	StateCloning

	// StateClean means the clone exists on its default branch.
	StateClean

	// StateBranched means the fix branch is checked out.
	StateBranched

	// StateCommitting means at least one fix commit has been made.
	StateCommitting

	// StatePushed means the fix branch reached the remote.
	StatePushed

	// StatePushFailed means the push was attempted and failed; local
	// commits remain.
	StatePushFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateCloning:
		return "cloning"
	case StateClean:
		return "clean"
	case StateBranched:
		return "branched"
	case StateCommitting:
		return "committing"
	case StatePushed:
		return "pushed"
	case StatePushFailed:
		return "push_failed"
	default:
		return "unknown"
	}
}

// DiffStat summarizes the line churn of one fix commit.
type DiffStat struct {
	Added   int
	Deleted int
}
