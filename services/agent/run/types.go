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
	"errors"
	"time"

	"github.com/AleutianAI/rift/services/agent/language"
)

// ===== ERRORS =====

var (
	// ErrInvalidRequest indicates a malformed run request.
	ErrInvalidRequest = errors.New("invalid run request")
)

// ===== STATUS =====

// Status is the terminal outcome of a run. It is derived purely from
// the accumulated fix list: Passed when fixes exist and every one
// landed, Failed when none landed, Partial otherwise.
type Status string

const (
	StatusPassed  Status = "Passed"
	StatusPartial Status = "Partial"
	StatusFailed  Status = "Failed"
)

// deriveStatus applies the status law to a fix list.
func deriveStatus(fixes []FixAttempt) Status {
	fixed := 0
	for _, f := range fixes {
		if f.Fixed {
			fixed++
		}
	}
	switch {
	case fixed == 0:
		return StatusFailed
	case fixed == len(fixes):
		return StatusPassed
	default:
		return StatusPartial
	}
}

// ===== REQUEST / REPORT =====

// Request describes one repair run.
type Request struct {
	RepoURL     string `json:"repo_url" binding:"required,url"`
	Team        string `json:"team" binding:"required"`
	Leader      string `json:"leader" binding:"required"`
	RetryBudget int    `json:"retry_budget" binding:"omitempty,min=1,max=20"`
}

// FixAttempt records one attempted repair. Created once per attempt and
// never mutated afterwards.
type FixAttempt struct {
	Record        language.ErrorRecord `json:"record"`
	Fixed         bool                 `json:"fixed"`
	CommitMessage string               `json:"commit_message,omitempty"`
	LinesAdded    int                  `json:"lines_added,omitempty"`
	LinesDeleted  int                  `json:"lines_deleted,omitempty"`
}

// Report is the final result of a run. The caller owns persistence.
type Report struct {
	RunID         string        `json:"run_id"`
	Status        Status        `json:"status"`
	Language      string        `json:"language"`
	Branch        string        `json:"branch"`
	Iterations    int           `json:"iterations"`
	TotalFailures int           `json:"total_failures"`
	TotalFixes    int           `json:"total_fixes"`
	Fixes         []FixAttempt  `json:"fixes"`
	Sandboxed     bool          `json:"sandboxed"`
	PushError     string        `json:"push_error,omitempty"`
	Duration      time.Duration `json:"duration"`
	StartedAt     time.Time     `json:"started_at"`
}
