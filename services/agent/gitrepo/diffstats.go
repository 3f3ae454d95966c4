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

import (
	"context"
	"fmt"

	"github.com/sourcegraph/go-diff/diff"
)

// LastCommitStat reports the line churn of the most recent commit. Used
// after CommitFix to annotate the fix attempt in the run report.
func (m *Manager) LastCommitStat(ctx context.Context) (DiffStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.commits == 0 {
		return DiffStat{}, fmt.Errorf("%w: no commits to diff", ErrGitCommand)
	}

	out, err := m.git(ctx, "show", "--format=", "-U0", "HEAD")
	if err != nil {
		return DiffStat{}, err
	}

	files, err := diff.ParseMultiFileDiff([]byte(out))
	if err != nil {
		return DiffStat{}, fmt.Errorf("parsing commit diff: %w", err)
	}

	var stat DiffStat
	for _, f := range files {
		s := f.Stat()
		stat.Added += int(s.Added + s.Changed)
		stat.Deleted += int(s.Deleted + s.Changed)
	}
	return stat, nil
}
