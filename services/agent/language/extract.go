// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package language

import (
	"path/filepath"
	"strings"
)

// SandboxMountRoot is where the working clone is mounted inside sandbox
// containers. Parsers use it to translate container paths back to host
// paths.
const SandboxMountRoot = "/workspace"

// lookaheadWindow is how many lines of context a parser inspects after an
// anchor line when classifying the error kind.
const lookaheadWindow = 5

// resolvePath translates a raw anchor path into a host-resolved path.
//
// Description:
//
//	Container-absolute paths under SandboxMountRoot are rebased onto the
//	repository root. Relative paths are joined to the root. Host-absolute
//	paths are kept as-is. Returns ("", false) when translation is
//	impossible: a container path with no known root, or a pseudo-file such
//	as Python's "<frozen importlib._bootstrap>".
func resolvePath(raw, repoRoot string) (string, bool) {
	if strings.HasPrefix(raw, "<") {
		return "", false
	}
	if strings.HasPrefix(raw, SandboxMountRoot) {
		if repoRoot == "" {
			return "", false
		}
		rel := strings.TrimPrefix(raw, SandboxMountRoot)
		rel = strings.TrimLeft(rel, "/")
		return filepath.Join(repoRoot, rel), true
	}
	if filepath.IsAbs(raw) {
		return filepath.Clean(raw), true
	}
	if repoRoot != "" {
		return filepath.Join(repoRoot, raw), true
	}
	return raw, true
}

// inProject reports whether a host-resolved path falls inside the
// repository root. With no known root every path is accepted and filtering
// falls back to the skip pattern lists.
func inProject(path, repoRoot string) bool {
	if repoRoot == "" || !filepath.IsAbs(path) {
		return true
	}
	rel, err := filepath.Rel(repoRoot, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// skippedPath reports whether the path matches any of the given non-project
// patterns (stdlib, package caches, build output, runner internals).
func skippedPath(path string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(path, p) {
			return true
		}
	}
	return false
}

// recordCollector accumulates ErrorRecords, deduplicating on
// (file, line, kind) and preserving the order of first appearance.
type recordCollector struct {
	records []ErrorRecord
	seen    map[string]bool
}

func newRecordCollector() *recordCollector {
	return &recordCollector{seen: make(map[string]bool)}
}

// add appends the record unless its key was already seen.
func (c *recordCollector) add(r ErrorRecord) {
	key := r.Key()
	if c.seen[key] {
		return
	}
	c.seen[key] = true
	c.records = append(c.records, r)
}

// result returns the collected records, never nil.
func (c *recordCollector) result() []ErrorRecord {
	if c.records == nil {
		return []ErrorRecord{}
	}
	return c.records
}

// kindPattern pairs an ErrorKind with the regex sources that identify it.
// Tables are ordered: the first kind whose patterns match the context wins.
type kindPattern struct {
	kind     ErrorKind
	patterns []string
}

// contextWindow joins the anchor line with up to lookaheadWindow following
// lines for kind classification.
func contextWindow(lines []string, i int) string {
	end := i + lookaheadWindow
	if end > len(lines) {
		end = len(lines)
	}
	return strings.Join(lines[i:end], "\n")
}

// truncateMessage bounds a raw matched message for storage.
func truncateMessage(msg string) string {
	msg = strings.TrimSpace(msg)
	if len(msg) > 200 {
		return msg[:200]
	}
	return msg
}
