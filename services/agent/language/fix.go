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
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// =============================================================================
// FIX RULE SUPPORT
// =============================================================================

// sourceFile is an in-memory copy of one target file, edited by a single
// fix rule and written back whole. Lines carry no terminators; the final
// join restores the original newline layout. A rule either writes the
// complete edited file or leaves the original untouched.
type sourceFile struct {
	path  string
	lines []string
	mode  os.FileMode
}

// loadSourceFile reads the whole file.
func loadSourceFile(path string) (*sourceFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return &sourceFile{
		path:  path,
		lines: strings.Split(string(data), "\n"),
		mode:  info.Mode().Perm(),
	}, nil
}

// inRange reports whether the 1-based line number addresses a real line.
func (f *sourceFile) inRange(line int) bool {
	return line >= 1 && line <= len(f.lines)
}

// line returns the 1-based line.
func (f *sourceFile) line(n int) string {
	return f.lines[n-1]
}

// setLine replaces the 1-based line.
func (f *sourceFile) setLine(n int, content string) {
	f.lines[n-1] = content
}

// insertBefore inserts a new line above the 1-based position.
func (f *sourceFile) insertBefore(n int, content string) {
	f.lines = append(f.lines, "")
	copy(f.lines[n:], f.lines[n-1:])
	f.lines[n-1] = content
}

// removeLine deletes the 1-based line.
func (f *sourceFile) removeLine(n int) {
	f.lines = append(f.lines[:n-1], f.lines[n:]...)
}

// write rewrites the file in full.
func (f *sourceFile) write() error {
	content := strings.Join(f.lines, "\n")
	if err := os.WriteFile(f.path, []byte(content), f.mode); err != nil {
		return fmt.Errorf("writing %s: %w", f.path, err)
	}
	return nil
}

// resolveUnder anchors a relative record path beneath the working
// clone. Absolute paths, the parsers' normal product, pass through.
func resolveUnder(root, path string) string {
	if root == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

// indentOf returns the line's leading whitespace.
func indentOf(line string) string {
	return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
}

// preconditionf builds an ErrFixPrecondition error with context.
func preconditionf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFixPrecondition, fmt.Sprintf(format, args...))
}

// containsImportedName reports whether an import clause already names the
// symbol as a standalone word.
func containsImportedName(line, name string) bool {
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\b`)
	return re.MatchString(line)
}
