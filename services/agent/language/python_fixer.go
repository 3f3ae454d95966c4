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
	"log/slog"
	"regexp"
	"strings"
)

// =============================================================================
// PYTHON FIX RULES
// =============================================================================

var (
	pyMissingModuleRe = regexp.MustCompile(`No module named '(.*?)'`)
	pyUndefinedNameRe = regexp.MustCompile(`name '(\w+)' is not defined`)

	// Block-opening keywords that require a trailing colon.
	pyBlockKeywords = []string{"def ", "class ", "if ", "for ", "while ", "elif ", "else"}
)

// pyTypingNames are the well-known typing symbols the type-error rule may
// merge into an import clause.
var pyTypingNames = map[string]bool{
	"List": true, "Dict": true, "Optional": true, "Set": true,
	"Tuple": true, "Union": true, "Any": true, "Callable": true,
}

// pythonFixer applies bounded textual repairs to Python sources.
type pythonFixer struct {
	repoRoot string
}

func (f *pythonFixer) resolve(path string) string {
	return resolveUnder(f.repoRoot, path)
}

// Fix dispatches one record to its kind-specific rule.
//
// Description:
//
//	Each rule reads the target file in full, verifies its preconditions,
//	applies one narrowly scoped transformation, and writes the file back
//	only when a change was made. Rules re-derive whether the fix is still
//	needed before writing, so repeated application across iterations is a
//	no-op failure rather than a double edit.
func (f *pythonFixer) Fix(record ErrorRecord) (bool, error) {
	switch record.Kind {
	case KindSyntax:
		return f.fixSyntax(record)
	case KindIndentation:
		return f.fixIndentation(record)
	case KindImport:
		return f.fixImport(record)
	case KindTypeError:
		return f.fixTypeError(record)
	case KindLogic:
		return f.fixLogic(record)
	case KindLinting:
		return f.fixLinting(record)
	default:
		return false, fmt.Errorf("%w: %s", ErrUnknownKind, record.Kind)
	}
}

// fixSyntax appends a missing colon to a block-opening line.
//
// The code portion is split from any trailing inline comment so the colon
// lands before the comment. Lines whose code already ends with a colon are
// reported as already satisfied.
func (f *pythonFixer) fixSyntax(record ErrorRecord) (bool, error) {
	file, err := loadSourceFile(f.resolve(record.File))
	if err != nil {
		return false, err
	}
	if !file.inRange(record.Line) {
		return false, preconditionf("line %d out of range (%d lines)", record.Line, len(file.lines))
	}

	line := file.line(record.Line)
	if !containsBlockKeyword(line) {
		return false, preconditionf("line %d is not a block-opening statement", record.Line)
	}

	code, comment := splitInlineComment(line)
	code = strings.TrimRight(code, " \t")
	if strings.HasSuffix(code, ":") {
		return false, preconditionf("line %d already ends with ':'", record.Line)
	}

	file.setLine(record.Line, code+":"+comment)
	if err := file.write(); err != nil {
		return false, err
	}
	slog.Debug("Added missing colon", slog.String("file", record.File), slog.Int("line", record.Line))
	return true, nil
}

// fixIndentation normalizes tabs and realigns the line against its
// preceding context: a block opener above means one level deeper, an
// under-indented line adopts the previous line's indent.
func (f *pythonFixer) fixIndentation(record ErrorRecord) (bool, error) {
	file, err := loadSourceFile(f.resolve(record.File))
	if err != nil {
		return false, err
	}
	if !file.inRange(record.Line) {
		return false, preconditionf("line %d out of range (%d lines)", record.Line, len(file.lines))
	}

	changed := false
	line := file.line(record.Line)
	if strings.Contains(line, "\t") {
		line = strings.ReplaceAll(line, "\t", "    ")
		file.setLine(record.Line, line)
		changed = true
	}

	stripped := strings.TrimLeft(line, " ")
	if record.Line > 1 && stripped != "" {
		prev := file.line(record.Line - 1)
		prevIndent := len(indentOf(prev))
		curIndent := len(line) - len(stripped)

		if strings.HasSuffix(strings.TrimRight(strings.TrimLeft(prev, " \t"), " \t"), ":") {
			expected := prevIndent + 4
			if curIndent != expected {
				file.setLine(record.Line, strings.Repeat(" ", expected)+stripped)
				changed = true
			}
		} else if curIndent < prevIndent {
			file.setLine(record.Line, strings.Repeat(" ", prevIndent)+stripped)
			changed = true
		}
	}

	if !changed {
		return false, preconditionf("indentation at line %d already consistent", record.Line)
	}
	if err := file.write(); err != nil {
		return false, err
	}
	return true, nil
}

// fixImport comments out the import of a module the interpreter could not
// resolve. Commenting rather than deleting keeps the edit auditable and
// reversible.
func (f *pythonFixer) fixImport(record ErrorRecord) (bool, error) {
	m := pyMissingModuleRe.FindStringSubmatch(record.Message)
	if m == nil {
		return false, preconditionf("no module name in message %q", record.Message)
	}
	module := m[1]

	file, err := loadSourceFile(f.resolve(record.File))
	if err != nil {
		return false, err
	}

	for i, line := range file.lines {
		trimmed := strings.TrimLeft(line, " \t")
		if strings.HasPrefix(trimmed, "#") {
			continue
		}
		if strings.Contains(line, "import "+module) || strings.Contains(line, "from "+module) {
			file.setLine(i+1, "# "+line)
			if err := file.write(); err != nil {
				return false, err
			}
			slog.Debug("Commented out unresolvable import",
				slog.String("file", record.File),
				slog.String("module", module),
			)
			return true, nil
		}
	}
	return false, preconditionf("no active import of %q found", module)
}

// fixLogic inserts a placeholder initializer for an undefined name
// immediately above its first offending use, inheriting that use's
// indentation.
func (f *pythonFixer) fixLogic(record ErrorRecord) (bool, error) {
	m := pyUndefinedNameRe.FindStringSubmatch(record.Message)
	if m == nil {
		return false, preconditionf("no undefined name in message %q", record.Message)
	}
	name := m[1]

	file, err := loadSourceFile(f.resolve(record.File))
	if err != nil {
		return false, err
	}
	if !file.inRange(record.Line) {
		return false, preconditionf("line %d out of range (%d lines)", record.Line, len(file.lines))
	}

	indent := indentOf(file.line(record.Line))
	init := indent + name + " = None  # AI-AGENT: Auto-initialized"
	if record.Line > 1 && strings.TrimRight(file.line(record.Line-1), " \t") == strings.TrimRight(init, " \t") {
		return false, preconditionf("%s already initialized above line %d", name, record.Line)
	}

	file.insertBefore(record.Line, init)
	if err := file.write(); err != nil {
		return false, err
	}
	slog.Debug("Initialized undefined name",
		slog.String("file", record.File),
		slog.String("name", name),
		slog.Int("line", record.Line),
	)
	return true, nil
}

// fixTypeError merges a missing well-known typing symbol into an existing
// `from typing import` clause, or synthesizes a new import after the last
// import statement (or at file top when none exist).
func (f *pythonFixer) fixTypeError(record ErrorRecord) (bool, error) {
	name := f.undefinedTypingName(record)
	if name == "" {
		return false, preconditionf("no typing symbol identified in message %q", record.Message)
	}

	file, err := loadSourceFile(f.resolve(record.File))
	if err != nil {
		return false, err
	}

	typingLine := -1
	lastImport := -1
	for i, line := range file.lines {
		if strings.HasPrefix(line, "from typing import") {
			if containsImportedName(line, name) {
				return false, preconditionf("%s already imported", name)
			}
			typingLine = i + 1
			break
		}
		if strings.HasPrefix(line, "import ") || strings.HasPrefix(line, "from ") {
			lastImport = i + 1
		}
	}

	if typingLine > 0 {
		file.setLine(typingLine, strings.TrimRight(file.line(typingLine), " \t")+", "+name)
	} else {
		insertAt := 1
		if lastImport > 0 {
			insertAt = lastImport + 1
		}
		file.insertBefore(insertAt, "from typing import "+name)
	}

	if err := file.write(); err != nil {
		return false, err
	}
	slog.Debug("Added typing import", slog.String("file", record.File), slog.String("name", name))
	return true, nil
}

// fixLinting removes an unused import line.
func (f *pythonFixer) fixLinting(record ErrorRecord) (bool, error) {
	file, err := loadSourceFile(f.resolve(record.File))
	if err != nil {
		return false, err
	}
	if !file.inRange(record.Line) {
		return false, preconditionf("line %d out of range (%d lines)", record.Line, len(file.lines))
	}

	if !strings.Contains(strings.ToLower(file.line(record.Line)), "import") {
		return false, preconditionf("line %d is not an import statement", record.Line)
	}

	file.removeLine(record.Line)
	if err := file.write(); err != nil {
		return false, err
	}
	return true, nil
}

// undefinedTypingName extracts the undefined symbol from the message, or
// falls back to scanning the offending line for a typing annotation.
func (f *pythonFixer) undefinedTypingName(record ErrorRecord) string {
	if m := pyUndefinedNameRe.FindStringSubmatch(record.Message); m != nil {
		if pyTypingNames[m[1]] {
			return m[1]
		}
		return ""
	}

	file, err := loadSourceFile(f.resolve(record.File))
	if err != nil || !file.inRange(record.Line) {
		return ""
	}
	annRe := regexp.MustCompile(`: (List|Dict|Optional|Set|Tuple|Union)\[`)
	if m := annRe.FindStringSubmatch(file.line(record.Line)); m != nil {
		return m[1]
	}
	return ""
}

// containsBlockKeyword reports whether the line opens a Python block.
func containsBlockKeyword(line string) bool {
	for _, kw := range pyBlockKeywords {
		if strings.Contains(line, kw) {
			return true
		}
	}
	return false
}

// splitInlineComment splits a line into code and trailing comment parts,
// keeping a leading space on the comment so the rejoined line reads
// naturally.
func splitInlineComment(line string) (code, comment string) {
	if idx := strings.Index(line, "#"); idx >= 0 {
		return line[:idx], " " + line[idx:]
	}
	return line, ""
}
