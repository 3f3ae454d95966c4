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
// JAVASCRIPT / TYPESCRIPT FIX RULES
// =============================================================================

var (
	jsQuotedNameRe  = regexp.MustCompile(`'([^']+)'`)
	jsUndefinedRe   = regexp.MustCompile(`'?(\w+)'? is not defined`)
	jsPropAccessRe  = regexp.MustCompile(`(\w+)\.(\w+)`)
	jsMethodCallRe  = regexp.MustCompile(`(\w+)\.(\w+)\(`)
	jsEmptyImportRe = regexp.MustCompile(`\{\s*\}`)
)

// reactSymbols are the well-known React identifiers the logic rule may
// merge into an import clause from 'react'.
var reactSymbols = map[string]bool{
	"useState": true, "useEffect": true, "useContext": true, "useCallback": true,
	"useMemo": true, "useRef": true, "useReducer": true, "useLayoutEffect": true,
	"createContext": true, "createElement": true, "forwardRef": true,
	"memo": true, "lazy": true, "Suspense": true,
}

// javascriptFixer applies bounded textual repairs to JS/TS sources.
type javascriptFixer struct {
	repoRoot string
}

func (f *javascriptFixer) resolve(path string) string {
	return resolveUnder(f.repoRoot, path)
}

// Fix dispatches one record to its kind-specific rule.
func (f *javascriptFixer) Fix(record ErrorRecord) (bool, error) {
	switch record.Kind {
	case KindSyntax:
		return f.fixSyntax(record)
	case KindTypeError:
		return f.fixTypeError(record)
	case KindImport:
		return f.fixImport(record)
	case KindLogic:
		return f.fixLogic(record)
	case KindIndentation:
		return f.fixIndentation(record)
	default:
		return false, fmt.Errorf("%w: %s", ErrUnknownKind, record.Kind)
	}
}

// fixSyntax repairs the token the message names: a missing semicolon,
// brace, parenthesis, bracket, or an unbalanced quote.
func (f *javascriptFixer) fixSyntax(record ErrorRecord) (bool, error) {
	file, err := loadSourceFile(f.resolve(record.File))
	if err != nil {
		return false, err
	}
	if !file.inRange(record.Line) {
		return false, preconditionf("line %d out of range (%d lines)", record.Line, len(file.lines))
	}

	line := file.line(record.Line)
	msg := strings.ToLower(record.Message)
	changed := false

	switch {
	case strings.Contains(msg, "missing ;") || strings.Contains(msg, "semicolon"):
		trimmed := strings.TrimRight(line, " \t")
		if !hasAnySuffix(trimmed, ";", "{", "}", ",", "//") {
			file.setLine(record.Line, trimmed+";")
			changed = true
		}

	case strings.Contains(msg, "missing }"):
		file.insertBefore(record.Line+1, indentOf(line)+"}")
		changed = true

	case strings.Contains(msg, "missing )"):
		file.setLine(record.Line, strings.TrimRight(line, " \t")+")")
		changed = true

	case strings.Contains(msg, "missing ]"):
		file.setLine(record.Line, strings.TrimRight(line, " \t")+"]")
		changed = true

	case strings.Contains(msg, "unexpected token") && strings.Contains(line, `"`):
		if strings.Count(line, `"`)%2 != 0 {
			file.setLine(record.Line, strings.TrimRight(line, " \t")+`";`)
			changed = true
		}

	case strings.Contains(msg, "unexpected end of input"):
		file.lines = append(file.lines, "}")
		changed = true

	case strings.Contains(line, "const ") && !strings.Contains(line, "=") && strings.Contains(line, ";"):
		file.setLine(record.Line, strings.Replace(line, "const ", "let ", 1))
		changed = true
	}

	if !changed {
		return false, preconditionf("no syntax repair applicable at line %d", record.Line)
	}
	if err := file.write(); err != nil {
		return false, err
	}
	slog.Debug("Applied syntax repair", slog.String("file", record.File), slog.Int("line", record.Line))
	return true, nil
}

// fixTypeError guards a nil access with optional chaining or initializes
// an undefined identifier.
func (f *javascriptFixer) fixTypeError(record ErrorRecord) (bool, error) {
	file, err := loadSourceFile(f.resolve(record.File))
	if err != nil {
		return false, err
	}
	if !file.inRange(record.Line) {
		return false, preconditionf("line %d out of range (%d lines)", record.Line, len(file.lines))
	}

	line := file.line(record.Line)
	msg := strings.ToLower(record.Message)
	changed := false

	switch {
	case strings.Contains(msg, "cannot read propert") &&
		(strings.Contains(msg, "undefined") || strings.Contains(msg, "null")):
		if strings.Contains(line, ".") && !strings.Contains(line, "?.") && !strings.Contains(line, "console.") {
			// Guard only the first property access.
			if loc := jsPropAccessRe.FindStringIndex(line); loc != nil {
				repaired := line[:loc[0]] + strings.Replace(line[loc[0]:loc[1]], ".", "?.", 1) + line[loc[1]:]
				file.setLine(record.Line, repaired)
				changed = true
			}
		}

	case strings.Contains(msg, "is not a function"):
		if strings.Contains(line, "(") && !strings.Contains(line, "?.") {
			if loc := jsMethodCallRe.FindStringIndex(line); loc != nil {
				repaired := line[:loc[0]] + strings.Replace(line[loc[0]:loc[1]], ".", "?.", 1) + line[loc[1]:]
				file.setLine(record.Line, repaired)
				changed = true
			}
		}

	case strings.Contains(msg, "is not defined"):
		m := jsUndefinedRe.FindStringSubmatch(record.Message)
		if m == nil {
			return false, preconditionf("no identifier in message %q", record.Message)
		}
		return f.initializeOrImport(file, record, m[1])
	}

	if !changed {
		return false, preconditionf("no type repair applicable at line %d", record.Line)
	}
	if err := file.write(); err != nil {
		return false, err
	}
	return true, nil
}

// fixImport comments out the unresolvable import or require statement
// rather than deleting it.
func (f *javascriptFixer) fixImport(record ErrorRecord) (bool, error) {
	file, err := loadSourceFile(f.resolve(record.File))
	if err != nil {
		return false, err
	}
	if !file.inRange(record.Line) {
		return false, preconditionf("line %d out of range (%d lines)", record.Line, len(file.lines))
	}

	line := file.line(record.Line)
	trimmed := strings.TrimLeft(line, " \t")
	if strings.HasPrefix(trimmed, "//") {
		return false, preconditionf("line %d already commented out", record.Line)
	}
	if !strings.Contains(strings.ToLower(line), "import") && !strings.Contains(line, "require") {
		return false, preconditionf("line %d is not an import or require", record.Line)
	}

	file.setLine(record.Line, "// "+line)
	if err := file.write(); err != nil {
		return false, err
	}
	slog.Debug("Commented out unresolvable import",
		slog.String("file", record.File),
		slog.Int("line", record.Line),
	)
	return true, nil
}

// fixLogic handles the ESLint no-undef and no-unused-vars families plus
// runaway recursion.
func (f *javascriptFixer) fixLogic(record ErrorRecord) (bool, error) {
	file, err := loadSourceFile(f.resolve(record.File))
	if err != nil {
		return false, err
	}
	if !file.inRange(record.Line) {
		return false, preconditionf("line %d out of range (%d lines)", record.Line, len(file.lines))
	}

	msg := record.Message
	switch {
	case strings.Contains(msg, "is not defined") && strings.Contains(msg, "no-undef"):
		m := jsQuotedNameRe.FindStringSubmatch(msg)
		if m == nil {
			return false, preconditionf("no identifier in message %q", msg)
		}
		return f.addReactImport(file, m[1])

	case strings.Contains(msg, "is defined but never used"),
		strings.Contains(msg, "is assigned a value but never used"):
		m := jsQuotedNameRe.FindStringSubmatch(msg)
		if m == nil {
			return false, preconditionf("no identifier in message %q", msg)
		}
		return f.removeUnused(file, record.Line, m[1])

	case strings.Contains(strings.ToLower(msg), "maximum call stack"):
		indent := indentOf(file.line(record.Line))
		file.insertBefore(record.Line, indent+"if (depth > 100) return; // Recursion guard")
		if err := file.write(); err != nil {
			return false, err
		}
		return true, nil
	}

	return false, preconditionf("no logic repair applicable at line %d", record.Line)
}

// fixIndentation realigns the line with the previous non-empty line.
func (f *javascriptFixer) fixIndentation(record ErrorRecord) (bool, error) {
	file, err := loadSourceFile(f.resolve(record.File))
	if err != nil {
		return false, err
	}
	if !file.inRange(record.Line) {
		return false, preconditionf("line %d out of range (%d lines)", record.Line, len(file.lines))
	}
	if record.Line == 1 {
		return false, preconditionf("no preceding line to align against")
	}

	prev := record.Line - 1
	for prev >= 1 && strings.TrimSpace(file.line(prev)) == "" {
		prev--
	}
	if prev < 1 {
		return false, preconditionf("no preceding line to align against")
	}

	prevIndent := len(indentOf(file.line(prev)))
	line := file.line(record.Line)
	content := strings.TrimLeft(line, " \t")
	aligned := strings.Repeat(" ", prevIndent) + content
	if aligned == line {
		return false, preconditionf("line %d already aligned", record.Line)
	}

	file.setLine(record.Line, aligned)
	if err := file.write(); err != nil {
		return false, err
	}
	return true, nil
}

// initializeOrImport decides between synthesizing an import (for names
// that look like modules or known React symbols) and inserting a `let`
// declaration.
func (f *javascriptFixer) initializeOrImport(file *sourceFile, record ErrorRecord, name string) (bool, error) {
	looksImported := reactSymbols[name] || (name != "" && name[0] >= 'A' && name[0] <= 'Z')

	if looksImported {
		lastImport := -1
		for i, l := range file.lines {
			if strings.Contains(l, "import") && i < 20 {
				lastImport = i + 1
			}
			if containsImportedName(l, name) && strings.Contains(l, "import") {
				return false, preconditionf("%s already imported", name)
			}
		}
		stmt := fmt.Sprintf("import %s from './%s';", name, strings.ToLower(name))
		if lastImport > 0 {
			file.insertBefore(lastImport+1, stmt)
		} else {
			file.insertBefore(1, stmt)
		}
		if err := file.write(); err != nil {
			return false, err
		}
		slog.Debug("Synthesized import", slog.String("file", record.File), slog.String("name", name))
		return true, nil
	}

	indent := indentOf(file.line(record.Line))
	decl := indent + "let " + name + ";"
	if record.Line > 1 && strings.TrimSpace(file.line(record.Line-1)) == strings.TrimSpace(decl) {
		return false, preconditionf("%s already declared above line %d", name, record.Line)
	}
	file.insertBefore(record.Line, decl)
	if err := file.write(); err != nil {
		return false, err
	}
	return true, nil
}

// addReactImport merges the symbol into an existing import from 'react'
// or synthesizes a new destructured import at the top of the file.
func (f *javascriptFixer) addReactImport(file *sourceFile, name string) (bool, error) {
	if !reactSymbols[name] {
		return false, preconditionf("unknown import source for %q", name)
	}

	for i, line := range file.lines {
		if !strings.Contains(line, "from 'react'") && !strings.Contains(line, `from "react"`) {
			continue
		}
		if containsImportedName(line, name) {
			return false, preconditionf("%s already imported from react", name)
		}
		switch {
		case strings.Contains(line, "import {"):
			file.setLine(i+1, strings.Replace(line, "} from", ", "+name+"} from", 1))
		case strings.Contains(line, "import React"):
			file.setLine(i+1, strings.Replace(line, "import React from", "import React, { "+name+" } from", 1))
		default:
			continue
		}
		if err := file.write(); err != nil {
			return false, err
		}
		slog.Debug("Merged symbol into react import", slog.String("name", name))
		return true, nil
	}

	insertAt := 1
	for i, l := range file.lines {
		if strings.TrimSpace(l) != "" && !strings.HasPrefix(strings.TrimSpace(l), "//") {
			insertAt = i + 1
			break
		}
	}
	file.insertBefore(insertAt, "import { "+name+" } from 'react';")
	if err := file.write(); err != nil {
		return false, err
	}
	slog.Debug("Added react import", slog.String("name", name))
	return true, nil
}

// removeUnused drops an unused import or comments out an unused
// declaration.
func (f *javascriptFixer) removeUnused(file *sourceFile, lineNum int, name string) (bool, error) {
	line := file.line(lineNum)
	original := line

	switch {
	case strings.Contains(line, "import"):
		if strings.Contains(line, "import "+name) || strings.Contains(line, "import { "+name+" }") {
			file.removeLine(lineNum)
		} else if containsImportedName(line, name) {
			line = strings.Replace(line, ", "+name, "", 1)
			line = strings.Replace(line, name+", ", "", 1)
			line = strings.Replace(line, name, "", 1)
			line = jsEmptyImportRe.ReplaceAllString(line, "{}")
			file.setLine(lineNum, line)
		} else {
			return false, preconditionf("%s not present on import line %d", name, lineNum)
		}

	case strings.HasPrefix(strings.TrimLeft(line, " \t"), "//"):
		return false, preconditionf("line %d already commented out", lineNum)

	default:
		if !containsImportedName(line, name) {
			return false, preconditionf("%s not present on line %d", name, lineNum)
		}
		file.setLine(lineNum, "// "+line)
	}

	if file.inRange(lineNum) && file.line(lineNum) == original {
		return false, preconditionf("no change for unused %s at line %d", name, lineNum)
	}
	if err := file.write(); err != nil {
		return false, err
	}
	return true, nil
}

// hasAnySuffix reports whether s ends with any of the suffixes.
func hasAnySuffix(s string, suffixes ...string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}
