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
	"regexp"
	"strconv"
	"strings"
)

// =============================================================================
// PYTHON PARSER
// =============================================================================

// Anchor patterns, most specific first.
var (
	// Traceback format: File "path", line 123
	pyTracebackAnchor = regexp.MustCompile(`File "(.*?)", line (\d+)`)

	// Pytest/compiler format: path.py:123:
	pyPytestAnchor = regexp.MustCompile(`^\s*([/\\]?[\w/\\.\-]+\.py):(\d+):`)
)

// pySkipPatterns are non-project path fragments: interpreter stdlib,
// package caches, and test runner internals that show up in cascaded
// tracebacks.
var pySkipPatterns = []string{
	"site-packages",
	"dist-packages",
	"/usr/lib/python",
	"/usr/local/lib/python",
	"_pytest",
	"pluggy",
	"importlib",
	"unittest",
}

// pyKindTable classifies Python errors; ordered, first match wins.
var pyKindTable = []kindPattern{
	{KindSyntax, []string{
		`SyntaxError`,
		`expected ':'`,
		`invalid syntax`,
		`EOL while scanning string literal`,
		`unterminated string`,
		`Missing parentheses in call to 'print'`,
		`unexpected EOF`,
		`unmatched`,
		`closing parenthesis`,
	}},
	{KindIndentation, []string{
		`IndentationError`,
		`unexpected indent`,
		`expected an indented block`,
		`unindent does not match`,
	}},
	{KindImport, []string{
		`ModuleNotFoundError`,
		`No module named`,
		`cannot import name`,
		`attempted relative import`,
		`ImportError`,
	}},
	{KindTypeError, []string{
		`TypeError`,
		`name '(List|Dict|Set|Tuple|Optional|Union|Any|Callable|Iterable|Mapping|Sequence)' is not defined`,
		`can only concatenate str`,
		`must be str, not`,
		`unsupported operand type`,
		`missing.*required positional argument`,
		`takes.*positional argument.*but.*were given`,
	}},
	{KindLogic, []string{
		`NameError`,
		`name '.*?' is not defined`,
		`has no attribute`,
		`AttributeError`,
		`division by zero`,
		`ZeroDivisionError`,
	}},
	{KindLinting, []string{
		`unused import`,
		`imported but unused`,
		`unused variable`,
		`trailing whitespace`,
	}},
}

var pyKindRegexps = compileKindTable(pyKindTable)

// compiledKind is a kind table entry with its patterns compiled
// case-insensitively.
type compiledKind struct {
	kind     ErrorKind
	patterns []*regexp.Regexp
}

func compileKindTable(table []kindPattern) []compiledKind {
	out := make([]compiledKind, 0, len(table))
	for _, entry := range table {
		ck := compiledKind{kind: entry.kind}
		for _, p := range entry.patterns {
			ck.patterns = append(ck.patterns, regexp.MustCompile(`(?i)`+p))
		}
		out = append(out, ck)
	}
	return out
}

// classifyKind finds the first kind whose patterns match the context and
// returns the full matching line as the message. Fix rules re-parse the
// message for details such as a module or symbol name, so the match alone
// is not enough.
func classifyKind(table []compiledKind, context string) (ErrorKind, string) {
	for _, entry := range table {
		for _, re := range entry.patterns {
			if loc := re.FindStringIndex(context); loc != nil {
				return entry.kind, truncateMessage(lineAround(context, loc[0]))
			}
		}
	}
	return KindUnknown, "unknown error"
}

// lineAround expands a byte offset to the full line containing it.
func lineAround(s string, offset int) string {
	start := strings.LastIndexByte(s[:offset], '\n') + 1
	end := strings.IndexByte(s[offset:], '\n')
	if end < 0 {
		return s[start:]
	}
	return s[start : offset+end]
}

// parsePythonErrors extracts ErrorRecords from pytest and interpreter
// output.
//
// Description:
//
//	Scans lines for traceback and pytest file anchors, rebases sandbox
//	container paths onto the repository root, drops frozen modules and
//	stdlib frames, classifies via the ordered kind table over a short
//	lookahead window, and deduplicates on (file, line, kind).
func parsePythonErrors(output, repoRoot string) []ErrorRecord {
	lines := strings.Split(output, "\n")
	collector := newRecordCollector()

	for i, line := range lines {
		m := pyTracebackAnchor.FindStringSubmatch(line)
		if m == nil {
			m = pyPytestAnchor.FindStringSubmatch(line)
		}
		if m == nil {
			continue
		}

		lineNum, err := strconv.Atoi(m[2])
		if err != nil || lineNum < 1 {
			continue
		}

		path, ok := resolvePath(m[1], repoRoot)
		if !ok {
			continue
		}
		if !inProject(path, repoRoot) || skippedPath(path, pySkipPatterns) {
			continue
		}

		kind, message := classifyKind(pyKindRegexps, contextWindow(lines, i))
		collector.add(ErrorRecord{
			File:    path,
			Line:    lineNum,
			Kind:    kind,
			Message: message,
		})
	}

	return collector.result()
}
