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
// JAVASCRIPT / TYPESCRIPT PARSER
// =============================================================================

// Anchor patterns, ordered most specific to most generic. Jest stack
// frames, ESLint single-line layouts, Vitest error prefixes, and a bare
// path:line:col fallback are all covered.
var jsAnchorPatterns = []*regexp.Regexp{
	// ESLint with column layout: /path/file.js  1:1  error
	regexp.MustCompile(`^\s*([/\\]?[\w/\\.\-]+\.(?:js|ts|jsx|tsx))\s+(\d+):(\d+)\s+(?:error|warning)`),
	// Stack trace frame: at Object.<anonymous> (src/file.js:123:45)
	regexp.MustCompile(`at .*?\(([^:)]+\.(?:js|ts|jsx|tsx)):(\d+):(\d+)\)`),
	// Bare colon layout: file.js:123:45
	regexp.MustCompile(`^\s*([/\\]?[\w/\\.\-]+\.(?:js|ts|jsx|tsx)):(\d+):(\d+)`),
	// Error-prefixed: Error: src/file.ts:123:45
	regexp.MustCompile(`Error.*?([/\\]?[\w/\\.\-]+\.(?:js|ts|jsx|tsx)):(\d+):(\d+)`),
	// Alternate: File: path:line
	regexp.MustCompile(`File:\s+([/\\]?[\w/\\.\-]+\.(?:js|ts|jsx|tsx)):(\d+)`),
}

// ESLint multi-line layout: a bare file path header followed by indented
// detail lines "  1:8  error  'React' is defined but never used  no-unused-vars".
var (
	eslintFileHeaderRe = regexp.MustCompile(`^[/\\]?[\w/\\.\-]+\.(?:js|ts|jsx|tsx)$`)
	eslintDetailRe     = regexp.MustCompile(`^\s+(\d+):(\d+)\s+(error|warning)\s+(.+?)(?:\s+([a-z/-]+))?$`)
)

// jsSkipPatterns are non-project path fragments: dependency trees, build
// output, and test runner internals.
var jsSkipPatterns = []string{
	"node_modules",
	"dist",
	"build",
	".next",
	"coverage",
	"jest-runtime",
	"/usr/lib",
	"/usr/local",
}

// eslintRuleKinds maps ESLint rule identifiers to kinds. Rule identifiers
// take priority over generic pattern classification.
var eslintRuleKinds = map[string]ErrorKind{
	"no-unused-vars": KindLogic,
	"no-undef":       KindLogic,
	"semi":           KindSyntax,
	"quotes":         KindSyntax,
	"indent":         KindIndentation,
	"no-console":     KindLinting,
	"import/":        KindImport,
}

// eslintRuleOrder fixes the scan order for trailing-rule matching so
// classification stays deterministic.
var eslintRuleOrder = []string{
	"no-unused-vars", "no-undef", "semi", "quotes", "indent", "no-console", "import/",
}

// jsKindTable classifies JavaScript errors; ordered, first match wins.
var jsKindTable = []kindPattern{
	{KindSyntax, []string{
		`SyntaxError`,
		`Unexpected token`,
		`Unexpected identifier`,
		`Unexpected end of input`,
		`missing \)`,
		`missing \}`,
		`missing ]`,
		`missing ;`,
		`Unexpected string`,
		`Invalid or unexpected token`,
	}},
	{KindTypeError, []string{
		`TypeError`,
		`Cannot read propert(?:y|ies) .* of undefined`,
		`Cannot read propert(?:y|ies) of null`,
		`is not a function`,
		`is not defined`,
		`Cannot set propert(?:y|ies) of undefined`,
		`undefined is not an object`,
	}},
	{KindImport, []string{
		`Cannot find module`,
		`Module not found`,
		`Failed to resolve`,
		`Cannot resolve module`,
		`Module .* does not exist`,
		`Unable to resolve path`,
	}},
	{KindLogic, []string{
		`ReferenceError`,
		`RangeError`,
		`Maximum call stack size exceeded`,
		`Test timeout`,
	}},
	{KindIndentation, []string{
		`Unexpected indent`,
		`IndentationError`,
	}},
}

var jsKindRegexps = compileKindTable(jsKindTable)

// Trailing-rule extraction for single-line ESLint layouts.
var (
	jsTrailingRuleRe = regexp.MustCompile(`([\w/-]+)\s*$`)
	jsRuleMessageRe  = regexp.MustCompile(`(?:error|warning)\s+(.+?)\s+[\w/-]+\s*$`)
)

// parseJavaScriptErrors extracts ErrorRecords from Jest, Vitest, and
// ESLint output.
//
// Description:
//
//	The ESLint multi-line layout is handled first: a bare file header
//	establishes the current file, and indented detail lines under it are
//	attributed to that file with their rule identifier deciding the kind.
//	All other lines go through the ordered single-line anchor patterns
//	with lookahead classification. Sandbox paths are rebased onto the
//	repository root; dependency and runner frames are dropped; records
//	deduplicate on (file, line, kind).
func parseJavaScriptErrors(output, repoRoot string) []ErrorRecord {
	lines := strings.Split(output, "\n")
	collector := newRecordCollector()

	currentHeader := ""
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		// ESLint file header: bare path on its own, not indented.
		if trimmed != "" && !strings.HasPrefix(line, " ") && eslintFileHeaderRe.MatchString(trimmed) {
			currentHeader = trimmed
			continue
		}

		// ESLint detail line under the current header.
		if currentHeader != "" && strings.HasPrefix(line, "  ") && strings.Contains(line, ":") {
			if m := eslintDetailRe.FindStringSubmatch(line); m != nil {
				lineNum, _ := strconv.Atoi(m[1])
				message := strings.TrimSpace(m[4])
				rule := m[5]

				path, ok := resolvePath(currentHeader, repoRoot)
				if !ok || skippedPath(path, jsSkipPatterns) {
					continue
				}

				msg := message
				if rule != "" {
					msg = message + " (" + rule + ")"
				}
				collector.add(ErrorRecord{
					File:    path,
					Line:    lineNum,
					Kind:    eslintRuleKind(rule, message),
					Message: truncateMessage(msg),
				})
				continue
			}
		}

		// Single-line anchors.
		for _, re := range jsAnchorPatterns {
			m := re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			lineNum, err := strconv.Atoi(m[2])
			if err != nil || lineNum < 1 {
				break
			}

			path, ok := resolvePath(m[1], repoRoot)
			if !ok || skippedPath(path, jsSkipPatterns) || !inProject(path, repoRoot) {
				break
			}

			kind, message := classifyJSLine(line, contextWindow(lines, i))
			collector.add(ErrorRecord{
				File:    path,
				Line:    lineNum,
				Kind:    kind,
				Message: message,
			})
			break
		}
	}

	return collector.result()
}

// eslintRuleKind maps an ESLint rule identifier to a kind, using the
// dedicated table first and substring heuristics for unmapped rule
// families.
func eslintRuleKind(rule, message string) ErrorKind {
	if rule == "" {
		return KindLogic
	}
	if kind, ok := eslintRuleKinds[rule]; ok {
		return kind
	}
	switch {
	case strings.Contains(rule, "unused"), strings.Contains(rule, "undef"):
		return KindLogic
	case strings.Contains(rule, "semi"), strings.Contains(rule, "quotes"), strings.Contains(rule, "comma"):
		return KindSyntax
	case strings.Contains(rule, "import"), strings.Contains(rule, "require"):
		return KindImport
	case strings.Contains(rule, "indent"), strings.Contains(rule, "space"):
		return KindIndentation
	case strings.Contains(rule, "console"), strings.Contains(rule, "debugger"):
		return KindLinting
	default:
		return KindLogic
	}
}

// classifyJSLine classifies a single-line anchor, preferring any trailing
// ESLint rule identifier over generic pattern matching, and falling back
// to a linting classification for otherwise unmatched error/warning lines.
func classifyJSLine(line, context string) (ErrorKind, string) {
	if m := jsTrailingRuleRe.FindStringSubmatch(line); m != nil {
		ruleName := m[1]
		for _, prefix := range eslintRuleOrder {
			if strings.Contains(ruleName, prefix) {
				kind := eslintRuleKinds[prefix]
				msg := line
				if mm := jsRuleMessageRe.FindStringSubmatch(line); mm != nil {
					msg = mm[1]
				}
				return kind, truncateMessage(strings.TrimSpace(msg) + " (" + ruleName + ")")
			}
		}
	}

	kind, message := classifyKind(jsKindRegexps, context)
	if kind != KindUnknown {
		return kind, message
	}

	lower := strings.ToLower(line)
	if strings.Contains(lower, "error") || strings.Contains(lower, "warning") {
		return KindLinting, truncateMessage(line)
	}
	return KindUnknown, "unknown error"
}
