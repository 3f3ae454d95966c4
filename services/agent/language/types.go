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
	"errors"
	"fmt"
	"path/filepath"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrFixPrecondition indicates a fix rule's preconditions were not met
	// (line out of range, already satisfied, no applicable mutation).
	ErrFixPrecondition = errors.New("fix precondition not met")

	// ErrUnknownKind indicates no fix rule exists for the record's error kind.
	ErrUnknownKind = errors.New("no fix rule for error kind")

	// ErrFileNotFound indicates the record's target file does not exist.
	ErrFileNotFound = errors.New("target file not found")
)

// -----------------------------------------------------------------------------
// Enums
// -----------------------------------------------------------------------------

// ErrorKind classifies a detected test failure.
type ErrorKind int

const (
	// KindUnknown is the fallback classification when no pattern matches.
	KindUnknown ErrorKind = iota

	// KindSyntax covers parse-level failures (missing colon, unbalanced tokens).
	KindSyntax

	// KindIndentation covers whitespace and block-structure failures.
	KindIndentation

	// KindImport covers unresolvable module or package references.
	KindImport

	// KindTypeError covers type mismatches and undefined type names.
	KindTypeError

	// KindLogic covers runtime failures such as undefined names and nil access.
	KindLogic

	// KindLinting covers style findings (unused imports, trailing whitespace).
	KindLinting
)

// String returns the canonical uppercase tag used in commit messages and
// API payloads.
func (k ErrorKind) String() string {
	switch k {
	case KindSyntax:
		return "SYNTAX"
	case KindIndentation:
		return "INDENTATION"
	case KindImport:
		return "IMPORT"
	case KindTypeError:
		return "TYPE_ERROR"
	case KindLogic:
		return "LOGIC"
	case KindLinting:
		return "LINTING"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON encodes the kind as its string tag.
func (k ErrorKind) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.String() + `"`), nil
}

// -----------------------------------------------------------------------------
// Core types
// -----------------------------------------------------------------------------

// ErrorRecord is one detected failure location with a classification.
//
// Description:
//
//	Produced by a plugin's Parse step. File is host-resolved and absolute
//	when the repository root is known; Line is 1-based. Records are
//	immutable once created, and one extraction pass never yields two
//	records sharing (File, Line, Kind).
//
// Thread Safety: Immutable after creation.
type ErrorRecord struct {
	// File is the host-resolved path to the offending file.
	File string `json:"file"`

	// Line is the 1-based line number reported by the tool.
	Line int `json:"line"`

	// Kind is the classified error category.
	Kind ErrorKind `json:"kind"`

	// Message is the raw matched error text, truncated by the parser.
	Message string `json:"message"`
}

// Key returns the deduplication key (file, line, kind).
func (r ErrorRecord) Key() string {
	return fmt.Sprintf("%s:%d:%s", r.File, r.Line, r.Kind)
}

// Base returns the file's basename, as used in commit messages.
func (r ErrorRecord) Base() string {
	return filepath.Base(r.File)
}

// Plugin is the capability set one supported language provides.
//
// Description:
//
//	A plugin bundles everything the orchestration loop needs for one
//	language: how to run its tests, which sandbox image to use, how to
//	turn raw tool output into ErrorRecords, and how to attempt a bounded
//	textual repair for one record.
//
//	Plugins are selected once per run at detection time and must not be
//	mutated afterwards. Fix rules never partially write a file: either
//	the whole file is rewritten with the repair applied, or it is left
//	untouched.
//
// Thread Safety: A plugin instance is bound to a single run's working
// clone and is used from that run's worker only.
type Plugin interface {
	// Name returns the language tag (e.g. "python", "javascript").
	Name() string

	// SandboxImage returns the container image used for sandboxed test runs.
	SandboxImage() string

	// TestCommand returns the default test invocation as argv.
	TestCommand() []string

	// InstallCommand returns the dependency install invocation as argv,
	// or nil when the repository declares no dependencies.
	InstallCommand(repoRoot string) []string

	// FileExtensions returns the source extensions counted during
	// extension-census detection.
	FileExtensions() []string

	// NetworkRequired reports whether sandboxed runs need network access
	// (package installation). Low-trust languages run with networking off.
	NetworkRequired() bool

	// Parse extracts deduplicated, ordered ErrorRecords from raw output.
	// An empty result means no error evidence was found.
	Parse(output string) []ErrorRecord

	// Fix attempts exactly one bounded textual repair for the record.
	// It returns true only when the file was actually modified. Failed
	// preconditions return (false, error) wrapping ErrFixPrecondition;
	// the loop records these as failed attempts without aborting.
	Fix(record ErrorRecord) (bool, error)
}
