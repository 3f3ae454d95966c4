// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package language implements per-language support for the repair agent.
//
// # Description
//
// Each supported language contributes a Plugin: a test command, a sandbox
// image, an error parser, and a set of bounded fix rules. A Registry maps
// language tags to plugin constructors and is explicitly constructed and
// injected, never a module-level singleton, so concurrent runs and tests
// stay isolated.
//
// # Detection
//
// Detect walks an ordered marker table (most specific markers first, so a
// tsconfig.json wins over a generic package.json), falls back to counting
// source file extensions outside dependency directories, and finally
// defaults to Python. Unknown tags resolve to the default plugin rather
// than failing a run.
//
// # Extraction
//
// Parsers scan raw tool output line by line with an ordered list of
// file+line anchor patterns, translate sandbox container paths back to
// host paths, filter out non-project frames, classify via ordered
// kind-pattern tables over a short lookahead window, and deduplicate on
// (file, line, kind) keeping first occurrences in order. Unparseable
// output yields an empty record list, which the run loop treats as
// passing; see the run package for the rationale.
//
// # Fix rules
//
// Fix rules are conservative textual edits: append a missing block
// terminator, comment out an unresolvable import, insert a placeholder
// initializer, merge a well-known symbol into an existing import clause.
// Every rule re-derives whether the fix is still needed before writing,
// so re-applying a rule to an already-fixed line is a no-op failure, not
// a double edit.
package language
