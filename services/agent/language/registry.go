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
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultLanguage is the conservative fallback when detection finds nothing.
const DefaultLanguage = "python"

// Constructor builds a plugin bound to one run's working clone.
type Constructor func(repoRoot string) Plugin

// Registry maps language tags to plugin constructors.
//
// Description:
//
//	A registry is populated once at process start and read for the rest
//	of its lifetime. Get never fails: unregistered tags fall back to the
//	default language's constructor, preserving the original run-anything
//	behavior.
//
// Thread Safety: Safe for concurrent reads after construction. Register
// must not be called concurrently with Get.
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry creates a registry with the built-in plugins registered.
func NewRegistry() *Registry {
	r := &Registry{constructors: make(map[string]Constructor)}
	r.Register("python", func(root string) Plugin { return NewPythonPlugin(root) })
	r.Register("javascript", func(root string) Plugin { return NewJavaScriptPlugin(root) })
	// TypeScript shares the JavaScript toolchain.
	r.Register("typescript", func(root string) Plugin { return NewJavaScriptPlugin(root) })
	return r
}

// Register adds or replaces a constructor for a language tag.
func (r *Registry) Register(tag string, c Constructor) {
	r.constructors[tag] = c
}

// Languages returns the registered language tags.
func (r *Registry) Languages() []string {
	tags := make([]string, 0, len(r.constructors))
	for tag := range r.constructors {
		tags = append(tags, tag)
	}
	return tags
}

// Get builds a plugin for the tag, bound to repoRoot.
//
// Description:
//
//	Unknown tags resolve to the default language's plugin rather than
//	returning an error, so detection of an unsupported language degrades
//	the run instead of failing it.
//
// Inputs:
//
//	tag - Language tag from Detect
//	repoRoot - Absolute path to the working clone
//
// Outputs:
//
//	Plugin - Never nil
func (r *Registry) Get(tag, repoRoot string) Plugin {
	if c, ok := r.constructors[tag]; ok {
		return c(repoRoot)
	}
	slog.Warn("No plugin for language, using default",
		slog.String("language", tag),
		slog.String("default", DefaultLanguage),
	)
	return r.constructors[DefaultLanguage](repoRoot)
}

// -----------------------------------------------------------------------------
// Detection
// -----------------------------------------------------------------------------

// markerEntry pairs a language tag with the files that identify it.
type markerEntry struct {
	language string
	markers  []string
}

// markerTable is ordered most specific first: a TypeScript config must win
// over the generic package.json that accompanies it.
var markerTable = []markerEntry{
	{"typescript", []string{"tsconfig.json"}},
	{"javascript", []string{"package.json", "package-lock.json", "yarn.lock"}},
	{"python", []string{"requirements.txt", "setup.py", "pyproject.toml", "Pipfile", "poetry.lock"}},
	{"java", []string{"pom.xml", "build.gradle", "build.gradle.kts"}},
	{"go", []string{"go.mod", "go.sum"}},
	{"rust", []string{"Cargo.toml", "Cargo.lock"}},
	{"ruby", []string{"Gemfile", "Gemfile.lock", "Rakefile"}},
	{"csharp", []string{"*.csproj", "*.sln"}},
	{"php", []string{"composer.json", "composer.lock"}},
}

// extensionMap maps source extensions to language tags for the census
// fallback.
var extensionMap = map[string]string{
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".java": "java",
	".go":   "go",
	".rs":   "rust",
	".rb":   "ruby",
	".cs":   "csharp",
	".php":  "php",
}

// censusSkipDirs are dependency and output directories excluded from the
// extension census.
var censusSkipDirs = map[string]bool{
	"node_modules": true,
	".venv":        true,
	"venv":         true,
	"dist":         true,
	"build":        true,
	".git":         true,
}

// Detect identifies the repository's primary language.
//
// Description:
//
//	Checks the ordered marker table first; the first marker file found
//	wins. When no marker matches, counts source file extensions
//	recursively (skipping dependency and output directories) and picks
//	the language with the highest count. When the census also finds
//	nothing, returns the default language.
//
// Inputs:
//
//	repoRoot - Path to the repository root
//
// Outputs:
//
//	string - Language tag, never empty
func Detect(repoRoot string) string {
	for _, entry := range markerTable {
		for _, marker := range entry.markers {
			if strings.ContainsRune(marker, '*') {
				matches, err := filepath.Glob(filepath.Join(repoRoot, marker))
				if err == nil && len(matches) > 0 {
					slog.Debug("Language detected by marker glob",
						slog.String("language", entry.language),
						slog.String("marker", marker),
					)
					return entry.language
				}
				continue
			}
			if _, err := os.Stat(filepath.Join(repoRoot, marker)); err == nil {
				slog.Debug("Language detected by marker file",
					slog.String("language", entry.language),
					slog.String("marker", marker),
				)
				return entry.language
			}
		}
	}

	// Pool extensions per language, then scan languages in a fixed
	// order so a tie always resolves the same way.
	langCounts := make(map[string]int)
	for ext, count := range countExtensions(repoRoot) {
		if lang, ok := extensionMap[ext]; ok {
			langCounts[lang] += count
		}
	}
	langs := make([]string, 0, len(langCounts))
	for lang := range langCounts {
		langs = append(langs, lang)
	}
	sort.Strings(langs)

	best, bestCount := "", 0
	for _, lang := range langs {
		if langCounts[lang] > bestCount {
			best, bestCount = lang, langCounts[lang]
		}
	}
	if best != "" {
		slog.Debug("Language detected by extension census",
			slog.String("language", best),
			slog.Int("files", bestCount),
		)
		return best
	}

	slog.Warn("Language detection inconclusive, using default",
		slog.String("default", DefaultLanguage),
	)
	return DefaultLanguage
}

// countExtensions walks the tree and tallies file extensions, pruning
// dependency directories.
func countExtensions(root string) map[string]int {
	counts := make(map[string]int)
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if censusSkipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if ext := filepath.Ext(d.Name()); ext != "" {
			counts[ext]++
		}
		return nil
	})
	return counts
}
