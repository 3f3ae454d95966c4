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
	"os"
	"path/filepath"
)

// JavaScriptPlugin covers JavaScript and TypeScript projects. Sandboxed
// runs keep network access because npm needs it.
type JavaScriptPlugin struct {
	repoRoot string
	fixer    *javascriptFixer
}

// NewJavaScriptPlugin creates a JS/TS plugin bound to one working clone.
func NewJavaScriptPlugin(repoRoot string) *JavaScriptPlugin {
	return &JavaScriptPlugin{
		repoRoot: repoRoot,
		fixer:    &javascriptFixer{repoRoot: repoRoot},
	}
}

// Name returns "javascript".
func (p *JavaScriptPlugin) Name() string { return "javascript" }

// SandboxImage returns the Node agent image.
func (p *JavaScriptPlugin) SandboxImage() string { return "rift-agent-node:latest" }

// TestCommand returns the npm test invocation.
func (p *JavaScriptPlugin) TestCommand() []string {
	return []string{"npm", "test", "--", "--ci", "--colors", "--passWithNoTests"}
}

// InstallCommand returns the npm install invocation when a package
// manifest exists, nil otherwise.
func (p *JavaScriptPlugin) InstallCommand(repoRoot string) []string {
	if _, err := os.Stat(filepath.Join(repoRoot, "package.json")); err != nil {
		return nil
	}
	return []string{"npm", "install"}
}

// FileExtensions returns the JS/TS source extensions.
func (p *JavaScriptPlugin) FileExtensions() []string {
	return []string{".js", ".jsx", ".ts", ".tsx", ".mjs", ".cjs"}
}

// NetworkRequired returns true: npm resolves packages over the network.
func (p *JavaScriptPlugin) NetworkRequired() bool { return true }

// Parse extracts ErrorRecords from Jest, Vitest, and ESLint output.
func (p *JavaScriptPlugin) Parse(output string) []ErrorRecord {
	return parseJavaScriptErrors(output, p.repoRoot)
}

// Fix applies one bounded repair for the record.
func (p *JavaScriptPlugin) Fix(record ErrorRecord) (bool, error) {
	return p.fixer.Fix(record)
}
