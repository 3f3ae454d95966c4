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

// PythonPlugin is the default, most conservative plugin: sandboxed runs
// get no network and a read-only root filesystem.
type PythonPlugin struct {
	repoRoot string
	fixer    *pythonFixer
}

// NewPythonPlugin creates a Python plugin bound to one working clone.
func NewPythonPlugin(repoRoot string) *PythonPlugin {
	return &PythonPlugin{
		repoRoot: repoRoot,
		fixer:    &pythonFixer{repoRoot: repoRoot},
	}
}

// Name returns "python".
func (p *PythonPlugin) Name() string { return "python" }

// SandboxImage returns the Python agent image.
func (p *PythonPlugin) SandboxImage() string { return "rift-agent:latest" }

// TestCommand returns the pytest invocation.
func (p *PythonPlugin) TestCommand() []string {
	return []string{"python", "-m", "pytest", "--maxfail=10", "-v", "--tb=short"}
}

// InstallCommand returns the pip install invocation when the repository
// declares requirements, nil otherwise.
func (p *PythonPlugin) InstallCommand(repoRoot string) []string {
	if _, err := os.Stat(filepath.Join(repoRoot, "requirements.txt")); err != nil {
		return nil
	}
	return []string{"pip", "install", "-r", "requirements.txt"}
}

// FileExtensions returns the Python source extensions.
func (p *PythonPlugin) FileExtensions() []string { return []string{".py"} }

// NetworkRequired returns false: Python sandboxes run fully isolated.
func (p *PythonPlugin) NetworkRequired() bool { return false }

// Parse extracts ErrorRecords from pytest and interpreter output.
func (p *PythonPlugin) Parse(output string) []ErrorRecord {
	return parsePythonErrors(output, p.repoRoot)
}

// Fix applies one bounded repair for the record.
func (p *PythonPlugin) Fix(record ErrorRecord) (bool, error) {
	return p.fixer.Fix(record)
}
