// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sandbox

import (
	"strings"
	"testing"
)

func TestExtractPayload_Structured(t *testing.T) {
	stdout := "container boot noise\n" +
		PayloadStartMarker + "\n" +
		`{"stdout": "3 passed", "stderr": "", "returncode": 0, "success": true}` + "\n" +
		PayloadEndMarker + "\n"

	output, code, ok := extractPayload(stdout, "")
	if !ok {
		t.Fatal("structured payload not recognized")
	}
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if !strings.Contains(output, "3 passed") {
		t.Errorf("output = %q, want payload stdout", output)
	}
	if strings.Contains(output, "boot noise") {
		t.Errorf("output = %q, must not carry pre-marker noise", output)
	}
}

func TestExtractPayload_FailingTests(t *testing.T) {
	stdout := PayloadStartMarker + "\n" +
		`{"stdout": "", "stderr": "SyntaxError: invalid syntax", "returncode": 2, "success": false}` + "\n" +
		PayloadEndMarker

	output, code, ok := extractPayload(stdout, "")
	if !ok {
		t.Fatal("structured payload not recognized")
	}
	if code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
	if !strings.Contains(output, "SyntaxError") {
		t.Errorf("output = %q, want payload stderr", output)
	}
}

func TestExtractPayload_MissingMarkers(t *testing.T) {
	output, code, ok := extractPayload("raw stdout text", "raw stderr text")
	if ok {
		t.Error("missing markers must report no structured payload")
	}
	if code != 1 {
		t.Errorf("degraded exit code = %d, want 1", code)
	}
	if !strings.Contains(output, "raw stdout text") || !strings.Contains(output, "raw stderr text") {
		t.Errorf("output = %q, want both raw streams", output)
	}
}

func TestExtractPayload_MalformedJSON(t *testing.T) {
	stdout := PayloadStartMarker + "\nnot json at all\n" + PayloadEndMarker

	output, code, ok := extractPayload(stdout, "stderr tail")
	if ok {
		t.Error("malformed payload must degrade")
	}
	if code != 1 {
		t.Errorf("degraded exit code = %d, want 1", code)
	}
	if !strings.Contains(output, "not json at all") {
		t.Errorf("output = %q, want raw text preserved", output)
	}
}

func TestExtractPayload_EndMarkerBeforeStart(t *testing.T) {
	stdout := PayloadEndMarker + "\n" + PayloadStartMarker

	_, code, ok := extractPayload(stdout, "")
	if ok {
		t.Error("inverted markers must degrade")
	}
	if code != 1 {
		t.Errorf("degraded exit code = %d, want 1", code)
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	var c Config
	c.ApplyDefaults()

	if c.NamePrefix == "" {
		t.Error("NamePrefix default missing")
	}
	if c.MemoryLimit == "" || c.CPULimit == "" {
		t.Error("resource limit defaults missing")
	}
	if c.RunTimeout <= 0 || c.BuildTimeout <= 0 || c.ProbeTimeout <= 0 {
		t.Error("timeout defaults missing")
	}
}

func TestConfig_ApplyDefaultsKeepsExplicit(t *testing.T) {
	c := Config{NamePrefix: "custom", MemoryLimit: "2g"}
	c.ApplyDefaults()

	if c.NamePrefix != "custom" {
		t.Errorf("NamePrefix = %q, explicit value overwritten", c.NamePrefix)
	}
	if c.MemoryLimit != "2g" {
		t.Errorf("MemoryLimit = %q, explicit value overwritten", c.MemoryLimit)
	}
}
