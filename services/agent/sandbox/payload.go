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
	"encoding/json"
	"strings"
)

// The execution unit prints its result as one JSON payload between these
// literal markers on stdout. Absence of the markers is a supported
// degraded mode: raw captured output is used with a failure exit code.
const (
	PayloadStartMarker = "=== AGENT OUTPUT ==="
	PayloadEndMarker   = "=== END OUTPUT ==="
)

// payload is the structured result the in-container entrypoint emits.
type payload struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ReturnCode int    `json:"returncode"`
	Success    bool   `json:"success"`
}

// extractPayload locates and parses the marker-delimited payload.
//
// Description:
//
//	Searches stdout for the start and end markers and unmarshals the text
//	between them. When the markers are absent or the payload is
//	malformed, falls back to treating the raw combined stdout/stderr as
//	the result with a failure exit code, so a broken entrypoint degrades
//	the iteration instead of crashing the run.
//
// Inputs:
//
//	stdout - Captured container stdout
//	stderr - Captured container stderr
//
// Outputs:
//
//	string - Combined output text
//	int - Exit code
//	bool - True when a structured payload was found
func extractPayload(stdout, stderr string) (string, int, bool) {
	start := strings.Index(stdout, PayloadStartMarker)
	if start >= 0 {
		rest := stdout[start+len(PayloadStartMarker):]
		end := strings.Index(rest, PayloadEndMarker)
		if end > 0 {
			var p payload
			if err := json.Unmarshal([]byte(strings.TrimSpace(rest[:end])), &p); err == nil {
				return p.Stdout + "\n" + p.Stderr, p.ReturnCode, true
			}
		}
	}
	return stdout + "\n" + stderr, 1, false
}
