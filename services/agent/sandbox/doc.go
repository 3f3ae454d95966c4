// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sandbox runs test commands in isolated containers, with a host
// fallback for environments without a container runtime.
//
// # Description
//
// The Executor wraps the docker CLI: one throwaway, uniquely named
// container per test execution, the working clone mounted at /workspace,
// memory and CPU ceilings applied, and networking disabled for low-trust
// languages. The in-container entrypoint prints a JSON result payload
// between the literal markers "=== AGENT OUTPUT ===" and
// "=== END OUTPUT ===" on stdout; missing or malformed payloads degrade
// to raw captured output with a failure exit code.
//
// Every external invocation is individually time-boxed: a timeout is that
// step's failure, never a crash. Containers killed on timeout report exit
// code 124. Orphaned containers from interrupted runs share a name prefix
// and are removed opportunistically.
//
// When the runtime probe or an image build fails, callers fall back to
// HostRunner, which executes the same commands directly in the clone with
// identical timeout and kill semantics.
package sandbox
