// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package crash

import "time"

// Crash represents a captured agent crash with context.
type Crash struct {
	Version   string    `json:"version"`    // Report format version
	ID        string    `json:"id"`         // Unique crash ID (timestamp-based)
	SessionID string    `json:"session_id"` // Session whose agent crashed
	Timestamp time.Time `json:"timestamp"`  // When the crash occurred
	ExitCode  int       `json:"exit_code"`  // Process exit code
	Uptime    string    `json:"uptime"`     // How long the process ran
	Stderr    []string  `json:"stderr"`     // Last stderr lines before the exit
}

// CrashSummary is a minimal representation for listing crashes.
type CrashSummary struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	ExitCode  int       `json:"exit_code"`
	Preview   string    `json:"preview"` // Last non-empty stderr line
}
