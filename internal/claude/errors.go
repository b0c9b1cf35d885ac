// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package claude

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned for operations on unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

// SpawnError means the agent process could not start. The start attempt is
// fatal: the session transitions to stopped and the error is surfaced to
// the caller.
type SpawnError struct {
	WorkDir string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn agent in %s: %v", e.WorkDir, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// StreamError means a pipe read failed while the process is still believed
// alive. Surfaced as a notification; does not by itself stop the session.
type StreamError struct {
	SessionID string
	Pipe      string
	Err       error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("session %s: %s stream: %v", e.SessionID, e.Pipe, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// DecodeError means one protocol line failed to parse. Decode errors are
// logged and discarded: protocol noise is expected and never fatal.
type DecodeError struct {
	Line []byte
	Err  error
}

func (e *DecodeError) Error() string {
	line := e.Line
	if len(line) > 120 {
		line = line[:120]
	}
	return fmt.Sprintf("decode protocol line %q: %v", line, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// UnhandledEventError means a line parsed cleanly but its type discriminator
// is outside the known protocol set. All unknown kinds funnel through this
// one path so new protocol versions fail loudly in logs instead of silently
// falling through.
type UnhandledEventError struct {
	Kind string
}

func (e *UnhandledEventError) Error() string {
	return fmt.Sprintf("unhandled protocol event type %q", e.Kind)
}

// RestoreError means a restore operation failed. The session is left paused
// rather than silently resumed, and no further state is mutated.
type RestoreError struct {
	SessionID      string
	RestorePointID string
	Err            error
}

func (e *RestoreError) Error() string {
	return fmt.Sprintf("restore session %s to %s: %v", e.SessionID, e.RestorePointID, e.Err)
}

func (e *RestoreError) Unwrap() error { return e.Err }

// NotRunningError means an operation that requires a live agent process was
// issued against a session without one. Rejected immediately, no state
// change.
type NotRunningError struct {
	SessionID string
	Op        string
}

func (e *NotRunningError) Error() string {
	return fmt.Sprintf("session %s: %s requires a running agent process", e.SessionID, e.Op)
}
