// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package claude

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorUnwrapping(t *testing.T) {
	cause := io.ErrUnexpectedEOF

	assert.ErrorIs(t, &SpawnError{WorkDir: "/w", Err: cause}, cause)
	assert.ErrorIs(t, &StreamError{SessionID: "s", Pipe: "stdout", Err: cause}, cause)
	assert.ErrorIs(t, &DecodeError{Line: []byte("x"), Err: cause}, cause)
	assert.ErrorIs(t, &RestoreError{SessionID: "s", RestorePointID: "rp", Err: cause}, cause)

	wrapped := fmt.Errorf("outer: %w", &NotRunningError{SessionID: "s", Op: "pause"})
	var nre *NotRunningError
	assert.True(t, errors.As(wrapped, &nre))
	assert.Equal(t, "pause", nre.Op)
}

func TestDecodeError_TruncatesLine(t *testing.T) {
	line := make([]byte, 4096)
	for i := range line {
		line[i] = 'a'
	}
	e := &DecodeError{Line: line, Err: errors.New("bad")}
	assert.Less(t, len(e.Error()), 256)
}

func TestErrorMessages(t *testing.T) {
	assert.Contains(t, (&SpawnError{WorkDir: "/w", Err: errors.New("no such file")}).Error(), "/w")
	assert.Contains(t, (&StreamError{SessionID: "s1", Pipe: "stderr", Err: errors.New("closed")}).Error(), "stderr")
	assert.Contains(t, (&UnhandledEventError{Kind: "telemetry"}).Error(), "telemetry")
	assert.Contains(t, (&NotRunningError{SessionID: "s1", Op: "send input"}).Error(), "send input")
}
