// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package claude

import (
	"strings"

	"github.com/google/uuid"
)

// accumulator reconstructs one logical assistant message out of a sequence
// of text deltas. Scoped to a single managed session; the underlying pipe is
// a strictly ordered stream, so concatenation order of deltas is the sole
// determinant of the final content.
type accumulator struct {
	id  string
	buf strings.Builder
}

// start begins a new accumulation and returns its id. Any prior in-progress
// accumulation is discarded; the agent never interleaves two messages on
// one pipe.
func (a *accumulator) start() string {
	a.id = uuid.New().String()
	a.buf.Reset()
	return a.id
}

func (a *accumulator) active() bool {
	return a.id != ""
}

// append adds delta text and returns the cumulative buffer so far. Deltas
// arriving without a preceding message_start implicitly begin a new
// accumulation rather than being dropped.
func (a *accumulator) append(text string) (id, cumulative string) {
	if !a.active() {
		a.start()
	}
	a.buf.WriteString(text)
	return a.id, a.buf.String()
}

// stop finalizes the accumulation. ok is false when nothing was accumulated
// (an empty message produces no transcript entry). The accumulator is reset
// either way.
func (a *accumulator) stop() (id, text string, ok bool) {
	id = a.id
	text = a.buf.String()
	ok = a.active() && text != ""
	a.id = ""
	a.buf.Reset()
	return id, text, ok
}
