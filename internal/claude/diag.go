// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package claude

import (
	"sync"
	"time"
)

// diagCapacity is how many diagnostic (stderr) lines each session retains.
const diagCapacity = 2000

// DiagLine is one line of the agent's diagnostic output.
type DiagLine struct {
	Sequence uint64    `json:"sequence"`
	Time     time.Time `json:"time"`
	Text     string    `json:"text"`
}

// diagBuffer is a thread-safe ring of diagnostic lines with monotonically
// increasing sequence numbers, so callers can poll for lines they have not
// seen yet.
type diagBuffer struct {
	mu       sync.RWMutex
	lines    []DiagLine
	head     int
	size     int
	capacity int
	sequence uint64
}

func newDiagBuffer(capacity int) *diagBuffer {
	if capacity <= 0 {
		capacity = diagCapacity
	}
	return &diagBuffer{
		lines:    make([]DiagLine, capacity),
		capacity: capacity,
	}
}

// Add records one diagnostic line and returns its sequence number.
func (b *diagBuffer) Add(text string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sequence++
	b.lines[b.head] = DiagLine{Sequence: b.sequence, Time: time.Now(), Text: text}
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
	return b.sequence
}

// Since returns lines with sequence numbers strictly greater than seq, in
// chronological order, plus the latest sequence number for the next poll.
func (b *diagBuffer) Since(seq uint64) ([]DiagLine, uint64) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []DiagLine
	start := b.head - b.size
	for i := 0; i < b.size; i++ {
		idx := (start + i + b.capacity) % b.capacity
		if b.lines[idx].Sequence > seq {
			out = append(out, b.lines[idx])
		}
	}
	return out, b.sequence
}

// Tail returns the most recent n lines in chronological order.
func (b *diagBuffer) Tail(n int) []DiagLine {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || b.size == 0 {
		return nil
	}
	if n > b.size {
		n = b.size
	}
	out := make([]DiagLine, 0, n)
	start := b.head - n
	for i := 0; i < n; i++ {
		idx := (start + i + b.capacity) % b.capacity
		out = append(out, b.lines[idx])
	}
	return out
}
