// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package claude

import "bytes"

// maxLineBytes bounds a single protocol line. Tool results with large file
// contents can produce multi-megabyte lines; anything past this is treated
// as noise and discarded to the next newline.
const maxLineBytes = 10 * 1024 * 1024

// lineFramer turns an arbitrary byte stream into complete, newline-delimited
// lines, holding back an incomplete trailing fragment across calls. Each pipe
// gets its own framer; two concurrent read loops must never share one
// fragment buffer.
//
// The framer works on raw bytes and never decodes text chunk-locally, so a
// multi-byte character split across two reads stays intact.
type lineFramer struct {
	frag     []byte
	overflow bool

	// Dropped counts oversized lines discarded since creation.
	Dropped int
}

// Push appends a chunk and returns the complete lines it finished, in order,
// without their trailing newline. Returned slices are copies and remain
// valid after the next Push.
func (f *lineFramer) Push(chunk []byte) [][]byte {
	if len(chunk) == 0 {
		return nil
	}

	var lines [][]byte
	rest := chunk
	for {
		idx := bytes.IndexByte(rest, '\n')
		if idx < 0 {
			break
		}
		piece := rest[:idx]
		rest = rest[idx+1:]

		if f.overflow {
			// End of an oversized line: resynchronize and drop it.
			f.overflow = false
			f.frag = f.frag[:0]
			f.Dropped++
			continue
		}

		line := piece
		if len(f.frag) > 0 {
			line = append(f.frag, piece...)
			f.frag = nil
		}
		line = trimCR(line)
		out := make([]byte, len(line))
		copy(out, line)
		lines = append(lines, out)
	}

	if f.overflow {
		return lines
	}
	if len(rest) > 0 {
		f.frag = append(f.frag, rest...)
	}
	if len(f.frag) > maxLineBytes {
		f.frag = f.frag[:0]
		f.overflow = true
	}
	return lines
}

// Flush returns the remaining fragment as a final line, if any. Called at
// end of stream, where a non-empty fragment is attempted as a line even
// without a terminating newline.
func (f *lineFramer) Flush() []byte {
	if f.overflow {
		f.overflow = false
		f.Dropped++
		return nil
	}
	if len(f.frag) == 0 {
		return nil
	}
	line := trimCR(f.frag)
	out := make([]byte, len(line))
	copy(out, line)
	f.frag = nil
	return out
}

func trimCR(line []byte) []byte {
	if n := len(line); n > 0 && line[n-1] == '\r' {
		return line[:n-1]
	}
	return line
}
