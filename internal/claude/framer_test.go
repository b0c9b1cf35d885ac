// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package claude

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineFramer_SingleChunk(t *testing.T) {
	f := &lineFramer{}

	lines := f.Push([]byte("one\ntwo\nthree\n"))
	require.Len(t, lines, 3)
	assert.Equal(t, "one", string(lines[0]))
	assert.Equal(t, "two", string(lines[1]))
	assert.Equal(t, "three", string(lines[2]))
	assert.Nil(t, f.Flush())
}

func TestLineFramer_FragmentHeldAcrossChunks(t *testing.T) {
	f := &lineFramer{}

	lines := f.Push([]byte(`{"type":"sys`))
	assert.Empty(t, lines)

	lines = f.Push([]byte("tem\"}\n"))
	require.Len(t, lines, 1)
	assert.Equal(t, `{"type":"system"}`, string(lines[0]))
}

func TestLineFramer_ChunkBoundaryIndependence(t *testing.T) {
	// The same byte stream must yield the same lines no matter how it is
	// split, including splits inside a multi-byte character.
	input := "{\"a\":\"héllo\"}\n{\"b\":\"wörld\"}\n{\"c\":\"日本語テスト\"}\n"
	want := []string{`{"a":"héllo"}`, `{"b":"wörld"}`, `{"c":"日本語テスト"}`}

	data := []byte(input)
	for chunkSize := 1; chunkSize <= len(data); chunkSize++ {
		f := &lineFramer{}
		var got []string
		for start := 0; start < len(data); start += chunkSize {
			end := start + chunkSize
			if end > len(data) {
				end = len(data)
			}
			for _, line := range f.Push(data[start:end]) {
				got = append(got, string(line))
			}
		}
		if line := f.Flush(); line != nil {
			got = append(got, string(line))
		}
		require.Equal(t, want, got, "chunk size %d", chunkSize)
	}
}

func TestLineFramer_ReturnedLinesSurviveNextPush(t *testing.T) {
	f := &lineFramer{}

	first := f.Push([]byte("alpha\nbe"))
	require.Len(t, first, 1)

	f.Push([]byte("ta\n"))
	assert.Equal(t, "alpha", string(first[0]))
}

func TestLineFramer_CRLF(t *testing.T) {
	f := &lineFramer{}

	lines := f.Push([]byte("one\r\ntwo\r\n"))
	require.Len(t, lines, 2)
	assert.Equal(t, "one", string(lines[0]))
	assert.Equal(t, "two", string(lines[1]))
}

func TestLineFramer_FlushTrailingFragment(t *testing.T) {
	f := &lineFramer{}

	lines := f.Push([]byte("complete\npartial"))
	require.Len(t, lines, 1)
	assert.Equal(t, "complete", string(lines[0]))

	// End of stream: the non-empty fragment is attempted as a final line.
	final := f.Flush()
	require.NotNil(t, final)
	assert.Equal(t, "partial", string(final))

	assert.Nil(t, f.Flush())
}

func TestLineFramer_EmptyLines(t *testing.T) {
	f := &lineFramer{}

	lines := f.Push([]byte("\n\nx\n"))
	require.Len(t, lines, 3)
	assert.Empty(t, string(lines[0]))
	assert.Empty(t, string(lines[1]))
	assert.Equal(t, "x", string(lines[2]))
}

func TestLineFramer_OversizedLineDropped(t *testing.T) {
	f := &lineFramer{}

	huge := bytes.Repeat([]byte("x"), maxLineBytes+1)
	assert.Empty(t, f.Push(huge))

	// The rest of the oversized line keeps being discarded until its
	// newline, then framing resynchronizes.
	lines := f.Push([]byte("yyy\nnext\n"))
	require.Len(t, lines, 1)
	assert.Equal(t, "next", string(lines[0]))
	assert.Equal(t, 1, f.Dropped)
}

func TestLineFramer_OversizedThenFlush(t *testing.T) {
	f := &lineFramer{}

	f.Push(bytes.Repeat([]byte("x"), maxLineBytes+1))
	assert.Nil(t, f.Flush())
	assert.Equal(t, 1, f.Dropped)
}

func TestLineFramer_LargeButAllowedLine(t *testing.T) {
	f := &lineFramer{}

	payload := strings.Repeat("a", 1024*1024)
	lines := f.Push([]byte(payload + "\n"))
	require.Len(t, lines, 1)
	assert.Len(t, string(lines[0]), len(payload))
	assert.Zero(t, f.Dropped)
}
