// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		name      string
		pattern   string
		eventType string
		matches   bool
	}{
		// Exact matches
		{
			name:      "exact match",
			pattern:   "claude.output",
			eventType: "claude.output",
			matches:   true,
		},
		{
			name:      "exact no match",
			pattern:   "claude.output",
			eventType: "claude.ended",
			matches:   false,
		},

		// Wildcard at end (claude.*)
		{
			name:      "wildcard end matches output",
			pattern:   "claude.*",
			eventType: "claude.output",
			matches:   true,
		},
		{
			name:      "wildcard end matches ended",
			pattern:   "claude.*",
			eventType: "claude.ended",
			matches:   true,
		},
		{
			name:      "wildcard end no match different prefix",
			pattern:   "claude.*",
			eventType: "watcher.agent_updated",
			matches:   false,
		},

		// Wildcard at start (*.error)
		{
			name:      "wildcard start matches claude",
			pattern:   "*.error",
			eventType: "claude.error",
			matches:   true,
		},
		{
			name:      "wildcard start matches watcher",
			pattern:   "*.error",
			eventType: "watcher.error",
			matches:   true,
		},
		{
			name:      "wildcard start no match different suffix",
			pattern:   "*.error",
			eventType: "claude.ended",
			matches:   false,
		},

		// Match all
		{
			name:      "match all",
			pattern:   "*",
			eventType: "anything.here",
			matches:   true,
		},
		{
			name:      "match all single word",
			pattern:   "*",
			eventType: "event",
			matches:   true,
		},

		// Nested events
		{
			name:      "wildcard end nested",
			pattern:   "claude.*",
			eventType: "claude.file_edit.captured",
			matches:   true,
		},
		{
			name:      "exact nested match",
			pattern:   "claude.file_edit.captured",
			eventType: "claude.file_edit.captured",
			matches:   true,
		},
		{
			name:      "exact nested no match",
			pattern:   "claude.file_edit.captured",
			eventType: "claude.file_edit.skipped",
			matches:   false,
		},

		// Edge cases
		{
			name:      "empty pattern",
			pattern:   "",
			eventType: "claude.output",
			matches:   false,
		},
		{
			name:      "empty event type",
			pattern:   "claude.*",
			eventType: "",
			matches:   false,
		},
		{
			name:      "both empty",
			pattern:   "",
			eventType: "",
			matches:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := MatchPattern(tt.eventType, tt.pattern)
			assert.Equal(t, tt.matches, result)
		})
	}
}

func TestCompilePattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		wantErr bool
	}{
		{"exact pattern", "claude.output", false},
		{"wildcard end", "claude.*", false},
		{"wildcard start", "*.ended", false},
		{"match all", "*", false},
		{"empty pattern", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompilePattern(tt.pattern)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCompiledPattern_Match(t *testing.T) {
	// Compile pattern once, match multiple times
	pattern, err := CompilePattern("claude.*")
	require.NoError(t, err)

	tests := []struct {
		eventType string
		matches   bool
	}{
		{"claude.output", true},
		{"claude.status", true},
		{"claude.ended", true},
		{"watcher.agent_updated", false},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			assert.Equal(t, tt.matches, pattern.Match(tt.eventType))
		})
	}
}

func TestMatchPattern_MultiplePatterns(t *testing.T) {
	// Test matching against multiple patterns
	patterns := []string{"claude.output", "claude.ended", "watcher.*"}

	tests := []struct {
		eventType string
		matches   bool
	}{
		{"claude.output", true},
		{"claude.ended", true},
		{"claude.status", false},
		{"watcher.agent_updated", true},
		{"watcher.error", true},
		{"app.started", false},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			matched := false
			for _, pattern := range patterns {
				if MatchPattern(tt.eventType, pattern) {
					matched = true
					break
				}
			}
			assert.Equal(t, tt.matches, matched)
		})
	}
}

func TestMatchPattern_Concurrency(t *testing.T) {
	// Compile pattern
	pattern, err := CompilePattern("claude.*")
	require.NoError(t, err)

	// Test concurrent matching
	done := make(chan bool, 100)
	for i := 0; i < 100; i++ {
		go func() {
			for j := 0; j < 1000; j++ {
				pattern.Match("claude.output")
				MatchPattern("claude.ended", "claude.*")
			}
			done <- true
		}()
	}

	for i := 0; i < 100; i++ {
		<-done
	}
}
