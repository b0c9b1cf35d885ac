// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"errors"
	"strings"
)

// MatchPattern checks if an event type matches a pattern.
// Patterns support wildcards:
// - "claude.*" matches "claude.output", "claude.ended", etc.
// - "*.ended" matches "claude.ended", "watcher.ended", etc.
// - "*" matches everything
func MatchPattern(eventType, pattern string) bool {
	if pattern == "" || eventType == "" {
		return false
	}

	// Match all
	if pattern == "*" {
		return true
	}

	// Exact match
	if pattern == eventType {
		return true
	}

	// Wildcard at end (claude.*)
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, ".*")
		return strings.HasPrefix(eventType, prefix+".")
	}

	// Wildcard at start (*.ended)
	if strings.HasPrefix(pattern, "*.") {
		suffix := strings.TrimPrefix(pattern, "*.")
		return strings.HasSuffix(eventType, "."+suffix)
	}

	return false
}

// CompilePattern validates a pattern once so Subscribe can reject a bad
// one up front instead of silently matching nothing per event.
func CompilePattern(pattern string) (CompiledPattern, error) {
	if pattern == "" {
		return CompiledPattern{}, errors.New("empty pattern")
	}
	return CompiledPattern{pattern: pattern}, nil
}

// CompiledPattern is a validated subscription pattern.
type CompiledPattern struct {
	pattern string
}

func (cp CompiledPattern) Match(eventType string) bool {
	return MatchPattern(eventType, cp.pattern)
}
