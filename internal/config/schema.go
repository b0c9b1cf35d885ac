// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config handles HJSON configuration loading for arbor.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration structure for arbor.
type Config struct {
	Version  string        `json:"version"`
	Project  ProjectConfig `json:"project"`
	StateDir string        `json:"state_dir"` // Where sessions, transcripts, and restore points live
	Claude   ClaudeConfig  `json:"claude"`
	Restore  RestoreConfig `json:"restore"`
	Events   EventsConfig  `json:"events"`
	Watch    WatchConfig   `json:"watch"`
	Crashes  CrashesConfig `json:"crashes"`
}

// ProjectConfig contains project metadata.
type ProjectConfig struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ClaudeConfig configures the agent process.
type ClaudeConfig struct {
	Executable     string            `json:"executable"`      // Path or bare name for PATH lookup; ~ is expanded
	Env            map[string]string `json:"env"`             // Extra environment for the agent
	PermissionMode string            `json:"permission_mode"` // "", "default", "acceptEdits", "bypassPermissions", "plan"
}

// RestoreConfig configures restore-point capture.
type RestoreConfig struct {
	Cooldown    string `json:"cooldown"`      // Window during which repeat edits to a path coalesce (default: 2s)
	MaxFileSize string `json:"max_file_size"` // Largest pre-image to capture, e.g. "1MB" (default: 1MB)
}

// EventsConfig configures the event system.
type EventsConfig struct {
	History HistoryConfig `json:"history"`
}

// HistoryConfig configures event history retention.
type HistoryConfig struct {
	MaxEvents int    `json:"max_events"`
	MaxAge    string `json:"max_age"`
}

// WatchConfig configures agent executable watching.
type WatchConfig struct {
	Enabled  *bool  `json:"enabled"`
	Debounce string `json:"debounce"`
}

// IsEnabled returns whether the agent executable should be watched.
func (w *WatchConfig) IsEnabled() bool {
	if w.Enabled == nil {
		return true // Default to true
	}
	return *w.Enabled
}

// CrashesConfig configures crash report storage.
type CrashesConfig struct {
	ReportsDir string `json:"reports_dir"` // Directory to store crash files (default: <state_dir>/crashes)
	MaxAge     string `json:"max_age"`     // Max age of crashes to keep (default: 7d)
	MaxCount   int    `json:"max_count"`   // Max number of crashes to keep (default: 100)
}

// ParseDuration parses a duration string, returning a default if empty or
// invalid.
func ParseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// ParseDurationWithDays parses a duration string that may include days
// (e.g., "7d").
func ParseDurationWithDays(s string) (time.Duration, error) {
	if len(s) > 1 && s[len(s)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err == nil {
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}
	return time.ParseDuration(s)
}

// ParseByteSize parses a size string like "512", "64KB", or "1MB" into bytes.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	multiplier := int64(1)
	upper := strings.ToUpper(s)
	switch {
	case strings.HasSuffix(upper, "KB"):
		multiplier = 1024
		s = s[:len(s)-2]
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1024 * 1024
		s = s[:len(s)-2]
	case strings.HasSuffix(upper, "B"):
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n * multiplier, nil
}
