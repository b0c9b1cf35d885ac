// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Settings adapts a loaded Config to the supervisor's Settings interface.
type Settings struct {
	cfg *Config
}

// NewSettings wraps cfg for consumption by the session manager.
func NewSettings(cfg *Config) *Settings {
	return &Settings{cfg: cfg}
}

// AgentCommand returns the configured executable with a leading ~ expanded.
// Bare names are left for PATH lookup at spawn time.
func (s *Settings) AgentCommand() string {
	exe := s.cfg.Claude.Executable
	if exe == "~" || strings.HasPrefix(exe, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(exe, "~"))
		}
	}
	return exe
}

// AgentEnv returns extra environment overrides for the agent process.
func (s *Settings) AgentEnv() map[string]string {
	return s.cfg.Claude.Env
}

// PermissionMode returns the configured permission mode, or empty for the
// agent's own default.
func (s *Settings) PermissionMode() string {
	return s.cfg.Claude.PermissionMode
}

// RestoreCooldown is the window during which repeated edits to the same path
// coalesce into one restore point.
func (s *Settings) RestoreCooldown() time.Duration {
	return ParseDuration(s.cfg.Restore.Cooldown, 2*time.Second)
}

// MaxCaptureSize bounds the byte size of a single captured pre-image.
func (s *Settings) MaxCaptureSize() int64 {
	size, err := ParseByteSize(s.cfg.Restore.MaxFileSize)
	if err != nil || size <= 0 {
		return 1 << 20
	}
	return size
}
