// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Version: "1.0",
		Project: ProjectConfig{
			Name: "test-project",
		},
	}
}

func TestValidator_Validate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Claude = ClaudeConfig{
		Executable:     "claude",
		PermissionMode: "acceptEdits",
	}
	cfg.Restore = RestoreConfig{Cooldown: "2s", MaxFileSize: "1MB"}
	cfg.Watch = WatchConfig{Debounce: "100ms"}
	cfg.Events.History = HistoryConfig{MaxEvents: 1000, MaxAge: "1h"}
	cfg.Crashes = CrashesConfig{MaxAge: "7d", MaxCount: 100}

	validator := NewValidator()
	assert.NoError(t, validator.Validate(cfg))
}

func TestValidator_Validate_RequiredFields(t *testing.T) {
	tests := []struct {
		name        string
		cfg         *Config
		errContains string
	}{
		{
			name: "missing version",
			cfg: &Config{
				Project: ProjectConfig{Name: "test"},
			},
			errContains: "version",
		},
		{
			name: "missing project name",
			cfg: &Config{
				Version: "1.0",
				Project: ProjectConfig{},
			},
			errContains: "project.name",
		},
	}

	validator := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.Validate(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestValidator_Validate_PermissionMode(t *testing.T) {
	validator := NewValidator()

	for _, mode := range []string{"", "default", "acceptEdits", "bypassPermissions", "plan"} {
		cfg := validConfig()
		cfg.Claude.PermissionMode = mode
		assert.NoError(t, validator.Validate(cfg), "mode %q should be valid", mode)
	}

	cfg := validConfig()
	cfg.Claude.PermissionMode = "yolo"
	err := validator.Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "claude.permission_mode")
}

func TestValidator_Validate_Durations(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		errContains string
	}{
		{
			name:        "bad restore cooldown",
			mutate:      func(c *Config) { c.Restore.Cooldown = "not-a-duration" },
			errContains: "restore.cooldown",
		},
		{
			name:        "negative restore cooldown",
			mutate:      func(c *Config) { c.Restore.Cooldown = "-5s" },
			errContains: "restore.cooldown",
		},
		{
			name:        "bad watch debounce",
			mutate:      func(c *Config) { c.Watch.Debounce = "fast" },
			errContains: "watch.debounce",
		},
		{
			name:        "bad history max_age",
			mutate:      func(c *Config) { c.Events.History.MaxAge = "1 hour" },
			errContains: "events.history.max_age",
		},
	}

	validator := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := validator.Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestValidator_Validate_MaxFileSize(t *testing.T) {
	validator := NewValidator()

	cfg := validConfig()
	cfg.Restore.MaxFileSize = "lots"
	err := validator.Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "restore.max_file_size")

	cfg = validConfig()
	cfg.Restore.MaxFileSize = "-1MB"
	err = validator.Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be positive")

	cfg = validConfig()
	cfg.Restore.MaxFileSize = "512KB"
	assert.NoError(t, validator.Validate(cfg))
}

func TestValidator_Validate_Crashes(t *testing.T) {
	validator := NewValidator()

	// Day suffix is accepted.
	cfg := validConfig()
	cfg.Crashes.MaxAge = "30d"
	assert.NoError(t, validator.Validate(cfg))

	cfg = validConfig()
	cfg.Crashes.MaxAge = "next week"
	err := validator.Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crashes.max_age")

	cfg = validConfig()
	cfg.Crashes.MaxCount = -1
	err = validator.Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crashes.max_count")
}

func TestValidator_Validate_MultipleErrors(t *testing.T) {
	cfg := &Config{
		Restore: RestoreConfig{Cooldown: "bad"},
		Watch:   WatchConfig{Debounce: "worse"},
	}

	validator := NewValidator()
	err := validator.Validate(cfg)
	require.Error(t, err)

	verr, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(verr.Errors), 4)

	// All failures are reported together.
	msg := err.Error()
	assert.Contains(t, msg, "version")
	assert.Contains(t, msg, "project.name")
	assert.Contains(t, msg, "restore.cooldown")
	assert.Contains(t, msg, "watch.debounce")
}

func TestValidationError_Error(t *testing.T) {
	errs := &ValidationError{}
	assert.True(t, errs.IsEmpty())

	errs.Add("a.b", "is required")
	errs.Add("c.d", "must be positive")
	assert.False(t, errs.IsEmpty())
	assert.Equal(t, "a.b: is required; c.d: must be positive", errs.Error())
}
