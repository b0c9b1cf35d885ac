// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"
	"time"
)

// Validator validates configuration against schema rules.
type Validator struct{}

// NewValidator creates a new config validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidationError contains multiple validation failures.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single field validation error.
type FieldError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	var msgs []string
	for _, fe := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return strings.Join(msgs, "; ")
}

// IsEmpty returns true if there are no validation errors.
func (e *ValidationError) IsEmpty() bool {
	return len(e.Errors) == 0
}

// Add adds a field error.
func (e *ValidationError) Add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

// Validate checks configuration validity.
func (v *Validator) Validate(cfg *Config) error {
	errs := &ValidationError{}

	v.validateRequired(cfg, errs)
	v.validateClaude(cfg, errs)
	v.validateRestore(cfg, errs)
	v.validateDurations(cfg, errs)
	v.validateCrashes(cfg, errs)

	if errs.IsEmpty() {
		return nil
	}
	return errs
}

func (v *Validator) validateRequired(cfg *Config, errs *ValidationError) {
	if cfg.Version == "" {
		errs.Add("version", "is required")
	}
	if cfg.Project.Name == "" {
		errs.Add("project.name", "is required")
	}
}

func (v *Validator) validateClaude(cfg *Config, errs *ValidationError) {
	if cfg.Claude.PermissionMode != "" {
		validModes := map[string]bool{
			"default":           true,
			"acceptEdits":       true,
			"bypassPermissions": true,
			"plan":              true,
		}
		if !validModes[cfg.Claude.PermissionMode] {
			errs.Add("claude.permission_mode", fmt.Sprintf("invalid mode '%s', must be one of: default, acceptEdits, bypassPermissions, plan", cfg.Claude.PermissionMode))
		}
	}
}

func (v *Validator) validateRestore(cfg *Config, errs *ValidationError) {
	if cfg.Restore.MaxFileSize != "" {
		size, err := ParseByteSize(cfg.Restore.MaxFileSize)
		if err != nil {
			errs.Add("restore.max_file_size", fmt.Sprintf("invalid size format: %s", err))
		} else if size <= 0 {
			errs.Add("restore.max_file_size", "must be positive")
		}
	}
}

func (v *Validator) validateDurations(cfg *Config, errs *ValidationError) {
	// Restore cooldown
	if cfg.Restore.Cooldown != "" {
		d, err := time.ParseDuration(cfg.Restore.Cooldown)
		if err != nil {
			errs.Add("restore.cooldown", fmt.Sprintf("invalid duration format: %s", err))
		} else if d < 0 {
			errs.Add("restore.cooldown", "must be positive")
		}
	}

	// Watch debounce
	if cfg.Watch.Debounce != "" {
		d, err := time.ParseDuration(cfg.Watch.Debounce)
		if err != nil {
			errs.Add("watch.debounce", fmt.Sprintf("invalid duration format: %s", err))
		} else if d < 0 {
			errs.Add("watch.debounce", "must be positive")
		}
	}

	// Event history max_age
	if cfg.Events.History.MaxAge != "" {
		d, err := time.ParseDuration(cfg.Events.History.MaxAge)
		if err != nil {
			errs.Add("events.history.max_age", fmt.Sprintf("invalid duration format: %s", err))
		} else if d < 0 {
			errs.Add("events.history.max_age", "must be positive")
		}
	}
}

func (v *Validator) validateCrashes(cfg *Config, errs *ValidationError) {
	if cfg.Crashes.MaxAge != "" {
		d, err := ParseDurationWithDays(cfg.Crashes.MaxAge)
		if err != nil {
			errs.Add("crashes.max_age", fmt.Sprintf("invalid duration format: %s", err))
		} else if d < 0 {
			errs.Add("crashes.max_age", "must be positive")
		}
	}
	if cfg.Crashes.MaxCount < 0 {
		errs.Add("crashes.max_count", "must be positive")
	}
	if cfg.Events.History.MaxEvents < 0 {
		errs.Add("events.history.max_events", "must be positive")
	}
}
