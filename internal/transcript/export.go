// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package transcript

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wingedpig/arbor/internal/claude"
)

// ExportSchema is the schema identifier for the export format.
const ExportSchema = "arbor.transcript.v1"

// Export is the portable single-file format for a session's transcript.
type Export struct {
	Schema     string          `json:"schema"`
	ExportedAt time.Time       `json:"exported_at"`
	Source     ExportSource    `json:"source"`
	Entries    []*claude.Entry `json:"entries"`
	Stats      Stats           `json:"stats"`
}

// ExportSource holds metadata about where the transcript came from.
type ExportSource struct {
	SessionID      string    `json:"session_id"`
	AgentSessionID string    `json:"agent_session_id,omitempty"`
	WorkDir        string    `json:"work_dir,omitempty"`
	Model          string    `json:"model,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Stats holds per-type counts over a transcript.
type Stats struct {
	EntryCount       int `json:"entry_count"`
	UserInputs       int `json:"user_inputs"`
	AssistantOutputs int `json:"assistant_outputs"`
	ToolCalls        int `json:"tool_calls"`
	FileEdits        int `json:"file_edits"`
	Compactions      int `json:"compactions"`
	SystemMessages   int `json:"system_messages"`

	// Compacted counts entries folded away by compaction markers.
	Compacted int `json:"compacted"`
	// RestorePoints counts entries that captured a pre-image.
	RestorePoints int `json:"restore_points"`
}

// ComputeStats tallies a transcript by entry type.
func ComputeStats(entries []*claude.Entry) Stats {
	var stats Stats
	stats.EntryCount = len(entries)
	for _, e := range entries {
		switch e.Type {
		case claude.EntryUserInput:
			stats.UserInputs++
		case claude.EntryAssistantOutput:
			stats.AssistantOutputs++
		case claude.EntryToolCall:
			stats.ToolCalls++
		case claude.EntryFileEdit:
			stats.FileEdits++
		case claude.EntryCompactMarker:
			stats.Compactions++
		case claude.EntrySystemMessage:
			stats.SystemMessages++
		}
		if e.Compacted {
			stats.Compacted++
		}
		if e.RestorePointID != "" {
			stats.RestorePoints++
		}
	}
	return stats
}

// Export bundles one session's descriptor and transcript for transfer.
func (s *Store) Export(sessionID string) (*Export, error) {
	sess, err := s.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	entries, err := s.Entries(sessionID)
	if err != nil {
		return nil, err
	}

	return &Export{
		Schema:     ExportSchema,
		ExportedAt: time.Now(),
		Source: ExportSource{
			SessionID:      sess.ID,
			AgentSessionID: sess.AgentSessionID,
			WorkDir:        sess.WorkDir,
			Model:          sess.Model,
			CreatedAt:      sess.CreatedAt,
		},
		Entries: entries,
		Stats:   ComputeStats(entries),
	}, nil
}

// Import creates a fresh session from an export. The imported session gets a
// new id and starts stopped; the agent-side conversation id is deliberately
// not carried over, since that conversation belongs to another state dir.
func (s *Store) Import(ex *Export) (*claude.Session, error) {
	if err := ValidateExport(ex); err != nil {
		return nil, err
	}

	now := time.Now()
	sess := &claude.Session{
		ID:        uuid.New().String(),
		WorkDir:   ex.Source.WorkDir,
		Status:    claude.StatusStopped,
		Model:     ex.Source.Model,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.CreateSession(sess); err != nil {
		return nil, err
	}

	entries := make([]*claude.Entry, len(ex.Entries))
	for i, e := range ex.Entries {
		cp := *e
		cp.SessionID = sess.ID
		entries[i] = &cp
	}

	s.mu.Lock()
	err := rewriteEntries(s.entryPath(sess.ID), entries)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("import transcript: %w", err)
	}
	return sess, nil
}

// WriteExport writes an export as indented JSON, atomically.
func WriteExport(path string, ex *Export) error {
	data, err := json.MarshalIndent(ex, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal export: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write temp export: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename export: %w", err)
	}
	return nil
}

// ParseExport parses and validates an export from JSON bytes.
func ParseExport(data []byte) (*Export, error) {
	var ex Export
	if err := json.Unmarshal(data, &ex); err != nil {
		return nil, fmt.Errorf("invalid export JSON: %w", err)
	}
	if err := ValidateExport(&ex); err != nil {
		return nil, err
	}
	return &ex, nil
}

// ValidateExport checks schema and minimum content.
func ValidateExport(ex *Export) error {
	if ex.Schema != ExportSchema {
		return fmt.Errorf("unsupported export schema %q", ex.Schema)
	}
	if len(ex.Entries) == 0 {
		return fmt.Errorf("export has no entries")
	}
	return nil
}

// FirstInputPreview returns the first lines of the first user input, joined
// into one line for listings. Empty when the session has no user input yet.
func FirstInputPreview(entries []*claude.Entry, maxLen int) string {
	for _, e := range entries {
		if e.Type != claude.EntryUserInput || e.Content == "" {
			continue
		}
		return joinLines(e.Content, 2, maxLen)
	}
	return ""
}

// joinLines takes up to n non-empty lines, joins them with a space, and
// truncates to maxLen characters.
func joinLines(s string, n, maxLen int) string {
	var lines []string
	for _, line := range strings.SplitN(s, "\n", n+1) {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
			if len(lines) >= n {
				break
			}
		}
	}
	result := strings.Join(lines, " ")
	if len(result) > maxLen {
		return result[:maxLen] + "..."
	}
	return result
}
