// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// fileEditTools are the agent tools that modify files through declared
// paths. Bash is absent: its file effects are opaque to the wrapper.
var fileEditTools = map[string]bool{
	"Write":        true,
	"Edit":         true,
	"MultiEdit":    true,
	"NotebookEdit": true,
}

// editToolInput is the subset of tool input shared by the file-editing
// tools.
type editToolInput struct {
	FilePath     string `json:"file_path"`
	NotebookPath string `json:"notebook_path"`
}

// fileEdit is one detected file-modifying tool action.
type fileEdit struct {
	Tool string
	Path string // as given by the agent
}

// detectFileEdit reports whether a tool_use block is a file-modifying
// action and which path it targets.
func detectFileEdit(block *ContentBlock) (fileEdit, bool) {
	if block.Type != "tool_use" || !fileEditTools[block.Name] {
		return fileEdit{}, false
	}
	if len(block.Input) == 0 {
		return fileEdit{}, false
	}
	var input editToolInput
	if err := json.Unmarshal(block.Input, &input); err != nil {
		return fileEdit{}, false
	}
	path := input.FilePath
	if path == "" {
		path = input.NotebookPath
	}
	if path == "" {
		return fileEdit{}, false
	}
	return fileEdit{Tool: block.Name, Path: path}, true
}

// describeToolUse builds the one-line transcript content for a tool
// invocation.
func describeToolUse(block *ContentBlock) string {
	var input struct {
		FilePath     string `json:"file_path"`
		NotebookPath string `json:"notebook_path"`
		Command      string `json:"command"`
		Pattern      string `json:"pattern"`
		Path         string `json:"path"`
		URL          string `json:"url"`
	}
	if len(block.Input) > 0 {
		json.Unmarshal(block.Input, &input)
	}
	switch {
	case input.FilePath != "":
		return block.Name + " " + input.FilePath
	case input.NotebookPath != "":
		return block.Name + " " + input.NotebookPath
	case input.Command != "":
		return block.Name + ": " + truncateLine(input.Command, 120)
	case input.Pattern != "":
		return block.Name + " " + input.Pattern
	case input.Path != "":
		return block.Name + " " + input.Path
	case input.URL != "":
		return block.Name + " " + input.URL
	default:
		return block.Name
	}
}

func truncateLine(s string, n int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

// resolveEditPath resolves a tool-supplied file path against the session's
// working directory, handling a ~/ prefix.
func resolveEditPath(path, workDir string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	} else if !filepath.IsAbs(path) {
		return filepath.Join(workDir, path)
	}
	return path
}

// captureFileEdit runs the restore-point flow for one detected file edit:
// capture the pre-image before the agent can overwrite the file, append a
// file_edit entry linking to it, and notify. Repeated edits to the same
// path inside the cooldown window coalesce into the first capture.
func (m *Manager) captureFileEdit(ms *managed, edit fileEdit) {
	ms.mu.Lock()
	workDir := ms.session.WorkDir
	ms.mu.Unlock()

	abs := resolveEditPath(edit.Path, workDir)
	rel, relErr := filepath.Rel(workDir, abs)

	cooldown := m.settings.RestoreCooldown()
	now := time.Now()
	ms.mu.Lock()
	if last, ok := ms.inflight[abs]; ok && now.Sub(last) < cooldown {
		ms.mu.Unlock()
		return
	}
	ms.inflight[abs] = now
	for p, t := range ms.inflight {
		if now.Sub(t) >= cooldown {
			delete(ms.inflight, p)
		}
	}
	ms.mu.Unlock()

	op := OpModify
	var pre []byte
	info, statErr := os.Stat(abs)
	switch {
	case statErr != nil:
		if edit.Tool == "Write" {
			op = OpCreate
		}
		// No pre-image exists either way.

	case relErr != nil || strings.HasPrefix(rel, ".."):
		// Outside the working directory: restore points are relative to
		// it, so there is nothing safe to roll back to.
		log.Printf("claude [%s]: %s edits %s outside work dir, no restore point", ms.id, edit.Tool, abs)

	case info.Size() > m.settings.MaxCaptureSize():
		log.Printf("claude [%s]: %s exceeds capture limit (%d bytes), no restore point", ms.id, abs, info.Size())

	default:
		data, err := os.ReadFile(abs)
		if err != nil {
			log.Printf("claude [%s]: read pre-image %s: %v", ms.id, abs, err)
		} else {
			pre = data
		}
	}

	display := edit.Path
	if relErr == nil && !strings.HasPrefix(rel, "..") {
		display = rel
	}

	// The entry id is assigned up front so the restore point can name its
	// trigger before the entry is appended.
	entryID := uuid.New().String()
	rpID := ""
	if pre != nil {
		rp := &RestorePoint{
			ID:             uuid.New().String(),
			SessionID:      ms.id,
			Description:    fmt.Sprintf("pre-edit %s (%s)", display, edit.Tool),
			TriggerEntryID: entryID,
			CreatedAt:      now,
			Files: []RestoreFile{{
				Path:    rel,
				Content: pre,
				Size:    int64(len(pre)),
			}},
		}
		if err := m.snapshots.Create(rp); err != nil {
			log.Printf("claude [%s]: create restore point for %s: %v", ms.id, display, err)
		} else {
			rpID = rp.ID
			log.Printf("claude [%s]: restore point %s for %s (%d bytes)", ms.id, rpID, display, len(pre))
		}
	}

	entry := &Entry{
		ID:             entryID,
		SessionID:      ms.id,
		Type:           EntryFileEdit,
		Content:        edit.Tool + " " + display,
		RestorePointID: rpID,
		FileEdit:       &FileEditDetail{Path: display, Op: op},
	}
	if err := m.recorder.Append(entry); err != nil {
		log.Printf("claude [%s]: %v", ms.id, err)
	}
	m.notifier.Notify(Notification{
		Kind:           NotifyFileEdit,
		SessionID:      ms.id,
		Text:           entry.Content,
		Entry:          entry,
		RestorePointID: rpID,
	})
}

// CreateRestorePoint captures a manual checkpoint: the current content of
// every file a file_edit entry has touched, bundled into one multi-file
// restore point. A system_message entry records the checkpoint.
func (m *Manager) CreateRestorePoint(sessionID, description string) (*RestorePoint, error) {
	ms, err := m.managedSession(sessionID)
	if err != nil {
		return nil, err
	}
	ms.mu.Lock()
	workDir := ms.session.WorkDir
	ms.mu.Unlock()

	entries, err := m.recorder.Entries(sessionID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}

	seen := make(map[string]bool)
	var paths []string
	for _, e := range entries {
		if e.Type != EntryFileEdit || e.FileEdit == nil {
			continue
		}
		p := e.FileEdit.Path
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		paths = append(paths, p)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("checkpoint: no edited files in session %s", sessionID)
	}

	maxSize := m.settings.MaxCaptureSize()
	var files []RestoreFile
	for _, p := range paths {
		abs := resolveEditPath(p, workDir)
		info, err := os.Stat(abs)
		if err != nil {
			continue // deleted since the edit
		}
		if info.Size() > maxSize {
			log.Printf("claude [%s]: checkpoint skips %s (%d bytes over limit)", sessionID, p, info.Size())
			continue
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			log.Printf("claude [%s]: checkpoint read %s: %v", sessionID, p, err)
			continue
		}
		files = append(files, RestoreFile{Path: p, Content: data, Size: int64(len(data))})
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("checkpoint: none of %d edited files still readable", len(paths))
	}

	if description == "" {
		description = "manual checkpoint"
	}
	rp := &RestorePoint{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		Description: description,
		CreatedAt:   time.Now(),
		Files:       files,
	}
	if err := m.snapshots.Create(rp); err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}

	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Path
	}
	if err := m.recorder.Append(&Entry{
		SessionID:      sessionID,
		Type:           EntrySystemMessage,
		Content:        fmt.Sprintf("Checkpoint %q captured %d file(s): %s", description, len(files), strings.Join(names, ", ")),
		RestorePointID: rp.ID,
	}); err != nil {
		log.Printf("claude [%s]: %v", sessionID, err)
	}
	log.Printf("claude [%s]: checkpoint %s with %d file(s)", sessionID, rp.ID, len(files))
	return rp, nil
}

// RestorePoints lists a session's restore points, newest first, without
// file contents.
func (m *Manager) RestorePoints(sessionID string) ([]*RestorePoint, error) {
	if _, err := m.managedSession(sessionID); err != nil {
		return nil, err
	}
	return m.snapshots.List(sessionID)
}

// GetRestorePoint returns one restore point with its captured contents.
func (m *Manager) GetRestorePoint(sessionID, id string) (*RestorePoint, error) {
	if _, err := m.managedSession(sessionID); err != nil {
		return nil, err
	}
	return m.snapshots.Get(sessionID, id)
}

// RestoreToPoint rolls the working directory back to a restore point. An
// actively running session is paused first and the current state of the
// affected files is backed up before anything is overwritten. On success a
// system_message entry lists the restored files and a previously running
// session resumes; on failure the session is left paused.
func (m *Manager) RestoreToPoint(ctx context.Context, sessionID, restorePointID string) error {
	ms, err := m.managedSession(sessionID)
	if err != nil {
		return err
	}

	ms.mu.Lock()
	workDir := ms.session.WorkDir
	status := ms.session.Status
	live := ms.proc != nil && ms.proc.alive()
	ms.mu.Unlock()

	wasRunning := false
	if live && (status == StatusRunning || status == StatusWaitingInput) {
		verdict, err := m.PauseSession(sessionID)
		if err != nil {
			return fmt.Errorf("pause before restore: %w", err)
		}
		// If the interrupt ended the process there is nothing to resume.
		wasRunning = verdict == StillAlive
	}

	restored, err := m.snapshots.Restore(sessionID, restorePointID, workDir, true)
	if err != nil {
		rerr := &RestoreError{SessionID: sessionID, RestorePointID: restorePointID, Err: err}
		log.Printf("claude [%s]: %v", sessionID, rerr)
		m.notifier.Notify(Notification{Kind: NotifyError, SessionID: sessionID, Text: rerr.Error(), Err: rerr})
		return rerr
	}

	if err := m.recorder.Append(&Entry{
		SessionID:      sessionID,
		Type:           EntrySystemMessage,
		Content:        fmt.Sprintf("Restored %d file(s) from restore point: %s", len(restored), strings.Join(restored, ", ")),
		RestorePointID: restorePointID,
	}); err != nil {
		log.Printf("claude [%s]: %v", sessionID, err)
	}
	log.Printf("claude [%s]: restored %d file(s) from %s", sessionID, len(restored), restorePointID)

	if wasRunning {
		if err := m.ResumeSession(ctx, sessionID); err != nil {
			return fmt.Errorf("resume after restore: %w", err)
		}
	}
	return nil
}
