// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package transcript

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedpig/arbor/internal/claude"
)

func testSession(id string) *claude.Session {
	now := time.Now().Truncate(time.Second) // Truncate for JSON round-trip
	return &claude.Session{
		ID:        id,
		WorkDir:   "/work/" + id,
		Status:    claude.StatusStopped,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestStore_SessionLifecycle(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	sess := testSession("s1")
	sess.AgentSessionID = "agent-1"
	sess.Model = "claude-sonnet-4-5"
	sess.PID = 4242
	require.NoError(t, s.CreateSession(sess))

	// Round-trip
	got, err := s.GetSession("s1")
	require.NoError(t, err)
	assert.Equal(t, sess.WorkDir, got.WorkDir)
	assert.Equal(t, "agent-1", got.AgentSessionID)
	assert.Equal(t, "claude-sonnet-4-5", got.Model)
	assert.Equal(t, 4242, got.PID)
	assert.Equal(t, claude.StatusStopped, got.Status)

	// Duplicate id rejected
	assert.Error(t, s.CreateSession(testSession("s1")))

	// Update
	got.Status = claude.StatusRunning
	require.NoError(t, s.UpdateSession(got))
	got2, err := s.GetSession("s1")
	require.NoError(t, err)
	assert.Equal(t, claude.StatusRunning, got2.Status)

	// Returned copies do not alias the store
	got2.WorkDir = "/mutated"
	got3, err := s.GetSession("s1")
	require.NoError(t, err)
	assert.Equal(t, "/work/s1", got3.WorkDir)

	// Delete
	require.NoError(t, s.DeleteSession("s1"))
	_, err = s.GetSession("s1")
	assert.ErrorIs(t, err, claude.ErrSessionNotFound)
}

func TestStore_ListSortedByCreation(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	older := testSession("older")
	older.CreatedAt = older.CreatedAt.Add(-time.Hour)
	require.NoError(t, s.CreateSession(testSession("newer")))
	require.NoError(t, s.CreateSession(older))

	list, err := s.ListSessions()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "older", list[0].ID)
	assert.Equal(t, "newer", list[1].ID)
}

func TestStore_SessionsSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.CreateSession(testSession("s1")))
	require.NoError(t, s.CreateSession(testSession("s2")))
	require.NoError(t, s.Close())

	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()

	list, err := s2.ListSessions()
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestStore_Lock(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	// A second supervisor must not share the state dir.
	_, err = Open(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, s.Close())
	s2, err := Open(dir)
	require.NoError(t, err)
	s2.Close()
}

func TestStore_AppendAndLoadEntries(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.CreateSession(testSession("s1")))

	now := time.Now().Truncate(time.Second)
	entries := []*claude.Entry{
		{ID: "e1", SessionID: "s1", Type: claude.EntryUserInput, Content: "fix the bug", Timestamp: now},
		{ID: "e2", SessionID: "s1", Type: claude.EntryToolCall, Content: "Edit main.go", Timestamp: now,
			Tool: &claude.ToolDetail{ID: "t1", Name: "Edit", Input: json.RawMessage(`{"file_path":"main.go"}`)}},
		{ID: "e3", SessionID: "s1", Type: claude.EntryFileEdit, Content: "Edit main.go", Timestamp: now,
			RestorePointID: "rp1", FileEdit: &claude.FileEditDetail{Path: "main.go", Op: claude.OpModify}},
		{ID: "e4", SessionID: "s1", Type: claude.EntryAssistantOutput, Content: "done", Timestamp: now},
	}
	for _, e := range entries {
		require.NoError(t, s.AppendEntry(e))
	}

	got, err := s.Entries("s1")
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, claude.EntryUserInput, got[0].Type)
	assert.Equal(t, "fix the bug", got[0].Content)
	require.NotNil(t, got[1].Tool)
	assert.Equal(t, "Edit", got[1].Tool.Name)
	require.NotNil(t, got[2].FileEdit)
	assert.Equal(t, claude.OpModify, got[2].FileEdit.Op)
	assert.Equal(t, "rp1", got[2].RestorePointID)
	assert.True(t, got[0].Timestamp.Equal(now))

	// Unknown session has an empty transcript, not an error.
	none, err := s.Entries("ghost")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_EntriesSince(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.CreateSession(testSession("s1")))

	for _, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, s.AppendEntry(&claude.Entry{ID: id, SessionID: "s1", Type: claude.EntryUserInput}))
	}

	after, err := s.EntriesSince("s1", "e1")
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, "e2", after[0].ID)

	all, err := s.EntriesSince("s1", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = s.EntriesSince("s1", "ghost")
	assert.Error(t, err)
}

func TestStore_MarkCompactedPersists(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.CreateSession(testSession("s1")))

	for _, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, s.AppendEntry(&claude.Entry{ID: id, SessionID: "s1", Type: claude.EntryUserInput}))
	}
	require.NoError(t, s.MarkCompacted("s1", []string{"e1", "e2"}))
	require.NoError(t, s.Close())

	// Survives a restart.
	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Entries("s1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[0].Compacted)
	assert.True(t, got[1].Compacted)
	assert.False(t, got[2].Compacted)
}

func TestStore_ToleratesPartialLastLine(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.CreateSession(testSession("s1")))

	require.NoError(t, s.AppendEntry(&claude.Entry{ID: "e1", SessionID: "s1", Type: claude.EntryUserInput, Content: "one"}))
	require.NoError(t, s.AppendEntry(&claude.Entry{ID: "e2", SessionID: "s1", Type: claude.EntryUserInput, Content: "two"}))

	// Simulate a crash mid-append: a truncated trailing line.
	path := filepath.Join(dir, "transcripts", "s1.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id":"e3","session_id":"s1","ty`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := s.Entries("s1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "e2", got[1].ID)
}

func TestStore_DeleteRemovesTranscript(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.CreateSession(testSession("s1")))
	require.NoError(t, s.AppendEntry(&claude.Entry{ID: "e1", SessionID: "s1", Type: claude.EntryUserInput}))

	path := filepath.Join(dir, "transcripts", "s1.jsonl")
	require.FileExists(t, path)

	require.NoError(t, s.DeleteSession("s1"))
	assert.NoFileExists(t, path)
}

func TestStore_UpdateUnknownSession(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	err = s.UpdateSession(testSession("ghost"))
	assert.ErrorIs(t, err, claude.ErrSessionNotFound)
	err = s.DeleteSession("ghost")
	assert.ErrorIs(t, err, claude.ErrSessionNotFound)
}
