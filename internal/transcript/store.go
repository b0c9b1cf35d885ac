// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package transcript persists sessions and their transcripts under a state
// directory:
//
//	<dir>/sessions.json                  all session descriptors
//	<dir>/transcripts/<session-id>.jsonl append-only entries, one per line
//	<dir>/arbor.lock                     flock guarding the whole directory
//
// Descriptor writes are atomic (temp file + rename); entry appends go
// straight to the per-session JSONL file, so a crash can at worst truncate
// the final line, which readers tolerate.
package transcript

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gofrs/flock"

	"github.com/wingedpig/arbor/internal/claude"
)

// ErrLocked means another supervisor holds the state directory.
var ErrLocked = errors.New("state directory locked")

const (
	sessionsFile   = "sessions.json"
	lockFile       = "arbor.lock"
	transcriptsDir = "transcripts"

	// maxEntryLine bounds one persisted transcript line when loading.
	maxEntryLine = 10 * 1024 * 1024
)

// Store is a file-backed claude.TranscriptStore. One Store owns its state
// directory exclusively for its lifetime.
type Store struct {
	dir  string
	lock *flock.Flock

	mu       sync.Mutex
	sessions map[string]*claude.Session
}

// Open acquires the state directory and loads the persisted sessions.
// Returns ErrLocked when another process holds the directory.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, transcriptsDir), 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	lock := flock.New(filepath.Join(dir, lockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock state dir: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, dir)
	}

	sessions, err := loadSessions(filepath.Join(dir, sessionsFile))
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	s := &Store{
		dir:      dir,
		lock:     lock,
		sessions: make(map[string]*claude.Session, len(sessions)),
	}
	for _, sess := range sessions {
		s.sessions[sess.ID] = sess
	}
	return s, nil
}

// Close releases the state directory lock.
func (s *Store) Close() error {
	return s.lock.Unlock()
}

// Dir returns the state directory the store was opened on.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) CreateSession(sess *claude.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return fmt.Errorf("session %s already exists", sess.ID)
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return s.saveSessionsLocked()
}

func (s *Store) GetSession(id string) (*claude.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", claude.ErrSessionNotFound, id)
	}
	cp := *sess
	return &cp, nil
}

func (s *Store) ListSessions() ([]*claude.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*claude.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		cp := *sess
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateSession(sess *claude.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return fmt.Errorf("%w: %s", claude.ErrSessionNotFound, sess.ID)
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return s.saveSessionsLocked()
}

func (s *Store) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", claude.ErrSessionNotFound, id)
	}
	delete(s.sessions, id)
	if err := s.saveSessionsLocked(); err != nil {
		return err
	}
	if err := os.Remove(s.entryPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove transcript: %w", err)
	}
	return nil
}

func (s *Store) AppendEntry(e *claude.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendEntry(s.entryPath(e.SessionID), e)
}

func (s *Store) Entries(sessionID string) ([]*claude.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return loadEntries(s.entryPath(sessionID))
}

func (s *Store) EntriesSince(sessionID, entryID string) ([]*claude.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := loadEntries(s.entryPath(sessionID))
	if err != nil {
		return nil, err
	}
	if entryID == "" {
		return entries, nil
	}
	for i, e := range entries {
		if e.ID == entryID {
			return entries[i+1:], nil
		}
	}
	return nil, fmt.Errorf("entry %s not found in session %s", entryID, sessionID)
}

func (s *Store) MarkCompacted(sessionID string, entryIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.entryPath(sessionID)
	entries, err := loadEntries(path)
	if err != nil {
		return err
	}

	ids := make(map[string]bool, len(entryIDs))
	for _, id := range entryIDs {
		ids[id] = true
	}
	changed := false
	for _, e := range entries {
		if ids[e.ID] && !e.Compacted {
			e.Compacted = true
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return rewriteEntries(path, entries)
}

func (s *Store) entryPath(sessionID string) string {
	return filepath.Join(s.dir, transcriptsDir, sessionID+".jsonl")
}

// saveSessionsLocked writes sessions.json atomically. Caller holds s.mu.
func (s *Store) saveSessionsLocked() error {
	list := make([]*claude.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		list = append(list, sess)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}

	path := filepath.Join(s.dir, sessionsFile)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write temp sessions file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename sessions file: %w", err)
	}
	return nil
}

// loadSessions reads the session descriptors from disk.
func loadSessions(path string) ([]*claude.Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sessions file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var sessions []*claude.Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("parse sessions file: %w", err)
	}
	return sessions, nil
}

// appendEntry appends one entry as a JSON line.
func appendEntry(path string, e *claude.Entry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create transcripts dir: %w", err)
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open transcript for append: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("append entry: %w", err)
	}
	return nil
}

// loadEntries reads a per-session JSONL transcript.
func loadEntries(path string) ([]*claude.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	var entries []*claude.Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), maxEntryLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e claude.Entry
		if err := json.Unmarshal(line, &e); err != nil {
			// Tolerate a partial last line from a crash
			break
		}
		entries = append(entries, &e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan transcript: %w", err)
	}
	return entries, nil
}

// rewriteEntries overwrites a transcript file atomically. Used only by
// compaction flag updates and imports; normal writes are appends.
func rewriteEntries(path string, entries []*claude.Entry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create transcripts dir: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp transcript: %w", err)
	}

	enc := json.NewEncoder(f)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("encode entry: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp transcript: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename transcript: %w", err)
	}
	return nil
}

