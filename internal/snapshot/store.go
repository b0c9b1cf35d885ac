// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package snapshot stores restore points on disk and applies them back to
// a working directory.
package snapshot

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wingedpig/arbor/internal/claude"
)

// blobExt is the filename extension for restore-point blobs.
const blobExt = ".snap"

// Store persists restore points under a directory, one subdirectory per
// session, one compressed blob per point. It implements
// claude.SnapshotManager.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating snapshots directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Create persists a restore point. A missing id or timestamp is filled in.
func (s *Store) Create(rp *claude.RestorePoint) error {
	if rp.SessionID == "" {
		return fmt.Errorf("restore point has no session id")
	}
	if rp.ID == "" {
		rp.ID = uuid.New().String()
	}
	if rp.CreatedAt.IsZero() {
		rp.CreatedAt = time.Now()
	}

	if err := os.MkdirAll(s.sessionDir(rp.SessionID), 0755); err != nil {
		return fmt.Errorf("creating session snapshots directory: %w", err)
	}
	data, err := encodeBlob(rp)
	if err != nil {
		return err
	}

	// Atomic so a crashed write never leaves a half blob behind.
	path := s.pointPath(rp.SessionID, rp.ID)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("writing restore point: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing restore point: %w", err)
	}
	return nil
}

// List returns a session's restore points newest first, without file
// contents.
func (s *Store) List(sessionID string) ([]*claude.RestorePoint, error) {
	entries, err := os.ReadDir(s.sessionDir(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading snapshots directory: %w", err)
	}

	var points []*claude.RestorePoint
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), blobExt) {
			continue
		}
		rp, err := s.load(sessionID, strings.TrimSuffix(entry.Name(), blobExt))
		if err != nil {
			// Skip unreadable blobs
			log.Printf("snapshot: skipping %s: %v", entry.Name(), err)
			continue
		}
		for i := range rp.Files {
			rp.Files[i].Content = nil
		}
		points = append(points, rp)
	}

	sort.Slice(points, func(i, j int) bool {
		return points[i].CreatedAt.After(points[j].CreatedAt)
	})
	return points, nil
}

// Get returns one restore point with its captured file contents.
func (s *Store) Get(sessionID, id string) (*claude.RestorePoint, error) {
	return s.load(sessionID, id)
}

// Restore writes a point's files back under targetDir. When backup is
// true, the current content of those files is captured first as a new
// restore point so the restore itself can be undone. Returns the relative
// paths written.
func (s *Store) Restore(sessionID, id, targetDir string, backup bool) ([]string, error) {
	rp, err := s.load(sessionID, id)
	if err != nil {
		return nil, err
	}

	// Captured paths are relative to the working directory. Refuse
	// anything that would land outside it.
	for _, f := range rp.Files {
		if !safeRelPath(f.Path) {
			return nil, fmt.Errorf("restore point %s has unsafe path %q", id, f.Path)
		}
	}

	if backup {
		if err := s.backupCurrent(rp, targetDir); err != nil {
			return nil, err
		}
	}

	var restored []string
	for _, f := range rp.Files {
		dst := filepath.Join(targetDir, f.Path)
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return nil, fmt.Errorf("restoring %s: %w", f.Path, err)
		}
		if err := os.WriteFile(dst, f.Content, 0644); err != nil {
			return nil, fmt.Errorf("restoring %s: %w", f.Path, err)
		}
		restored = append(restored, f.Path)
	}
	return restored, nil
}

// backupCurrent captures the current on-disk content of the files a
// restore is about to overwrite. Files missing right now are skipped; when
// none exist there is nothing worth a backup point.
func (s *Store) backupCurrent(rp *claude.RestorePoint, targetDir string) error {
	var files []claude.RestoreFile
	for _, f := range rp.Files {
		data, err := os.ReadFile(filepath.Join(targetDir, f.Path))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("backing up %s: %w", f.Path, err)
		}
		files = append(files, claude.RestoreFile{Path: f.Path, Content: data, Size: int64(len(data))})
	}
	if len(files) == 0 {
		return nil
	}

	backup := &claude.RestorePoint{
		ID:          uuid.New().String(),
		SessionID:   rp.SessionID,
		Description: fmt.Sprintf("pre-restore backup (%s)", rp.Description),
		CreatedAt:   time.Now(),
		Files:       files,
	}
	if err := s.Create(backup); err != nil {
		return fmt.Errorf("pre-restore backup: %w", err)
	}
	log.Printf("snapshot: backup %s holds %d file(s) replaced by restore", backup.ID, len(files))
	return nil
}

// Purge removes every restore point belonging to a session.
func (s *Store) Purge(sessionID string) error {
	if err := os.RemoveAll(s.sessionDir(sessionID)); err != nil {
		return fmt.Errorf("purging snapshots: %w", err)
	}
	return nil
}

func (s *Store) load(sessionID, id string) (*claude.RestorePoint, error) {
	data, err := os.ReadFile(s.pointPath(sessionID, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("restore point not found: %s", id)
		}
		return nil, fmt.Errorf("reading restore point: %w", err)
	}
	var rp claude.RestorePoint
	if err := decodeBlob(data, &rp); err != nil {
		return nil, err
	}
	return &rp, nil
}

func (s *Store) sessionDir(sessionID string) string {
	return filepath.Join(s.dir, safeName(sessionID))
}

func (s *Store) pointPath(sessionID, id string) string {
	return filepath.Join(s.sessionDir(sessionID), safeName(id)+blobExt)
}

// safeName keeps ids usable as file names and prevents path traversal.
func safeName(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	return strings.ReplaceAll(name, "..", "_")
}

// safeRelPath reports whether a captured path stays inside the target
// directory when joined onto it.
func safeRelPath(path string) bool {
	if path == "" || filepath.IsAbs(path) {
		return false
	}
	clean := filepath.Clean(path)
	return clean != ".." && !strings.HasPrefix(clean, ".."+string(filepath.Separator))
}
