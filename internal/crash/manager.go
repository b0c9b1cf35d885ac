// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package crash captures reports about abnormal agent exits. When a
// session's agent process dies with a non-zero exit code that nobody asked
// for, the supervisor hands the exit context to the crash manager, which
// stores a small JSON report and prunes old ones.
package crash

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const crashReportVersion = "1.0"

// Config holds configuration for crash report storage.
type Config struct {
	ReportsDir string        // Directory to store crash files
	MaxAge     time.Duration // Maximum age of crashes to keep
	MaxCount   int           // Maximum number of crashes to keep
}

// Manager stores and retrieves crash reports. It satisfies the supervisor's
// CrashRecorder interface.
type Manager struct {
	mu     sync.RWMutex
	config Config
}

// NewManager creates a crash manager, applying defaults and ensuring the
// reports directory exists.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.ReportsDir == "" {
		cfg.ReportsDir = ".arbor/crashes"
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 7 * 24 * time.Hour
	}
	if cfg.MaxCount == 0 {
		cfg.MaxCount = 100
	}

	if err := os.MkdirAll(cfg.ReportsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create crashes directory: %w", err)
	}

	return &Manager{config: cfg}, nil
}

// Record captures one abnormal agent exit and returns the report ID.
func (m *Manager) Record(sessionID string, exitCode int, uptime time.Duration, stderrTail []string) (string, error) {
	crash := Crash{
		Version:   crashReportVersion,
		ID:        generateCrashID(sessionID),
		SessionID: sessionID,
		Timestamp: time.Now(),
		ExitCode:  exitCode,
		Uptime:    uptime.Round(time.Millisecond).String(),
		Stderr:    stderrTail,
	}

	if err := m.Save(crash); err != nil {
		return "", err
	}

	m.cleanup()
	return crash.ID, nil
}

// Save writes a crash report to disk.
func (m *Manager) Save(crash Crash) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	filename := fmt.Sprintf("%s.json", crash.ID)
	path := filepath.Join(m.config.ReportsDir, filename)

	data, err := json.MarshalIndent(crash, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal crash: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write crash file: %w", err)
	}

	return nil
}

// List returns summaries of all stored crashes, newest first.
func (m *Manager) List() ([]CrashSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, err := os.ReadDir(m.config.ReportsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []CrashSummary{}, nil
		}
		return nil, fmt.Errorf("failed to read crashes directory: %w", err)
	}

	var summaries []CrashSummary
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		crash, err := m.loadCrash(entry.Name())
		if err != nil {
			continue // Skip invalid files
		}

		summaries = append(summaries, CrashSummary{
			ID:        crash.ID,
			SessionID: crash.SessionID,
			Timestamp: crash.Timestamp,
			ExitCode:  crash.ExitCode,
			Preview:   stderrPreview(crash.Stderr),
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Timestamp.After(summaries[j].Timestamp)
	})

	return summaries, nil
}

// Get retrieves a specific crash report by ID.
func (m *Manager) Get(id string) (*Crash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.loadCrash(fmt.Sprintf("%s.json", id))
}

// Newest returns the most recent crash report, or nil if none exist.
func (m *Manager) Newest() (*Crash, error) {
	summaries, err := m.List()
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return nil, nil
	}
	return m.Get(summaries[0].ID)
}

// Delete removes a crash report by ID.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := filepath.Join(m.config.ReportsDir, fmt.Sprintf("%s.json", id))
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("crash %s not found", id)
		}
		return fmt.Errorf("failed to delete crash: %w", err)
	}

	return nil
}

// Clear removes all stored crash reports.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := os.ReadDir(m.config.ReportsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read crashes directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		os.Remove(filepath.Join(m.config.ReportsDir, entry.Name()))
	}

	return nil
}

// loadCrash reads and parses a crash file. Callers hold the lock.
func (m *Manager) loadCrash(filename string) (*Crash, error) {
	path := filepath.Join(m.config.ReportsDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("crash not found")
		}
		return nil, fmt.Errorf("failed to read crash file: %w", err)
	}

	var crash Crash
	if err := json.Unmarshal(data, &crash); err != nil {
		return nil, fmt.Errorf("failed to parse crash file: %w", err)
	}

	return &crash, nil
}

// cleanup removes crashes that exceed the age or count limits. Filenames
// carry a session suffix, so retention reads each report's timestamp instead
// of parsing names.
func (m *Manager) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := os.ReadDir(m.config.ReportsDir)
	if err != nil {
		return
	}

	type crashFile struct {
		name      string
		timestamp time.Time
	}

	var files []crashFile
	cutoff := time.Now().Add(-m.config.MaxAge)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		crash, err := m.loadCrash(entry.Name())
		if err != nil {
			continue
		}

		if crash.Timestamp.Before(cutoff) {
			os.Remove(filepath.Join(m.config.ReportsDir, entry.Name()))
			continue
		}

		files = append(files, crashFile{name: entry.Name(), timestamp: crash.Timestamp})
	}

	if len(files) <= m.config.MaxCount {
		return
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].timestamp.After(files[j].timestamp)
	})

	for _, f := range files[m.config.MaxCount:] {
		os.Remove(filepath.Join(m.config.ReportsDir, f.name))
	}
}

// generateCrashID builds a crash ID from the current time plus a session
// fragment. Two sessions crashing in the same millisecond must not collide.
func generateCrashID(sessionID string) string {
	id := time.Now().Format("20060102-150405.000")
	if len(sessionID) > 8 {
		sessionID = sessionID[:8]
	}
	if sessionID != "" {
		id += "-" + sessionID
	}
	return id
}

// stderrPreview returns the last non-empty stderr line for listings.
func stderrPreview(stderr []string) string {
	for i := len(stderr) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(stderr[i]); line != "" {
			return line
		}
	}
	return ""
}
