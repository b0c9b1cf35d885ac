// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package claude

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Recorder appends typed entries to a session's transcript and applies
// compaction markers. It is the only writer of transcript entries; all
// reads go through the same store the manager was constructed with.
type Recorder struct {
	store TranscriptStore
}

func NewRecorder(store TranscriptStore) *Recorder {
	return &Recorder{store: store}
}

// Append persists one entry, assigning id and timestamp when unset.
func (r *Recorder) Append(e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if err := r.store.AppendEntry(e); err != nil {
		return fmt.Errorf("append %s entry: %w", e.Type, err)
	}
	return nil
}

// Entries returns a session's transcript in insertion order.
func (r *Recorder) Entries(sessionID string) ([]*Entry, error) {
	return r.store.Entries(sessionID)
}

// EntriesSince returns all entries strictly after entryID.
func (r *Recorder) EntriesSince(sessionID, entryID string) ([]*Entry, error) {
	return r.store.EntriesSince(sessionID, entryID)
}

// Compact marks every entry created before the trigger entry (and not
// already compacted) as compacted, then appends a compact_marker entry
// recording how many were marked. An empty triggerEntryID compacts
// everything currently in the transcript. The compacted flag is monotonic:
// re-compacting already-compacted entries leaves them unchanged.
func (r *Recorder) Compact(sessionID, triggerEntryID, summary string) (*Entry, int, error) {
	entries, err := r.store.Entries(sessionID)
	if err != nil {
		return nil, 0, fmt.Errorf("compact: %w", err)
	}

	cutoff := len(entries)
	if triggerEntryID != "" {
		cutoff = -1
		for i, e := range entries {
			if e.ID == triggerEntryID {
				cutoff = i
				break
			}
		}
		if cutoff < 0 {
			return nil, 0, fmt.Errorf("compact: trigger entry %s not found", triggerEntryID)
		}
	}

	var ids []string
	for _, e := range entries[:cutoff] {
		if !e.Compacted {
			ids = append(ids, e.ID)
		}
	}
	if len(ids) > 0 {
		if err := r.store.MarkCompacted(sessionID, ids); err != nil {
			return nil, 0, fmt.Errorf("compact: %w", err)
		}
	}

	now := time.Now()
	marker := &Entry{
		SessionID: sessionID,
		Type:      EntryCompactMarker,
		Content:   summary,
		Compaction: &CompactionDetail{
			Entries:   len(ids),
			Summary:   summary,
			Timestamp: now,
		},
	}
	if err := r.Append(marker); err != nil {
		return nil, 0, err
	}
	return marker, len(ids), nil
}
