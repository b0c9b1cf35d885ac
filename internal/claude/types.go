// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package claude

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status represents the lifecycle state of a session.
type Status int

const (
	StatusStopped Status = iota
	StatusStarting
	StatusRunning
	StatusWaitingInput
	StatusPaused
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusWaitingInput:
		return "waiting_input"
	case StatusPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler to output the string representation.
func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler for persisted session records.
func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "stopped":
		*s = StatusStopped
	case "starting":
		*s = StatusStarting
	case "running":
		*s = StatusRunning
	case "waiting_input":
		*s = StatusWaitingInput
	case "paused":
		*s = StatusPaused
	default:
		return fmt.Errorf("unknown session status %q", name)
	}
	return nil
}

// Session is the persisted descriptor of one conversation with the agent.
// The live counterpart (process handle, parser state) is runtime-only and
// owned by the Manager.
type Session struct {
	ID      string `json:"id"`
	WorkDir string `json:"work_dir"`
	Status  Status `json:"status"`

	// AgentSessionID is the agent's own conversation id, announced in its
	// init event. Passed back via --resume so a respawned process keeps
	// the conversation context.
	AgentSessionID string `json:"agent_session_id,omitempty"`

	// PID of the live agent process, zero when none. Persisted so a
	// supervisor restart can find and reap orphaned processes.
	PID int `json:"pid,omitempty"`

	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EntryType classifies a transcript entry.
type EntryType int

const (
	EntryUserInput EntryType = iota
	EntryAssistantOutput
	EntryToolCall
	EntryFileEdit
	EntryCompactMarker
	EntrySystemMessage
)

func (t EntryType) String() string {
	switch t {
	case EntryUserInput:
		return "user_input"
	case EntryAssistantOutput:
		return "assistant_output"
	case EntryToolCall:
		return "tool_call"
	case EntryFileEdit:
		return "file_edit"
	case EntryCompactMarker:
		return "compact_marker"
	case EntrySystemMessage:
		return "system_message"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler to output the string representation.
func (t EntryType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler for persisted transcript lines.
func (t *EntryType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "user_input":
		*t = EntryUserInput
	case "assistant_output":
		*t = EntryAssistantOutput
	case "tool_call":
		*t = EntryToolCall
	case "file_edit":
		*t = EntryFileEdit
	case "compact_marker":
		*t = EntryCompactMarker
	case "system_message":
		*t = EntrySystemMessage
	default:
		return fmt.Errorf("unknown entry type %q", name)
	}
	return nil
}

// FileOp identifies the kind of file modification a tool performed.
type FileOp int

const (
	OpModify FileOp = iota
	OpCreate
	OpDelete
)

func (o FileOp) String() string {
	switch o {
	case OpModify:
		return "modify"
	case OpCreate:
		return "create"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler to output the string representation.
func (o FileOp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + o.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler for persisted transcript lines.
func (o *FileOp) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "modify":
		*o = OpModify
	case "create":
		*o = OpCreate
	case "delete":
		*o = OpDelete
	default:
		return fmt.Errorf("unknown file op %q", name)
	}
	return nil
}

// ToolDetail is the structured payload of a tool_call entry.
type ToolDetail struct {
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// FileEditDetail is the structured payload of a file_edit entry.
type FileEditDetail struct {
	Path string `json:"path"`
	Op   FileOp `json:"op"`
}

// CompactionDetail is the structured payload of a compact_marker entry.
type CompactionDetail struct {
	// Entries is how many transcript entries this marker rendered compacted.
	Entries   int       `json:"entries"`
	Summary   string    `json:"summary,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Entry is one immutable, ordered record of something that happened in a
// session. Entries are append-only; the only permitted mutation after
// creation is setting the Compacted flag.
type Entry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Type      EntryType `json:"type"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// Compacted is monotonic: once true it is never reset.
	Compacted bool `json:"compacted,omitempty"`

	// RestorePointID links a file_edit entry to the pre-image captured
	// before the edit. Empty for creation edits (no pre-image exists).
	RestorePointID string `json:"restore_point_id,omitempty"`

	Tool       *ToolDetail       `json:"tool,omitempty"`
	FileEdit   *FileEditDetail   `json:"file_edit,omitempty"`
	Compaction *CompactionDetail `json:"compaction,omitempty"`
}

// RestoreFile is one captured file inside a restore point.
type RestoreFile struct {
	// Path is relative to the session's working directory.
	Path string `json:"path"`
	// Content is the captured bytes. Listings may omit it and carry only
	// Path and Size.
	Content []byte `json:"content,omitempty"`
	Size    int64  `json:"size"`
}

// RestorePoint is an immutable snapshot of one or more files' content,
// captured before a modifying action.
type RestorePoint struct {
	ID             string        `json:"id"`
	SessionID      string        `json:"session_id"`
	Description    string        `json:"description"`
	TriggerEntryID string        `json:"trigger_entry_id,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	Files          []RestoreFile `json:"files"`
}

// Liveness reports whether the agent process survived a pause or stop
// request, so resume does not have to guess from incidental state.
type Liveness int

const (
	StillAlive Liveness = iota
	Exited
)

func (l Liveness) String() string {
	switch l {
	case StillAlive:
		return "still_alive"
	case Exited:
		return "exited"
	default:
		return "unknown"
	}
}

// NotificationKind classifies an outward notification.
type NotificationKind int

const (
	NotifyOutput NotificationKind = iota
	NotifyPrompt
	NotifyTool
	NotifyFileEdit
	NotifyCompact
	NotifyStatus
	NotifyError
	NotifyEnded
	NotifyDiagnostic
)

func (k NotificationKind) String() string {
	switch k {
	case NotifyOutput:
		return "output"
	case NotifyPrompt:
		return "prompt"
	case NotifyTool:
		return "tool"
	case NotifyFileEdit:
		return "file_edit"
	case NotifyCompact:
		return "compact"
	case NotifyStatus:
		return "status"
	case NotifyError:
		return "error"
	case NotifyEnded:
		return "ended"
	case NotifyDiagnostic:
		return "diagnostic"
	default:
		return "unknown"
	}
}

// Notification is one outward-facing event about a session, consumed by a
// presentation layer through a Notifier.
type Notification struct {
	Kind      NotificationKind
	SessionID string

	// Text carries the cumulative output so far (NotifyOutput), the prompt
	// text (NotifyPrompt), the error message (NotifyError), or one
	// diagnostic line (NotifyDiagnostic).
	Text string

	// Final marks the last output notification of an accumulation.
	Final bool

	// MessageID identifies which streaming accumulation an output
	// notification belongs to.
	MessageID string

	// Entry is the transcript entry a notification refers to, when one
	// exists (tool, file_edit, compact, final output, prompt).
	Entry *Entry

	// Status is the new status for NotifyStatus.
	Status Status

	// ExitCode is the process exit code for NotifyEnded.
	ExitCode int

	// RestorePointID accompanies NotifyFileEdit. Empty when no pre-image
	// was captured.
	RestorePointID string

	Err error
}

// Notifier receives outward notifications. Implementations must not block;
// the Manager calls Notify from its read loops.
type Notifier interface {
	Notify(n Notification)
}

// TranscriptStore persists sessions and their transcript entries.
type TranscriptStore interface {
	CreateSession(s *Session) error
	GetSession(id string) (*Session, error)
	ListSessions() ([]*Session, error)
	UpdateSession(s *Session) error
	DeleteSession(id string) error

	AppendEntry(e *Entry) error
	Entries(sessionID string) ([]*Entry, error)
	// EntriesSince returns all entries strictly after the given entry id,
	// in insertion order.
	EntriesSince(sessionID, entryID string) ([]*Entry, error)
	MarkCompacted(sessionID string, entryIDs []string) error
}

// SnapshotManager stores restore points and applies them back to disk.
type SnapshotManager interface {
	Create(rp *RestorePoint) error
	// List returns restore point metadata for a session, newest first.
	// File contents are omitted.
	List(sessionID string) ([]*RestorePoint, error)
	Get(sessionID, id string) (*RestorePoint, error)
	// Restore writes a restore point's files under targetDir. When backup
	// is true the current content of those files is captured as a new
	// restore point first. Returns the relative paths written.
	Restore(sessionID, id, targetDir string, backup bool) ([]string, error)
	// Purge removes every restore point belonging to a session.
	Purge(sessionID string) error
}

// Settings resolves user-facing configuration for the agent process.
type Settings interface {
	// AgentCommand returns the executable to spawn: an absolute path
	// (with ~ already expanded) or a bare name for PATH lookup.
	AgentCommand() string
	// AgentEnv returns extra environment overrides for the process.
	AgentEnv() map[string]string
	PermissionMode() string
	// RestoreCooldown is the window during which repeated edits to the
	// same path coalesce into one restore point.
	RestoreCooldown() time.Duration
	// MaxCaptureSize bounds the byte size of a single captured pre-image.
	MaxCaptureSize() int64
}
