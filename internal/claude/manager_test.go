// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory TranscriptStore for tests.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	entries  map[string][]*Entry
}

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[string]*Session),
		entries:  make(map[string][]*Entry),
	}
}

func (s *memStore) CreateSession(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return fmt.Errorf("session %s already exists", sess.ID)
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *memStore) GetSession(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	cp := *sess
	return &cp, nil
}

func (s *memStore) ListSessions() ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		cp := *sess
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) UpdateSession(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sess.ID)
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *memStore) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	delete(s.entries, id)
	return nil
}

func (s *memStore) AppendEntry(e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.entries[e.SessionID] = append(s.entries[e.SessionID], &cp)
	return nil
}

func (s *memStore) Entries(sessionID string) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Entry, 0, len(s.entries[sessionID]))
	for _, e := range s.entries[sessionID] {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) EntriesSince(sessionID, entryID string) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.entries[sessionID]
	start := 0
	if entryID != "" {
		start = -1
		for i, e := range list {
			if e.ID == entryID {
				start = i + 1
				break
			}
		}
		if start < 0 {
			return nil, fmt.Errorf("entry %s not found", entryID)
		}
	}
	out := make([]*Entry, 0, len(list)-start)
	for _, e := range list[start:] {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) MarkCompacted(sessionID string, entryIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[string]bool, len(entryIDs))
	for _, id := range entryIDs {
		ids[id] = true
	}
	for _, e := range s.entries[sessionID] {
		if ids[e.ID] {
			e.Compacted = true
		}
	}
	return nil
}

// memSnapshots is an in-memory SnapshotManager whose Restore really writes
// files back under the target directory.
type memSnapshots struct {
	mu          sync.Mutex
	points      map[string][]*RestorePoint
	failRestore bool
}

func newMemSnapshots() *memSnapshots {
	return &memSnapshots{points: make(map[string][]*RestorePoint)}
}

func (s *memSnapshots) Create(rp *RestorePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rp
	cp.Files = append([]RestoreFile(nil), rp.Files...)
	s.points[rp.SessionID] = append(s.points[rp.SessionID], &cp)
	return nil
}

func (s *memSnapshots) List(sessionID string) ([]*RestorePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.points[sessionID]
	out := make([]*RestorePoint, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		cp := *list[i]
		cp.Files = make([]RestoreFile, len(list[i].Files))
		for j, f := range list[i].Files {
			cp.Files[j] = RestoreFile{Path: f.Path, Size: f.Size}
		}
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memSnapshots) Get(sessionID, id string) (*RestorePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rp := range s.points[sessionID] {
		if rp.ID == id {
			cp := *rp
			cp.Files = append([]RestoreFile(nil), rp.Files...)
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("restore point %s not found", id)
}

func (s *memSnapshots) Restore(sessionID, id, targetDir string, backup bool) ([]string, error) {
	s.mu.Lock()
	if s.failRestore {
		s.mu.Unlock()
		return nil, fmt.Errorf("restore forced to fail")
	}
	var rp *RestorePoint
	for _, p := range s.points[sessionID] {
		if p.ID == id {
			rp = p
			break
		}
	}
	s.mu.Unlock()
	if rp == nil {
		return nil, fmt.Errorf("restore point %s not found", id)
	}

	if backup {
		var current []RestoreFile
		for _, f := range rp.Files {
			data, err := os.ReadFile(filepath.Join(targetDir, f.Path))
			if err != nil {
				continue
			}
			current = append(current, RestoreFile{Path: f.Path, Content: data, Size: int64(len(data))})
		}
		if len(current) > 0 {
			s.Create(&RestorePoint{
				ID:          "backup-" + id,
				SessionID:   sessionID,
				Description: "pre-restore backup",
				CreatedAt:   time.Now(),
				Files:       current,
			})
		}
	}

	restored := make([]string, 0, len(rp.Files))
	for _, f := range rp.Files {
		target := filepath.Join(targetDir, f.Path)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return restored, err
		}
		if err := os.WriteFile(target, f.Content, 0o644); err != nil {
			return restored, err
		}
		restored = append(restored, f.Path)
	}
	return restored, nil
}

func (s *memSnapshots) Purge(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.points, sessionID)
	return nil
}

func (s *memSnapshots) count(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.points[sessionID])
}

// testSettings implements Settings with permissive defaults.
type testSettings struct {
	command    string
	env        map[string]string
	mode       string
	cooldown   time.Duration
	maxCapture int64
}

func newTestSettings(command string) *testSettings {
	return &testSettings{command: command, maxCapture: 1 << 20}
}

func (s *testSettings) AgentCommand() string           { return s.command }
func (s *testSettings) AgentEnv() map[string]string    { return s.env }
func (s *testSettings) PermissionMode() string         { return s.mode }
func (s *testSettings) RestoreCooldown() time.Duration { return s.cooldown }
func (s *testSettings) MaxCaptureSize() int64          { return s.maxCapture }

// recordNotifier captures every notification for later inspection.
type recordNotifier struct {
	mu    sync.Mutex
	notes []Notification
}

func (n *recordNotifier) Notify(v Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, v)
}

func (n *recordNotifier) byKind(k NotificationKind) []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Notification
	for _, v := range n.notes {
		if v.Kind == k {
			out = append(out, v)
		}
	}
	return out
}

// memCrashes records CrashRecorder calls.
type memCrashes struct {
	mu    sync.Mutex
	calls []struct {
		sessionID string
		exitCode  int
	}
}

func (c *memCrashes) Record(sessionID string, exitCode int, uptime time.Duration, stderrTail []string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, struct {
		sessionID string
		exitCode  int
	}{sessionID, exitCode})
	return fmt.Sprintf("crash-%d", len(c.calls)), nil
}

func (c *memCrashes) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type fixture struct {
	store    *memStore
	snaps    *memSnapshots
	settings *testSettings
	notes    *recordNotifier
	crashes  *memCrashes
	mgr      *Manager
}

func newFixture(t *testing.T, settings *testSettings, seed ...*Session) *fixture {
	t.Helper()
	f := &fixture{
		store:    newMemStore(),
		snaps:    newMemSnapshots(),
		settings: settings,
		notes:    &recordNotifier{},
		crashes:  &memCrashes{},
	}
	for _, s := range seed {
		require.NoError(t, f.store.CreateSession(s))
	}
	mgr, err := NewManager(f.store, f.snaps, settings, f.notes, f.crashes)
	require.NoError(t, err)
	f.mgr = mgr
	t.Cleanup(func() { f.mgr.Shutdown(context.Background()) })
	return f
}

func waitUntil(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func stoppedSession(id, workDir string) *Session {
	now := time.Now()
	return &Session{ID: id, WorkDir: workDir, Status: StatusStopped, CreatedAt: now, UpdatedAt: now}
}

const streamScript = `echo '{"type":"system","subtype":"init","session_id":"agent-sess-1","model":"claude-sonnet-4-5"}'
echo '{"type":"stream_event","event":{"type":"message_start","message":{"id":"msg_test"}}}'
echo '{"type":"stream_event","event":{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi "}}}'
echo '{"type":"stream_event","event":{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"there"}}}'
echo '{"type":"stream_event","event":{"type":"message_stop"}}'
echo '{"type":"assistant","message":{"id":"msg_test","content":[{"type":"text","text":"Hi there"}]}}'
echo '{"type":"result","is_error":false,"result":"Hi there","num_turns":1}'
sleep 60
`

func TestManager_StartSession_StreamsOutput(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "agent.sh", streamScript)
	f := newFixture(t, newTestSettings(script))

	sess, err := f.mgr.StartSession(context.Background(), dir, StartOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)

	waitUntil(t, 3*time.Second, "waiting_input", func() bool {
		s, err := f.mgr.GetSession(sess.ID)
		return err == nil && s.Status == StatusWaitingInput
	})

	// Cumulative output notifications, then exactly one final.
	outs := f.notes.byKind(NotifyOutput)
	require.Len(t, outs, 3)
	assert.Equal(t, "Hi ", outs[0].Text)
	assert.False(t, outs[0].Final)
	assert.Equal(t, "Hi there", outs[1].Text)
	assert.False(t, outs[1].Final)
	assert.Equal(t, "Hi there", outs[2].Text)
	assert.True(t, outs[2].Final)
	require.NotNil(t, outs[2].Entry)
	assert.Equal(t, outs[0].MessageID, outs[2].MessageID)

	// The complete assistant turn must not duplicate the streamed text:
	// exactly one assistant_output entry.
	entries, err := f.mgr.Entries(sess.ID)
	require.NoError(t, err)
	var assistant []*Entry
	for _, e := range entries {
		if e.Type == EntryAssistantOutput {
			assistant = append(assistant, e)
		}
	}
	require.Len(t, assistant, 1)
	assert.Equal(t, "Hi there", assistant[0].Content)

	// Init metadata persisted.
	stored, err := f.store.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "agent-sess-1", stored.AgentSessionID)
	assert.Equal(t, "claude-sonnet-4-5", stored.Model)
	assert.Greater(t, stored.PID, 0)

	text, pending, err := f.mgr.PendingPrompt(sess.ID)
	require.NoError(t, err)
	assert.True(t, pending)
	assert.Equal(t, "Hi there", text)
}

func TestManager_SessionCrash(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "agent.sh", "exit 7\n")
	f := newFixture(t, newTestSettings(script))

	sess, err := f.mgr.StartSession(context.Background(), dir, StartOptions{})
	require.NoError(t, err)

	waitUntil(t, 3*time.Second, "stopped after crash", func() bool {
		s, err := f.mgr.GetSession(sess.ID)
		return err == nil && s.Status == StatusStopped && len(f.notes.byKind(NotifyEnded)) > 0
	})
	time.Sleep(100 * time.Millisecond)

	ended := f.notes.byKind(NotifyEnded)
	require.Len(t, ended, 1, "ended must fire exactly once")
	assert.Equal(t, 7, ended[0].ExitCode)
	assert.Equal(t, sess.ID, ended[0].SessionID)

	assert.Equal(t, 1, f.crashes.count())

	stored, err := f.store.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, stored.Status)
	assert.Zero(t, stored.PID)
}

func TestManager_StopSession(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "agent.sh", "sleep 60\n")
	f := newFixture(t, newTestSettings(script))

	sess, err := f.mgr.StartSession(context.Background(), dir, StartOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, mustGet(t, f, sess.ID).Status)

	_, err = f.mgr.StopSession(sess.ID)
	require.NoError(t, err)

	waitUntil(t, 3*time.Second, "stopped", func() bool {
		return mustGet(t, f, sess.ID).Status == StatusStopped
	})
	assert.Len(t, f.notes.byKind(NotifyEnded), 1)

	// A requested stop is not a crash.
	assert.Zero(t, f.crashes.count())

	// Idempotent.
	_, err = f.mgr.StopSession(sess.ID)
	require.NoError(t, err)
	assert.Len(t, f.notes.byKind(NotifyEnded), 1)
}

func mustGet(t *testing.T, f *fixture, id string) *Session {
	t.Helper()
	s, err := f.mgr.GetSession(id)
	require.NoError(t, err)
	return s
}

func TestManager_SpawnFailure(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, newTestSettings(filepath.Join(dir, "missing-agent")))

	_, err := f.mgr.StartSession(context.Background(), dir, StartOptions{})
	require.Error(t, err)

	var se *SpawnError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, dir, se.WorkDir)

	// The session exists, stopped, and the failure was notified.
	sessions := f.mgr.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, StatusStopped, sessions[0].Status)
	assert.NotEmpty(t, f.notes.byKind(NotifyError))
}

func TestManager_StartSession_BadWorkDir(t *testing.T) {
	f := newFixture(t, newTestSettings("claude"))

	_, err := f.mgr.StartSession(context.Background(), "/nonexistent/workdir", StartOptions{})
	require.Error(t, err)
	assert.Empty(t, f.mgr.Sessions())
}

func TestManager_SendInput(t *testing.T) {
	dir := t.TempDir()
	capture := filepath.Join(dir, "input.txt")
	script := writeScript(t, dir, "agent.sh", `echo '{"type":"result","result":"ready"}'
while read line; do printf '%s\n' "$line" >> "$CAPTURE_FILE"; done
`)
	f := newFixture(t, newTestSettings(script))

	sess, err := f.mgr.StartSession(context.Background(), dir, StartOptions{
		Env: map[string]string{"CAPTURE_FILE": capture},
	})
	require.NoError(t, err)

	waitUntil(t, 3*time.Second, "waiting_input", func() bool {
		return mustGet(t, f, sess.ID).Status == StatusWaitingInput
	})

	require.NoError(t, f.mgr.SendInput(sess.ID, "go"))
	assert.Equal(t, StatusRunning, mustGet(t, f, sess.ID).Status)

	waitUntil(t, 3*time.Second, "input captured", func() bool {
		data, err := os.ReadFile(capture)
		return err == nil && len(data) > 0
	})

	data, err := os.ReadFile(capture)
	require.NoError(t, err)
	var msg InputMessage
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &msg))
	assert.Equal(t, "user", msg.Type)
	assert.Equal(t, "user", msg.Message.Role)
	assert.Equal(t, "go", msg.Message.Content)

	entries, err := f.mgr.Entries(sess.ID)
	require.NoError(t, err)
	var inputs []*Entry
	for _, e := range entries {
		if e.Type == EntryUserInput {
			inputs = append(inputs, e)
		}
	}
	require.Len(t, inputs, 1)
	assert.Equal(t, "go", inputs[0].Content)

	// Prompt cleared.
	_, pending, err := f.mgr.PendingPrompt(sess.ID)
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestManager_SendInput_NotRunning(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, newTestSettings("claude"), stoppedSession("s1", dir))

	err := f.mgr.SendInput("s1", "hello")
	require.Error(t, err)

	var nre *NotRunningError
	require.ErrorAs(t, err, &nre)
	assert.Equal(t, "s1", nre.SessionID)
}

func TestManager_AgentEnvMergedWithOverrides(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "env.txt")
	script := writeScript(t, dir, "agent.sh", `printf '%s\n%s\n' "$A_VAL" "$B_VAL" > "$OUT_FILE"
sleep 60
`)
	settings := newTestSettings(script)
	settings.env = map[string]string{"A_VAL": "from-settings", "B_VAL": "from-settings"}
	f := newFixture(t, settings)

	_, err := f.mgr.StartSession(context.Background(), dir, StartOptions{
		Env: map[string]string{"B_VAL": "override", "OUT_FILE": out},
	})
	require.NoError(t, err)

	waitUntil(t, 3*time.Second, "env file", func() bool {
		data, err := os.ReadFile(out)
		return err == nil && len(data) > 0
	})
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "from-settings\noverride\n", string(data))
}

func TestManager_PauseResume_StillAlive(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "agent.sh", `trap '' INT
echo '{"type":"result","result":"idle"}'
while :; do sleep 1; done
`)
	f := newFixture(t, newTestSettings(script))

	sess, err := f.mgr.StartSession(context.Background(), dir, StartOptions{})
	require.NoError(t, err)
	waitUntil(t, 3*time.Second, "waiting_input", func() bool {
		return mustGet(t, f, sess.ID).Status == StatusWaitingInput
	})
	pid := mustGet(t, f, sess.ID).PID

	verdict, err := f.mgr.PauseSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StillAlive, verdict)
	assert.Equal(t, StatusPaused, mustGet(t, f, sess.ID).Status)

	// The process survived; resume flips status without a respawn.
	require.NoError(t, f.mgr.ResumeSession(context.Background(), sess.ID))
	assert.Equal(t, StatusRunning, mustGet(t, f, sess.ID).Status)
	assert.Equal(t, pid, mustGet(t, f, sess.ID).PID)
}

func TestManager_Pause_InterruptKillsAgent(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "agent.sh", "sleep 60\n")
	f := newFixture(t, newTestSettings(script))

	sess, err := f.mgr.StartSession(context.Background(), dir, StartOptions{})
	require.NoError(t, err)

	verdict, err := f.mgr.PauseSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, Exited, verdict)

	waitUntil(t, 3*time.Second, "stopped", func() bool {
		return mustGet(t, f, sess.ID).Status == StatusStopped
	})

	// Pausing the now-dead session reports not running.
	_, err = f.mgr.PauseSession(sess.ID)
	var nre *NotRunningError
	require.ErrorAs(t, err, &nre)
}

func TestManager_Resume_RespawnsWithResumeID(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.txt")
	script := writeScript(t, dir, "agent.sh", `echo "$@" >> "$ARGS_FILE"
echo '{"type":"system","subtype":"init","session_id":"agent-1"}'
exit 0
`)
	settings := newTestSettings(script)
	settings.env = map[string]string{"ARGS_FILE": argsFile}
	f := newFixture(t, settings)

	sess, err := f.mgr.StartSession(context.Background(), dir, StartOptions{})
	require.NoError(t, err)
	waitUntil(t, 3*time.Second, "first exit", func() bool {
		return mustGet(t, f, sess.ID).Status == StatusStopped
	})

	require.NoError(t, f.mgr.ResumeSession(context.Background(), sess.ID))
	waitUntil(t, 3*time.Second, "second run recorded", func() bool {
		data, err := os.ReadFile(argsFile)
		return err == nil && strings.Count(string(data), "\n") >= 2
	})

	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	runs := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, runs, 2)
	assert.NotContains(t, runs[0], "--resume")
	assert.Contains(t, runs[1], "--resume agent-1")
}

func TestManager_ResultClearsStaleResumeID(t *testing.T) {
	dir := t.TempDir()
	sess := stoppedSession("s1", dir)
	sess.AgentSessionID = "stale-1"
	f := newFixture(t, newTestSettings("claude"), sess)

	ms, err := f.mgr.managedSession("s1")
	require.NoError(t, err)

	f.mgr.handleLine(ms, []byte(`{"type":"result","is_error":true,"errors":["No conversation found with session ID: stale-1"]}`))

	stored, err := f.store.GetSession("s1")
	require.NoError(t, err)
	assert.Empty(t, stored.AgentSessionID)
	assert.Equal(t, StatusWaitingInput, stored.Status)
	assert.Len(t, f.notes.byKind(NotifyPrompt), 1)
}

func TestManager_HandleLine_Noise(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, newTestSettings("claude"), stoppedSession("s1", dir))
	ms, err := f.mgr.managedSession("s1")
	require.NoError(t, err)

	// Unparseable and unknown lines are logged and dropped, never fatal.
	f.mgr.handleLine(ms, []byte(`{"truncated`))
	f.mgr.handleLine(ms, []byte(`{"type":"telemetry"}`))
	f.mgr.handleLine(ms, []byte(`{"type":"stream_event","event":{"type":"ping"}}`))
	f.mgr.handleLine(ms, nil)

	entries, err := f.mgr.Entries("s1")
	require.NoError(t, err)
	assert.Empty(t, entries)
	f.notes.mu.Lock()
	defer f.notes.mu.Unlock()
	assert.Empty(t, f.notes.notes)
}

func TestManager_HandleLine_ErrorEvent(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, newTestSettings("claude"), stoppedSession("s1", dir))
	ms, err := f.mgr.managedSession("s1")
	require.NoError(t, err)

	f.mgr.handleLine(ms, []byte(`{"type":"error","error":{"message":"overloaded"}}`))

	errs := f.notes.byKind(NotifyError)
	require.Len(t, errs, 1)
	assert.Equal(t, "overloaded", errs[0].Text)
	// An agent error does not change the session status.
	assert.Equal(t, StatusStopped, mustGet(t, f, "s1").Status)
}

func TestManager_CompactBoundary(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, newTestSettings("claude"), stoppedSession("s1", dir))
	ms, err := f.mgr.managedSession("s1")
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, f.store.AppendEntry(&Entry{ID: "e1", SessionID: "s1", Type: EntryUserInput, Content: "hi", Timestamp: now}))
	require.NoError(t, f.store.AppendEntry(&Entry{ID: "e2", SessionID: "s1", Type: EntryAssistantOutput, Content: "hello", Timestamp: now}))

	f.mgr.handleLine(ms, []byte(`{"type":"system","subtype":"compact_boundary","compact_metadata":{"trigger":"auto","pre_tokens":90000}}`))

	entries, err := f.mgr.Entries("s1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.True(t, entries[0].Compacted)
	assert.True(t, entries[1].Compacted)

	marker := entries[2]
	assert.Equal(t, EntryCompactMarker, marker.Type)
	assert.False(t, marker.Compacted)
	require.NotNil(t, marker.Compaction)
	assert.Equal(t, 2, marker.Compaction.Entries)
	assert.Contains(t, marker.Content, "auto")
	assert.Contains(t, marker.Content, "90000")

	notes := f.notes.byKind(NotifyCompact)
	require.Len(t, notes, 1)
	require.NotNil(t, notes[0].Entry)
	assert.Equal(t, marker.ID, notes[0].Entry.ID)
}

func TestManager_CompactSession_Monotonic(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, newTestSettings("claude"), stoppedSession("s1", dir))

	now := time.Now()
	for i := 1; i <= 3; i++ {
		require.NoError(t, f.store.AppendEntry(&Entry{
			ID: fmt.Sprintf("e%d", i), SessionID: "s1", Type: EntryUserInput, Timestamp: now,
		}))
	}

	marker1, err := f.mgr.CompactSession("s1", "first summary")
	require.NoError(t, err)
	require.NotNil(t, marker1.Compaction)
	assert.Equal(t, 3, marker1.Compaction.Entries)
	assert.Equal(t, "first summary", marker1.Compaction.Summary)

	// Re-compacting counts only what was not already compacted: the
	// previous marker itself.
	marker2, err := f.mgr.CompactSession("s1", "second summary")
	require.NoError(t, err)
	assert.Equal(t, 1, marker2.Compaction.Entries)

	entries, err := f.mgr.Entries("s1")
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for _, e := range entries[:4] {
		assert.True(t, e.Compacted, "entry %s", e.ID)
	}
	assert.False(t, entries[4].Compacted)
}

func TestManager_Diagnostics(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "agent.sh", `echo 'warn: something odd' >&2
echo '{"type":"result","result":"ok"}'
sleep 60
`)
	f := newFixture(t, newTestSettings(script))

	sess, err := f.mgr.StartSession(context.Background(), dir, StartOptions{})
	require.NoError(t, err)
	waitUntil(t, 3*time.Second, "diagnostic line", func() bool {
		lines, _, err := f.mgr.Diagnostics(sess.ID, 0)
		return err == nil && len(lines) > 0
	})

	lines, latest, err := f.mgr.Diagnostics(sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "warn: something odd", lines[0].Text)

	// Diagnostic output never enters the transcript.
	entries, err := f.mgr.Entries(sess.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)

	more, _, err := f.mgr.Diagnostics(sess.ID, latest)
	require.NoError(t, err)
	assert.Empty(t, more)

	diags := f.notes.byKind(NotifyDiagnostic)
	require.Len(t, diags, 1)
	assert.Equal(t, "warn: something odd", diags[0].Text)
}

func TestManager_DeleteSession(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, newTestSettings("claude"), stoppedSession("s1", dir))
	require.NoError(t, f.snaps.Create(&RestorePoint{ID: "rp1", SessionID: "s1"}))
	require.NoError(t, f.store.AppendEntry(&Entry{ID: "e1", SessionID: "s1", Type: EntryUserInput}))

	require.NoError(t, f.mgr.DeleteSession("s1"))

	_, err := f.mgr.GetSession("s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.store.GetSession("s1")
	assert.Error(t, err)
	assert.Zero(t, f.snaps.count("s1"))
}

func TestManager_UnknownSession(t *testing.T) {
	f := newFixture(t, newTestSettings("claude"))
	ctx := context.Background()

	_, err := f.mgr.GetSession("ghost")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, f.mgr.SendInput("ghost", "x"), ErrSessionNotFound)
	_, err = f.mgr.PauseSession("ghost")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.mgr.StopSession("ghost")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, f.mgr.ResumeSession(ctx, "ghost"), ErrSessionNotFound)
	assert.ErrorIs(t, f.mgr.DeleteSession("ghost"), ErrSessionNotFound)
	_, err = f.mgr.Entries("ghost")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, _, err = f.mgr.PendingPrompt("ghost")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.mgr.CompactSession("ghost", "s")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, _, err = f.mgr.Diagnostics("ghost", 0)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.mgr.RestorePoints("ghost")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, f.mgr.RestoreToPoint(ctx, "ghost", "rp"), ErrSessionNotFound)
}

func TestManager_NormalizesPersistedStatus(t *testing.T) {
	dir := t.TempDir()
	sess := stoppedSession("s1", dir)
	sess.Status = StatusRunning
	sess.PID = 12345
	f := newFixture(t, newTestSettings("claude"), sess)

	got := mustGet(t, f, "s1")
	assert.Equal(t, StatusStopped, got.Status)
	// The stale PID survives normalization so ReapOrphans can probe it.
	assert.Equal(t, 12345, got.PID)
}

func TestManager_Sessions_SortedByCreation(t *testing.T) {
	dir := t.TempDir()
	older := stoppedSession("older", dir)
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := stoppedSession("newer", dir)
	f := newFixture(t, newTestSettings("claude"), newer, older)

	sessions := f.mgr.Sessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, "older", sessions[0].ID)
	assert.Equal(t, "newer", sessions[1].ID)
}

func TestManager_EntriesSince(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, newTestSettings("claude"), stoppedSession("s1", dir))
	for i := 1; i <= 3; i++ {
		require.NoError(t, f.store.AppendEntry(&Entry{
			ID: fmt.Sprintf("e%d", i), SessionID: "s1", Type: EntryUserInput,
		}))
	}

	after, err := f.mgr.EntriesSince("s1", "e1")
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, "e2", after[0].ID)
	assert.Equal(t, "e3", after[1].ID)
}

func TestManager_Shutdown(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "agent.sh", "sleep 60\n")
	f := newFixture(t, newTestSettings(script))

	a, err := f.mgr.StartSession(context.Background(), dir, StartOptions{})
	require.NoError(t, err)
	b, err := f.mgr.StartSession(context.Background(), dir, StartOptions{})
	require.NoError(t, err)

	require.NoError(t, f.mgr.Shutdown(context.Background()))

	waitUntil(t, 3*time.Second, "both stopped", func() bool {
		return mustGet(t, f, a.ID).Status == StatusStopped &&
			mustGet(t, f, b.ID).Status == StatusStopped
	})
}

func TestManager_ReapOrphans(t *testing.T) {
	dir := t.TempDir()

	// A leftover agent from a dead supervisor: a real process whose
	// executable matches the configured agent command.
	orphan := exec.Command("sleep", "60")
	orphan.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	require.NoError(t, orphan.Start())
	pid := orphan.Process.Pid
	go orphan.Wait()
	t.Cleanup(func() { syscall.Kill(-pid, syscall.SIGKILL) })

	sess := stoppedSession("s1", dir)
	sess.PID = pid
	unrelated := stoppedSession("s2", dir)
	unrelated.PID = 999999 // long dead
	f := newFixture(t, newTestSettings("/usr/bin/sleep"), sess, unrelated)

	killed, err := f.mgr.ReapOrphans()
	require.NoError(t, err)
	assert.Equal(t, 1, killed)

	waitUntil(t, 3*time.Second, "orphan dead", func() bool {
		return syscall.Kill(pid, 0) != nil
	})

	for _, id := range []string{"s1", "s2"} {
		stored, err := f.store.GetSession(id)
		require.NoError(t, err)
		assert.Zero(t, stored.PID, "session %s", id)
	}
}
