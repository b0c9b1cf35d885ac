// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package claude supervises interactive Claude Code CLI sessions: it spawns
// the agent process, speaks the line-delimited streaming JSON protocol over
// its stdio pipes, reconstructs a durable transcript, captures pre-edit
// restore points and publishes outward notifications.
package claude

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	ps "github.com/mitchellh/go-ps"
	"golang.org/x/sync/errgroup"
)

// pauseProbeDelay is how long Pause waits after the interrupt before
// deciding whether the process survived it.
const pauseProbeDelay = 200 * time.Millisecond

// CrashRecorder persists reports about abnormal agent exits. May be nil.
type CrashRecorder interface {
	Record(sessionID string, exitCode int, uptime time.Duration, stderrTail []string) (string, error)
}

// StartOptions customizes one session start.
type StartOptions struct {
	// InitialPrompt, when set, is sent as the first user input once the
	// process is up.
	InitialPrompt string
	// Env holds extra environment overrides for the agent process.
	Env map[string]string
}

// managed is the runtime-only counterpart of a Session: the live process
// handle, parser scratch state and the in-flight restore-point window.
// Created on start, destroyed on delete or shutdown, never persisted.
type managed struct {
	id string

	mu      sync.Mutex
	stdinMu sync.Mutex // serializes writes to the input pipe

	session *Session
	proc    *agentProcess
	// processGen increments per spawn so a finished read loop never
	// cleans up state belonging to a newer process.
	processGen    int
	startedAt     time.Time
	stopRequested bool

	acc           accumulator
	pendingPrompt string
	promptPending bool

	// inflight de-duplicates restore-point captures per file path within
	// the cooldown window.
	inflight map[string]time.Time

	diag *diagBuffer
}

// Manager owns every session. One instance is constructed at process start
// and handed to callers; there is no package-level registry.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*managed

	store     TranscriptStore
	recorder  *Recorder
	snapshots SnapshotManager
	settings  Settings
	notifier  Notifier
	crashes   CrashRecorder
}

type nopNotifier struct{}

func (nopNotifier) Notify(Notification) {}

// NewManager builds a Manager over its collaborators and loads previously
// persisted sessions. Sessions that were live when a prior supervisor died
// are normalized to stopped; their recorded PIDs are kept for ReapOrphans.
func NewManager(store TranscriptStore, snapshots SnapshotManager, settings Settings, notifier Notifier, crashes CrashRecorder) (*Manager, error) {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	m := &Manager{
		sessions:  make(map[string]*managed),
		store:     store,
		recorder:  NewRecorder(store),
		snapshots: snapshots,
		settings:  settings,
		notifier:  notifier,
		crashes:   crashes,
	}

	sessions, err := store.ListSessions()
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	for _, s := range sessions {
		if s.Status != StatusStopped {
			s.Status = StatusStopped
			s.UpdatedAt = time.Now()
			if err := store.UpdateSession(s); err != nil {
				log.Printf("claude [%s]: normalize status: %v", s.ID, err)
			}
		}
		m.sessions[s.ID] = &managed{
			id:       s.ID,
			session:  s,
			inflight: make(map[string]time.Time),
			diag:     newDiagBuffer(0),
		}
	}
	return m, nil
}

// StartSession allocates a session for workDir, persists it, and spawns the
// agent process. It returns after the spawn attempt; it does not block for
// first output. On spawn failure the session is left stopped and a
// *SpawnError is returned.
func (m *Manager) StartSession(ctx context.Context, workDir string, opts StartOptions) (*Session, error) {
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("resolve work dir: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("work dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("work dir %s is not a directory", abs)
	}

	now := time.Now()
	session := &Session{
		ID:        uuid.New().String(),
		WorkDir:   abs,
		Status:    StatusStarting,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreateSession(session); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	ms := &managed{
		id:       session.ID,
		session:  session,
		inflight: make(map[string]time.Time),
		diag:     newDiagBuffer(0),
	}
	m.mu.Lock()
	m.sessions[session.ID] = ms
	m.mu.Unlock()

	m.notifier.Notify(Notification{Kind: NotifyStatus, SessionID: session.ID, Status: StatusStarting})

	if err := m.spawn(ctx, ms, opts.Env); err != nil {
		return m.snapshotSession(ms), err
	}

	if opts.InitialPrompt != "" {
		if err := m.SendInput(session.ID, opts.InitialPrompt); err != nil {
			return m.snapshotSession(ms), fmt.Errorf("initial prompt: %w", err)
		}
	}
	return m.snapshotSession(ms), nil
}

// spawn starts a new agent process for ms and begins pumping both output
// pipes. Transitions to running on success, stopped on failure. Configured
// agent environment applies first, per-start overrides win.
func (m *Manager) spawn(ctx context.Context, ms *managed, extra map[string]string) error {
	env := make(map[string]string)
	for k, v := range m.settings.AgentEnv() {
		env[k] = v
	}
	for k, v := range extra {
		env[k] = v
	}

	ms.mu.Lock()
	cfg := spawnConfig{
		Command:        m.settings.AgentCommand(),
		WorkDir:        ms.session.WorkDir,
		PermissionMode: m.settings.PermissionMode(),
		ResumeID:       ms.session.AgentSessionID,
		Env:            env,
	}
	ms.mu.Unlock()

	proc, err := spawnAgent(ctx, cfg)
	if err != nil {
		serr := &SpawnError{WorkDir: cfg.WorkDir, Err: err}
		log.Printf("claude [%s]: %v", ms.id, serr)
		m.setStatus(ms, StatusStopped)
		m.notifier.Notify(Notification{Kind: NotifyError, SessionID: ms.id, Text: serr.Error(), Err: serr})
		return serr
	}

	ms.mu.Lock()
	ms.proc = proc
	ms.processGen++
	gen := ms.processGen
	ms.startedAt = time.Now()
	ms.stopRequested = false
	ms.acc = accumulator{}
	ms.session.PID = proc.pid()
	ms.mu.Unlock()

	if err := m.store.UpdateSession(m.snapshotSession(ms)); err != nil {
		log.Printf("claude [%s]: persist pid: %v", ms.id, err)
	}

	// Running must be set before reapLoop can run: a process that exits
	// immediately would otherwise have its stopped status overwritten.
	m.setStatus(ms, StatusRunning)

	proc.readers.Add(2)
	go m.pumpProtocol(ms, proc)
	go m.pumpDiagnostics(ms, proc)
	go m.reapLoop(ms, proc, gen)

	log.Printf("claude [%s]: spawned %s (pid %d) in %s", ms.id, cfg.Command, proc.pid(), cfg.WorkDir)
	return nil
}

// pumpProtocol reads the primary output pipe through this pipe's own line
// framer and dispatches each complete line to the protocol decoder. The
// diagnostic pipe has a separate framer; the two loops share no buffer.
func (m *Manager) pumpProtocol(ms *managed, proc *agentProcess) {
	defer proc.readers.Done()

	framer := &lineFramer{}
	buf := make([]byte, 64*1024)
	for {
		n, err := proc.stdout.Read(buf)
		if n > 0 {
			for _, line := range framer.Push(buf[:n]) {
				m.handleLine(ms, line)
			}
		}
		if err != nil {
			if line := framer.Flush(); len(line) > 0 {
				m.handleLine(ms, line)
			}
			m.reportStreamError(ms, proc, "stdout", err)
			return
		}
	}
}

// pumpDiagnostics reads the diagnostic pipe line by line into the session's
// ring buffer. Diagnostic output never enters protocol parsing.
func (m *Manager) pumpDiagnostics(ms *managed, proc *agentProcess) {
	defer proc.readers.Done()

	framer := &lineFramer{}
	buf := make([]byte, 32*1024)
	for {
		n, err := proc.stderr.Read(buf)
		if n > 0 {
			for _, line := range framer.Push(buf[:n]) {
				m.recordDiagnostic(ms, string(line))
			}
		}
		if err != nil {
			if line := framer.Flush(); len(line) > 0 {
				m.recordDiagnostic(ms, string(line))
			}
			m.reportStreamError(ms, proc, "stderr", err)
			return
		}
	}
}

func (m *Manager) recordDiagnostic(ms *managed, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	ms.diag.Add(text)
	log.Printf("claude [%s] stderr: %s", ms.id, text)
	m.notifier.Notify(Notification{Kind: NotifyDiagnostic, SessionID: ms.id, Text: text})
}

// reportStreamError surfaces a pipe read failure while the process is still
// believed alive. EOF and post-exit errors are normal teardown.
func (m *Manager) reportStreamError(ms *managed, proc *agentProcess, pipe string, err error) {
	if err == nil || errors.Is(err, io.EOF) || !proc.alive() {
		return
	}
	if strings.Contains(err.Error(), "file already closed") {
		return
	}
	serr := &StreamError{SessionID: ms.id, Pipe: pipe, Err: err}
	log.Printf("claude [%s]: %v", ms.id, serr)
	m.notifier.Notify(Notification{Kind: NotifyError, SessionID: ms.id, Text: serr.Error(), Err: serr})
}

// reapLoop waits for the process to exit, then forces the session to
// stopped and emits the ended notification, exactly once per process
// instance. A stale generation skips the state cleanup: a newer process
// already owns the session.
func (m *Manager) reapLoop(ms *managed, proc *agentProcess, gen int) {
	proc.reap()
	code, _ := proc.exitResult()

	ms.mu.Lock()
	current := ms.processGen == gen
	requested := ms.stopRequested
	uptime := time.Since(ms.startedAt)
	if current {
		ms.proc = nil
		ms.acc = accumulator{}
		ms.promptPending = false
		ms.pendingPrompt = ""
		ms.session.PID = 0
	}
	ms.mu.Unlock()

	if current {
		m.setStatus(ms, StatusStopped)
	}
	log.Printf("claude [%s]: agent exited with code %d after %s", ms.id, code, uptime.Round(time.Millisecond))

	if code != 0 && !requested && m.crashes != nil {
		tail := ms.diag.Tail(50)
		lines := make([]string, len(tail))
		for i, l := range tail {
			lines[i] = l.Text
		}
		if id, err := m.crashes.Record(ms.id, code, uptime, lines); err != nil {
			log.Printf("claude [%s]: record crash: %v", ms.id, err)
		} else {
			log.Printf("claude [%s]: crash report %s", ms.id, id)
		}
	}

	m.notifier.Notify(Notification{Kind: NotifyEnded, SessionID: ms.id, ExitCode: code})
}

// handleLine decodes one protocol line and routes the event. Lines that
// fail to parse are diagnostic noise: logged, never fatal to the session.
func (m *Manager) handleLine(ms *managed, line []byte) {
	if len(line) == 0 {
		return
	}
	event, err := DecodeLine(line)
	if err != nil {
		log.Printf("claude [%s]: %v", ms.id, err)
		return
	}

	switch ev := event.(type) {
	case *SystemEvent:
		m.handleSystem(ms, ev)
	case *AssistantEvent:
		m.handleAssistant(ms, ev)
	case *StreamEvent:
		m.handleStream(ms, ev.Inner)
	case *ResultEvent:
		m.handleResult(ms, ev)
	case *ErrorEvent:
		log.Printf("claude [%s]: agent error: %s", ms.id, ev.Message)
		m.notifier.Notify(Notification{Kind: NotifyError, SessionID: ms.id, Text: ev.Message, Err: fmt.Errorf("agent error: %s", ev.Message)})
	}
}

// handleSystem observes session metadata announcements and in-band
// compaction boundaries. Init events are not transcripted.
func (m *Manager) handleSystem(ms *managed, ev *SystemEvent) {
	switch ev.Subtype {
	case "init", "":
		ms.mu.Lock()
		changed := false
		if ev.AgentSessionID != "" && ms.session.AgentSessionID != ev.AgentSessionID {
			ms.session.AgentSessionID = ev.AgentSessionID
			changed = true
		}
		if ev.Model != "" && ms.session.Model != ev.Model {
			ms.session.Model = ev.Model
			changed = true
		}
		ms.mu.Unlock()
		if changed {
			if err := m.store.UpdateSession(m.snapshotSession(ms)); err != nil {
				log.Printf("claude [%s]: persist agent metadata: %v", ms.id, err)
			}
		}
		log.Printf("claude [%s]: agent session %s model %s", ms.id, ev.AgentSessionID, ev.Model)

	case "compact_boundary":
		summary := "context compacted"
		if ev.Compact != nil {
			summary = fmt.Sprintf("context compacted (%s, %d tokens before)", ev.Compact.Trigger, ev.Compact.PreTokens)
		}
		marker, n, err := m.recorder.Compact(ms.id, "", summary)
		if err != nil {
			log.Printf("claude [%s]: compact: %v", ms.id, err)
			return
		}
		log.Printf("claude [%s]: compacted %d entries", ms.id, n)
		m.notifier.Notify(Notification{Kind: NotifyCompact, SessionID: ms.id, Text: summary, Entry: marker})

	default:
		log.Printf("claude [%s]: system %s", ms.id, ev.Subtype)
	}
}

// handleAssistant transcripts tool invocations from a complete message
// turn. Text blocks in this complete form are intentionally not
// re-transcripted: the same text already arrived through the granular
// delta events, and recording both would double every message.
func (m *Manager) handleAssistant(ms *managed, ev *AssistantEvent) {
	for i := range ev.Content {
		block := &ev.Content[i]
		if block.Type != "tool_use" {
			continue
		}

		entry := &Entry{
			SessionID: ms.id,
			Type:      EntryToolCall,
			Content:   describeToolUse(block),
			Tool: &ToolDetail{
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			},
		}
		if err := m.recorder.Append(entry); err != nil {
			log.Printf("claude [%s]: %v", ms.id, err)
			continue
		}
		m.notifier.Notify(Notification{Kind: NotifyTool, SessionID: ms.id, Text: entry.Content, Entry: entry})

		if edit, ok := detectFileEdit(block); ok {
			m.captureFileEdit(ms, edit)
		}
	}
}

// handleStream feeds granular partial-progress events into the session's
// streaming accumulator.
func (m *Manager) handleStream(ms *managed, inner InnerEvent) {
	switch ev := inner.(type) {
	case *MessageStart:
		ms.mu.Lock()
		ms.acc.start()
		ms.mu.Unlock()

	case *ContentBlockStart, *ContentBlockStop:
		// Block boundaries carry no text; tool blocks are transcripted
		// from the complete assistant turn.

	case *ContentBlockDelta:
		if ev.Delta.Type != "text_delta" || ev.Delta.Text == "" {
			return
		}
		ms.mu.Lock()
		id, cumulative := ms.acc.append(ev.Delta.Text)
		ms.mu.Unlock()
		m.notifier.Notify(Notification{
			Kind:      NotifyOutput,
			SessionID: ms.id,
			MessageID: id,
			Text:      cumulative,
		})

	case *MessageDelta:
		// Stop reason and usage are informational.

	case *MessageStop:
		ms.mu.Lock()
		id, text, ok := ms.acc.stop()
		ms.mu.Unlock()
		if !ok {
			return
		}
		entry := &Entry{
			SessionID: ms.id,
			Type:      EntryAssistantOutput,
			Content:   text,
		}
		if err := m.recorder.Append(entry); err != nil {
			log.Printf("claude [%s]: %v", ms.id, err)
		}
		m.notifier.Notify(Notification{
			Kind:      NotifyOutput,
			SessionID: ms.id,
			MessageID: id,
			Text:      text,
			Final:     true,
			Entry:     entry,
		})
	}
}

// handleResult marks the turn complete: the session now waits for input and
// the result text becomes the pending prompt.
func (m *Manager) handleResult(ms *managed, ev *ResultEvent) {
	// A failed --resume means the agent lost the conversation; clear the
	// stored id so the next spawn starts fresh instead of failing again.
	if ev.IsError {
		for _, msg := range ev.Errors {
			if strings.Contains(msg, "No conversation found with session ID") {
				ms.mu.Lock()
				ms.session.AgentSessionID = ""
				ms.mu.Unlock()
				if err := m.store.UpdateSession(m.snapshotSession(ms)); err != nil {
					log.Printf("claude [%s]: clear agent session: %v", ms.id, err)
				}
				log.Printf("claude [%s]: agent lost conversation, cleared resume id", ms.id)
				break
			}
		}
	}

	ms.mu.Lock()
	ms.promptPending = true
	ms.pendingPrompt = ev.Result
	ms.mu.Unlock()

	m.setStatus(ms, StatusWaitingInput)
	m.notifier.Notify(Notification{Kind: NotifyPrompt, SessionID: ms.id, Text: ev.Result})
}

// SendInput encodes one piece of user input onto the agent's stdin, records
// a user_input entry, clears the pending prompt and returns the session to
// running.
func (m *Manager) SendInput(sessionID, text string) error {
	ms, err := m.managedSession(sessionID)
	if err != nil {
		return err
	}

	ms.mu.Lock()
	proc := ms.proc
	if proc == nil || !proc.alive() {
		ms.mu.Unlock()
		return &NotRunningError{SessionID: sessionID, Op: "send input"}
	}
	stdin := proc.stdin
	ms.promptPending = false
	ms.pendingPrompt = ""
	ms.mu.Unlock()

	line, err := EncodeUserInput(text)
	if err != nil {
		return err
	}

	ms.stdinMu.Lock()
	_, werr := stdin.Write(line)
	ms.stdinMu.Unlock()
	if werr != nil {
		serr := &StreamError{SessionID: sessionID, Pipe: "stdin", Err: werr}
		m.notifier.Notify(Notification{Kind: NotifyError, SessionID: sessionID, Text: serr.Error(), Err: serr})
		return serr
	}

	if err := m.recorder.Append(&Entry{
		SessionID: sessionID,
		Type:      EntryUserInput,
		Content:   text,
	}); err != nil {
		log.Printf("claude [%s]: %v", sessionID, err)
	}

	m.setStatus(ms, StatusRunning)
	return nil
}

// PendingPrompt returns the prompt text the agent is waiting on, if any.
func (m *Manager) PendingPrompt(sessionID string) (string, bool, error) {
	ms, err := m.managedSession(sessionID)
	if err != nil {
		return "", false, err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.pendingPrompt, ms.promptPending, nil
}

// PauseSession sends an interrupt to the live process and sets paused. The
// interrupt is advisory: the agent may keep emitting output, and it may
// even exit. The returned Liveness says which happened, so Resume does not
// have to guess.
func (m *Manager) PauseSession(sessionID string) (Liveness, error) {
	ms, err := m.managedSession(sessionID)
	if err != nil {
		return Exited, err
	}

	ms.mu.Lock()
	proc := ms.proc
	ms.mu.Unlock()
	if proc == nil || !proc.alive() {
		return Exited, &NotRunningError{SessionID: sessionID, Op: "pause"}
	}

	if err := proc.interrupt(); err != nil {
		return Exited, fmt.Errorf("interrupt: %w", err)
	}

	select {
	case <-proc.waitDone:
		// The interrupt ended the process; reapLoop handles stopped.
		return Exited, nil
	case <-time.After(pauseProbeDelay):
	}

	m.setStatus(ms, StatusPaused)
	return StillAlive, nil
}

// StopSession terminates the process if one is present and sets stopped.
// Idempotent: stopping an already-stopped session is a no-op.
func (m *Manager) StopSession(sessionID string) (Liveness, error) {
	ms, err := m.managedSession(sessionID)
	if err != nil {
		return Exited, err
	}

	ms.mu.Lock()
	proc := ms.proc
	ms.stopRequested = true
	ms.mu.Unlock()

	if proc == nil {
		m.setStatus(ms, StatusStopped)
		return Exited, nil
	}

	proc.terminate()
	return Exited, nil
}

// ResumeSession returns a session to running. If the process survived the
// pause the status simply flips back; if it exited, a new process is
// spawned for the same session and working directory, resuming the agent's
// own conversation when its id is known.
func (m *Manager) ResumeSession(ctx context.Context, sessionID string) error {
	ms, err := m.managedSession(sessionID)
	if err != nil {
		return err
	}

	ms.mu.Lock()
	proc := ms.proc
	ms.mu.Unlock()

	if proc != nil && proc.alive() {
		m.setStatus(ms, StatusRunning)
		return nil
	}
	return m.spawn(ctx, ms, nil)
}

// DeleteSession stops the process and removes the session with its
// transcript and restore points.
func (m *Manager) DeleteSession(sessionID string) error {
	ms, err := m.managedSession(sessionID)
	if err != nil {
		return err
	}

	ms.mu.Lock()
	proc := ms.proc
	ms.stopRequested = true
	ms.mu.Unlock()
	if proc != nil {
		proc.terminate()
	}

	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if err := m.snapshots.Purge(sessionID); err != nil {
		log.Printf("claude [%s]: purge restore points: %v", sessionID, err)
	}
	if err := m.store.DeleteSession(sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// GetSession returns a copy of the session descriptor.
func (m *Manager) GetSession(sessionID string) (*Session, error) {
	ms, err := m.managedSession(sessionID)
	if err != nil {
		return nil, err
	}
	return m.snapshotSession(ms), nil
}

// Sessions returns copies of all session descriptors, oldest first.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	list := make([]*managed, 0, len(m.sessions))
	for _, ms := range m.sessions {
		list = append(list, ms)
	}
	m.mu.Unlock()

	out := make([]*Session, 0, len(list))
	for _, ms := range list {
		out = append(out, m.snapshotSession(ms))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Entries returns a session's transcript in insertion order.
func (m *Manager) Entries(sessionID string) ([]*Entry, error) {
	if _, err := m.managedSession(sessionID); err != nil {
		return nil, err
	}
	return m.recorder.Entries(sessionID)
}

// EntriesSince returns all transcript entries strictly after entryID.
func (m *Manager) EntriesSince(sessionID, entryID string) ([]*Entry, error) {
	if _, err := m.managedSession(sessionID); err != nil {
		return nil, err
	}
	return m.recorder.EntriesSince(sessionID, entryID)
}

// CompactSession compacts everything currently in the transcript and
// appends a marker carrying the summary.
func (m *Manager) CompactSession(sessionID, summary string) (*Entry, error) {
	ms, err := m.managedSession(sessionID)
	if err != nil {
		return nil, err
	}
	marker, n, err := m.recorder.Compact(sessionID, "", summary)
	if err != nil {
		return nil, err
	}
	log.Printf("claude [%s]: compacted %d entries", ms.id, n)
	m.notifier.Notify(Notification{Kind: NotifyCompact, SessionID: sessionID, Text: summary, Entry: marker})
	return marker, nil
}

// Diagnostics returns diagnostic lines with sequence numbers strictly after
// seq, plus the latest sequence number for the next poll.
func (m *Manager) Diagnostics(sessionID string, seq uint64) ([]DiagLine, uint64, error) {
	ms, err := m.managedSession(sessionID)
	if err != nil {
		return nil, 0, err
	}
	lines, next := ms.diag.Since(seq)
	return lines, next, nil
}

// Shutdown stops all live sessions in parallel.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if _, err := m.StopSession(id); err != nil {
				return fmt.Errorf("stop %s: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// ReapOrphans finds agent processes recorded by a previous supervisor run
// that are still alive, kills them and clears the stale PIDs. Returns how
// many were killed.
func (m *Manager) ReapOrphans() (int, error) {
	m.mu.Lock()
	list := make([]*managed, 0, len(m.sessions))
	for _, ms := range m.sessions {
		list = append(list, ms)
	}
	m.mu.Unlock()

	agentName := filepath.Base(m.settings.AgentCommand())
	killed := 0
	for _, ms := range list {
		ms.mu.Lock()
		pid := ms.session.PID
		hasProc := ms.proc != nil
		ms.mu.Unlock()
		if hasProc || pid == 0 {
			continue
		}

		proc, err := ps.FindProcess(pid)
		if err != nil {
			log.Printf("claude [%s]: probe pid %d: %v", ms.id, pid, err)
			continue
		}
		if proc != nil && proc.Executable() == agentName {
			// The whole group was created with Setpgid, so the
			// negative pid reaches the agent's children too.
			if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
				log.Printf("claude [%s]: kill orphan %d: %v", ms.id, pid, err)
			} else {
				killed++
				log.Printf("claude [%s]: killed orphan agent pid %d", ms.id, pid)
			}
		}

		ms.mu.Lock()
		ms.session.PID = 0
		ms.session.UpdatedAt = time.Now()
		ms.mu.Unlock()
		if err := m.store.UpdateSession(m.snapshotSession(ms)); err != nil {
			log.Printf("claude [%s]: clear stale pid: %v", ms.id, err)
		}
	}
	return killed, nil
}

func (m *Manager) managedSession(sessionID string) (*managed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return ms, nil
}

// snapshotSession copies the descriptor under the session lock.
func (m *Manager) snapshotSession(ms *managed) *Session {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	s := *ms.session
	return &s
}

// setStatus updates the status, persists it and notifies when it actually
// changed. Callers must not hold ms.mu.
func (m *Manager) setStatus(ms *managed, st Status) {
	ms.mu.Lock()
	if ms.session.Status == st {
		ms.mu.Unlock()
		return
	}
	ms.session.Status = st
	ms.session.UpdatedAt = time.Now()
	snapshot := *ms.session
	ms.mu.Unlock()

	if err := m.store.UpdateSession(&snapshot); err != nil {
		log.Printf("claude [%s]: persist status: %v", ms.id, err)
	}
	m.notifier.Notify(Notification{Kind: NotifyStatus, SessionID: ms.id, Status: st})
}
