// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package watcher notices when the agent executable on disk changes, so the
// operator can be told that running sessions are on a stale build. It never
// restarts anything itself; live conversations are not interrupted.
package watcher

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/wingedpig/arbor/internal/events"
)

// AgentWatcher watches agent executables for updates and publishes
// watcher.agent_updated events when one changes.
type AgentWatcher struct {
	mu         sync.RWMutex
	bus        events.EventBus
	watcher    *fsnotify.Watcher
	debouncer  *Debouncer
	watched    map[string]string    // file path -> parent dir
	dirs       map[string]int       // parent dir -> watch count (ref counting)
	lastNotify map[string]time.Time // file path -> last notify time (cooldown)
	closed     bool
	closeCh    chan struct{}
	wg         sync.WaitGroup
}

// NewAgentWatcher creates an agent watcher publishing to bus.
func NewAgentWatcher(bus events.EventBus, debounce time.Duration) (*AgentWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &AgentWatcher{
		bus:        bus,
		watcher:    fsWatcher,
		debouncer:  NewDebouncer(debounce),
		watched:    make(map[string]string),
		dirs:       make(map[string]int),
		lastNotify: make(map[string]time.Time),
		closeCh:    make(chan struct{}),
	}

	w.wg.Add(1)
	go w.processEvents()

	return w, nil
}

// Watch starts watching an executable path for updates. Installers replace
// binaries by renaming a temp file over them, which silently breaks a watch
// on the file itself, so the parent directory is watched and events are
// filtered by path. The file need not exist yet; its creation counts as an
// update.
func (w *AgentWatcher) Watch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("watcher is closed")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	if _, exists := w.watched[absPath]; exists {
		return nil
	}

	dir := filepath.Dir(absPath)
	if err := w.addDirWatch(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", absPath, err)
	}

	w.watched[absPath] = dir
	return nil
}

// Unwatch stops watching an executable path.
func (w *AgentWatcher) Unwatch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	dir, exists := w.watched[absPath]
	if !exists {
		return fmt.Errorf("path %s not being watched", absPath)
	}

	w.removeDirWatch(dir)
	delete(w.watched, absPath)
	delete(w.lastNotify, absPath)
	w.debouncer.Cancel(absPath)

	return nil
}

// Watching returns the list of watched executable paths.
func (w *AgentWatcher) Watching() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	result := make([]string, 0, len(w.watched))
	for path := range w.watched {
		result = append(result, path)
	}
	return result
}

// Close stops the watcher and releases resources.
func (w *AgentWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	w.debouncer.Stop()
	w.watcher.Close()
	w.wg.Wait()

	return nil
}

func (w *AgentWatcher) addDirWatch(dir string) error {
	w.dirs[dir]++
	if w.dirs[dir] == 1 {
		if err := w.watcher.Add(dir); err != nil {
			w.dirs[dir]--
			if w.dirs[dir] == 0 {
				delete(w.dirs, dir)
			}
			return err
		}
	}
	return nil
}

func (w *AgentWatcher) removeDirWatch(dir string) {
	w.dirs[dir]--
	if w.dirs[dir] <= 0 {
		w.watcher.Remove(dir)
		delete(w.dirs, dir)
	}
}

func (w *AgentWatcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("watcher: fsnotify error: %v", err)
		}
	}
}

func (w *AgentWatcher) handleEvent(event fsnotify.Event) {
	// Only care about writes and creates - NOT chmod.
	// Chmod events fire every time the executable runs.
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	path := filepath.Clean(event.Name)

	w.mu.RLock()
	_, exists := w.watched[path]
	w.mu.RUnlock()

	if exists {
		w.triggerUpdate(path)
	}
}

// notifyCooldown suppresses repeat announcements while an installer is still
// writing out a release in multiple passes.
const notifyCooldown = 5 * time.Second

func (w *AgentWatcher) triggerUpdate(path string) {
	w.debouncer.Debounce(path, func() {
		w.mu.Lock()
		last := w.lastNotify[path]
		if time.Since(last) < notifyCooldown {
			w.mu.Unlock()
			return
		}
		w.lastNotify[path] = time.Now()
		w.mu.Unlock()

		payload := map[string]interface{}{
			"path": path,
		}
		if info, err := os.Stat(path); err == nil {
			payload["mod_time"] = info.ModTime().Format(time.RFC3339)
			payload["size"] = info.Size()
		}

		log.Printf("watcher: agent executable updated: %s", path)

		if w.bus != nil {
			w.bus.Publish(context.Background(), events.Event{
				Type:    events.EventAgentUpdated,
				Payload: payload,
			})
		}
	})
}
