// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app wires the supervisor together: configuration, the transcript
// and snapshot stores, the crash recorder, the session manager, the agent
// executable watcher and the event bus.
package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/wingedpig/arbor/internal/claude"
	"github.com/wingedpig/arbor/internal/config"
	"github.com/wingedpig/arbor/internal/crash"
	"github.com/wingedpig/arbor/internal/events"
	"github.com/wingedpig/arbor/internal/snapshot"
	"github.com/wingedpig/arbor/internal/transcript"
	"github.com/wingedpig/arbor/internal/watcher"
)

// App is the main application container.
type App struct {
	mu sync.RWMutex

	configPath string // Path to config file (relative state dirs resolve against its directory)
	version    string // Application version string
	config     *config.Config

	eventBus      events.EventBus
	store         *transcript.Store
	snapshots     *snapshot.Store
	crashManager  *crash.Manager
	claudeManager *claude.Manager
	agentWatcher  *watcher.AgentWatcher

	done     chan struct{}
	stopOnce sync.Once
}

// Options holds configuration options for the app.
type Options struct {
	ConfigPath string
	StateDir   string // State directory override from command line
	Version    string // Application version string
}

// New creates a new App instance.
func New(opts Options) (*App, error) {
	app := &App{
		configPath: opts.ConfigPath,
		version:    opts.Version,
		done:       make(chan struct{}),
	}

	// Load configuration
	loader := config.NewLoader()
	cfg, err := loader.LoadWithDefaults(context.Background(), opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.NewValidator().Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Override state dir if specified. The crash reports default tracks the
	// state dir, so move it along unless the config pinned another location.
	if opts.StateDir != "" {
		if cfg.Crashes.ReportsDir == filepath.Join(cfg.StateDir, "crashes") {
			cfg.Crashes.ReportsDir = filepath.Join(opts.StateDir, "crashes")
		}
		cfg.StateDir = opts.StateDir
	}
	app.config = cfg

	// Initialize event bus
	app.eventBus = events.NewMemoryEventBus(events.MemoryBusConfig{
		HistoryMaxEvents: cfg.Events.History.MaxEvents,
		HistoryMaxAge:    config.ParseDuration(cfg.Events.History.MaxAge, time.Hour),
	})

	return app, nil
}

// resolvePath anchors a relative path at the config file's directory, so
// running the supervisor from elsewhere still finds the same state.
func (app *App) resolvePath(path string) string {
	if filepath.IsAbs(path) || app.configPath == "" {
		return path
	}
	absConfig, err := filepath.Abs(app.configPath)
	if err != nil {
		return path
	}
	return filepath.Join(filepath.Dir(absConfig), path)
}

// Initialize sets up all components.
func (app *App) Initialize(ctx context.Context) error {
	cfg := app.config

	stateDir := app.resolvePath(cfg.StateDir)
	log.Printf("Using state directory: %s", stateDir)

	// Open the transcript store. It takes the state-directory lock, so a
	// second supervisor on the same directory fails here.
	store, err := transcript.Open(stateDir)
	if err != nil {
		return fmt.Errorf("failed to open transcript store: %w", err)
	}
	app.store = store

	// Restore point storage
	snapshots, err := snapshot.NewStore(filepath.Join(stateDir, "restore-points"))
	if err != nil {
		return fmt.Errorf("failed to open snapshot store: %w", err)
	}
	app.snapshots = snapshots

	// Crash reports
	maxAge, err := config.ParseDurationWithDays(cfg.Crashes.MaxAge)
	if err != nil {
		maxAge = 7 * 24 * time.Hour
	}
	crashManager, err := crash.NewManager(crash.Config{
		ReportsDir: app.resolvePath(cfg.Crashes.ReportsDir),
		MaxAge:     maxAge,
		MaxCount:   cfg.Crashes.MaxCount,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize crash manager: %w", err)
	}
	app.crashManager = crashManager

	// Session manager, publishing its notifications onto the event bus
	settings := config.NewSettings(cfg)
	claudeManager, err := claude.NewManager(store, snapshots, settings, &busNotifier{bus: app.eventBus}, crashManager)
	if err != nil {
		return fmt.Errorf("failed to initialize session manager: %w", err)
	}
	app.claudeManager = claudeManager

	// Watch the agent executable so operators hear about in-place upgrades
	if cfg.Watch.IsEnabled() {
		app.initAgentWatcher(settings)
	}

	return nil
}

// initAgentWatcher starts the executable watcher. Failures are logged, not
// fatal: a missing watch never blocks sessions.
func (app *App) initAgentWatcher(settings *config.Settings) {
	debounce := config.ParseDuration(app.config.Watch.Debounce, 100*time.Millisecond)
	agentWatcher, err := watcher.NewAgentWatcher(app.eventBus, debounce)
	if err != nil {
		log.Printf("Warning: failed to create agent watcher: %v", err)
		return
	}

	exe := settings.AgentCommand()
	if !filepath.IsAbs(exe) {
		resolved, err := exec.LookPath(exe)
		if err != nil {
			log.Printf("Warning: agent executable %q not found in PATH, not watching it", exe)
			agentWatcher.Close()
			return
		}
		exe = resolved
	}

	if err := agentWatcher.Watch(exe); err != nil {
		log.Printf("Warning: failed to watch agent executable: %v", err)
		agentWatcher.Close()
		return
	}

	app.agentWatcher = agentWatcher
	log.Printf("Watching agent executable: %s", exe)
}

// Start performs post-initialization startup work.
func (app *App) Start(ctx context.Context) error {
	// Kill agent processes left over from a previous supervisor run
	killed, err := app.claudeManager.ReapOrphans()
	if err != nil {
		log.Printf("Warning: failed to reap orphaned agents: %v", err)
	} else if killed > 0 {
		log.Printf("Reaped %d orphaned agent processes", killed)
	}

	return nil
}

// Run starts the app and blocks until shutdown.
func (app *App) Run(ctx context.Context) error {
	if err := app.Initialize(ctx); err != nil {
		return err
	}

	if err := app.Start(ctx); err != nil {
		return err
	}

	return app.Wait(ctx)
}

// Wait blocks until a shutdown signal, context cancellation or Stop, then
// shuts everything down.
func (app *App) Wait(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, shutting down...", sig)
	case <-ctx.Done():
		log.Printf("Context cancelled, shutting down...")
	case <-app.done:
		log.Printf("Shutdown requested...")
	}

	return app.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components.
func (app *App) Shutdown(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	log.Println("Shutting down...")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop the agent watcher
	if app.agentWatcher != nil {
		app.agentWatcher.Close()
	}

	// Stop all live sessions
	if app.claudeManager != nil {
		if err := app.claudeManager.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error stopping sessions: %v", err)
		}
	}

	// Close event bus
	if app.eventBus != nil {
		app.eventBus.Close()
	}

	// Close the transcript store last: stopping sessions above still writes
	// status updates through it, and closing releases the state-dir lock.
	if app.store != nil {
		if err := app.store.Close(); err != nil {
			log.Printf("Error closing transcript store: %v", err)
		}
	}

	log.Println("Shutdown complete")
	return nil
}

// Stop signals the app to shut down. Safe to call multiple times.
func (app *App) Stop() {
	app.stopOnce.Do(func() {
		close(app.done)
	})
}

// Config returns the loaded configuration.
func (app *App) Config() *config.Config {
	return app.config
}

// Claude returns the session manager.
func (app *App) Claude() *claude.Manager {
	return app.claudeManager
}

// Events returns the event bus.
func (app *App) Events() events.EventBus {
	return app.eventBus
}

// Crashes returns the crash report manager.
func (app *App) Crashes() *crash.Manager {
	return app.crashManager
}

// Version returns the application version string.
func (app *App) Version() string {
	return app.version
}

// busNotifier adapts the session manager's Notifier to the event bus. Each
// notification becomes a claude.<kind> event keyed by session id.
type busNotifier struct {
	bus events.EventBus
}

func (n *busNotifier) Notify(notif claude.Notification) {
	payload := make(map[string]interface{})
	if notif.Text != "" {
		payload["text"] = notif.Text
	}

	switch notif.Kind {
	case claude.NotifyOutput:
		payload["final"] = notif.Final
		if notif.MessageID != "" {
			payload["message_id"] = notif.MessageID
		}
	case claude.NotifyStatus:
		payload["status"] = notif.Status.String()
	case claude.NotifyEnded:
		payload["exit_code"] = notif.ExitCode
	case claude.NotifyFileEdit:
		if notif.RestorePointID != "" {
			payload["restore_point_id"] = notif.RestorePointID
		}
	}

	if notif.Entry != nil {
		payload["entry_id"] = notif.Entry.ID
		payload["entry_type"] = notif.Entry.Type.String()
		if notif.Entry.Tool != nil {
			payload["tool"] = notif.Entry.Tool.Name
		}
		if notif.Entry.FileEdit != nil {
			payload["path"] = notif.Entry.FileEdit.Path
			payload["op"] = notif.Entry.FileEdit.Op.String()
		}
	}
	if notif.Err != nil {
		payload["error"] = notif.Err.Error()
	}

	event := events.Event{
		Type:    "claude." + notif.Kind.String(),
		Session: notif.SessionID,
		Payload: payload,
	}
	if err := n.bus.Publish(context.Background(), event); err != nil && err != events.ErrBusClosed {
		log.Printf("Failed to publish %s event: %v", event.Type, err)
	}
}
