// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// arbor supervises coding-agent sessions: it spawns the agent, records a
// durable transcript, captures restore points before file edits, and gives
// the operator a plain-terminal front end plus offline inspection commands.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/wingedpig/arbor/internal/app"
	"github.com/wingedpig/arbor/internal/claude"
	"github.com/wingedpig/arbor/internal/config"
	"github.com/wingedpig/arbor/internal/crash"
	"github.com/wingedpig/arbor/internal/events"
	"github.com/wingedpig/arbor/internal/transcript"
)

var (
	version = "0.1.0"
)

func main() {
	// Check for subcommands before flag parsing
	if len(os.Args) > 1 {
		var err error
		handled := true
		switch os.Args[1] {
		case "init":
			err = cmdInit(os.Args[2:])
		case "sessions":
			err = cmdSessions(os.Args[2:])
		case "crashes":
			err = cmdCrashes(os.Args[2:])
		case "export":
			err = cmdExport(os.Args[2:])
		case "import":
			err = cmdImport(os.Args[2:])
		case "help", "-h", "--help":
			printUsage()
		default:
			handled = false
		}
		if handled {
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			os.Exit(0)
		}
	}

	// Parse flags
	var (
		configPath  string
		workDir     string
		prompt      string
		resumeID    string
		stateDir    string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to config file (default: auto-detect)")
	flag.StringVar(&configPath, "c", "", "Path to config file (short)")
	flag.StringVar(&workDir, "workdir", ".", "Directory the agent session works in")
	flag.StringVar(&workDir, "w", ".", "Directory the agent session works in (short)")
	flag.StringVar(&prompt, "prompt", "", "Initial prompt to send once the session is up")
	flag.StringVar(&prompt, "p", "", "Initial prompt (short)")
	flag.StringVar(&resumeID, "resume", "", "Resume an existing session instead of starting a new one")
	flag.StringVar(&stateDir, "state-dir", "", "State directory (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.BoolVar(&showVersion, "v", false, "Show version (short)")
	flag.Parse()

	if showVersion {
		fmt.Printf("arbor %s\n", version)
		os.Exit(0)
	}

	// Find config file if not specified
	if configPath == "" {
		loader := config.NewLoader()
		found, err := loader.FindConfig()
		if err != nil {
			log.Fatalf("Error: %v", err)
		}
		configPath = found
	}

	log.Printf("Using config: %s", configPath)

	application, err := app.New(app.Options{
		ConfigPath: configPath,
		StateDir:   stateDir,
		Version:    version,
	})
	if err != nil {
		log.Fatalf("Failed to create app: %v", err)
	}

	ctx := context.Background()
	if err := application.Initialize(ctx); err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	if err := application.Start(ctx); err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	if err := attachSession(ctx, application, workDir, resumeID, prompt); err != nil {
		log.Printf("Error: %v", err)
		application.Shutdown(ctx)
		os.Exit(1)
	}

	if err := application.Wait(ctx); err != nil {
		log.Fatalf("App error: %v", err)
	}
}

// attachSession starts (or resumes) one session, mirrors its events onto the
// terminal and pumps stdin lines to it as prompts.
func attachSession(ctx context.Context, application *app.App, workDir, resumeID, initialPrompt string) error {
	mgr := application.Claude()

	var sessionID string
	if resumeID != "" {
		if err := mgr.ResumeSession(ctx, resumeID); err != nil {
			return fmt.Errorf("resume session: %w", err)
		}
		sessionID = resumeID
		log.Printf("Resumed session %s", sessionID)
	} else {
		abs, err := filepath.Abs(workDir)
		if err != nil {
			return fmt.Errorf("resolve workdir: %w", err)
		}
		sess, err := mgr.StartSession(ctx, abs, claude.StartOptions{InitialPrompt: initialPrompt})
		if err != nil {
			return fmt.Errorf("start session: %w", err)
		}
		sessionID = sess.ID
		log.Printf("Started session %s in %s", sessionID, abs)
	}

	_, err := application.Events().Subscribe("claude.*", func(_ context.Context, ev events.Event) error {
		printEvent(sessionID, ev)
		return nil
	})
	if err != nil {
		return fmt.Errorf("subscribe to session events: %w", err)
	}

	go pumpStdin(application, sessionID)
	return nil
}

// printEvent renders one session event. Conversation text goes to stdout;
// operational noise stays on stderr through the log package.
func printEvent(sessionID string, ev events.Event) {
	if ev.Session != sessionID {
		return
	}
	switch ev.Type {
	case events.EventClaudeOutput:
		final, _ := ev.Payload["final"].(bool)
		if !final {
			return
		}
		if text, _ := ev.Payload["text"].(string); text != "" {
			fmt.Println(text)
		}
	case events.EventClaudePrompt:
		fmt.Print("> ")
	case events.EventClaudeTool:
		if name, _ := ev.Payload["tool"].(string); name != "" {
			fmt.Printf("[tool] %s\n", name)
		}
	case events.EventClaudeFileEdit:
		path, _ := ev.Payload["path"].(string)
		op, _ := ev.Payload["op"].(string)
		if rp, _ := ev.Payload["restore_point_id"].(string); rp != "" {
			fmt.Printf("[%s] %s (restore point %s)\n", op, path, rp)
		} else {
			fmt.Printf("[%s] %s\n", op, path)
		}
	case events.EventClaudeCompact:
		fmt.Println("[transcript compacted]")
	case events.EventClaudeError:
		if text, _ := ev.Payload["text"].(string); text != "" {
			fmt.Fprintf(os.Stderr, "agent error: %s\n", text)
		}
	case events.EventClaudeEnded:
		code, _ := ev.Payload["exit_code"].(int)
		fmt.Printf("[session ended, exit %d]\n", code)
	}
}

// pumpStdin forwards stdin lines to the session as prompts. EOF stops the
// supervisor.
func pumpStdin(application *app.App, sessionID string) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := application.Claude().SendInput(sessionID, line); err != nil {
			log.Printf("send input: %v", err)
		}
	}
	application.Stop()
}

func printUsage() {
	fmt.Println(`arbor - supervise coding-agent sessions

Usage:
  arbor [options]                 Run the supervisor with one interactive session
  arbor init                      Create an arbor.hjson config in the current directory
  arbor sessions [options]        List persisted sessions
  arbor crashes [options] [cmd]   Inspect crash reports (list|newest|clear|delete <id>|<id>)
  arbor export [options] <id>     Export a session transcript to a JSON file
  arbor import [options] <file>   Import a transcript export as a new session

Options:
  -c, -config <path>     Path to config file (default: auto-detect)
  -w, -workdir <dir>     Directory the agent session works in (default: .)
  -p, -prompt <text>     Initial prompt to send once the session is up
  -resume <session-id>   Resume an existing session instead of starting a new one
  -state-dir <dir>       State directory (overrides config)
  -v, -version           Show version

While running, each line typed on stdin is sent to the session as a prompt;
EOF (Ctrl-D) shuts the supervisor down.`)
}

// loadConfigFor loads the config for an offline subcommand, auto-detecting
// the file when path is empty. Returns the config and the resolved path.
func loadConfigFor(path string) (*config.Config, string, error) {
	loader := config.NewLoader()
	if path == "" {
		found, err := loader.FindConfig()
		if err != nil {
			return nil, "", err
		}
		path = found
	}
	cfg, err := loader.LoadWithDefaults(context.Background(), path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// resolveAgainstConfig anchors a relative path at the config file's
// directory, mirroring how the supervisor resolves its state paths.
func resolveAgainstConfig(configPath, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return path
	}
	return filepath.Join(filepath.Dir(abs), path)
}

// openStoreFor opens the transcript store for an offline subcommand. Fails
// while a supervisor holds the state directory.
func openStoreFor(configPath string) (*transcript.Store, error) {
	cfg, path, err := loadConfigFor(configPath)
	if err != nil {
		return nil, err
	}
	return transcript.Open(resolveAgainstConfig(path, cfg.StateDir))
}

func cmdSessions(args []string) error {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (default: auto-detect)")
	fs.Parse(args)

	store, err := openStoreFor(*configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.ListSessions()
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions recorded")
		return nil
	}

	fmt.Printf("%-36s %-13s %-17s %s\n", "ID", "STATUS", "UPDATED", "FIRST PROMPT")
	fmt.Println(strings.Repeat("-", 100))
	for _, s := range sessions {
		preview := ""
		if entries, err := store.Entries(s.ID); err == nil {
			preview = transcript.FirstInputPreview(entries, 40)
		}
		fmt.Printf("%-36s %-13s %-17s %s\n",
			s.ID,
			s.Status,
			s.UpdatedAt.Format("2006-01-02 15:04"),
			preview,
		)
	}
	return nil
}

func cmdCrashes(args []string) error {
	fs := flag.NewFlagSet("crashes", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (default: auto-detect)")
	fs.Parse(args)

	cfg, path, err := loadConfigFor(*configPath)
	if err != nil {
		return err
	}
	mgr, err := crash.NewManager(crash.Config{
		ReportsDir: resolveAgainstConfig(path, cfg.Crashes.ReportsDir),
	})
	if err != nil {
		return err
	}

	rest := fs.Args()
	subcmd := "list"
	if len(rest) > 0 {
		subcmd = rest[0]
	}

	switch subcmd {
	case "list":
		return crashList(mgr)
	case "newest":
		c, err := mgr.Newest()
		if err != nil {
			return err
		}
		if c == nil {
			fmt.Println("No crashes recorded")
			return nil
		}
		printCrashDetail(c)
		return nil
	case "clear":
		if err := mgr.Clear(); err != nil {
			return err
		}
		fmt.Println("Cleared all crashes")
		return nil
	case "delete":
		if len(rest) < 2 {
			return fmt.Errorf("usage: arbor crashes delete <id>")
		}
		if err := mgr.Delete(rest[1]); err != nil {
			return err
		}
		fmt.Printf("Deleted crash: %s\n", rest[1])
		return nil
	default:
		// Treat as crash ID
		c, err := mgr.Get(subcmd)
		if err != nil {
			return err
		}
		printCrashDetail(c)
		return nil
	}
}

func crashList(mgr *crash.Manager) error {
	crashes, err := mgr.List()
	if err != nil {
		return err
	}
	if len(crashes) == 0 {
		fmt.Println("No crashes recorded")
		return nil
	}

	fmt.Printf("%-32s %-36s %-17s %-6s %s\n", "ID", "SESSION", "TIME", "EXIT", "LAST STDERR")
	fmt.Println(strings.Repeat("-", 120))
	for _, c := range crashes {
		preview := c.Preview
		if len(preview) > 40 {
			preview = preview[:40] + "..."
		}
		fmt.Printf("%-32s %-36s %-17s %-6d %s\n",
			c.ID,
			c.SessionID,
			c.Timestamp.Format("2006-01-02 15:04"),
			c.ExitCode,
			preview,
		)
	}
	return nil
}

func printCrashDetail(c *crash.Crash) {
	fmt.Printf("Crash: %s\n", c.ID)
	fmt.Printf("  Session: %s\n", c.SessionID)
	fmt.Printf("  Timestamp: %s\n", c.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Printf("  Exit Code: %d\n", c.ExitCode)
	fmt.Printf("  Uptime: %s\n", c.Uptime)

	if len(c.Stderr) > 0 {
		fmt.Println()
		fmt.Println("Last stderr lines:")
		for _, line := range c.Stderr {
			fmt.Printf("  %s\n", line)
		}
	}
}

func cmdExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (default: auto-detect)")
	out := fs.String("o", "", "Output file (default: <session-id>.json)")
	fs.Parse(args)

	if fs.NArg() < 1 {
		return fmt.Errorf("usage: arbor export [-o <file>] <session-id>")
	}
	sessionID := fs.Arg(0)

	store, err := openStoreFor(*configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	ex, err := store.Export(sessionID)
	if err != nil {
		return err
	}

	path := *out
	if path == "" {
		path = sessionID + ".json"
	}
	if err := transcript.WriteExport(path, ex); err != nil {
		return err
	}
	fmt.Printf("Exported %d entries to %s\n", ex.Stats.EntryCount, path)
	return nil
}

func cmdImport(args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (default: auto-detect)")
	fs.Parse(args)

	if fs.NArg() < 1 {
		return fmt.Errorf("usage: arbor import <file>")
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("read export: %w", err)
	}
	ex, err := transcript.ParseExport(data)
	if err != nil {
		return err
	}

	store, err := openStoreFor(*configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	sess, err := store.Import(ex)
	if err != nil {
		return err
	}
	fmt.Printf("Imported session %s (%d entries)\n", sess.ID, len(ex.Entries))
	return nil
}

// cmdInit handles the "arbor init" command
func cmdInit(args []string) error {
	initFlags := flag.NewFlagSet("init", flag.ExitOnError)
	showHelp := initFlags.Bool("help", false, "Show help for init command")
	initFlags.BoolVar(showHelp, "h", false, "Show help for init command")
	initFlags.Parse(args)

	if *showHelp {
		fmt.Println(`Usage: arbor init [options]

Create a new arbor.hjson configuration file in the current directory.

This command walks you through setting up an arbor configuration with
interactive prompts. The generated file is fully commented to help you
understand and customize all available options.

Options:
  -h, -help    Show this help message

The command will ask about:
  - Project name (defaults to current directory name)
  - Agent executable (defaults to "claude")
  - Permission mode for the agent

Examples:
  arbor init               Create config with interactive prompts
  cd myproject && arbor init

After running init:
  1. Review and edit arbor.hjson as needed
  2. Run: arbor`)
		return nil
	}

	configFile := "arbor.hjson"

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("%s already exists; remove it first or use a different directory", configFile)
	}

	reader := bufio.NewReader(os.Stdin)

	fmt.Println("Arbor Configuration Setup")
	fmt.Println("=========================")
	fmt.Println()
	fmt.Println("This will create an arbor.hjson configuration file in the current directory.")
	fmt.Println("Press Enter to accept defaults shown in [brackets].")
	fmt.Println()

	// Get current directory name as default project name
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}
	defaultName := filepath.Base(cwd)

	// Question 1: Project name
	projectName := prompt(reader, "Project name", defaultName)

	// Question 2: Agent executable
	executable := prompt(reader, "Agent executable (path or name in PATH)", "claude")

	// Question 3: Permission mode
	fmt.Println()
	fmt.Println("Permission mode controls how the agent asks before acting:")
	fmt.Println("  default            ask for risky operations")
	fmt.Println("  acceptEdits        apply file edits without asking")
	fmt.Println("  bypassPermissions  never ask")
	fmt.Println("  plan               plan only, change nothing")
	permissionMode := prompt(reader, "Permission mode (or empty for the agent's default)", "")

	// Generate the config file
	configContent := generateConfig(projectName, executable, permissionMode)

	// Write the file
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Println()
	fmt.Printf("Created %s\n", configFile)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Review and edit arbor.hjson as needed")
	fmt.Println("  2. Run: arbor")
	fmt.Println()

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}

// escapeHJSONValue escapes a string for safe inclusion in an HJSON double-quoted value.
func escapeHJSONValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

func generateConfig(projectName, executable, permissionMode string) string {
	var sb strings.Builder

	sb.WriteString(`{
  // =============================================================================
  // Arbor Configuration
  // =============================================================================
  //
  // This is an HJSON file (JSON with comments and relaxed syntax).

  version: "1.0"

  // ---------------------------------------------------------------------------
  // Project Metadata
  // ---------------------------------------------------------------------------
  project: {
    name: "`)
	sb.WriteString(escapeHJSONValue(projectName))
	sb.WriteString(`"
  }

  // ---------------------------------------------------------------------------
  // State Directory
  // ---------------------------------------------------------------------------
  //
  // Sessions, transcripts, restore points and crash reports live here.
  // A relative path resolves against this file's directory.
  state_dir: ".arbor"

  // ---------------------------------------------------------------------------
  // Agent
  // ---------------------------------------------------------------------------
  claude: {
    // Agent executable: a path (~ is expanded) or a bare name looked up in PATH
    executable: "`)
	sb.WriteString(escapeHJSONValue(executable))
	sb.WriteString(`"
`)

	if permissionMode != "" {
		sb.WriteString(`
    // How the agent asks before acting: default, acceptEdits,
    // bypassPermissions or plan
    permission_mode: "`)
		sb.WriteString(escapeHJSONValue(permissionMode))
		sb.WriteString(`"
`)
	} else {
		sb.WriteString(`
    // Uncomment to pick how the agent asks before acting:
    // permission_mode: "acceptEdits"   // default, acceptEdits, bypassPermissions, plan
`)
	}

	sb.WriteString(`
    // Extra environment for the agent process:
    // env: {
    //   ANTHROPIC_MODEL: "claude-sonnet-4-5"
    // }
  }

  // ---------------------------------------------------------------------------
  // Restore Points
  // ---------------------------------------------------------------------------
  //
  // Before the agent modifies a file, arbor captures the previous content so
  // the edit can be undone.
  restore: {
    // Repeat edits to the same file within this window share one restore point
    cooldown: "2s"

    // Largest pre-image to capture; bigger files are skipped
    max_file_size: "1MB"
  }

  // ---------------------------------------------------------------------------
  // Event History
  // ---------------------------------------------------------------------------
  events: {
    history: {
      max_events: 10000
      max_age: "1h"
    }
  }

  // ---------------------------------------------------------------------------
  // Agent Executable Watching
  // ---------------------------------------------------------------------------
  //
  // Announces when the agent executable is upgraded in place, so you know
  // running sessions are on a stale build.
  watch: {
    enabled: true

    // Wait for rapid changes to settle before announcing
    debounce: "100ms"
  }

  // ---------------------------------------------------------------------------
  // Crash Reports
  // ---------------------------------------------------------------------------
  //
  // When the agent process dies unexpectedly, arbor captures the exit code
  // and its last stderr lines. See them with: arbor crashes
  crashes: {
    // Where to store crash reports (default: <state_dir>/crashes)
    // reports_dir: ".arbor/crashes"

    // How long to keep crash reports
    max_age: "7d"
    max_count: 100
  }
}
`)

	return sb.String()
}
