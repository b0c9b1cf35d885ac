// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package claude

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	// stopGracePeriod is how long terminate waits after SIGTERM before
	// escalating to SIGKILL.
	stopGracePeriod = 3 * time.Second

	// wrapperVersion is advertised to the child through the marker
	// variable below.
	wrapperVersion = "0.1.0"

	// wrapperEnvMarker identifies arbor to the spawned agent, in the way
	// a user agent identifies an HTTP client.
	wrapperEnvMarker = "ARBOR_WRAPPER"
)

// strippedEnvVars are host-runtime-injected loader variables that would
// corrupt the child process if inherited.
var strippedEnvVars = []string{
	"LD_PRELOAD",
	"LD_LIBRARY_PATH",
	"DYLD_INSERT_LIBRARIES",
	"DYLD_LIBRARY_PATH",
	"NODE_OPTIONS",
	"ELECTRON_RUN_AS_NODE",
}

// spawnConfig describes one agent process launch.
type spawnConfig struct {
	// Command is the executable: an absolute path or a bare name for
	// PATH lookup.
	Command        string
	WorkDir        string
	PermissionMode string
	// ResumeID, when set, asks the agent to resume its own prior
	// conversation.
	ResumeID string
	// Env holds caller-supplied overrides applied after cleaning.
	Env map[string]string
}

// agentProcess is one live agent process instance: the command handle, its
// three stdio pipes, and the exit result once reaped.
type agentProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
	cancel context.CancelFunc

	// readers is released by the two pipe pump loops; reap waits for it
	// before calling Wait so the pipes are fully drained.
	readers sync.WaitGroup

	// waitDone closes after the process has been reaped and the exit
	// result recorded.
	waitDone chan struct{}

	mu       sync.Mutex
	exited   bool
	exitCode int
	exitErr  error
}

// buildAgentArgs assembles the protocol flags: print mode, line-delimited
// streaming JSON in and out including partial message events.
func buildAgentArgs(cfg spawnConfig) []string {
	args := []string{
		"--print",
		"--verbose",
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--include-partial-messages",
	}
	if cfg.PermissionMode != "" {
		args = append(args, "--permission-mode", cfg.PermissionMode)
	}
	if cfg.ResumeID != "" {
		args = append(args, "--resume", cfg.ResumeID)
	}
	return args
}

// cleanEnv returns the host environment with loader-injection variables
// stripped, the wrapper marker added, and caller overrides applied last
// (later duplicates win in exec.Cmd.Env).
func cleanEnv(base []string, overrides map[string]string) []string {
	env := make([]string, 0, len(base)+len(overrides)+1)
	for _, kv := range base {
		if stripped(kv) {
			continue
		}
		env = append(env, kv)
	}
	env = append(env, wrapperEnvMarker+"=arbor/"+wrapperVersion)
	for k, v := range overrides {
		env = append(env, k+"="+v)
	}
	return env
}

func stripped(kv string) bool {
	for _, name := range strippedEnvVars {
		if strings.HasPrefix(kv, name+"=") {
			return true
		}
	}
	return false
}

// spawnAgent starts the agent process with its own process group and all
// three stdio pipes attached. It returns after a successful Start; it does
// not wait for first output.
func spawnAgent(ctx context.Context, cfg spawnConfig) (*agentProcess, error) {
	cmdCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(cmdCtx, cfg.Command, buildAgentArgs(cfg)...)
	cmd.Dir = cfg.WorkDir
	cmd.Env = cleanEnv(os.Environ(), cfg.Env)
	// Own process group so signals reach the agent's children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start %s: %w", cfg.Command, err)
	}

	return &agentProcess{
		cmd:      cmd,
		stdin:    stdin,
		stdout:   stdout,
		stderr:   stderr,
		cancel:   cancel,
		waitDone: make(chan struct{}),
	}, nil
}

func (p *agentProcess) pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *agentProcess) alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.exited
}

// exitResult reports the recorded exit code and wait error. Only meaningful
// after waitDone has closed.
func (p *agentProcess) exitResult() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, p.exitErr
}

// reap waits for both pipe pumps to drain, then collects the process exit
// status. Runs once per process instance; closing waitDone publishes the
// result.
func (p *agentProcess) reap() {
	p.readers.Wait()
	err := p.cmd.Wait()

	code := 0
	if p.cmd.ProcessState != nil {
		code = p.cmd.ProcessState.ExitCode()
	}

	p.mu.Lock()
	p.exited = true
	p.exitCode = code
	p.exitErr = err
	p.mu.Unlock()

	p.cancel()
	close(p.waitDone)
}

// signalGroup delivers sig to the whole process group.
func (p *agentProcess) signalGroup(sig syscall.Signal) error {
	if p.cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	return syscall.Kill(-p.cmd.Process.Pid, sig)
}

// interrupt sends SIGINT, asking the agent to suspend its current turn.
// Advisory: the agent may keep emitting output afterwards.
func (p *agentProcess) interrupt() error {
	if !p.alive() {
		return fmt.Errorf("process already exited")
	}
	return p.signalGroup(syscall.SIGINT)
}

// terminate stops the process: SIGTERM to the group, a grace window, then
// SIGKILL. Idempotent; returns once the process has been reaped.
func (p *agentProcess) terminate() {
	if p.alive() {
		p.signalGroup(syscall.SIGTERM)
	}
	select {
	case <-p.waitDone:
		return
	case <-time.After(stopGracePeriod):
		p.signalGroup(syscall.SIGKILL)
		<-p.waitDone
	}
}
