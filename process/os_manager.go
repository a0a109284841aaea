package process

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

// OSManager is the default Manager, spawning real OS processes via
// os/exec — piped when Spec.PTY is false, pseudo-terminal-backed via
// creack/pty when true, directly matching claude/manager.go's two
// session modes (ModeUI: piped stream-json, ModeCLI: pty).
type OSManager struct{}

// NewOSManager constructs the default process.Manager.
func NewOSManager() *OSManager { return &OSManager{} }

func (m *OSManager) Spawn(ctx context.Context, spec Spec) (Handle, error) {
	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	cmd.Dir = spec.Cwd
	cmd.Env = spec.Env

	if spec.PTY {
		f, err := pty.Start(cmd)
		if err != nil {
			return nil, fmt.Errorf("process: pty start: %w", err)
		}
		return &ptyHandle{cmd: cmd, pty: f}, nil
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("process: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("process: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("process: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("process: start: %w", err)
	}
	return &pipeHandle{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr}, nil
}

func (m *OSManager) IsAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 probes existence without affecting the process, the
	// conventional Unix liveness check; os.FindProcess never fails on Unix
	// even for dead pids, so the real test is here.
	return proc.Signal(syscall.Signal(0)) == nil
}

type pipeHandle struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	mu       sync.Mutex
	waited   bool
	exitCode int
	waitErr  error
}

func (h *pipeHandle) Pid() int              { return h.cmd.Process.Pid }
func (h *pipeHandle) Stdin() io.WriteCloser { return h.stdin }
func (h *pipeHandle) Stdout() io.ReadCloser { return h.stdout }
func (h *pipeHandle) Stderr() io.ReadCloser { return h.stderr }

func (h *pipeHandle) Wait(ctx context.Context) (int, error) {
	done := make(chan struct{})
	go func() {
		h.mu.Lock()
		if !h.waited {
			err := h.cmd.Wait()
			h.waited = true
			h.waitErr = err
			if h.cmd.ProcessState != nil {
				h.exitCode = h.cmd.ProcessState.ExitCode()
			}
		}
		h.mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return h.exitCode, h.waitErr
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (h *pipeHandle) Signal(sig Signal) error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Signal(toSyscallSignal(sig))
}

type ptyHandle struct {
	cmd *exec.Cmd
	pty *os.File

	mu       sync.Mutex
	waited   bool
	exitCode int
	waitErr  error
}

func (h *ptyHandle) Pid() int              { return h.cmd.Process.Pid }
func (h *ptyHandle) Stdin() io.WriteCloser { return h.pty }
func (h *ptyHandle) Stdout() io.ReadCloser { return h.pty }
func (h *ptyHandle) Stderr() io.ReadCloser { return nil }

func (h *ptyHandle) Wait(ctx context.Context) (int, error) {
	done := make(chan struct{})
	go func() {
		h.mu.Lock()
		if !h.waited {
			err := h.cmd.Wait()
			h.waited = true
			h.waitErr = err
			if h.cmd.ProcessState != nil {
				h.exitCode = h.cmd.ProcessState.ExitCode()
			}
		}
		h.mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return h.exitCode, h.waitErr
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (h *ptyHandle) Signal(sig Signal) error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Signal(toSyscallSignal(sig))
}

func toSyscallSignal(sig Signal) os.Signal {
	switch sig {
	case SignalKill:
		return syscall.SIGKILL
	case SignalInterrupt:
		return syscall.SIGINT
	default:
		return syscall.SIGTERM
	}
}
