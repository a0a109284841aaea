// Package processtest provides an in-memory process.Manager for use by
// other packages' tests (supervisor, adapter/acp, adapter/agentsdk), in
// place of a mocking framework — the teacher never imports one either.
package processtest

import (
	"context"
	"io"
	"sync"

	"github.com/relaykit/agentbroker/process"
)

// Manager is an in-memory process.Manager. Tests call Spawn through the
// Manager interface and then reach for the returned *Handle to drive it.
type Manager struct {
	mu      sync.Mutex
	handles map[int]*Handle
	nextPid int

	// SpawnErr, if set, is returned by the next Spawn call instead of a handle.
	SpawnErr error
}

func NewManager() *Manager {
	return &Manager{handles: make(map[int]*Handle), nextPid: 100}
}

func (m *Manager) Spawn(ctx context.Context, spec process.Spec) (process.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SpawnErr != nil {
		err := m.SpawnErr
		m.SpawnErr = nil
		return nil, err
	}
	m.nextPid++
	h := &Handle{pid: m.nextPid, exitCh: make(chan int, 1)}
	m.handles[h.pid] = h
	return h, nil
}

func (m *Manager) IsAlive(pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[pid]
	return ok && !h.exited
}

// Handle is a controllable fake process.Handle: tests call Finish to
// simulate exit and inspect Signals to assert kill-escalation behavior.
type Handle struct {
	pid    int
	exitCh chan int

	mu      sync.Mutex
	exited  bool
	code    int
	Signals []process.Signal
}

func (h *Handle) Pid() int              { return h.pid }
func (h *Handle) Stdin() io.WriteCloser { return nil }
func (h *Handle) Stdout() io.ReadCloser { return nil }
func (h *Handle) Stderr() io.ReadCloser { return nil }

func (h *Handle) Wait(ctx context.Context) (int, error) {
	select {
	case <-h.exitCh:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.code, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (h *Handle) Signal(sig process.Signal) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Signals = append(h.Signals, sig)
	return nil
}

// Finish simulates the process exiting with the given code; every
// pending and later Wait call returns it.
func (h *Handle) Finish(code int) {
	h.mu.Lock()
	h.exited = true
	h.code = code
	h.mu.Unlock()
	close(h.exitCh)
}
