package sessionreg

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests and dev mode.
type MemoryStore struct {
	mu        sync.Mutex
	sessions  map[string]SessionRecord
	launchers map[string]LauncherState
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[string]SessionRecord),
		launchers: make(map[string]LauncherState),
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) SaveSession(ctx context.Context, rec SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[rec.SessionID] = rec
	return nil
}

func (m *MemoryStore) LoadSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) ListSessions(ctx context.Context) ([]SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SessionRecord, 0, len(m.sessions))
	for _, rec := range m.sessions {
		out = append(out, rec)
	}
	return out, nil
}

func (m *MemoryStore) DeleteSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func (m *MemoryStore) SaveLauncherState(ctx context.Context, state LauncherState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.launchers[state.SessionID] = state
	return nil
}

func (m *MemoryStore) LoadLauncherState(ctx context.Context, sessionID string) (*LauncherState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.launchers[sessionID]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (m *MemoryStore) ListLauncherStates(ctx context.Context) ([]LauncherState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LauncherState, 0, len(m.launchers))
	for _, st := range m.launchers {
		out = append(out, st)
	}
	return out, nil
}

func (m *MemoryStore) DeleteLauncherState(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.launchers, sessionID)
	return nil
}

var _ Store = (*MemoryStore)(nil)
