// Package sessionreg implements the storage contract of spec.md §6:
// "SessionStorage.saveSession/loadSession/listSessions/deleteSession and
// LauncherStateStorage.loadLauncherState/saveLauncherState<T>."
package sessionreg

import "context"

// SessionRecord is the persisted row for one session, surviving process
// restarts so the reconnection watchdog and idle reaper can rebuild
// in-memory state.
type SessionRecord struct {
	SessionID   string
	Cwd         string
	AdapterName string
	Archived    bool
	CreatedAt   int64
	UpdatedAt   int64
}

// SessionStorage persists the session table's durable fields.
type SessionStorage interface {
	SaveSession(ctx context.Context, rec SessionRecord) error
	LoadSession(ctx context.Context, sessionID string) (*SessionRecord, error)
	ListSessions(ctx context.Context) ([]SessionRecord, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// LauncherState is one adapter launcher's persisted view of a session,
// per spec.md §3's "Launcher Session Info: {sessionId, pid?, adapterName,
// cwd, state∈{starting,connected}, archived?, backendSessionId?}".
type LauncherState struct {
	SessionID        string
	Pid              int
	AdapterName      string
	Cwd              string
	State            string // "starting" | "connected"
	Archived         bool
	BackendSessionID string
}

// LauncherStateStorage persists the launcher-specific state a Session
// Manager restores before the bridge's own session table, per spec.md
// §4.8: "restore launcher state before bridge state."
type LauncherStateStorage interface {
	SaveLauncherState(ctx context.Context, state LauncherState) error
	LoadLauncherState(ctx context.Context, sessionID string) (*LauncherState, error)
	ListLauncherStates(ctx context.Context) ([]LauncherState, error)
	DeleteLauncherState(ctx context.Context, sessionID string) error
}

// Store bundles both contracts, since every concrete implementation in
// this package backs both with the same underlying medium.
type Store interface {
	SessionStorage
	LauncherStateStorage
	Close() error
}
