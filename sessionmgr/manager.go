// Package sessionmgr implements the Session Manager composition root of
// spec.md §4.8: it wires the adapter set, the bridge, the process
// supervisor, and durable storage together, restores state on start,
// and runs the reconnection watchdog, idle reaper, and relaunch dedup.
package sessionmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaykit/agentbroker/adapter"
	"github.com/relaykit/agentbroker/auth"
	"github.com/relaykit/agentbroker/bridge"
	"github.com/relaykit/agentbroker/canon"
	"github.com/relaykit/agentbroker/log"
	"github.com/relaykit/agentbroker/metrics"
	"github.com/relaykit/agentbroker/sessionreg"
	"github.com/relaykit/agentbroker/supervisor"
	"github.com/relaykit/agentbroker/transport"
)

// Options configures a Manager's tunables, mirroring config.Config's
// session-lifecycle fields (spec.md §6 Configuration).
type Options struct {
	ReconnectGracePeriod time.Duration // default ~15s
	IdleSessionTimeout   time.Duration // <=0 disables the reaper
	RelaunchDedupPeriod  time.Duration // default ~2s
	DefaultAdapter       string
}

func (o Options) withDefaults() Options {
	if o.ReconnectGracePeriod <= 0 {
		o.ReconnectGracePeriod = 15 * time.Second
	}
	if o.RelaunchDedupPeriod <= 0 {
		o.RelaunchDedupPeriod = 2 * time.Second
	}
	if o.DefaultAdapter == "" {
		o.DefaultAdapter = "acp"
	}
	return o
}

// Manager is the composition root of spec.md §4.8.
type Manager struct {
	bridge     *bridge.Bridge
	connector  *bridge.Connector
	supervisor *supervisor.Supervisor
	store      sessionreg.Store
	transport  transport.Transport
	adapters   map[string]adapter.Adapter
	metrics    metrics.Sink
	opts       Options

	mu             sync.Mutex
	relaunching    map[string]*time.Timer
	watchdogTimers map[string]*time.Timer
	reaperStop     chan struct{}
	reaperWG       sync.WaitGroup
	exitWatchStop  chan struct{}
}

// New constructs a Manager. Call Start to restore state and begin
// serving.
func New(b *bridge.Bridge, connector *bridge.Connector, sup *supervisor.Supervisor, store sessionreg.Store, tr transport.Transport, adapters map[string]adapter.Adapter, m metrics.Sink, opts Options) *Manager {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Manager{
		bridge:         b,
		connector:      connector,
		supervisor:     sup,
		store:          store,
		transport:      tr,
		adapters:       adapters,
		metrics:        m,
		opts:           opts.withDefaults(),
		relaunching:    make(map[string]*time.Timer),
		watchdogTimers: make(map[string]*time.Timer),
	}
}

// Start wires the cross-cutting events, restores launcher state before
// bridge state, begins the reconnect watchdog and idle reaper, then
// starts the transport. Serve blocks; callers typically run it in a
// goroutine.
func (m *Manager) Start(ctx context.Context) error {
	m.connector.SetOnSessionID(m.onBackendSessionID)

	if err := m.restore(ctx); err != nil {
		return fmt.Errorf("sessionmgr: restore: %w", err)
	}

	m.exitWatchStop = make(chan struct{})
	go m.watchSupervisorExits()

	if m.opts.IdleSessionTimeout > 0 {
		m.reaperStop = make(chan struct{})
		m.reaperWG.Add(1)
		go m.runIdleReaper()
	}

	return m.transport.Serve(ctx, m.handleConsumer)
}

// Stop clears reconnect and dedup timers, closes the transport, kills
// every tracked process, and closes every bridge session.
func (m *Manager) Stop(ctx context.Context) {
	if m.exitWatchStop != nil {
		close(m.exitWatchStop)
	}
	if m.reaperStop != nil {
		close(m.reaperStop)
		m.reaperWG.Wait()
	}

	m.mu.Lock()
	for id, t := range m.watchdogTimers {
		t.Stop()
		delete(m.watchdogTimers, id)
	}
	for id, t := range m.relaunching {
		t.Stop()
		delete(m.relaunching, id)
	}
	m.mu.Unlock()

	_ = m.transport.Shutdown(ctx)
	m.supervisor.KillAllProcesses(ctx)

	for _, session := range m.bridge.Sessions() {
		_ = m.bridge.CloseSession(ctx, session.ID)
	}
}

// restore loads launcher state, recreates the bridge's session table
// from it, then arms the reconnection watchdog for anything still
// "starting". Per spec.md §4.8: "restore launcher state before bridge
// state (so the bridge sees a consistent picture)."
func (m *Manager) restore(ctx context.Context) error {
	states, err := m.store.ListLauncherStates(ctx)
	if err != nil {
		return fmt.Errorf("list launcher states: %w", err)
	}

	seen := make(map[string]bool, len(states))
	for _, st := range states {
		seen[st.SessionID] = true
		session := m.bridge.GetOrCreateSession(st.SessionID, st.Cwd, st.AdapterName)
		session.SetArchived(st.Archived)

		if st.Archived {
			continue
		}
		if st.State == "starting" {
			m.armReconnectWatchdog(st.SessionID)
		}
	}

	records, err := m.store.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	for _, rec := range records {
		if seen[rec.SessionID] {
			continue
		}
		session := m.bridge.GetOrCreateSession(rec.SessionID, rec.Cwd, rec.AdapterName)
		session.SetArchived(rec.Archived)
	}

	return nil
}

// CreateSession implements spec.md §4.8's createSession({cwd,
// adapterName?}): registers the session, then uniformly calls
// ConnectBackend — the subprocess-spawning-vs-not distinction lives
// entirely inside the chosen adapter.Adapter.Connect implementation.
func (m *Manager) CreateSession(ctx context.Context, cwd, adapterName string) (*bridge.Session, error) {
	if adapterName == "" {
		adapterName = m.opts.DefaultAdapter
	}
	if _, ok := m.adapters[adapterName]; !ok {
		return nil, fmt.Errorf("sessionmgr: unknown adapter %q", adapterName)
	}

	sessionID := uuid.NewString()
	now := time.Now().UnixMilli()

	if err := m.store.SaveSession(ctx, sessionreg.SessionRecord{
		SessionID: sessionID, Cwd: cwd, AdapterName: adapterName, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("sessionmgr: save session record: %w", err)
	}
	if err := m.store.SaveLauncherState(ctx, sessionreg.LauncherState{
		SessionID: sessionID, AdapterName: adapterName, Cwd: cwd, State: "starting",
	}); err != nil {
		m.cleanupRegistry(ctx, sessionID)
		return nil, fmt.Errorf("sessionmgr: save launcher state: %w", err)
	}

	session := m.bridge.GetOrCreateSession(sessionID, cwd, adapterName)

	if err := m.bridge.ConnectBackend(ctx, sessionID, adapter.ConnectOptions{SessionID: sessionID, Cwd: cwd}); err != nil {
		m.bridge.RemoveSession(sessionID)
		m.cleanupRegistry(ctx, sessionID)
		return nil, fmt.Errorf("sessionmgr: connect backend: %w", err)
	}

	_ = m.store.SaveLauncherState(ctx, sessionreg.LauncherState{
		SessionID: sessionID, AdapterName: adapterName, Cwd: cwd, State: "connected",
	})

	return session, nil
}

func (m *Manager) cleanupRegistry(ctx context.Context, sessionID string) {
	if err := m.store.DeleteSession(ctx, sessionID); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("sessionmgr: cleanup delete session failed")
	}
	if err := m.store.DeleteLauncherState(ctx, sessionID); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("sessionmgr: cleanup delete launcher state failed")
	}
}

// DeleteSession kills the process if any, then removes the session from
// every registry (spec.md §4.8).
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	_ = m.supervisor.KillProcess(ctx, sessionID)
	_ = m.bridge.CloseSession(ctx, sessionID)
	m.bridge.RemoveSession(sessionID)
	m.cleanupRegistry(ctx, sessionID)
	return nil
}

// Sessions returns every session the bridge currently tracks, for a
// management API's list endpoint.
func (m *Manager) Sessions() []*bridge.Session {
	return m.bridge.Sessions()
}

// GetSession looks up a single tracked session by id.
func (m *Manager) GetSession(sessionID string) (*bridge.Session, bool) {
	return m.bridge.GetSession(sessionID)
}

// SetArchived flips a session's archived flag and persists it, so it's
// excluded from relaunch and the reconnect watchdog (spec.md §3's
// "archived?" Launcher Session Info field). The idle reaper does not
// consult the flag.
func (m *Manager) SetArchived(ctx context.Context, sessionID string, archived bool) error {
	session, ok := m.bridge.GetSession(sessionID)
	if !ok {
		return fmt.Errorf("sessionmgr: unknown session %q", sessionID)
	}
	session.SetArchived(archived)

	st, err := m.store.LoadLauncherState(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("sessionmgr: load launcher state: %w", err)
	}
	if st == nil {
		st = &sessionreg.LauncherState{SessionID: sessionID, AdapterName: session.AdapterName, Cwd: session.Cwd, State: "connected"}
	}
	st.Archived = archived
	return m.store.SaveLauncherState(ctx, *st)
}

// Relaunch implements spec.md §4.8's relaunch dedup: a session id placed
// in the dedup set rejects further relaunches until the timer fires.
// Archived sessions are never relaunched.
func (m *Manager) Relaunch(sessionID string) {
	m.mu.Lock()
	if _, inFlight := m.relaunching[sessionID]; inFlight {
		m.mu.Unlock()
		return
	}
	m.relaunching[sessionID] = time.AfterFunc(m.opts.RelaunchDedupPeriod, func() {
		m.mu.Lock()
		delete(m.relaunching, sessionID)
		m.mu.Unlock()
	})
	m.mu.Unlock()

	session, ok := m.bridge.GetSession(sessionID)
	if !ok || session.IsArchived() {
		return
	}
	if !m.supervisor.CanRestart(sessionID) {
		log.Warn().Str("session_id", sessionID).Msg("sessionmgr: relaunch refused, circuit breaker open")
		return
	}

	m.metrics.Inc("backend:relaunch_needed", map[string]string{"session_id": sessionID})
	ctx := context.Background()
	if err := m.bridge.ConnectBackend(ctx, sessionID, adapter.ConnectOptions{SessionID: sessionID, Cwd: session.Cwd}); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("sessionmgr: relaunch failed")
		return
	}
	_ = m.store.SaveLauncherState(ctx, sessionreg.LauncherState{
		SessionID: sessionID, AdapterName: session.AdapterName, Cwd: session.Cwd, State: "connected",
	})
}

// watchSupervisorExits drives backend:relaunch_needed detection from
// process-crash events, orthogonal to the bridge's own
// backend-stream-disconnect path (the bridge has no visibility into
// whether a stream ended because the process died or cleanly closed).
func (m *Manager) watchSupervisorExits() {
	for {
		select {
		case <-m.exitWatchStop:
			return
		case report, ok := <-m.supervisor.Exits:
			if !ok {
				return
			}
			log.Info().Str("session_id", report.SessionID).Int("exit_code", report.ExitCode).
				Dur("uptime", report.Uptime).Msg("sessionmgr: process exited")
			m.Relaunch(report.SessionID)
		}
	}
}

// onBackendSessionID implements spec.md §4.8's "backend:session_id →
// launcher.setCLISessionId": persist the backend-assigned id so a later
// relaunch can resume against it.
func (m *Manager) onBackendSessionID(sessionID, backendSessionID string) {
	ctx := context.Background()
	st, err := m.store.LoadLauncherState(ctx, sessionID)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("sessionmgr: load launcher state failed")
		return
	}
	if st == nil {
		session, ok := m.bridge.GetSession(sessionID)
		if !ok {
			return
		}
		st = &sessionreg.LauncherState{SessionID: sessionID, AdapterName: session.AdapterName, Cwd: session.Cwd, State: "connected"}
	}
	st.BackendSessionID = backendSessionID
	st.State = "connected"
	if err := m.store.SaveLauncherState(ctx, *st); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("sessionmgr: persist backend session id failed")
	}
	m.metrics.Inc("backend:session_id", map[string]string{"session_id": sessionID})
}

// handleConsumer is the transport.ConsumerHandler wired into Start.
func (m *Manager) handleConsumer(ctx context.Context, socket transport.Socket, sessionID string, req auth.Request) {
	if _, ok := m.bridge.GetSession(sessionID); !ok {
		socket.Close(4004, "unknown session")
		return
	}

	if err := m.bridge.HandleConsumerOpen(ctx, socket, sessionID, req); err != nil {
		return
	}
	defer m.bridge.HandleConsumerClose(socket, sessionID)

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-socket.Messages():
			if !ok {
				return
			}
			m.bridge.HandleConsumerMessage(ctx, socket, sessionID, raw, translateConsumerMessage)
		}
	}
}

// translateConsumerMessage decodes a wire frame into the canonical
// envelope; canon.UnifiedMessage's UnmarshalJSON already enforces the
// enumeration, so validation failures surface as ordinary decode errors.
func translateConsumerMessage(raw []byte) (*canon.UnifiedMessage, error) {
	var msg canon.UnifiedMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
