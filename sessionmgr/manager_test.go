package sessionmgr

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/relaykit/agentbroker/adapter"
	"github.com/relaykit/agentbroker/auth"
	"github.com/relaykit/agentbroker/bridge"
	"github.com/relaykit/agentbroker/canon"
	"github.com/relaykit/agentbroker/process/processtest"
	"github.com/relaykit/agentbroker/sessionreg"
	"github.com/relaykit/agentbroker/slashcmd"
	"github.com/relaykit/agentbroker/supervisor"
	"github.com/relaykit/agentbroker/transport"
)

type fakeBackendSession struct {
	id        string
	backendID string
	messages  chan *canon.UnifiedMessage
	closed    bool
}

func newFakeBackendSession(id, backendID string) *fakeBackendSession {
	return &fakeBackendSession{id: id, backendID: backendID, messages: make(chan *canon.UnifiedMessage)}
}

func (f *fakeBackendSession) SessionID() string                       { return f.id }
func (f *fakeBackendSession) BackendSessionID() string                { return f.backendID }
func (f *fakeBackendSession) Messages() <-chan *canon.UnifiedMessage   { return f.messages }
func (f *fakeBackendSession) Send(ctx context.Context, msg *canon.UnifiedMessage) error { return nil }
func (f *fakeBackendSession) Close(ctx context.Context) error {
	if !f.closed {
		f.closed = true
		close(f.messages)
	}
	return nil
}

type fakeAdapter struct {
	name      string
	connectFn func(ctx context.Context, opts adapter.ConnectOptions) (adapter.BackendSession, error)
}

func (f *fakeAdapter) Name() string { return f.name }
func (f *fakeAdapter) Capabilities() adapter.Capabilities { return adapter.Capabilities{} }
func (f *fakeAdapter) Connect(ctx context.Context, opts adapter.ConnectOptions) (adapter.BackendSession, error) {
	return f.connectFn(ctx, opts)
}

func newTestManager(t *testing.T, adapters map[string]adapter.Adapter) (*Manager, sessionreg.Store) {
	t.Helper()
	registry := slashcmd.NewRegistry()
	connector := bridge.NewConnector(adapters, "fake", registry, nil, nil)
	handler := slashcmd.NewHandler(registry, noopLocalExecutor{}, nil, nil)
	b := bridge.New(connector, noopAuthenticator{}, time.Second, handler)
	sup := supervisor.New(processtest.NewManager(), supervisor.Options{}, nil)
	store := sessionreg.NewMemoryStore()

	mgr := New(b, connector, sup, store, noopTransport{}, adapters, nil, Options{
		ReconnectGracePeriod: 50 * time.Millisecond,
		RelaunchDedupPeriod:  30 * time.Millisecond,
		IdleSessionTimeout:   0,
		DefaultAdapter:       "fake",
	})
	mgr.connector.SetOnSessionID(mgr.onBackendSessionID)
	return mgr, store
}

type noopAuthenticator struct{}

func (noopAuthenticator) Authenticate(ctx context.Context, req auth.Request) (*auth.Identity, error) {
	return &auth.Identity{ID: "anon", Role: auth.RoleParticipant}, nil
}

type noopLocalExecutor struct{}

func (noopLocalExecutor) Execute(ctx context.Context, command string) (string, error) { return "", nil }

type noopTransport struct{}

func (noopTransport) Serve(ctx context.Context, handler transport.ConsumerHandler) error { return nil }
func (noopTransport) Shutdown(ctx context.Context) error                                 { return nil }

func TestCreateSessionPersistsAndConnects(t *testing.T) {
	backend := newFakeBackendSession("s", "backend-1")
	a := &fakeAdapter{name: "fake", connectFn: func(ctx context.Context, opts adapter.ConnectOptions) (adapter.BackendSession, error) {
		return backend, nil
	}}
	mgr, store := newTestManager(t, map[string]adapter.Adapter{"fake": a})

	session, err := mgr.CreateSession(context.Background(), "/tmp/work", "fake")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	rec, err := store.LoadSession(context.Background(), session.ID)
	if err != nil || rec == nil {
		t.Fatalf("expected session record persisted, got %+v, err %v", rec, err)
	}

	st, err := store.LoadLauncherState(context.Background(), session.ID)
	if err != nil || st == nil || st.State != "connected" {
		t.Fatalf("expected launcher state connected, got %+v, err %v", st, err)
	}
	if st.BackendSessionID != "backend-1" {
		t.Fatalf("expected backend session id persisted via onBackendSessionID, got %q", st.BackendSessionID)
	}
}

func TestCreateSessionCleansUpRegistryOnConnectFailure(t *testing.T) {
	a := &fakeAdapter{name: "fake", connectFn: func(ctx context.Context, opts adapter.ConnectOptions) (adapter.BackendSession, error) {
		return nil, errors.New("boom")
	}}
	mgr, store := newTestManager(t, map[string]adapter.Adapter{"fake": a})

	_, err := mgr.CreateSession(context.Background(), "/tmp/work", "fake")
	if err == nil {
		t.Fatal("expected connect failure to propagate")
	}

	sessions, _ := store.ListSessions(context.Background())
	if len(sessions) != 0 {
		t.Fatalf("expected no leftover session records, got %d", len(sessions))
	}
	states, _ := store.ListLauncherStates(context.Background())
	if len(states) != 0 {
		t.Fatalf("expected no leftover launcher states, got %d", len(states))
	}
}

func TestCreateSessionRejectsUnknownAdapter(t *testing.T) {
	mgr, _ := newTestManager(t, map[string]adapter.Adapter{})
	_, err := mgr.CreateSession(context.Background(), "/tmp", "does-not-exist")
	if err == nil {
		t.Fatal("expected an error for an unregistered adapter")
	}
}

func TestRelaunchDedupCollapsesConcurrentCalls(t *testing.T) {
	var connectCount int
	a := &fakeAdapter{name: "fake", connectFn: func(ctx context.Context, opts adapter.ConnectOptions) (adapter.BackendSession, error) {
		connectCount++
		return newFakeBackendSession(opts.SessionID, "b"), nil
	}}
	mgr, _ := newTestManager(t, map[string]adapter.Adapter{"fake": a})

	session, err := mgr.CreateSession(context.Background(), "/tmp", "fake")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	connectCount = 0 // ignore the initial connect from CreateSession

	mgr.Relaunch(session.ID)
	mgr.Relaunch(session.ID)
	mgr.Relaunch(session.ID)

	if connectCount != 1 {
		t.Fatalf("expected exactly one relaunch connect, got %d", connectCount)
	}

	time.Sleep(50 * time.Millisecond) // let the dedup timer fire
	mgr.Relaunch(session.ID)
	if connectCount != 2 {
		t.Fatalf("expected a second relaunch after dedup timer expiry, got %d", connectCount)
	}
}

func TestRelaunchSkipsArchivedSessions(t *testing.T) {
	var connectCount int
	a := &fakeAdapter{name: "fake", connectFn: func(ctx context.Context, opts adapter.ConnectOptions) (adapter.BackendSession, error) {
		connectCount++
		return newFakeBackendSession(opts.SessionID, "b"), nil
	}}
	mgr, _ := newTestManager(t, map[string]adapter.Adapter{"fake": a})

	session, err := mgr.CreateSession(context.Background(), "/tmp", "fake")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	session.SetArchived(true)
	connectCount = 0

	mgr.Relaunch(session.ID)
	if connectCount != 0 {
		t.Fatalf("expected archived session not to relaunch, got %d connects", connectCount)
	}
}

func TestReapIdleSessionsClosesQualifyingSessions(t *testing.T) {
	mgr, _ := newTestManager(t, map[string]adapter.Adapter{})
	mgr.opts.IdleSessionTimeout = time.Millisecond

	session := mgr.bridge.GetOrCreateSession("idle-1", "/tmp", "fake")
	time.Sleep(5 * time.Millisecond)

	mgr.reapIdleSessions()

	snap := session.Snapshot()
	if snap.Lifecycle != bridge.LifecycleClosed {
		t.Fatalf("expected idle session closed, got lifecycle %v", snap.Lifecycle)
	}
}

func TestReapIdleSessionsSkipsSessionsWithConsumers(t *testing.T) {
	mgr, _ := newTestManager(t, map[string]adapter.Adapter{})
	mgr.opts.IdleSessionTimeout = time.Millisecond

	session := mgr.bridge.GetOrCreateSession("idle-2", "/tmp", "fake")
	consumer := &fakeConsumerSocket{}
	mgr.bridge.HandleConsumerOpen(context.Background(), consumer, "idle-2", auth.Request{SessionID: "idle-2"})
	time.Sleep(5 * time.Millisecond)

	mgr.reapIdleSessions()

	snap := session.Snapshot()
	if snap.Lifecycle == bridge.LifecycleClosed {
		t.Fatal("expected session with an active consumer not to be reaped")
	}
}

type fakeConsumerSocket struct{}

func (f *fakeConsumerSocket) Send(payload []byte) error           { return nil }
func (f *fakeConsumerSocket) Close(code int, reason string) error { return nil }

func TestRestoreArmsWatchdogForStartingSessionsAndRelaunches(t *testing.T) {
	var connectCount int
	a := &fakeAdapter{name: "fake", connectFn: func(ctx context.Context, opts adapter.ConnectOptions) (adapter.BackendSession, error) {
		connectCount++
		return newFakeBackendSession(opts.SessionID, "b"), nil
	}}
	mgr, store := newTestManager(t, map[string]adapter.Adapter{"fake": a})
	mgr.opts.ReconnectGracePeriod = 20 * time.Millisecond

	store.SaveLauncherState(context.Background(), sessionreg.LauncherState{
		SessionID: "stuck-1", AdapterName: "fake", Cwd: "/tmp", State: "starting",
	})

	if err := mgr.restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if _, ok := mgr.bridge.GetSession("stuck-1"); !ok {
		t.Fatal("expected restore to register the session in the bridge")
	}

	time.Sleep(60 * time.Millisecond)
	if connectCount != 1 {
		t.Fatalf("expected the watchdog to relaunch the stuck session once, got %d connects", connectCount)
	}
}

func TestRestoreSkipsWatchdogForArchivedSessions(t *testing.T) {
	var connectCount int
	a := &fakeAdapter{name: "fake", connectFn: func(ctx context.Context, opts adapter.ConnectOptions) (adapter.BackendSession, error) {
		connectCount++
		return newFakeBackendSession(opts.SessionID, "b"), nil
	}}
	mgr, store := newTestManager(t, map[string]adapter.Adapter{"fake": a})
	mgr.opts.ReconnectGracePeriod = 20 * time.Millisecond

	store.SaveLauncherState(context.Background(), sessionreg.LauncherState{
		SessionID: "archived-1", AdapterName: "fake", Cwd: "/tmp", State: "starting", Archived: true,
	})

	if err := mgr.restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}

	time.Sleep(60 * time.Millisecond)
	if connectCount != 0 {
		t.Fatalf("expected no relaunch for an archived session, got %d connects", connectCount)
	}
}

func TestHandleConsumerRejectsUnknownSession(t *testing.T) {
	mgr, _ := newTestManager(t, map[string]adapter.Adapter{})
	socket := &recordingSocket{messages: make(chan []byte)}
	mgr.handleConsumer(context.Background(), socket, "no-such-session", auth.Request{SessionID: "no-such-session"})
	if socket.closeCode != 4004 {
		t.Fatalf("expected close code 4004 for an unknown session, got %d", socket.closeCode)
	}
}

type recordingSocket struct {
	sent      [][]byte
	messages  chan []byte
	closeCode int
}

func (r *recordingSocket) Send(payload []byte) error {
	r.sent = append(r.sent, payload)
	return nil
}
func (r *recordingSocket) Close(code int, reason string) error {
	r.closeCode = code
	return nil
}
func (r *recordingSocket) Messages() <-chan []byte { return r.messages }
