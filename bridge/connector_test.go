package bridge

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/relaykit/agentbroker/adapter"
	"github.com/relaykit/agentbroker/auth"
	"github.com/relaykit/agentbroker/canon"
	"github.com/relaykit/agentbroker/slashcmd"
)

type fakeBackendSession struct {
	sessionID string
	backendID string
	messages  chan *canon.UnifiedMessage
	sent      []*canon.UnifiedMessage
	closed    bool
}

func newFakeBackendSession(id string) *fakeBackendSession {
	return &fakeBackendSession{sessionID: id, messages: make(chan *canon.UnifiedMessage, 16)}
}

func (f *fakeBackendSession) SessionID() string               { return f.sessionID }
func (f *fakeBackendSession) BackendSessionID() string         { return f.backendID }
func (f *fakeBackendSession) Messages() <-chan *canon.UnifiedMessage { return f.messages }
func (f *fakeBackendSession) Send(ctx context.Context, msg *canon.UnifiedMessage) error {
	f.sent = append(f.sent, msg)
	return nil
}
func (f *fakeBackendSession) Close(ctx context.Context) error {
	if !f.closed {
		f.closed = true
		close(f.messages)
	}
	return nil
}

type fakeAdapter struct {
	name    string
	session *fakeBackendSession
}

func (f *fakeAdapter) Name() string { return f.name }
func (f *fakeAdapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{Streaming: true, Permissions: true}
}
func (f *fakeAdapter) Connect(ctx context.Context, opts adapter.ConnectOptions) (adapter.BackendSession, error) {
	return f.session, nil
}

var _ adapter.Adapter = (*fakeAdapter)(nil)
var _ adapter.BackendSession = (*fakeBackendSession)(nil)

func TestConnectBackendDrainsPendingMessagesInFIFOOrder(t *testing.T) {
	session := NewSession("s1", "/tmp", "fake")
	first := canon.New(canon.TypeUserMessage, canon.RoleUser, nil, nil)
	second := canon.New(canon.TypeUserMessage, canon.RoleUser, nil, nil)
	session.enqueuePending(first)
	session.enqueuePending(second)

	backend := newFakeBackendSession("s1")
	a := &fakeAdapter{name: "fake", session: backend}
	registry := slashcmd.NewRegistry()
	connector := NewConnector(map[string]adapter.Adapter{"fake": a}, "fake", registry, nil, nil)

	if err := connector.ConnectBackend(context.Background(), session, adapter.ConnectOptions{SessionID: "s1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// give the async pending-drain its turn; ConnectBackend drains inline
	// before spawning the consumption loop, so this should already hold.
	if len(backend.sent) != 2 || backend.sent[0] != first || backend.sent[1] != second {
		t.Fatalf("expected pending messages drained in FIFO order, got %+v", backend.sent)
	}
	backend.Close(context.Background())
}

func TestOnBackendStreamEndCancelsPassthroughsAndPermissions(t *testing.T) {
	session := NewSession("s1", "/tmp", "fake")
	consumer := &fakeConsumer{}
	session.addConsumer(consumer, auth.Identity{ID: "u1", Role: auth.RoleParticipant})
	session.addPendingPermission("r1", "Bash")
	session.pushPassthrough(&PendingPassthrough{Command: "/context", RequestID: "req-1"})

	backend := newFakeBackendSession("s1")
	a := &fakeAdapter{name: "fake", session: backend}
	registry := slashcmd.NewRegistry()
	connector := NewConnector(map[string]adapter.Adapter{"fake": a}, "fake", registry, nil, nil)

	if err := connector.ConnectBackend(context.Background(), session, adapter.ConnectOptions{SessionID: "s1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	backend.Close(context.Background())

	deadline := time.After(time.Second)
	for {
		msgs := consumer.messages()
		joined := ""
		for _, m := range msgs {
			joined += string(m)
		}
		if strings.Contains(joined, "permission_cancelled") && strings.Contains(joined, "slash_command_error") && strings.Contains(joined, "cli_disconnected") {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for disconnect cleanup broadcasts, got %v", msgs)
		case <-time.After(time.Millisecond):
		}
	}

	if len(session.drainPendingPermissions()) != 0 {
		t.Fatal("expected pending permissions cleared")
	}
	if session.peekPassthrough() != nil {
		t.Fatal("expected pending passthroughs cleared")
	}
}
