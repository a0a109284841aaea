package bridge

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/relaykit/agentbroker/adapter"
	"github.com/relaykit/agentbroker/auth"
	"github.com/relaykit/agentbroker/canon"
	"github.com/relaykit/agentbroker/slashcmd"
)

type fakeAuthenticator struct {
	identity *auth.Identity
	err      error
}

func (f fakeAuthenticator) Authenticate(ctx context.Context, req auth.Request) (*auth.Identity, error) {
	return f.identity, f.err
}

func newTestBridge(identity auth.Identity) (*Bridge, *Session) {
	registry := slashcmd.NewRegistry()
	connector := NewConnector(map[string]adapter.Adapter{}, "fake", registry, nil, nil)
	handler := slashcmd.NewHandler(registry, stubLocalExecutor{}, nil, nil)
	b := New(connector, fakeAuthenticator{identity: &identity}, 5*time.Second, handler)
	session := b.GetOrCreateSession("s1", "/tmp", "fake")
	return b, session
}

type stubLocalExecutor struct{}

func (stubLocalExecutor) Execute(ctx context.Context, command string) (string, error) {
	return "ok", nil
}

func translateWireToCanonical(raw []byte) (*canon.UnifiedMessage, error) {
	var wire struct {
		Type    string `json:"type"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}
	return canon.New(canon.MessageType(wire.Type), canon.RoleUser, []canon.ContentBlock{canon.TextBlock{Text: wire.Content}}, nil), nil
}

// Seeded scenario 5: observer denied.
func TestHandleConsumerMessageDeniesObserverNonPresenceMessages(t *testing.T) {
	b, _ := newTestBridge(auth.Identity{ID: "u1", Role: auth.RoleObserver})
	consumer := &fakeConsumer{}

	if err := b.HandleConsumerOpen(context.Background(), consumer, "s1", auth.Request{SessionID: "s1"}); err != nil {
		t.Fatalf("unexpected auth error: %v", err)
	}
	consumer.received = nil // clear identity/session_init frames

	b.HandleConsumerMessage(context.Background(), consumer, "s1", []byte(`{"type":"user_message","content":"hi"}`), translateWireToCanonical)

	if len(consumer.messages()) != 1 {
		t.Fatalf("expected exactly one error frame, got %v", consumer.messages())
	}
	got := string(consumer.last())
	if !strings.Contains(got, "error") || !strings.Contains(got, "Observers cannot send user_message messages") {
		t.Fatalf("unexpected frame: %s", got)
	}
}

func TestHandleConsumerMessagePresenceQueryAllowedForObserver(t *testing.T) {
	b, _ := newTestBridge(auth.Identity{ID: "u1", Role: auth.RoleObserver})
	consumer := &fakeConsumer{}
	b.HandleConsumerOpen(context.Background(), consumer, "s1", auth.Request{SessionID: "s1"})
	consumer.received = nil

	b.HandleConsumerMessage(context.Background(), consumer, "s1", []byte(`{"type":"presence_query"}`), translateWireToCanonical)

	if len(consumer.messages()) != 1 || !strings.Contains(string(consumer.last()), `"presence"`) {
		t.Fatalf("expected a presence reply, got %v", consumer.messages())
	}
}

func TestHandleConsumerMessageBuffersWhenNoBackendConnected(t *testing.T) {
	b, session := newTestBridge(auth.Identity{ID: "u1", Role: auth.RoleParticipant})
	consumer := &fakeConsumer{}
	b.HandleConsumerOpen(context.Background(), consumer, "s1", auth.Request{SessionID: "s1"})

	b.HandleConsumerMessage(context.Background(), consumer, "s1", []byte(`{"type":"user_message","content":"hello"}`), translateWireToCanonical)

	pending := session.drainPending()
	if len(pending) != 1 {
		t.Fatalf("expected message buffered pending backend connect, got %d", len(pending))
	}
}

func TestHandleConsumerMessageRoutesSlashCommandLocally(t *testing.T) {
	b, _ := newTestBridge(auth.Identity{ID: "u1", Role: auth.RoleParticipant})
	consumer := &fakeConsumer{}
	b.HandleConsumerOpen(context.Background(), consumer, "s1", auth.Request{SessionID: "s1"})
	consumer.received = nil

	b.HandleConsumerMessage(context.Background(), consumer, "s1",
		[]byte(`{"type":"slash_command","command":"/help","request_id":"r1"}`), translateWireToCanonical)

	if len(consumer.messages()) != 1 {
		t.Fatalf("expected one slash_command_result frame, got %v", consumer.messages())
	}
	got := string(consumer.last())
	if !strings.Contains(got, "slash_command_result") || !strings.Contains(got, "/help") {
		t.Fatalf("unexpected frame: %s", got)
	}
}

func TestHandleConsumerMessageDeniesObserverSlashCommand(t *testing.T) {
	b, _ := newTestBridge(auth.Identity{ID: "u1", Role: auth.RoleObserver})
	consumer := &fakeConsumer{}
	b.HandleConsumerOpen(context.Background(), consumer, "s1", auth.Request{SessionID: "s1"})
	consumer.received = nil

	b.HandleConsumerMessage(context.Background(), consumer, "s1",
		[]byte(`{"type":"slash_command","command":"/help","request_id":"r1"}`), translateWireToCanonical)

	if len(consumer.messages()) != 1 || !strings.Contains(string(consumer.last()), "Observers cannot send slash_command") {
		t.Fatalf("expected observer denial, got %v", consumer.messages())
	}
}

func TestHandleConsumerOpenRejectsFailedAuthentication(t *testing.T) {
	registry := slashcmd.NewRegistry()
	connector := NewConnector(map[string]adapter.Adapter{}, "fake", registry, nil, nil)
	handler := slashcmd.NewHandler(registry, stubLocalExecutor{}, nil, nil)
	b := New(connector, fakeAuthenticator{identity: nil, err: auth.ErrRejected}, 5*time.Second, handler)
	b.GetOrCreateSession("s1", "/tmp", "fake")

	consumer := &fakeConsumer{}
	err := b.HandleConsumerOpen(context.Background(), consumer, "s1", auth.Request{SessionID: "s1"})
	if err == nil {
		t.Fatal("expected an authentication error")
	}
	if !consumer.closed {
		t.Fatal("expected the socket to be closed on failed authentication")
	}
}

func TestHandleConsumerCloseRemovesConsumer(t *testing.T) {
	b, session := newTestBridge(auth.Identity{ID: "u1", Role: auth.RoleParticipant})
	consumer := &fakeConsumer{}
	b.HandleConsumerOpen(context.Background(), consumer, "s1", auth.Request{SessionID: "s1"})

	if len(session.consumerSnapshot()) != 1 {
		t.Fatal("expected consumer installed after open")
	}

	b.HandleConsumerClose(consumer, "s1")

	if len(session.consumerSnapshot()) != 0 {
		t.Fatal("expected consumer removed after close")
	}
}
