package bridge

import (
	"errors"
	"strings"
	"testing"

	"github.com/relaykit/agentbroker/auth"
)

func TestBroadcastReachesEveryConsumer(t *testing.T) {
	session := NewSession("s1", "/tmp", "acp")
	a := &fakeConsumer{}
	b := &fakeConsumer{}
	session.addConsumer(a, auth.Identity{ID: "u1", Role: auth.RoleParticipant})
	session.addConsumer(b, auth.Identity{ID: "u2", Role: auth.RoleObserver})

	if err := (Broadcaster{}).Broadcast(session, map[string]any{"type": "assistant"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(a.messages()) != 1 || len(b.messages()) != 1 {
		t.Fatalf("expected both consumers to receive the broadcast")
	}
}

func TestBroadcastToParticipantsFiltersObservers(t *testing.T) {
	session := NewSession("s1", "/tmp", "acp")
	participant := &fakeConsumer{}
	observer := &fakeConsumer{}
	session.addConsumer(participant, auth.Identity{ID: "u1", Role: auth.RoleParticipant})
	session.addConsumer(observer, auth.Identity{ID: "u2", Role: auth.RoleObserver})

	(Broadcaster{}).BroadcastToParticipants(session, map[string]any{"type": "permission_cancelled", "request_id": "r1"})

	if len(participant.messages()) != 1 {
		t.Fatalf("expected participant to receive permission_cancelled")
	}
	if len(observer.messages()) != 0 {
		t.Fatalf("expected observer to receive nothing, got %d messages", len(observer.messages()))
	}
	if !strings.Contains(string(participant.last()), `"r1"`) {
		t.Fatalf("unexpected payload: %s", participant.last())
	}
}

func TestBroadcastSurvivesOneConsumerFailing(t *testing.T) {
	session := NewSession("s1", "/tmp", "acp")
	failing := &failingConsumer{}
	ok := &fakeConsumer{}
	session.addConsumer(failing, auth.Identity{ID: "u1", Role: auth.RoleParticipant})
	session.addConsumer(ok, auth.Identity{ID: "u2", Role: auth.RoleParticipant})

	if err := (Broadcaster{}).Broadcast(session, map[string]any{"type": "assistant"}); err != nil {
		t.Fatalf("broadcast must not fail when a consumer send fails: %v", err)
	}
	if len(ok.messages()) == 0 {
		t.Fatalf("expected the healthy consumer to still receive the broadcast")
	}
}

// failingConsumer is a Consumer whose every Send returns an error.
type failingConsumer struct{ fakeConsumer }

func (f *failingConsumer) Send(payload []byte) error { return errors.New("send failed") }
