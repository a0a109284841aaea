package bridge

import (
	"testing"

	"github.com/relaykit/agentbroker/canon"
)

func TestDrainPendingPreservesFIFOOrder(t *testing.T) {
	session := NewSession("s1", "/tmp", "acp")
	first := canon.New(canon.TypeUserMessage, canon.RoleUser, []canon.ContentBlock{canon.TextBlock{Text: "one"}}, nil)
	second := canon.New(canon.TypeUserMessage, canon.RoleUser, []canon.ContentBlock{canon.TextBlock{Text: "two"}}, nil)
	session.enqueuePending(first)
	session.enqueuePending(second)

	drained := session.drainPending()
	if len(drained) != 2 || drained[0] != first || drained[1] != second {
		t.Fatalf("expected FIFO order [first, second], got %+v", drained)
	}
	if len(session.drainPending()) != 0 {
		t.Fatal("expected drainPending to empty the queue")
	}
}

func TestClearBackendDropsPendingPermissions(t *testing.T) {
	session := NewSession("s1", "/tmp", "acp")
	session.addPendingPermission("r1", "Bash")
	session.addPendingPermission("r2", "Read")
	session.setBackend(nil)

	session.clearBackend()

	if len(session.drainPendingPermissions()) != 0 {
		t.Fatal("expected pendingPermissions cleared by clearBackend")
	}
}

func TestShiftPassthroughIsFIFO(t *testing.T) {
	session := NewSession("s1", "/tmp", "acp")
	session.pushPassthrough(&PendingPassthrough{Command: "/a", RequestID: "1"})
	session.pushPassthrough(&PendingPassthrough{Command: "/b", RequestID: "2"})

	if got := session.peekPassthrough(); got.Command != "/a" {
		t.Fatalf("expected oldest-first peek, got %+v", got)
	}
	first := session.shiftPassthrough()
	second := session.shiftPassthrough()
	if first.Command != "/a" || second.Command != "/b" {
		t.Fatalf("expected FIFO shift order, got %+v then %+v", first, second)
	}
	if session.shiftPassthrough() != nil {
		t.Fatal("expected nil once the queue is empty")
	}
}

func TestStreamBufferCapsAt50KB(t *testing.T) {
	session := NewSession("s1", "/tmp", "acp")
	chunk := make([]byte, 40*1024)
	for i := range chunk {
		chunk[i] = 'x'
	}
	session.appendStreamBuffer(string(chunk))
	session.appendStreamBuffer(string(chunk))

	buffered := session.takeStreamBuffer()
	if len(buffered) > maxStreamBufferBytes {
		t.Fatalf("expected buffer capped at %d bytes, got %d", maxStreamBufferBytes, len(buffered))
	}
	if len(buffered) == 0 {
		t.Fatal("expected the first chunk to have been buffered before the cap took effect")
	}
}

func TestMarkCapabilitiesRequestedOnlyOnce(t *testing.T) {
	session := NewSession("s1", "/tmp", "acp")
	if !session.markCapabilitiesRequested() {
		t.Fatal("expected the first call to claim the request")
	}
	if session.markCapabilitiesRequested() {
		t.Fatal("expected a second call to be a no-op")
	}
}
