package slashcmd

import (
	"context"
	"errors"
	"testing"
)

type fakeLocal struct {
	content string
	err     error
}

func (f fakeLocal) Execute(ctx context.Context, command string) (string, error) {
	return f.content, f.err
}

func TestHandleConsumerRoutingExecutesLocally(t *testing.T) {
	registry := NewRegistry()
	h := NewHandler(registry, fakeLocal{content: "help text"}, nil, nil)

	var broadcasted map[string]any
	forwardCalled := false

	h.Handle(context.Background(), "sess-1", "/help", "req-1", "trace-1",
		func(command string) error { forwardCalled = true; return nil },
		func(command, requestID, traceID string) {},
		func(payload any) error { broadcasted = payload.(map[string]any); return nil },
	)

	if forwardCalled {
		t.Fatal("consumer-routed command must not forward to backend")
	}
	if broadcasted["type"] != "slash_command_result" || broadcasted["content"] != "help text" {
		t.Fatalf("unexpected broadcast: %+v", broadcasted)
	}
}

func TestHandlePassthroughRoutingForwardsAndRecordsPending(t *testing.T) {
	registry := NewRegistry()
	h := NewHandler(registry, fakeLocal{}, nil, nil)

	forwarded := ""
	recorded := false

	h.Handle(context.Background(), "sess-1", "/context", "req-2", "trace-2",
		func(command string) error { forwarded = command; return nil },
		func(command, requestID, traceID string) { recorded = true },
		func(payload any) error { t.Fatal("unexpected broadcast on pending forward"); return nil },
	)

	if forwarded != "/context" || !recorded {
		t.Fatal("expected /context forwarded and pending entry recorded")
	}
}

func TestHandleLocalExecutionFailureBroadcastsError(t *testing.T) {
	registry := NewRegistry()
	h := NewHandler(registry, fakeLocal{err: errors.New("boom")}, nil, nil)

	var broadcasted map[string]any
	h.Handle(context.Background(), "sess-1", "/help", "req-3", "trace-3",
		func(command string) error { return nil },
		func(command, requestID, traceID string) {},
		func(payload any) error { broadcasted = payload.(map[string]any); return nil },
	)

	if broadcasted["type"] != "slash_command_error" {
		t.Fatalf("expected slash_command_error, got %+v", broadcasted)
	}
}
