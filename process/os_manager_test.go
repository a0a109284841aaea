package process

import (
	"context"
	"io"
	"testing"
	"time"
)

func TestOSManagerSpawnPipedAndWait(t *testing.T) {
	m := NewOSManager()
	ctx := context.Background()
	h, err := m.Spawn(ctx, Spec{Command: "echo", Args: []string{"hello"}})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	out, err := io.ReadAll(h.Stdout())
	if err != nil {
		t.Fatalf("read stdout: %v", err)
	}
	if string(out) != "hello\n" {
		t.Fatalf("expected %q, got %q", "hello\n", out)
	}
	code, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
}

func TestOSManagerSignalTerminatesProcess(t *testing.T) {
	m := NewOSManager()
	ctx := context.Background()
	h, err := m.Spawn(ctx, Spec{Command: "sleep", Args: []string{"30"}})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if !m.IsAlive(h.Pid()) {
		t.Fatal("expected process to be alive right after spawn")
	}
	if err := h.Signal(SignalTerm); err != nil {
		t.Fatalf("signal: %v", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := h.Wait(waitCtx); err != nil {
		t.Fatalf("wait after SIGTERM: %v", err)
	}
}

func TestOSManagerIsAliveFalseForUnknownPid(t *testing.T) {
	m := NewOSManager()
	if m.IsAlive(999999) {
		t.Fatal("expected unknown pid to be reported not alive")
	}
}
