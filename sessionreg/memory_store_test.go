package sessionreg

import (
	"context"
	"testing"
)

func TestMemoryStoreSessionRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec := SessionRecord{SessionID: "s1", Cwd: "/tmp", AdapterName: "acp", CreatedAt: 1, UpdatedAt: 1}
	if err := store.SaveSession(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.LoadSession(ctx, "s1")
	if err != nil || loaded == nil || loaded.AdapterName != "acp" {
		t.Fatalf("expected round-tripped record, got %+v, err %v", loaded, err)
	}

	if err := store.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if loaded, _ := store.LoadSession(ctx, "s1"); loaded != nil {
		t.Fatal("expected session gone after delete")
	}
}

func TestMemoryStoreLoadSessionMissingReturnsNilNotError(t *testing.T) {
	store := NewMemoryStore()
	rec, err := store.LoadSession(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec != nil {
		t.Fatal("expected nil record for unknown session id")
	}
}

func TestMemoryStoreLauncherStateRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	st := LauncherState{SessionID: "s1", Pid: 123, AdapterName: "acp", Cwd: "/tmp", State: "starting"}
	if err := store.SaveLauncherState(ctx, st); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.LoadLauncherState(ctx, "s1")
	if err != nil || loaded == nil || loaded.Pid != 123 || loaded.State != "starting" {
		t.Fatalf("expected round-tripped launcher state, got %+v, err %v", loaded, err)
	}

	list, err := store.ListLauncherStates(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one launcher state listed, got %+v, err %v", list, err)
	}
}
