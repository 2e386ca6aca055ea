package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/loopkit/loopkit/schema"
)

func stamped(workflowID string, ts time.Time) *Checkpoint {
	cp := New(workflowID, "hash-1")
	cp.Timestamp = ts
	cp.CompletedStepIDs = []string{"a"}
	cp.StepOutputs["a"] = json.RawMessage(`"done"`)
	cp.SharedState["note"] = json.RawMessage(`"kept"`)
	return cp
}

func runStoreSuite(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Now()

	if _, err := store.LoadLatest(ctx, "wf"); !errors.Is(err, schema.ErrCheckpointNotFound) {
		t.Fatalf("expected ErrCheckpointNotFound on empty store, got %v", err)
	}

	older := stamped("wf", base.Add(-time.Minute))
	newer := stamped("wf", base)
	other := stamped("other", base)
	for _, cp := range []*Checkpoint{older, newer, other} {
		if err := store.Save(ctx, cp); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	latest, err := store.LoadLatest(ctx, "wf")
	if err != nil {
		t.Fatalf("load latest: %v", err)
	}
	if latest.ID != newer.ID {
		t.Fatalf("expected newest checkpoint, got %s", latest.ID)
	}
	if string(latest.StepOutputs["a"]) != `"done"` {
		t.Fatalf("step outputs lost: %s", latest.StepOutputs["a"])
	}
	if string(latest.SharedState["note"]) != `"kept"` {
		t.Fatalf("shared state lost: %s", latest.SharedState["note"])
	}

	byID, err := store.Load(ctx, "wf", older.ID)
	if err != nil {
		t.Fatalf("load by id: %v", err)
	}
	if byID.ID != older.ID {
		t.Fatalf("wrong checkpoint loaded: %s", byID.ID)
	}

	list, err := store.List(ctx, "wf")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 checkpoints for wf, got %d", len(list))
	}
	if !list[0].Timestamp.After(list[1].Timestamp) {
		t.Fatalf("expected newest-first ordering")
	}

	if err := store.Delete(ctx, "wf", older.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Load(ctx, "wf", older.ID); !errors.Is(err, schema.ErrCheckpointNotFound) {
		t.Fatalf("expected deleted checkpoint to be gone, got %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	runStoreSuite(t, store)
}

func TestMemoryStoreIsolatesMutation(t *testing.T) {
	store := NewMemoryStore()
	cp := stamped("wf", time.Now())
	if err := store.Save(context.Background(), cp); err != nil {
		t.Fatalf("save: %v", err)
	}

	cp.CompletedStepIDs[0] = "mutated"
	loaded, err := store.LoadLatest(context.Background(), "wf")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.CompletedStepIDs[0] != "a" {
		t.Fatalf("store leaked caller mutation: %v", loaded.CompletedStepIDs)
	}
}

func TestCleanupKeepsNewest(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	var ids []string
	for i := 0; i < 5; i++ {
		cp := stamped("wf", base.Add(time.Duration(i)*time.Second))
		ids = append(ids, cp.ID)
		if err := store.Save(ctx, cp); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	if err := Cleanup(ctx, store, "wf", 2); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	list, err := store.List(ctx, "wf")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 kept checkpoints, got %d", len(list))
	}
	if list[0].ID != ids[4] || list[1].ID != ids[3] {
		t.Fatalf("kept the wrong checkpoints: %s %s", list[0].ID, list[1].ID)
	}
}

func TestCleanupZeroKeepIsNoop(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Save(ctx, stamped("wf", time.Now())); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := Cleanup(ctx, store, "wf", 0); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	list, _ := store.List(ctx, "wf")
	if len(list) != 1 {
		t.Fatalf("keep<=0 should not delete, got %d", len(list))
	}
}
