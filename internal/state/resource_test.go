// internal/state/resource_test.go
package state

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/user/multichat/internal/types"
)

func openTestResources(t *testing.T) *ResourceStore {
	t.Helper()
	store, err := OpenResourceStore(context.Background(), filepath.Join(t.TempDir(), "resources.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestResourceStorePutGet(t *testing.T) {
	store := openTestResources(t)
	ctx := context.Background()

	persona := &types.Persona{ID: "p1", Name: "Analyst", SystemInstruction: "Be precise."}
	if err := store.Put(ctx, types.KindPersona, persona.ID, "alice", persona); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetPersona(ctx, "p1", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if got.SystemInstruction != "Be precise." {
		t.Errorf("unexpected persona %+v", got)
	}

	// Upsert replaces
	persona.Name = "Senior Analyst"
	if err := store.Put(ctx, types.KindPersona, persona.ID, "alice", persona); err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetPersona(ctx, "p1", "alice")
	if got.Name != "Senior Analyst" {
		t.Errorf("expected upsert, got %q", got.Name)
	}

	if _, err := store.GetPersona(ctx, "p1", "bob"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound for other partition, got %v", err)
	}
}

func TestResourceStoreListAndDelete(t *testing.T) {
	store := openTestResources(t)
	ctx := context.Background()

	for _, id := range []string{"b", "a"} {
		src := &types.DatabaseSource{ID: id, Name: "src " + id, Type: types.SourceManual}
		if err := store.Put(ctx, types.KindSource, id, "team", src); err != nil {
			t.Fatal(err)
		}
	}

	raw, err := store.List(ctx, types.KindSource, "team")
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(raw))
	}
	var first types.DatabaseSource
	if err := json.Unmarshal(raw[0], &first); err != nil {
		t.Fatal(err)
	}
	if first.ID != "a" {
		t.Errorf("expected ordered by id, got %q", first.ID)
	}

	if err := store.Delete(ctx, types.KindSource, "a", "team"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetSource(ctx, "a", "team"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}
