package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/user/multichat/internal/state"
	"github.com/user/multichat/internal/types"
)

const reviewYAML = `id: contract-review
name: Contract Review
description: Upload a contract and summarize it
steps:
  - type: file_upload
    fileRequirement: Upload the contract.
  - type: prompt
    prompt: Summarize the key obligations.
  - type: export
    exportFormat: pdf
`

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRegistryLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "review.yaml", reviewYAML)
	writeFile(t, dir, "notes.txt", "ignored")
	writeFile(t, dir, "search.yml", "name: Lookup\nsteps:\n  - type: database_search\n    databaseId: parts\n")

	r := NewRegistry(nil)
	if err := r.LoadDir(dir); err != nil {
		t.Fatal(err)
	}

	wf, err := r.Workflow(context.Background(), "contract-review", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !wf.IsSystem || len(wf.Steps) != 3 || wf.Steps[0].FileRequirement != "Upload the contract." {
		t.Errorf("unexpected workflow %+v", wf)
	}
	if wf.Steps[1].ID != "step-2" {
		t.Errorf("expected generated step id, got %q", wf.Steps[1].ID)
	}

	if _, err := r.Workflow(context.Background(), "search", "alice"); err != nil {
		t.Errorf("expected id from file name: %v", err)
	}

	wf.Steps[0].FileRequirement = "changed"
	again, _ := r.Workflow(context.Background(), "contract-review", "alice")
	if again.Steps[0].FileRequirement != "Upload the contract." {
		t.Error("registry must hand out copies")
	}
}

func TestRegistryRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "empty.yaml", "name: Empty\n")
	if err := NewRegistry(nil).LoadDir(dir); !errors.Is(err, ErrInvalidWorkflow) {
		t.Errorf("expected ErrInvalidWorkflow, got %v", err)
	}

	dup := t.TempDir()
	writeFile(t, dup, "a.yaml", "id: same\nname: A\nsteps:\n  - type: export\n")
	writeFile(t, dup, "b.yaml", "id: same\nname: B\nsteps:\n  - type: export\n")
	if err := NewRegistry(nil).LoadDir(dup); err == nil {
		t.Error("expected duplicate id error")
	}

	if err := NewRegistry(nil).LoadDir(filepath.Join(dir, "missing")); err != nil {
		t.Errorf("missing dir should load nothing, got %v", err)
	}
}

func TestRegistryFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	store, err := state.OpenResourceStore(ctx, filepath.Join(t.TempDir(), "resources.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	r := NewRegistry(store)
	dir := t.TempDir()
	writeFile(t, dir, "review.yaml", reviewYAML)
	if err := r.LoadDir(dir); err != nil {
		t.Fatal(err)
	}

	own := &types.Workflow{Name: "Mine", Steps: []types.WorkflowStep{{Type: types.StepExport}}}
	if err := r.Save(ctx, own, "alice"); err != nil {
		t.Fatal(err)
	}
	if own.ID == "" {
		t.Fatal("expected generated id")
	}

	got, err := r.Workflow(ctx, own.ID, "alice")
	if err != nil || got.Name != "Mine" {
		t.Fatalf("got %+v, %v", got, err)
	}
	if _, err := r.Workflow(ctx, own.ID, "bob"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected partition isolation, got %v", err)
	}

	list, err := r.List(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "contract-review" || list[1].Name != "Mine" {
		t.Errorf("unexpected list %+v", list)
	}

	if err := store.Put(ctx, types.KindPersona, "p1", "alice", &types.Persona{ID: "p1", Name: "Critic"}); err != nil {
		t.Fatal(err)
	}
	if p, err := r.Persona(ctx, "p1", "alice"); err != nil || p.Name != "Critic" {
		t.Errorf("got %+v, %v", p, err)
	}
	if _, err := r.Source(ctx, "nope", "alice"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
