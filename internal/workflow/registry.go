package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/user/multichat/internal/types"
)

var ErrInvalidWorkflow = errors.New("invalid workflow")

// Resources resolves the objects a workflow refers to.
type Resources interface {
	Workflow(ctx context.Context, id, partition string) (*types.Workflow, error)
	Persona(ctx context.Context, id, partition string) (*types.Persona, error)
	Source(ctx context.Context, id, partition string) (*types.DatabaseSource, error)
}

// Registry serves system workflows loaded from YAML files and falls back to
// a ResourceStore for user workflows, personas and database sources.
type Registry struct {
	store types.ResourceStore

	mu        sync.RWMutex
	templates map[string]*types.Workflow
}

// NewRegistry creates a Registry over store. store may be nil.
func NewRegistry(store types.ResourceStore) *Registry {
	return &Registry{store: store, templates: make(map[string]*types.Workflow)}
}

// LoadDir replaces the system workflows with the *.yaml and *.yml files in
// dir. A missing directory loads nothing.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read workflows dir: %w", err)
	}

	loaded := make(map[string]*types.Workflow)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := strings.ToLower(entry.Name())
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		wf, err := loadFile(path)
		if err != nil {
			return err
		}
		if wf.ID == "" {
			wf.ID = strings.TrimSuffix(strings.TrimSuffix(name, ".yaml"), ".yml")
		}
		if _, exists := loaded[wf.ID]; exists {
			return fmt.Errorf("duplicate workflow id %q", wf.ID)
		}
		if err := normalize(wf); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		wf.IsSystem = true
		loaded[wf.ID] = wf
	}

	r.mu.Lock()
	r.templates = loaded
	r.mu.Unlock()
	return nil
}

func loadFile(path string) (*types.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow %q: %w", path, err)
	}
	var wf types.Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parse workflow %q: %w", path, err)
	}
	return &wf, nil
}

func normalize(wf *types.Workflow) error {
	wf.Name = strings.TrimSpace(wf.Name)
	if wf.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidWorkflow)
	}
	if len(wf.Steps) == 0 {
		return fmt.Errorf("%w: %s has no steps", ErrInvalidWorkflow, wf.ID)
	}
	for i := range wf.Steps {
		if wf.Steps[i].ID == "" {
			wf.Steps[i].ID = fmt.Sprintf("step-%d", i+1)
		}
		if wf.Steps[i].Type == "" {
			return fmt.Errorf("%w: step %d has no type", ErrInvalidWorkflow, i+1)
		}
	}
	return nil
}

// Workflow returns a system workflow by id, else the stored one.
func (r *Registry) Workflow(ctx context.Context, id, partition string) (*types.Workflow, error) {
	r.mu.RLock()
	wf, ok := r.templates[id]
	r.mu.RUnlock()
	if ok {
		return clone(wf), nil
	}
	if r.store == nil {
		return nil, fmt.Errorf("workflow %s: %w", id, types.ErrNotFound)
	}
	var stored types.Workflow
	if err := r.store.Get(ctx, types.KindWorkflow, id, partition, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

// List returns system workflows followed by the partition's own, each group
// sorted by name.
func (r *Registry) List(ctx context.Context, partition string) ([]*types.Workflow, error) {
	r.mu.RLock()
	system := make([]*types.Workflow, 0, len(r.templates))
	for _, wf := range r.templates {
		system = append(system, clone(wf))
	}
	r.mu.RUnlock()
	sortByName(system)

	if r.store == nil {
		return system, nil
	}
	bodies, err := r.store.List(ctx, types.KindWorkflow, partition)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	own := make([]*types.Workflow, 0, len(bodies))
	for _, body := range bodies {
		var wf types.Workflow
		if err := json.Unmarshal(body, &wf); err != nil {
			return nil, fmt.Errorf("decode workflow: %w", err)
		}
		own = append(own, &wf)
	}
	sortByName(own)
	return append(system, own...), nil
}

// Save validates wf and stores it for partition.
func (r *Registry) Save(ctx context.Context, wf *types.Workflow, partition string) error {
	if r.store == nil {
		return fmt.Errorf("no resource store configured")
	}
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	if err := normalize(wf); err != nil {
		return err
	}
	return r.store.Put(ctx, types.KindWorkflow, wf.ID, partition, wf)
}

func (r *Registry) Persona(ctx context.Context, id, partition string) (*types.Persona, error) {
	if r.store == nil {
		return nil, fmt.Errorf("persona %s: %w", id, types.ErrNotFound)
	}
	var p types.Persona
	if err := r.store.Get(ctx, types.KindPersona, id, partition, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Registry) Source(ctx context.Context, id, partition string) (*types.DatabaseSource, error) {
	if r.store == nil {
		return nil, fmt.Errorf("database source %s: %w", id, types.ErrNotFound)
	}
	var d types.DatabaseSource
	if err := r.store.Get(ctx, types.KindSource, id, partition, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func clone(wf *types.Workflow) *types.Workflow {
	c := *wf
	c.Steps = make([]types.WorkflowStep, len(wf.Steps))
	for i, s := range wf.Steps {
		s.ToolIDs = append([]string(nil), s.ToolIDs...)
		c.Steps[i] = s
	}
	c.AllowedGroups = append([]string(nil), wf.AllowedGroups...)
	return &c
}

func sortByName(wfs []*types.Workflow) {
	sort.Slice(wfs, func(i, j int) bool {
		if wfs[i].Name == wfs[j].Name {
			return wfs[i].ID < wfs[j].ID
		}
		return wfs[i].Name < wfs[j].Name
	})
}
