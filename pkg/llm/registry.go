package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Route binds a model id prefix to an adapter.
type Route struct {
	Prefix string
	// Strip is removed from the front of the model id before it reaches the
	// adapter, e.g. "azure-" turns "azure-gpt-4o" into the deployment "gpt-4o".
	Strip   string
	Adapter Adapter
}

// Registry resolves model ids to adapters by longest matching prefix.
type Registry struct {
	mu       sync.RWMutex
	routes   []Route
	fallback Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a route. Later registrations with the same prefix win.
func (r *Registry) Register(route Route) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.routes {
		if existing.Prefix == route.Prefix {
			r.routes[i] = route
			return
		}
	}
	r.routes = append(r.routes, route)
	sort.SliceStable(r.routes, func(i, j int) bool {
		return len(r.routes[i].Prefix) > len(r.routes[j].Prefix)
	})
}

// SetFallback sets the adapter used when no prefix matches.
func (r *Registry) SetFallback(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = a
}

// Resolve returns the adapter for model along with the vendor model name.
func (r *Registry) Resolve(model string) (Adapter, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, route := range r.routes {
		if strings.HasPrefix(model, route.Prefix) {
			return route.Adapter, strings.TrimPrefix(model, route.Strip), nil
		}
	}
	if r.fallback != nil {
		return r.fallback, model, nil
	}
	return nil, "", fmt.Errorf("no backend registered for model %q", model)
}

// Call resolves req.Model and forwards the request to its adapter.
func (r *Registry) Call(ctx context.Context, req *Request) (string, error) {
	adapter, name, err := r.Resolve(req.Model)
	if err != nil {
		return "", err
	}
	routed := *req
	routed.Model = name
	return adapter.Call(ctx, &routed)
}
