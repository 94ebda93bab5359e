package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/user/multichat/internal/gateway"
	"github.com/user/multichat/internal/types"
)

// Server is a configured tool server.
type Server struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Catalog holds the tools discovered from every configured server.
type Catalog struct {
	invoker *Invoker
	servers []Server
	retry   *gateway.RetryPolicy

	mu    sync.RWMutex
	tools []types.ToolDescriptor
}

// NewCatalog creates a catalog over the given servers. Call Refresh to
// populate it.
func NewCatalog(invoker *Invoker, servers []Server) *Catalog {
	return &Catalog{
		invoker: invoker,
		servers: servers,
		retry:   gateway.DefaultRetryPolicy(),
	}
}

// SetRetryPolicy replaces the policy used for discovery.
func (c *Catalog) SetRetryPolicy(p *gateway.RetryPolicy) {
	c.retry = p
}

type listResult struct {
	Tools []struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		InputSchema json.RawMessage `json:"inputSchema"`
	} `json:"tools"`
}

// Refresh re-discovers tools from every server. A server that keeps failing
// is logged and skipped; its tools disappear from the catalog.
func (c *Catalog) Refresh(ctx context.Context) error {
	var all []types.ToolDescriptor
	var failed []string

	for _, srv := range c.servers {
		var raw json.RawMessage
		err := c.retry.Execute(ctx, func() error {
			var err error
			raw, err = c.invoker.ListTools(ctx, srv.URL)
			return err
		})
		if err != nil {
			slog.Error("tool discovery failed", "server", srv.Name, "error", err)
			failed = append(failed, srv.Name)
			continue
		}

		var res listResult
		if err := json.Unmarshal(raw, &res); err != nil {
			slog.Error("invalid tools/list result", "server", srv.Name, "error", err)
			failed = append(failed, srv.Name)
			continue
		}
		for _, t := range res.Tools {
			name := strings.TrimSpace(t.Name)
			if name == "" {
				continue
			}
			all = append(all, types.ToolDescriptor{
				ID:          srv.Name + "/" + name,
				Name:        name,
				Server:      srv.Name,
				Description: strings.TrimSpace(t.Description),
				InputSchema: t.InputSchema,
			})
		}
		slog.Info("discovered tools", "server", srv.Name, "count", len(res.Tools))
	}

	c.mu.Lock()
	c.tools = all
	c.mu.Unlock()

	if len(failed) > 0 {
		return fmt.Errorf("discovery failed for %s", strings.Join(failed, ", "))
	}
	return nil
}

// Add registers descriptors directly, bypassing discovery.
func (c *Catalog) Add(tools ...types.ToolDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = append(c.tools, tools...)
}

// All returns a copy of every known tool.
func (c *Catalog) All() []types.ToolDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]types.ToolDescriptor(nil), c.tools...)
}

// Lookup resolves tool ids, reporting the ones that are unknown.
func (c *Catalog) Lookup(ids []string) (found []types.ToolDescriptor, missing []string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	byID := make(map[string]types.ToolDescriptor, len(c.tools))
	for _, t := range c.tools {
		byID[t.ID] = t
	}
	for _, id := range ids {
		if t, ok := byID[id]; ok {
			found = append(found, t)
		} else {
			missing = append(missing, id)
		}
	}
	return found, missing
}

// ServerURL returns the URL of a configured server.
func (c *Catalog) ServerURL(name string) (string, bool) {
	for _, s := range c.servers {
		if s.Name == name {
			return s.URL, true
		}
	}
	return "", false
}

// Execute invokes tool on its own server.
func (c *Catalog) Execute(ctx context.Context, tool types.ToolDescriptor, args json.RawMessage) (json.RawMessage, error) {
	url, ok := c.ServerURL(tool.Server)
	if !ok {
		return nil, fmt.Errorf("Server configuration not found for: %s", tool.Server)
	}
	return c.invoker.Invoke(ctx, url, tool.Name, args)
}
