package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/user/multichat/internal/blob"
	"github.com/user/multichat/internal/cache"
	"github.com/user/multichat/internal/config"
	ctxengine "github.com/user/multichat/internal/context"
	"github.com/user/multichat/internal/fanout"
	"github.com/user/multichat/internal/gateway"
	"github.com/user/multichat/internal/hub"
	"github.com/user/multichat/internal/mcp"
	"github.com/user/multichat/internal/orchestrator"
	"github.com/user/multichat/internal/scrape"
	"github.com/user/multichat/internal/search"
	"github.com/user/multichat/internal/session"
	"github.com/user/multichat/internal/state"
	"github.com/user/multichat/internal/workflow"
	"github.com/user/multichat/pkg/llm"
	"github.com/user/multichat/pkg/llm/anthropic"
	"github.com/user/multichat/pkg/llm/gemini"
	"github.com/user/multichat/pkg/llm/openai"
)

// app holds every long-lived component of a process.
type app struct {
	cfg       *config.Config
	sessions  *session.Manager
	resources *state.ResourceStore
	events    *state.EventStore
	workflows *workflow.Registry
	catalog   *mcp.Catalog
	fanout    *fanout.Coordinator
	engine    *workflow.Engine
	gateway   *gateway.Gateway
	hub       *hub.Hub
	search    *search.Service

	closers []func() error
}

// backends routes model ids to the adapter families.
func backends(cfg *config.Config) (*llm.Registry, *openai.EmbeddingClient) {
	azure := &llm.Config{
		BaseURL:     cfg.Backends.Azure.BaseURL,
		APIKey:      cfg.Backends.Azure.APIKey,
		APIVersion:  cfg.Backends.Azure.APIVersion,
		MaxTokens:   2000,
		Temperature: 0.7,
	}
	embeddings := openai.NewEmbeddings(azure)

	reg := llm.NewRegistry()
	reg.Register(llm.Route{Prefix: "azure-text-embedding", Strip: "azure-", Adapter: embeddings})
	reg.Register(llm.Route{Prefix: "azure-dall-e", Strip: "azure-", Adapter: openai.NewImages(azure)})
	reg.Register(llm.Route{Prefix: "azure-", Strip: "azure-", Adapter: openai.New(azure)})
	reg.Register(llm.Route{Prefix: "claude-", Adapter: anthropic.New(&llm.Config{
		BaseURL:     cfg.Backends.Anthropic.BaseURL,
		APIKey:      cfg.Backends.Anthropic.APIKey,
		APIVersion:  cfg.Backends.Anthropic.APIVersion,
		MaxTokens:   2000,
		Temperature: 0.7,
	})})
	reg.SetFallback(gemini.New(&llm.Config{
		BaseURL:     cfg.Backends.Gemini.BaseURL,
		APIKey:      cfg.Backends.Gemini.APIKey,
		MaxTokens:   2000,
		Temperature: 0.7,
	}))
	return reg, embeddings
}

// newApp wires the stores, backends and engines. live enables the
// websocket hub as an update publisher.
func newApp(ctx context.Context, cfg *config.Config, live bool) (*app, error) {
	a := &app{cfg: cfg}

	sessions := state.NewSessionStore(cfg.DataDir)
	a.events = state.NewEventStore(cfg.DataDir)
	docs := state.NewDocumentStore(cfg.DataDir)

	resources, err := state.OpenResourceStore(ctx, filepath.Join(cfg.DataDir, "resources.db"))
	if err != nil {
		return nil, err
	}
	a.resources = resources
	a.closers = append(a.closers, resources.Close)

	a.workflows = workflow.NewRegistry(resources)
	if cfg.WorkflowsDir != "" {
		if err := a.workflows.LoadDir(cfg.WorkflowsDir); err != nil {
			a.Close()
			return nil, fmt.Errorf("load workflows: %w", err)
		}
	}

	// Redis cache for search and scrape results
	var searchCache, scrapeCache *cache.Cache
	if cfg.Redis.Addr != "" {
		rdb, err := cache.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			slog.Warn("redis cache disabled", "addr", cfg.Redis.Addr, "error", err)
		} else {
			a.closers = append(a.closers, rdb.Close)
			searchCache = cache.New(rdb, "multichat:search:", 10*time.Minute)
			scrapeCache = cache.New(rdb, "multichat:scrape:", time.Hour)
			slog.Info("redis cache enabled", "addr", cfg.Redis.Addr)
		}
	}

	registry, embeddings := backends(cfg)

	var orchOpts []orchestrator.Option
	if budget, err := ctxengine.New(cfg.Context.MaxContextTokens, cfg.Context.OutputReserve, nil); err != nil {
		slog.Warn("context budget disabled", "error", err)
	} else {
		orchOpts = append(orchOpts, orchestrator.WithBudget(budget))
	}

	servers := make([]mcp.Server, 0, len(cfg.MCP.Servers))
	for _, s := range cfg.MCP.Servers {
		servers = append(servers, mcp.Server{Name: s.Name, URL: s.URL})
	}
	a.catalog = mcp.NewCatalog(mcp.NewInvoker(0), servers)
	a.catalog.SetRetryPolicy(gateway.DefaultRetryPolicy())
	if len(servers) > 0 {
		if err := a.catalog.Refresh(ctx); err != nil {
			slog.Warn("tool discovery incomplete", "error", err)
		}
	}

	orch := orchestrator.New(registry, a.catalog, orchOpts...)

	pubs := fanout.Publishers{fanout.EventLog{Recorder: a.events}}
	if live {
		a.hub = hub.New("")
		pubs = append(pubs, a.hub)
	}
	a.fanout = fanout.New(orch, pubs, docs)

	a.search = search.NewService(embeddings, search.WithCache(searchCache), search.WithTop(cfg.Search.Top))
	a.closers = append(a.closers, a.search.Close)

	deps := workflow.Deps{
		Resources: a.workflows,
		Turns:     a.fanout,
		Search:    a.search,
		Scraper:   scrape.New(cfg.Scraper.Endpoint, scrapeCache),
		Tools:     a.catalog,
		Publisher: pubs,
	}
	if cfg.Search.SerpAPIKey != "" {
		deps.Web = search.NewWeb(cfg.Search.SerpAPIKey, cfg.Search.SerpEndpoint, searchCache)
	}
	if cfg.Blob.Endpoint != "" {
		store, err := blob.New(blob.Config{
			Endpoint:  cfg.Blob.Endpoint,
			AccessKey: cfg.Blob.AccessKey,
			SecretKey: cfg.Blob.SecretKey,
			Bucket:    cfg.Blob.Bucket,
			Region:    cfg.Blob.Region,
			UseSSL:    cfg.Blob.UseSSL,
		})
		if err == nil {
			err = store.EnsureBucket(ctx)
		}
		if err != nil {
			slog.Warn("blob store disabled", "endpoint", cfg.Blob.Endpoint, "error", err)
		} else {
			deps.Blobs = store
		}
	}
	a.engine = workflow.New(deps)

	a.sessions = session.NewManager(sessions, cfg.AutosaveDelay())
	a.gateway = gateway.New(int64(cfg.MaxConcurrent))
	return a, nil
}

// Close flushes sessions and releases stores.
func (a *app) Close() error {
	var errs []error
	if a.sessions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		errs = append(errs, a.sessions.Close(ctx))
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}
