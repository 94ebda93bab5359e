// Package search looks records up in database sources.
package search

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/user/multichat/internal/cache"
	"github.com/user/multichat/internal/types"
)

// DefaultTop is the number of records requested from index sources.
const DefaultTop = 5

// Record is one search hit.
type Record struct {
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
}

// Result holds every hit of a query. Literal sources return all matches;
// index sources return at most the requested top.
type Result struct {
	Records []Record `json:"records"`
}

// Embedder turns text into a query vector.
type Embedder interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

// Service dispatches searches by source type.
type Service struct {
	client *http.Client
	embed  Embedder
	cache  *cache.Cache
	top    int

	mu    sync.Mutex
	pools map[string]*sql.DB
}

// Option configures a Service.
type Option func(*Service)

// WithCache caches index results.
func WithCache(c *cache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithHTTPClient replaces the client used for index searches.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.client = c }
}

// WithTop sets the number of records requested from index sources.
func WithTop(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.top = n
		}
	}
}

// NewService creates a Service. embed may be nil, which disables vector
// queries.
func NewService(embed Embedder, opts ...Option) *Service {
	s := &Service{
		client: &http.Client{Timeout: 30 * time.Second},
		embed:  embed,
		top:    DefaultTop,
		pools:  make(map[string]*sql.DB),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search runs query against src.
func (s *Service) Search(ctx context.Context, src *types.DatabaseSource, query string) (*Result, error) {
	if src.Literal() {
		return &Result{Records: Literal(src, query)}, nil
	}

	key := cache.Key(src.ID, string(src.Type), query, fmt.Sprint(s.top))
	var cached Result
	if hit, err := s.cache.Get(ctx, key, &cached); err != nil {
		slog.Warn("search cache", "source", src.ID, "error", err)
	} else if hit {
		return &cached, nil
	}

	var (
		records []Record
		err     error
	)
	switch src.Type {
	case types.SourceAzureSearch:
		records, err = s.searchAzure(ctx, src, query)
	case types.SourcePGVector:
		records, err = s.searchPG(ctx, src, query)
	default:
		err = fmt.Errorf("unsupported source type %q", src.Type)
	}
	if err != nil {
		return nil, err
	}

	res := &Result{Records: records}
	if err := s.cache.Set(ctx, key, res); err != nil {
		slog.Warn("search cache", "source", src.ID, "error", err)
	}
	return res, nil
}

// Close releases database pools.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for dsn, db := range s.pools {
		errs = append(errs, db.Close())
		delete(s.pools, dsn)
	}
	return errors.Join(errs...)
}
