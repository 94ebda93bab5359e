// Package scrape fetches web pages as markdown for workflow scraper steps.
package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/multichat/internal/cache"
)

const (
	maxContentChars = 50000
	maxBodyBytes    = 8 << 20
)

// Meta holds page metadata.
type Meta struct {
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
}

// Result is one scraped page.
type Result struct {
	URL     string `json:"url"`
	Content string `json:"content"`
	Meta    *Meta  `json:"meta,omitempty"`
}

// Scraper retrieves pages either through an external scraping endpoint or
// by fetching them directly.
type Scraper struct {
	endpoint string
	client   *http.Client
	cache    *cache.Cache
}

// New creates a Scraper. With an empty endpoint pages are fetched directly.
func New(endpoint string, c *cache.Cache) *Scraper {
	return &Scraper{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		cache:    c,
	}
}

// Scrape returns the content of target. The endpoint may return several
// results for one query.
func (s *Scraper) Scrape(ctx context.Context, target string, includeMeta bool) ([]Result, error) {
	if target == "" {
		return nil, fmt.Errorf("url is required")
	}

	key := cache.Key("scrape", target, strconv.FormatBool(includeMeta))
	var cached []Result
	if hit, err := s.cache.Get(ctx, key, &cached); err != nil {
		slog.Warn("scrape cache", "url", target, "error", err)
	} else if hit {
		return cached, nil
	}

	var (
		results []Result
		err     error
	)
	if s.endpoint != "" {
		results, err = s.viaEndpoint(ctx, target, includeMeta)
	} else {
		var r *Result
		r, err = s.fetch(ctx, target, includeMeta)
		if r != nil {
			results = []Result{*r}
		}
	}
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, key, results); err != nil {
		slog.Warn("scrape cache", "url", target, "error", err)
	}
	return results, nil
}

func (s *Scraper) viaEndpoint(ctx context.Context, target string, includeMeta bool) ([]Result, error) {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("query", target)
	q.Set("meta", strconv.FormatBool(includeMeta))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrape request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var results []Result
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&results); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return results, nil
}

func (s *Scraper) fetch(ctx context.Context, target string, includeMeta bool) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Multichat/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	md, err := htmltomarkdown.ConvertString(string(body))
	if err != nil {
		return nil, fmt.Errorf("convert to markdown: %w", err)
	}
	if len(md) > maxContentChars {
		md = md[:maxContentChars] + "\n\n[Content truncated]"
	}

	r := &Result{URL: target, Content: strings.TrimSpace(md)}
	if includeMeta {
		r.Meta = ExtractMeta(string(body), resp.Request.URL)
	}
	return r, nil
}

// Format renders results as one message body.
func Format(results []Result, includeMeta bool) string {
	blocks := make([]string, 0, len(results))
	for _, r := range results {
		var b strings.Builder
		fmt.Fprintf(&b, "Source: %s\n\n**Main Content:**\n\n%s", r.URL, r.Content)
		if includeMeta && r.Meta != nil {
			b.WriteString("\n\nMetadata:\n")
			if r.Meta.Description != "" {
				fmt.Fprintf(&b, "- Description: %s\n", r.Meta.Description)
			}
			if r.Meta.Image != "" {
				fmt.Fprintf(&b, "- Image: %s\n", r.Meta.Image)
			}
		}
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n---\n\n")
}
