package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/user/multichat/internal/cache"
)

// DefaultWebEndpoint is the SerpApi search URL.
const DefaultWebEndpoint = "https://serpapi.com/search"

// ErrNoWebKey is returned when no web search key is configured.
var ErrNoWebKey = errors.New("SERP_API_KEY is not configured")

// Web searches the public web through a SerpApi compatible endpoint.
type Web struct {
	apiKey  string
	baseURL string
	client  *http.Client
	cache   *cache.Cache
}

// NewWeb creates a web search client. An empty baseURL selects
// DefaultWebEndpoint.
func NewWeb(apiKey, baseURL string, c *cache.Cache) *Web {
	if baseURL == "" {
		baseURL = DefaultWebEndpoint
	}
	return &Web{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		cache:   c,
	}
}

type serpResponse struct {
	Error          string       `json:"error"`
	OrganicResults []serpResult `json:"organic_results"`
}

type serpResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// Search returns the organic results for query as markdown.
func (w *Web) Search(ctx context.Context, query string) (string, error) {
	if w == nil || w.apiKey == "" {
		return "", ErrNoWebKey
	}

	key := cache.Key("serp", query)
	var cached string
	if hit, err := w.cache.Get(ctx, key, &cached); err == nil && hit {
		return cached, nil
	}

	u, err := url.Parse(w.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("engine", "google")
	q.Set("q", query)
	q.Set("google_domain", "google.com")
	q.Set("hl", "en")
	q.Set("gl", "us")
	q.Set("api_key", w.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP error! status: %d", resp.StatusCode)
	}

	var result serpResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if result.Error != "" {
		return "", errors.New(result.Error)
	}

	out := formatWeb(result.OrganicResults)
	_ = w.cache.Set(ctx, key, out)
	return out, nil
}

// formatWeb renders results as linked headings separated by rules.
func formatWeb(results []serpResult) string {
	if len(results) == 0 {
		return "No results found."
	}
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("### [%s](%s)\n%s\n", r.Title, r.Link, r.Snippet)
	}
	return strings.Join(parts, "\n---\n\n")
}
