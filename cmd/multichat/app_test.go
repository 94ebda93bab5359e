package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/user/multichat/internal/config"
	"github.com/user/multichat/internal/types"
	"github.com/user/multichat/internal/workflow"
)

// fakeAzure answers chat completions. The first call for a prompt asks for
// the search_docs tool; once tool output is in the prompt it answers.
func fakeAzure(t *testing.T, deployments *sync.Map) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-key") != "az-key" {
			http.Error(w, `{"error":{"message":"unauthorized"}}`, http.StatusUnauthorized)
			return
		}
		deployments.Store(r.URL.Path, true)
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content any    `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		last, _ := req.Messages[len(req.Messages)-1].Content.(string)

		answer := "Here is the plan.\n```json\n[{\"tool\": \"search_docs\", \"arguments\": {\"q\": \"widgets\"}}]\n```"
		if strings.Contains(last, "[CONTEXT - PREVIOUS TOOL OUTPUTS]") {
			answer = "Widgets are documented in chapter 3."
		} else if !strings.Contains(last, "search_docs") {
			answer = "plain answer"
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": answer}}},
		})
	}))
}

func fakeMCP(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     int64  `json:"id"`
			Method string `json:"method"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		var result any
		switch req.Method {
		case "tools/list":
			result = map[string]any{"tools": []map[string]any{{
				"name":        "search_docs",
				"description": "Search the product documentation",
				"inputSchema": map[string]any{"type": "object", "properties": map[string]any{"q": map[string]string{"type": "string"}}},
			}}}
		case "tools/call":
			calls.Add(1)
			result = map[string]any{"content": []map[string]string{{"type": "text", "text": "chapter 3: widgets"}}}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
}

func testConfig(t *testing.T, azureURL, anthropicURL, mcpURL string) *config.Config {
	t.Helper()
	for _, k := range []string{"AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_API_VERSION",
		"ANTHROPIC_API_KEY", "GEMINI_API_KEY", "REDIS_ADDR", "MINIO_ENDPOINT", "SERP_API_KEY", "SCRAPER_ENDPOINT"} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	cfg, err := config.Load(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatal(err)
	}
	cfg.DataDir = dir
	cfg.Backends.Azure.BaseURL = azureURL
	cfg.Backends.Azure.APIKey = "az-key"
	cfg.Backends.Anthropic.BaseURL = anthropicURL
	cfg.Backends.Anthropic.APIKey = "ant-key"
	if mcpURL != "" {
		cfg.MCP.Servers = []config.MCPServer{{Name: "docs", URL: mcpURL}}
	}
	return cfg
}

func TestAppTurnIsolatesFailingModel(t *testing.T) {
	var deployments sync.Map
	azure := fakeAzure(t, &deployments)
	defer azure.Close()
	anthropic := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer anthropic.Close()

	ctx := context.Background()
	a, err := newApp(ctx, testConfig(t, azure.URL, anthropic.URL, ""), false)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	l, err := a.sessions.Create(ctx, "alice", "")
	if err != nil {
		t.Fatal(err)
	}
	l.SetModels([]string{"azure-gpt-4o", "claude-3-5-sonnet"})

	reply, err := a.engine.Submit(ctx, l, workflow.Input{Text: "hello there"})
	if err != nil {
		t.Fatal(err)
	}

	ok := reply.Responses["azure-gpt-4o"]
	if ok == nil || ok.Status != types.StatusSuccess || ok.Text != "plain answer" {
		t.Errorf("expected azure success, got %+v", ok)
	}
	bad := reply.Responses["claude-3-5-sonnet"]
	if bad == nil || bad.Status != types.StatusError || bad.Error == "" {
		t.Errorf("expected claude error, got %+v", bad)
	}
	if _, hit := deployments.Load("/openai/deployments/gpt-4o/chat/completions"); !hit {
		t.Error("expected the azure- prefix to be stripped into the deployment name")
	}
}

func TestAppToolLoop(t *testing.T) {
	var deployments sync.Map
	azure := fakeAzure(t, &deployments)
	defer azure.Close()
	var calls atomic.Int32
	mcp := fakeMCP(t, &calls)
	defer mcp.Close()

	ctx := context.Background()
	a, err := newApp(ctx, testConfig(t, azure.URL, "", mcp.URL), false)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	tools := a.catalog.All()
	if len(tools) != 1 || tools[0].ID != "docs/search_docs" {
		t.Fatalf("expected discovered tool, got %+v", tools)
	}

	l, err := a.sessions.Create(ctx, "alice", "")
	if err != nil {
		t.Fatal(err)
	}
	l.SetModels([]string{"azure-gpt-4o"})
	l.SetTools(tools)

	reply, err := a.engine.Submit(ctx, l, workflow.Input{Text: "search the documentation for widgets"})
	if err != nil {
		t.Fatal(err)
	}
	r := reply.Responses["azure-gpt-4o"]
	if r == nil || r.Status != types.StatusSuccess {
		t.Fatalf("expected success, got %+v", r)
	}
	if !strings.Contains(r.Text, "```mcp:search_docs") || !strings.Contains(r.Text, "chapter 3") {
		t.Errorf("expected tool output block, got %q", r.Text)
	}
	if !strings.HasSuffix(r.Text, "Widgets are documented in chapter 3.") {
		t.Errorf("expected final answer last, got %q", r.Text)
	}
	if calls.Load() != 1 {
		t.Errorf("expected one tools/call, got %d", calls.Load())
	}
}
