package mcp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/multichat/internal/gateway"
	"github.com/user/multichat/internal/types"
)

func toolServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req rpcRequest
		json.Unmarshal(body, &req)
		switch req.Method {
		case "tools/list":
			w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"tools":[
				{"name":"search_docs","description":"Search documents","inputSchema":{"type":"object","properties":{"query":{"type":"string"}}}},
				{"name":" ","description":"ignored"}
			]}}`))
		case "tools/call":
			w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"echo":true}}`))
		}
	}))
}

func fastRetry() *gateway.RetryPolicy {
	return &gateway.RetryPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}
}

func TestCatalogRefreshAndLookup(t *testing.T) {
	server := toolServer(t)
	defer server.Close()

	cat := NewCatalog(NewInvoker(0), []Server{{Name: "docs", URL: server.URL}})
	cat.SetRetryPolicy(fastRetry())
	if err := cat.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	all := cat.All()
	if len(all) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(all))
	}
	if all[0].ID != "docs/search_docs" || all[0].Server != "docs" {
		t.Errorf("unexpected descriptor %+v", all[0])
	}

	found, missing := cat.Lookup([]string{"docs/search_docs", "docs/nope"})
	if len(found) != 1 || len(missing) != 1 || missing[0] != "docs/nope" {
		t.Errorf("unexpected lookup: found=%v missing=%v", found, missing)
	}

	out, err := cat.Execute(context.Background(), found[0], json.RawMessage(`{"query":"x"}`))
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `{"echo":true}` {
		t.Errorf("unexpected output %s", out)
	}
}

func TestCatalogRefreshSkipsFailingServer(t *testing.T) {
	good := toolServer(t)
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer bad.Close()

	cat := NewCatalog(NewInvoker(0), []Server{
		{Name: "bad", URL: bad.URL},
		{Name: "docs", URL: good.URL},
	})
	cat.SetRetryPolicy(fastRetry())

	err := cat.Refresh(context.Background())
	if err == nil || !strings.Contains(err.Error(), "bad") {
		t.Errorf("expected error naming failing server, got %v", err)
	}
	if len(cat.All()) != 1 {
		t.Errorf("expected tools from healthy server, got %d", len(cat.All()))
	}
}

func TestCatalogExecuteUnknownServer(t *testing.T) {
	cat := NewCatalog(NewInvoker(0), nil)
	_, err := cat.Execute(context.Background(), types.ToolDescriptor{Name: "x", Server: "ghost"}, nil)
	if err == nil || !strings.Contains(err.Error(), "Server configuration not found for: ghost") {
		t.Errorf("unexpected error %v", err)
	}
}

func TestCatalogRefreshRetryClassification(t *testing.T) {
	tests := []struct {
		name  string
		reply func(w http.ResponseWriter)
		calls int32
	}{
		{"unavailable is retried", func(w http.ResponseWriter) {
			http.Error(w, "down", http.StatusServiceUnavailable)
		}, 2},
		{"bad request is not", func(w http.ResponseWriter) {
			http.Error(w, "nope", http.StatusBadRequest)
		}, 1},
		{"rpc error is not", func(w http.ResponseWriter) {
			w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}`))
		}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				tt.reply(w)
			}))
			defer server.Close()

			cat := NewCatalog(NewInvoker(0), []Server{{Name: "s", URL: server.URL}})
			cat.SetRetryPolicy(fastRetry())
			if err := cat.Refresh(context.Background()); err == nil {
				t.Fatal("expected discovery error")
			}
			if got := calls.Load(); got != tt.calls {
				t.Errorf("expected %d requests, got %d", tt.calls, got)
			}
		})
	}
}
