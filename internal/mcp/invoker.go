// Package mcp calls tools hosted on JSON-RPC tool servers.
package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

const (
	// DefaultTimeout bounds a single tool call.
	DefaultTimeout = 15 * time.Second

	maxFrameBytes = 4 << 20
)

// RPCError is a JSON-RPC error object returned by a tool server.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return "Tool call error: " + e.Message
}

// Retryable reports false: the server answered and would answer again.
func (e *RPCError) Retryable() bool { return false }

// StatusError is a non-2xx HTTP reply from a tool server.
type StatusError struct {
	Method string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Method, e.Code, e.Body)
}

// Retryable reports true for 5xx and 429 replies.
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Invoker executes tools/call and tools/list requests over HTTP.
type Invoker struct {
	httpClient *http.Client
	timeout    time.Duration
	nextID     atomic.Int64
}

// NewInvoker creates an invoker. A zero timeout uses DefaultTimeout.
func NewInvoker(timeout time.Duration) *Invoker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Invoker{
		httpClient: &http.Client{},
		timeout:    timeout,
	}
}

// Invoke calls tool on the server at serverURL and returns the raw result.
func (i *Invoker) Invoke(ctx context.Context, serverURL, tool string, args json.RawMessage) (json.RawMessage, error) {
	if strings.TrimSpace(tool) == "" {
		return nil, errors.New("tool name is required")
	}
	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage(`{}`)
	}
	return i.call(ctx, serverURL, "tools/call", map[string]any{
		"name":      tool,
		"arguments": args,
	})
}

// ListTools calls tools/list and returns the raw result.
func (i *Invoker) ListTools(ctx context.Context, serverURL string) (json.RawMessage, error) {
	return i.call(ctx, serverURL, "tools/list", map[string]any{})
}

func (i *Invoker) call(ctx context.Context, serverURL, method string, params any) (json.RawMessage, error) {
	// an earlier caller deadline still wins
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      i.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", method, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Method: method, Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	rpc, err := decodeResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	if rpc.Error != nil {
		return nil, rpc.Error
	}
	return rpc.Result, nil
}

// decodeResponse accepts a plain JSON-RPC body or an event stream whose
// data lines carry JSON-RPC messages. The first data line holding a result
// or error wins; otherwise the whole body is decoded as JSON.
func decodeResponse(raw []byte) (*rpcResponse, error) {
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 64*1024), maxFrameBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		var msg rpcResponse
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			continue
		}
		if msg.Result != nil || msg.Error != nil {
			return &msg, nil
		}
	}

	var msg rpcResponse
	if err := json.Unmarshal(bytes.TrimSpace(raw), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
