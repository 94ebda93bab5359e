// Package anthropic implements llm.Adapter for messages-style APIs.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/user/multichat/pkg/llm"
)

const defaultVersion = "2023-06-01"

// Client calls the messages endpoint.
type Client struct {
	config     *llm.Config
	httpClient *http.Client
}

// New creates a messages client. config.APIVersion sets the
// anthropic-version header.
func New(config *llm.Config) *Client {
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type messagesRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float32  `json:"temperature,omitempty"`
}

type message struct {
	Role    string  `json:"role"`
	Content []block `json:"content"`
}

type block struct {
	Type   string  `json:"type"`
	Text   string  `json:"text,omitempty"`
	Source *source `json:"source,omitempty"`
}

type source struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type messagesResponse struct {
	Content []block `json:"content"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Call sends one messages request and concatenates the text blocks.
func (c *Client) Call(ctx context.Context, req *llm.Request) (string, error) {
	var messages []message
	for _, m := range llm.MergeConsecutive(req.History) {
		messages = append(messages, message{Role: m.Role, Content: []block{{Type: "text", Text: m.Content}}})
	}

	prompt, images := llm.SplitAttachments(req.Prompt, req.Attachments, true)
	content := make([]block, 0, len(images)+1)
	for _, img := range images {
		content = append(content, block{
			Type:   "image",
			Source: &source{Type: "base64", MediaType: img.MimeType, Data: img.Base64()},
		})
	}
	content = append(content, block{Type: "text", Text: prompt})

	// The API requires alternating roles starting with user.
	if n := len(messages); n > 0 && messages[n-1].Role == "user" {
		messages[n-1].Content = append(messages[n-1].Content, content...)
	} else {
		messages = append(messages, message{Role: "user", Content: content})
	}
	if messages[0].Role != "user" {
		messages = append([]message{{Role: "user", Content: []block{{Type: "text", Text: "(conversation start)"}}}}, messages...)
	}

	maxTokens := c.config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	reqBody := messagesRequest{
		Model:     req.Model,
		System:    req.SystemInstruction,
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if c.config.Temperature != 0 {
		temp := c.config.Temperature
		reqBody.Temperature = &temp
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + "/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	version := c.config.APIVersion
	if version == "" {
		version = defaultVersion
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.config.APIKey)
	httpReq.Header.Set("anthropic-version", version)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		json.Unmarshal(respBody, &apiErr)
		if resp.StatusCode == http.StatusRequestEntityTooLarge ||
			apiErr.Error.Type == "request_too_large" ||
			strings.Contains(apiErr.Error.Message, "prompt is too long") {
			return "", fmt.Errorf("%w (status %d)", llm.ErrContextExceeded, resp.StatusCode)
		}
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var msgResp messagesResponse
	if err := json.Unmarshal(respBody, &msgResp); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}

	var out strings.Builder
	for _, b := range msgResp.Content {
		if b.Type == "text" {
			out.WriteString(b.Text)
		}
	}
	return out.String(), nil
}
