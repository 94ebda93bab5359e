package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/user/multichat/pkg/llm"
)

// Client implements llm.Adapter for OpenAI-compatible chat completion APIs,
// including Azure OpenAI deployments.
type Client struct {
	config     *llm.Config
	httpClient *http.Client
}

// New creates a new chat completions client with the given configuration.
// When config.APIVersion is set the client speaks the Azure deployment
// dialect: the model id becomes the deployment name and auth uses api-key.
func New(config *llm.Config) *Client {
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// chatRequest is the chat completions request body.
type chatRequest struct {
	Model       string           `json:"model,omitempty"`
	Messages    []requestMessage `json:"messages"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature *float32         `json:"temperature,omitempty"`
}

// requestMessage carries either a plain string or a list of content parts.
type requestMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

// chatResponse is the chat completions response body.
type chatResponse struct {
	Choices []choice `json:"choices"`
}

type choice struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
}

// Call sends a chat completion request and returns the first choice's text.
func (c *Client) Call(ctx context.Context, req *llm.Request) (string, error) {
	messages := make([]requestMessage, 0, len(req.History)+2)
	if req.SystemInstruction != "" {
		messages = append(messages, requestMessage{Role: "system", Content: req.SystemInstruction})
	}
	for _, m := range llm.MergeConsecutive(req.History) {
		messages = append(messages, requestMessage{Role: m.Role, Content: m.Content})
	}

	prompt, images := llm.SplitAttachments(req.Prompt, req.Attachments, true)
	if len(images) == 0 {
		messages = append(messages, requestMessage{Role: "user", Content: prompt})
	} else {
		parts := []contentPart{{Type: "text", Text: prompt}}
		for _, img := range images {
			parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: img.DataURL()}})
		}
		messages = append(messages, requestMessage{Role: "user", Content: parts})
	}

	reqBody := chatRequest{Messages: messages}
	if !c.azure() {
		reqBody.Model = req.Model
	}
	if c.config.MaxTokens > 0 {
		reqBody.MaxTokens = c.config.MaxTokens
	}
	if c.config.Temperature != 0 {
		temp := c.config.Temperature
		reqBody.Temperature = &temp
	}

	var chatResp chatResponse
	if err := c.post(ctx, c.endpoint(req.Model, "chat/completions"), reqBody, &chatResp); err != nil {
		return "", err
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return chatResp.Choices[0].Message.Content, nil
}

func (c *Client) azure() bool {
	return c.config.APIVersion != ""
}

func (c *Client) endpoint(model, path string) string {
	base := strings.TrimRight(c.config.BaseURL, "/")
	if c.azure() {
		return fmt.Sprintf("%s/openai/deployments/%s/%s?api-version=%s",
			base, url.PathEscape(model), path, url.QueryEscape(c.config.APIVersion))
	}
	return base + "/" + path
}

func (c *Client) post(ctx context.Context, endpoint string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.azure() {
		req.Header.Set("api-key", c.config.APIKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusRequestEntityTooLarge || bytes.Contains(respBody, []byte("context_length_exceeded")) {
			return fmt.Errorf("%w (status %d)", llm.ErrContextExceeded, resp.StatusCode)
		}
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}
