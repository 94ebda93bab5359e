package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/user/multichat/pkg/llm"
)

// EmbeddingClient calls the embeddings endpoint. As an adapter it renders the
// vector as a fenced block so it can be shown next to chat responses.
type EmbeddingClient struct {
	Client
}

// NewEmbeddings creates an embeddings client.
func NewEmbeddings(config *llm.Config) *EmbeddingClient {
	return &EmbeddingClient{Client{config: config, httpClient: &http.Client{Timeout: 60 * time.Second}}}
}

type embeddingRequest struct {
	Input string `json:"input"`
	Model string `json:"model,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding vector for text.
func (c *EmbeddingClient) Embed(ctx context.Context, model, text string) ([]float32, error) {
	reqBody := embeddingRequest{Input: text}
	if !c.azure() {
		reqBody.Model = model
	}

	var resp embeddingResponse
	if err := c.post(ctx, c.endpoint(model, "embeddings"), reqBody, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding in response")
	}
	return resp.Data[0].Embedding, nil
}

// Call embeds the prompt and returns the vector as a fenced embed block.
func (c *EmbeddingClient) Call(ctx context.Context, req *llm.Request) (string, error) {
	vec, err := c.Embed(ctx, req.Model, req.Prompt)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(vec)
	if err != nil {
		return "", fmt.Errorf("marshaling embedding: %w", err)
	}
	return fmt.Sprintf("```embed:%s\n%s\n```", req.Model, data), nil
}
