package openai

import (
	"context"
	"net/http"
	"time"

	"github.com/user/multichat/pkg/llm"
)

// ImageClient calls the image generation endpoint and returns markdown.
type ImageClient struct {
	Client
	Size string
}

// NewImages creates an image generation client producing 1024x1024 images.
func NewImages(config *llm.Config) *ImageClient {
	return &ImageClient{
		Client: Client{config: config, httpClient: &http.Client{Timeout: 120 * time.Second}},
		Size:   "1024x1024",
	}
}

type imageRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

type imageResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

// Call generates one image for the prompt.
func (c *ImageClient) Call(ctx context.Context, req *llm.Request) (string, error) {
	reqBody := imageRequest{Prompt: req.Prompt, N: 1, Size: c.Size}
	if !c.azure() {
		reqBody.Model = req.Model
	}

	var resp imageResponse
	if err := c.post(ctx, c.endpoint(req.Model, "images/generations"), reqBody, &resp); err != nil {
		return "", err
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "No image generated.", nil
	}
	return "![Generated Image](" + resp.Data[0].URL + ")", nil
}
