package llm

import (
	"context"
	"errors"
)

// ErrContextExceeded is returned (wrapped) by adapters when the backend rejects
// a request because the prompt, history or attachments are too large.
var ErrContextExceeded = errors.New("context size exceeded")

// Adapter defines the interface for interacting with one backend family.
// Implementations handle protocol-specific details such as request formatting,
// authentication, and response parsing.
type Adapter interface {
	// Call sends a single generation request and returns the response text.
	Call(ctx context.Context, req *Request) (string, error)
}

// AdapterFunc lets ordinary functions act as adapters.
type AdapterFunc func(ctx context.Context, req *Request) (string, error)

func (f AdapterFunc) Call(ctx context.Context, req *Request) (string, error) {
	return f(ctx, req)
}

// Config holds common configuration for backend adapters.
type Config struct {
	BaseURL     string
	APIKey      string
	APIVersion  string
	MaxTokens   int
	Temperature float32
}
