// internal/context/engine.go
package context

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/multichat/pkg/llm"
)

// Engine estimates request sizes before they are sent so oversized
// conversations fail fast with llm.ErrContextExceeded instead of a
// round trip to the backend.
type Engine struct {
	count   func(string) int
	limits  map[string]int
	def     int
	reserve int
	mu      sync.RWMutex
}

// New creates a context engine with the cl100k_base tokenizer.
// defaultMax is the context window for models without an explicit limit;
// reserve is the number of tokens kept free for the model's response.
func New(defaultMax, reserve int, limits map[string]int) (*Engine, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("get tokenizer: %w", err)
	}
	return NewWithCounter(func(s string) int {
		return len(enc.Encode(s, nil, nil))
	}, defaultMax, reserve, limits), nil
}

// NewWithCounter creates an engine with a custom token counter.
func NewWithCounter(count func(string) int, defaultMax, reserve int, limits map[string]int) *Engine {
	l := make(map[string]int, len(limits))
	for k, v := range limits {
		l[k] = v
	}
	return &Engine{count: count, limits: l, def: defaultMax, reserve: reserve}
}

// SetLimit sets the context window for models whose id starts with prefix.
func (e *Engine) SetLimit(prefix string, tokens int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.limits[prefix] = tokens
}

// Limit returns the context window for model, matching the longest prefix.
func (e *Engine) Limit(model string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	best, limit := -1, e.def
	for prefix, tokens := range e.limits {
		if strings.HasPrefix(model, prefix) && len(prefix) > best {
			best, limit = len(prefix), tokens
		}
	}
	return limit
}

// Tokens estimates the input tokens of a request. Images are not counted.
func (e *Engine) Tokens(req *llm.Request) int {
	total := e.count(req.SystemInstruction) + e.count(req.Prompt)
	for _, m := range req.History {
		total += e.count(m.Content) + 4
	}
	for _, a := range req.Attachments {
		if !a.IsImage() {
			total += e.count(a.Inline())
		}
	}
	return total
}

// Check returns a wrapped llm.ErrContextExceeded when the request would not
// fit the model's window after reserving room for the response.
func (e *Engine) Check(req *llm.Request) error {
	limit := e.Limit(req.Model)
	if limit <= 0 {
		return nil
	}
	budget := limit - e.reserve
	if tokens := e.Tokens(req); tokens > budget {
		return fmt.Errorf("%w: %d tokens exceeds budget of %d for %s", llm.ErrContextExceeded, tokens, budget, req.Model)
	}
	return nil
}
