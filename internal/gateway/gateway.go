package gateway

import (
	"context"
	"fmt"

	"github.com/user/multichat/internal/types"
)

// Gateway is the single entry point for work against a session. Every
// mutation (turns, regenerations, workflow advances) becomes a Run on the
// session's lane, so step N+1 of a workflow never starts before step N
// has applied its updates.
type Gateway struct {
	Queue *Queue

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Gateway with the given concurrency limit for simultaneous
// run processing across sessions.
func New(maxConcurrent ...int64) *Gateway {
	var concurrency int64 = 2
	if len(maxConcurrent) > 0 && maxConcurrent[0] > 0 {
		concurrency = maxConcurrent[0]
	}
	return &Gateway{
		Queue: NewQueue(concurrency),
	}
}

// Start initialises the gateway's context and starts the internal queue.
func (g *Gateway) Start(ctx context.Context) {
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.Queue.Start(g.ctx)
}

// Stop cancels the gateway context and stops the queue.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.Queue.Stop()
}

// RunOption configures optional behavior on a Run.
type RunOption func(*Run)

// WithOnComplete sets a callback invoked when the run finishes.
func WithOnComplete(fn func(error)) RunOption {
	return func(r *Run) { r.OnComplete = fn }
}

// Submit wraps do in a Run and enqueues it on the session's lane.
func (g *Gateway) Submit(sessionID types.SessionID, kind string, do func(ctx context.Context) error, opts ...RunOption) (*Run, error) {
	run := NewRun(sessionID, kind, do)
	for _, opt := range opts {
		opt(run)
	}
	if err := g.Queue.Enqueue(run); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", kind, err)
	}
	return run, nil
}
