package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/user/multichat/internal/types"
)

// RunStatus represents the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one unit of work (a turn, a regeneration, a workflow advance)
// executed on its session's lane.
type Run struct {
	ID         types.RunID
	SessionID  types.SessionID
	Kind       string
	Do         func(ctx context.Context) error
	Status     RunStatus
	CreatedAt  time.Time
	StartedAt  *time.Time
	EndedAt    *time.Time
	Error      error
	OnComplete func(err error)

	mu   sync.Mutex
	done chan struct{}
}

// NewRun creates a Run in the Queued state for the given session.
func NewRun(sessionID types.SessionID, kind string, do func(ctx context.Context) error) *Run {
	return &Run{
		ID:        types.NewRunID(),
		SessionID: sessionID,
		Kind:      kind,
		Do:        do,
		Status:    RunStatusQueued,
		CreatedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

func (r *Run) start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	r.StartedAt = &now
	r.Status = RunStatusRunning
}

func (r *Run) finish(err error) {
	r.mu.Lock()
	now := time.Now()
	r.EndedAt = &now
	r.Error = err
	if err != nil {
		r.Status = RunStatusFailed
	} else {
		r.Status = RunStatusComplete
	}
	r.mu.Unlock()

	if r.OnComplete != nil {
		r.OnComplete(err)
	}
	if r.done != nil {
		close(r.done)
	}
}

// State returns the current status and error.
func (r *Run) State() (RunStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Status, r.Error
}

// Wait blocks until the run finishes or ctx is done.
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		_, err := r.State()
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
