// Package scheduler periodically refreshes shared sessions from storage.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/user/multichat/internal/session"
)

// DefaultInterval is how often shared sessions are re-read.
const DefaultInterval = 5 * time.Second

// Sessions is the subset of session.Manager the poller needs.
type Sessions interface {
	All() []*session.Live
	Refresh(ctx context.Context, l *session.Live) (bool, error)
}

// Poller re-reads open shared sessions so collaborators see each other's
// changes. A session is skipped while it has a generation in flight or
// unsaved local changes. Concurrent writers still race; the last save wins.
type Poller struct {
	sessions  Sessions
	interval  time.Duration
	onRefresh func(*session.Live)
	cron      *cron.Cron
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a Poller. onRefresh, if set, is called for every session
// whose in-memory copy was replaced.
func New(sessions Sessions, interval time.Duration, onRefresh func(*session.Live)) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		sessions:  sessions,
		interval:  interval,
		onRefresh: onRefresh,
		cron:      cron.New(),
	}
}

// Start registers the poll job and starts the cron ticker.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)
	spec := fmt.Sprintf("@every %s", p.interval)
	if _, err := p.cron.AddFunc(spec, func() { p.Poll(p.ctx) }); err != nil {
		return fmt.Errorf("schedule poll %q: %w", spec, err)
	}
	p.cron.Start()
	slog.Info("session poller started", "interval", p.interval)
	return nil
}

// Poll refreshes every idle shared session once.
func (p *Poller) Poll(ctx context.Context) {
	for _, l := range p.sessions.All() {
		if !l.Shared() {
			continue
		}
		replaced, err := p.sessions.Refresh(ctx, l)
		if err != nil {
			slog.Error("poll session", "session_id", string(l.ID()), "error", err)
			continue
		}
		if replaced && p.onRefresh != nil {
			p.onRefresh(l)
		}
	}
}

// Stop stops the ticker and waits for a running poll to finish.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.cron.Stop().Done()
}
