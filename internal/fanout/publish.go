package fanout

import (
	"context"
	"log/slog"

	"github.com/user/multichat/internal/types"
)

// Publisher receives session updates as they happen.
type Publisher interface {
	Publish(ctx context.Context, u *types.Update)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, u *types.Update)

func (f PublisherFunc) Publish(ctx context.Context, u *types.Update) { f(ctx, u) }

// Publishers sends every update to each publisher in order.
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, u *types.Update) {
	for _, p := range ps {
		if p != nil {
			p.Publish(ctx, u)
		}
	}
}

// EventRecorder is the subset of state.EventStore used by EventLog.
type EventRecorder interface {
	Record(ctx context.Context, sessionID types.SessionID, typ, source string, payload any) error
}

// EventLog appends terminal updates to the session's event log. Loading
// transitions are not recorded.
type EventLog struct {
	Recorder EventRecorder
	Source   string
}

func (l EventLog) Publish(ctx context.Context, u *types.Update) {
	if u.Response != nil && !u.Response.Terminal() {
		return
	}
	src := l.Source
	if src == "" {
		src = "fanout"
	}
	if err := l.Recorder.Record(ctx, u.SessionID, u.Type, src, u); err != nil {
		slog.Error("record update", "session_id", string(u.SessionID), "type", u.Type, "error", err)
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, *types.Update) {}
