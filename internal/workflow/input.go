package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/user/multichat/internal/blob"
	"github.com/user/multichat/internal/fanout"
	"github.com/user/multichat/internal/orchestrator"
	"github.com/user/multichat/internal/search"
	"github.com/user/multichat/internal/session"
	"github.com/user/multichat/internal/types"
)

// Input is one user submission to a session.
type Input struct {
	Text        string             `json:"text"`
	Attachments []types.Attachment `json:"attachments,omitempty"`
}

// Submit routes user input. Files complete a waiting upload step, text
// answers a step waiting for a query or URL, and a paused prompt step is
// confirmed with the given text. Anything else is an ordinary turn tagged
// with the current step. The assistant message is returned when a turn ran.
func (e *Engine) Submit(ctx context.Context, live *session.Live, in Input) (*types.Message, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" && len(in.Attachments) == 0 {
		return nil, fanout.ErrEmptyTurn
	}

	wf, idx, err := e.current(ctx, live)
	if errors.Is(err, ErrNotRunning) {
		return e.turn(ctx, live, in, nil)
	}
	if err != nil {
		return nil, err
	}
	if idx >= len(wf.Steps) {
		return e.turn(ctx, live, in, nil)
	}

	step := wf.Steps[idx]
	st := Pending(wf, live.Run(), &idx, live.Messages())

	switch {
	case step.Type == types.StepFileUpload && len(in.Attachments) > 0:
		e.guide(ctx, live, "")
		e.appendMessage(ctx, live, &types.Message{
			ID:          types.NewMessageID(),
			Role:        types.RoleUser,
			Content:     in.Text,
			Attachments: e.storeUploads(ctx, live, in.Attachments),
			UserName:    live.User(),
			UserID:      live.User(),
		})
		return nil, e.Advance(ctx, live, wf, idx+1, "")

	case (st.Awaiting == AwaitQuery || st.Awaiting == AwaitURL) && text != "":
		return nil, e.Advance(ctx, live, wf, idx, text)

	case st.Awaiting == AwaitConfirm:
		prompt := in.Text
		if text == "" {
			prompt = promptText(wf, idx)
		}
		e.guide(ctx, live, "")
		reply, tr, err := e.runPrompt(ctx, live, prompt, in.Attachments, idx)
		if err != nil {
			return nil, err
		}
		if tr.Guided != "" {
			e.guide(ctx, live, tr.Guided)
		}
		if tr.Halt {
			return reply, nil
		}
		return reply, e.Advance(ctx, live, wf, idx+1, "")
	}

	return e.turn(ctx, live, in, &idx)
}

func (e *Engine) turn(ctx context.Context, live *session.Live, in Input, idx *int) (*types.Message, error) {
	e.guide(ctx, live, "")
	return e.Turns.Run(ctx, live, fanout.Turn{
		Text:              in.Text,
		Attachments:       in.Attachments,
		Models:            live.Models(),
		Tools:             live.Tools(),
		SystemInstruction: e.SystemInstruction(ctx, live),
		StepIndex:         idx,
		UserName:          live.User(),
		UserID:            live.User(),
	})
}

// storeUploads copies attachment bytes to the blob store and records
// their keys. Upload failures are logged and leave the attachment inline.
func (e *Engine) storeUploads(ctx context.Context, live *session.Live, atts []types.Attachment) []types.Attachment {
	out := make([]types.Attachment, len(atts))
	copy(out, atts)
	if e.Blobs == nil {
		return out
	}
	for i := range out {
		a := &out[i]
		if a.Base64 == "" {
			continue
		}
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		mime, data, err := orchestrator.DecodeDataURL(a.Base64)
		if err != nil {
			slog.Warn("upload not stored", "session_id", string(live.ID()), "name", a.Name, "error", err)
			continue
		}
		if mime == "" {
			mime = a.Type
		}
		key := blob.Key(live.ID(), a.ID, a.Name)
		if err := e.Blobs.Put(ctx, key, mime, data); err != nil {
			slog.Warn("upload not stored", "session_id", string(live.ID()), "name", a.Name, "error", err)
			continue
		}
		a.BlobKey = key
	}
	return out
}

// LoadMore appends the next page of a literal search result. It returns
// nil when every record has been shown and ErrNoSearch for index sources.
func (e *Engine) LoadMore(ctx context.Context, live *session.Live, id types.MessageID) (*types.Message, error) {
	m, ok := live.Message(id)
	if !ok {
		return nil, fmt.Errorf("load more %s: %w", id, session.ErrMessageNotFound)
	}
	if m.SearchMetadata == nil {
		return nil, ErrNoSearch
	}
	src, err := e.Resources.Source(ctx, m.SearchMetadata.DatabaseID, live.Partition())
	if err != nil {
		return nil, fmt.Errorf("load source: %w", err)
	}
	if !src.Literal() {
		return nil, ErrNoSearch
	}

	content, next, ok := search.RenderMore(src, *m.SearchMetadata)
	if !ok {
		return nil, nil
	}
	more := systemMessage(live, content, nil)
	more.SearchMetadata = next
	e.appendMessage(ctx, live, more)
	return more.Clone(), nil
}
