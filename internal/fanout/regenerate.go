package fanout

import (
	"context"
	"fmt"
	"log/slog"

	ctxengine "github.com/user/multichat/internal/context"
	"github.com/user/multichat/internal/session"
	"github.com/user/multichat/internal/types"
)

// Kind selects how a response is regenerated.
type Kind string

const (
	KindRetry   Kind = "retry"
	KindExpand  Kind = "expand"
	KindConcise Kind = "concise"
)

func (k Kind) suffixAndLabel() (string, string, error) {
	switch k {
	case KindRetry, "":
		return "", "Retry", nil
	case KindExpand:
		return "\n\n(Please provide a detailed and expanded response)", "Expanded", nil
	case KindConcise:
		return "\n\n(Please keep the response concise)", "Concise", nil
	}
	return "", "", fmt.Errorf("unknown regenerate kind %q", k)
}

// Regen configures a regeneration.
type Regen struct {
	Kind              Kind
	Tools             []types.ToolDescriptor
	SystemInstruction string
}

// Regenerate produces a new version of model's response on message id from
// the user message right before it. A text identical to an existing
// version selects that version instead of adding a duplicate.
func (c *Coordinator) Regenerate(ctx context.Context, live *session.Live, id types.MessageID, model string, opts Regen) (*types.ModelResponse, error) {
	suffix, label, err := opts.Kind.suffixAndLabel()
	if err != nil {
		return nil, err
	}

	msgs := live.Messages()
	idx := -1
	for i, m := range msgs {
		if m.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("regenerate %s: %w", id, session.ErrMessageNotFound)
	}
	if idx == 0 || msgs[idx-1].Role != types.RoleUser {
		return nil, fmt.Errorf("regenerate %s: %w", id, ErrNoPrompt)
	}
	user := msgs[idx-1]

	var loading *types.ModelResponse
	err = live.UpdateResponse(id, model, func(r *types.ModelResponse) bool {
		r.Status = types.StatusLoading
		loading = r.Clone()
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("regenerate: %w", err)
	}
	c.publishResponse(ctx, live, id, loading)

	sys := opts.SystemInstruction
	if sys == "" {
		sys = ctxengine.SystemInstruction("", c.now())
	}

	live.Begin()
	defer live.End()

	text, genErr := c.generate(ctx, &types.GenerationRequest{
		Model:             model,
		Prompt:            user.Content + suffix,
		Attachments:       contextOnly(user.Attachments),
		Tools:             opts.Tools,
		SystemInstruction: sys,
		History:           msgs[:idx-1],
	})

	var result *types.ModelResponse
	err = live.UpdateResponse(id, model, func(r *types.ModelResponse) bool {
		if genErr != nil {
			r.Status = types.StatusError
			r.Error = genErr.Error()
		} else {
			r.AddVersion(types.ResponseVersion{Text: text, Timestamp: c.now().UnixMilli(), Label: label})
			r.Status = types.StatusSuccess
			r.Error = ""
		}
		result = r.Clone()
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("regenerate: %w", err)
	}
	if genErr != nil {
		slog.Warn("regenerate failed", "session_id", string(live.ID()), "model", model, "error", genErr)
	}
	c.publishResponse(ctx, live, id, result)
	return result, nil
}

// SelectVersion moves model's current version by delta, clamped to the
// available versions.
func (c *Coordinator) SelectVersion(ctx context.Context, live *session.Live, id types.MessageID, model string, delta int) (*types.ModelResponse, error) {
	var result *types.ModelResponse
	err := live.UpdateResponse(id, model, func(r *types.ModelResponse) bool {
		if !r.Select(r.CurrentVersionIndex + delta) {
			result = r.Clone()
			return false
		}
		result = r.Clone()
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("select version: %w", err)
	}
	c.publishResponse(ctx, live, id, result)
	return result, nil
}

func contextOnly(atts []types.Attachment) []types.Attachment {
	out := make([]types.Attachment, 0, len(atts))
	for _, a := range atts {
		if !a.ExcludeFromContext {
			out = append(out, a)
		}
	}
	return out
}
