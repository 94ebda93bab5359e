// Package fanout runs one user turn against several models at once.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	ctxengine "github.com/user/multichat/internal/context"
	"github.com/user/multichat/internal/session"
	"github.com/user/multichat/internal/types"
)

var (
	ErrNoModels  = errors.New("no models selected")
	ErrEmptyTurn = errors.New("nothing to send")
	ErrNoPrompt  = errors.New("no user prompt precedes message")
)

// NoContextText is the answer given when every input document was excluded.
const NoContextText = "*No context available.*"

// Generator produces the final text for one model.
type Generator interface {
	Generate(ctx context.Context, req *types.GenerationRequest) (string, error)
}

// Coordinator fans turns out to models and records their answers.
type Coordinator struct {
	gen  Generator
	pub  Publisher
	docs types.DocumentStore
	now  func() time.Time
}

// New creates a Coordinator. pub and docs may be nil.
func New(gen Generator, pub Publisher, docs types.DocumentStore) *Coordinator {
	if pub == nil {
		pub = nopPublisher{}
	}
	return &Coordinator{gen: gen, pub: pub, docs: docs, now: time.Now}
}

// Turn is one user submission.
type Turn struct {
	Text              string
	Attachments       []types.Attachment
	Models            []string
	Tools             []types.ToolDescriptor
	SystemInstruction string
	// StepIndex tags both messages with the workflow step they belong to.
	StepIndex *int
	UserName  string
	UserID    string
}

// Run appends the user message and one assistant message with a response
// per model, then generates all responses concurrently. One model failing
// never affects another. Run returns once every response is terminal.
func (c *Coordinator) Run(ctx context.Context, live *session.Live, turn Turn) (*types.Message, error) {
	models := unique(turn.Models)
	if len(models) == 0 {
		return nil, ErrNoModels
	}
	if turn.Text == "" && len(turn.Attachments) == 0 {
		return nil, ErrEmptyTurn
	}

	in, err := c.PrepareInput(ctx, live.ID(), turn.Text, turn.Attachments)
	if err != nil {
		return nil, err
	}

	history := live.Messages()
	sys := turn.SystemInstruction
	if sys == "" {
		sys = ctxengine.SystemInstruction("", c.now())
	}

	var run string
	if turn.StepIndex != nil {
		run = live.Run()
	}
	user := &types.Message{
		ID:                types.NewMessageID(),
		Role:              types.RoleUser,
		Content:           in.Text,
		Attachments:       in.Attachments,
		UserName:          turn.UserName,
		UserID:            turn.UserID,
		WorkflowStepIndex: copyIndex(turn.StepIndex),
		WorkflowRun:       run,
	}

	if in.Text == "" && len(in.Context) == 0 && in.Notice != "" {
		user.WorkflowStepIndex = nil
		user.WorkflowRun = ""
		text := in.Notice + NoContextText
		reply := c.assistant(models, nil, "", func(model string) *types.ModelResponse {
			return c.success(model, text)
		})
		c.append(ctx, live, user, reply)
		return reply.Clone(), nil
	}

	reply := c.assistant(models, turn.StepIndex, run, func(model string) *types.ModelResponse {
		return &types.ModelResponse{Model: model, Status: types.StatusLoading, Versions: []types.ResponseVersion{}}
	})
	c.append(ctx, live, user, reply)

	live.Begin()
	defer live.End()

	var wg sync.WaitGroup
	for _, model := range models {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := &types.GenerationRequest{
				Model:             model,
				Prompt:            in.Text,
				Attachments:       in.Context,
				Tools:             turn.Tools,
				SystemInstruction: sys,
				History:           history,
			}
			text, err := c.generate(ctx, req)
			var r *types.ModelResponse
			if err != nil {
				slog.Warn("model failed", "session_id", string(live.ID()), "model", model, "error", err)
				r = &types.ModelResponse{Model: model, Status: types.StatusError, Error: err.Error()}
			} else {
				r = c.success(model, in.Notice+text)
			}
			c.setResponse(ctx, live, reply.ID, r)
		}()
	}
	wg.Wait()

	final, _ := live.Message(reply.ID)
	return final, nil
}

// generate isolates a panicking backend to its own response.
func (c *Coordinator) generate(ctx context.Context, req *types.GenerationRequest) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("generation panicked: %v", r)
		}
	}()
	return c.gen.Generate(ctx, req)
}

func (c *Coordinator) success(model, text string) *types.ModelResponse {
	return &types.ModelResponse{
		Model:  model,
		Text:   text,
		Status: types.StatusSuccess,
		Versions: []types.ResponseVersion{
			{Text: text, Timestamp: c.now().UnixMilli(), Label: "Original"},
		},
	}
}

func (c *Coordinator) assistant(models []string, step *int, run string, resp func(string) *types.ModelResponse) *types.Message {
	m := &types.Message{
		ID:                types.NewMessageID(),
		Role:              types.RoleAssistant,
		Responses:         make(map[string]*types.ModelResponse, len(models)),
		WorkflowStepIndex: copyIndex(step),
		WorkflowRun:       run,
	}
	for _, model := range models {
		m.Responses[model] = resp(model)
	}
	return m
}

func (c *Coordinator) append(ctx context.Context, live *session.Live, msgs ...*types.Message) {
	live.Append(msgs...)
	for _, m := range msgs {
		c.pub.Publish(ctx, &types.Update{Type: types.UpdateMessage, SessionID: live.ID(), MessageID: m.ID, Message: m.Clone()})
	}
}

func (c *Coordinator) setResponse(ctx context.Context, live *session.Live, id types.MessageID, r *types.ModelResponse) {
	if err := live.SetResponse(id, r.Model, r); err != nil {
		slog.Error("set response", "session_id", string(live.ID()), "model", r.Model, "error", err)
		return
	}
	c.publishResponse(ctx, live, id, r)
}

func (c *Coordinator) publishResponse(ctx context.Context, live *session.Live, id types.MessageID, r *types.ModelResponse) {
	c.pub.Publish(ctx, &types.Update{
		Type:      types.UpdateResponse,
		SessionID: live.ID(),
		MessageID: id,
		Model:     r.Model,
		Response:  r.Clone(),
	})
}

func unique(models []string) []string {
	seen := make(map[string]bool, len(models))
	out := make([]string, 0, len(models))
	for _, m := range models {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

func copyIndex(i *int) *int {
	if i == nil {
		return nil
	}
	return types.IntPtr(*i)
}
