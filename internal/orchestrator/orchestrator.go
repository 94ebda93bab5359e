// Package orchestrator drives one model through the bounded tool loop.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/user/multichat/internal/types"
	"github.com/user/multichat/pkg/llm"
)

// MaxLoops bounds the number of backend calls per Generate.
const MaxLoops = 5

// ContextExceededText is returned as a successful answer when the backend
// (or the local budget check) reports the request is too large.
const ContextExceededText = "Error: The context size of the model was exceeded. " +
	"Please try reducing the number/size of attachments or conversation history."

// ToolExecutor runs a single tool on its server.
type ToolExecutor interface {
	Execute(ctx context.Context, tool types.ToolDescriptor, args json.RawMessage) (json.RawMessage, error)
}

// Budget rejects requests that would not fit a model's context window.
type Budget interface {
	Check(req *llm.Request) error
}

// Orchestrator turns a GenerationRequest into final text.
type Orchestrator struct {
	backend  llm.Adapter
	tools    ToolExecutor
	budget   Budget
	maxLoops int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithBudget enables a pre-flight size check before each backend call.
func WithBudget(b Budget) Option {
	return func(o *Orchestrator) { o.budget = b }
}

// WithMaxLoops overrides MaxLoops. Values below 1 are ignored.
func WithMaxLoops(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxLoops = n
		}
	}
}

// New creates an Orchestrator. tools may be nil when no tool servers are
// configured.
func New(backend llm.Adapter, tools ToolExecutor, opts ...Option) *Orchestrator {
	o := &Orchestrator{backend: backend, tools: tools, maxLoops: MaxLoops}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Generate runs the tool loop for req and returns the accumulated text.
// Only backend failures other than context exhaustion are returned as
// errors; tool failures are fed back to the model.
func (o *Orchestrator) Generate(ctx context.Context, req *types.GenerationRequest) (string, error) {
	relevant := FilterRelevant(req.Prompt, req.Tools)
	prompt := AppendToolInstructions(req.Prompt, relevant)
	history := HistoryFor(req.Model, req.History)
	attachments := Attachments(req.Attachments)

	var combined, trace strings.Builder
	for i := 0; i < o.maxLoops; i++ {
		call := &llm.Request{
			Model:             req.Model,
			Prompt:            prompt,
			SystemInstruction: req.SystemInstruction,
			History:           history,
		}
		if i == 0 {
			call.Attachments = attachments
		}

		text, err := o.call(ctx, call)
		if errors.Is(err, llm.ErrContextExceeded) {
			slog.Warn("context exceeded", "model", req.Model, "iteration", i, "error", err)
			combined.WriteString(ContextExceededText)
			return combined.String(), nil
		}
		if err != nil {
			return "", fmt.Errorf("generate %s: %w", req.Model, err)
		}

		parsed := ParseToolCalls(text, relevant)
		if len(parsed.Calls) == 0 {
			combined.WriteString(text)
			return combined.String(), nil
		}

		slog.Debug("tool calls", "model", req.Model, "iteration", i, "calls", len(parsed.Calls))
		outputs := o.execute(ctx, parsed.Calls)

		clean := text
		for _, b := range parsed.Blocks {
			clean = strings.Replace(clean, b, "", 1)
		}
		for j, c := range parsed.Calls {
			clean += "\n\n```mcp:" + c.Tool.Name + "\n" + outputs[j] + "\n```"
			fmt.Fprintf(&trace, "Tool Call: %s\nOutput: %s\n\n", c.Tool.Name, outputs[j])
		}
		combined.WriteString(strings.TrimSpace(clean))
		combined.WriteString("\n\n")
		prompt = tracePrompt(req.Prompt, trace.String())
	}

	slog.Warn("tool loop exhausted", "model", req.Model, "loops", o.maxLoops)
	return combined.String(), nil
}

func (o *Orchestrator) call(ctx context.Context, req *llm.Request) (string, error) {
	if o.budget != nil {
		if err := o.budget.Check(req); err != nil {
			return "", err
		}
	}
	return o.backend.Call(ctx, req)
}

// execute runs every call concurrently. Output i belongs to calls[i].
func (o *Orchestrator) execute(ctx context.Context, calls []Call) []string {
	outputs := make([]string, len(calls))
	var g errgroup.Group
	for i, c := range calls {
		g.Go(func() error {
			outputs[i] = o.runTool(ctx, c)
			return nil
		})
	}
	_ = g.Wait()
	return outputs
}

func (o *Orchestrator) runTool(ctx context.Context, c Call) string {
	if o.tools == nil {
		return errorOutput(errors.New("no tool servers configured"))
	}
	raw, err := o.tools.Execute(ctx, c.Tool, c.Arguments)
	if err != nil {
		slog.Warn("tool failed", "tool", c.Tool.ID, "error", err)
		return errorOutput(err)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}

func errorOutput(err error) string {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(b)
}
