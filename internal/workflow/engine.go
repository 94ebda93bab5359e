// Package workflow drives multi-step workflows bound to chat sessions.
//
// The persisted state of a run is the session's workflow id and current
// step index. Advance executes steps in order until one halts, and each
// step handler reports its outcome as a Transition.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/multichat/internal/fanout"
	"github.com/user/multichat/internal/scrape"
	"github.com/user/multichat/internal/search"
	"github.com/user/multichat/internal/session"
	"github.com/user/multichat/internal/types"
)

var (
	ErrNotRunning = errors.New("no workflow is running")
	ErrNoSearch   = errors.New("message has no search results")
)

// Default pauses between auto-advancing steps.
const (
	DefaultResultDelay = 3 * time.Second
	DefaultSkipDelay   = 1500 * time.Millisecond
)

// Transition is the outcome of one step.
type Transition struct {
	// Halt stops the run on the current step until user input or Next.
	Halt bool
	// Guided replaces the advisory text when non-empty.
	Guided string
	// Delay paces the move to the next step.
	Delay time.Duration
	// Done ends the run without visiting further steps.
	Done bool
}

// Turns runs a fan-out turn.
type Turns interface {
	Run(ctx context.Context, live *session.Live, turn fanout.Turn) (*types.Message, error)
}

// Searcher looks records up in a database source.
type Searcher interface {
	Search(ctx context.Context, src *types.DatabaseSource, query string) (*search.Result, error)
}

// WebSearcher returns web search results as markdown.
type WebSearcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// Scraper fetches pages.
type Scraper interface {
	Scrape(ctx context.Context, url string, includeMeta bool) ([]scrape.Result, error)
}

// ToolCatalog resolves tool ids.
type ToolCatalog interface {
	Lookup(ids []string) (found []types.ToolDescriptor, missing []string)
}

// BlobStore keeps uploaded file bytes.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
}

// Deps are the collaborators of an Engine. Only Resources and Turns are
// required.
type Deps struct {
	Resources Resources
	Turns     Turns
	Search    Searcher
	Web       WebSearcher
	Scraper   Scraper
	Tools     ToolCatalog
	Blobs     BlobStore
	Publisher fanout.Publisher
}

// Engine executes workflow steps against live sessions. Calls for one
// session must not overlap; the gateway queue serializes them.
type Engine struct {
	Deps

	resultDelay time.Duration
	skipDelay   time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithDelays sets the pause after result steps and after skipped steps.
func WithDelays(result, skip time.Duration) Option {
	return func(e *Engine) {
		e.resultDelay = result
		e.skipDelay = skip
	}
}

// New creates an Engine.
func New(deps Deps, opts ...Option) *Engine {
	e := &Engine{
		Deps:        deps,
		resultDelay: DefaultResultDelay,
		skipDelay:   DefaultSkipDelay,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Play starts workflowID on live from its first step.
func (e *Engine) Play(ctx context.Context, live *session.Live, workflowID string) error {
	wf, err := e.Resources.Workflow(ctx, workflowID, live.Partition())
	if err != nil {
		return fmt.Errorf("load workflow: %w", err)
	}
	slog.Info("workflow started", "session_id", string(live.ID()), "workflow", wf.ID, "steps", len(wf.Steps))
	live.StartRun(wf.ID)
	e.guide(ctx, live, "")
	return e.Advance(ctx, live, wf, 0, "")
}

// Next moves a halted run to the step after the current one.
func (e *Engine) Next(ctx context.Context, live *session.Live) error {
	wf, idx, err := e.current(ctx, live)
	if err != nil {
		return err
	}
	return e.Advance(ctx, live, wf, idx+1, "")
}

func (e *Engine) current(ctx context.Context, live *session.Live) (*types.Workflow, int, error) {
	id, idx := live.Step()
	if id == "" || idx == nil {
		return nil, 0, ErrNotRunning
	}
	wf, err := e.Resources.Workflow(ctx, id, live.Partition())
	if err != nil {
		return nil, 0, fmt.Errorf("load workflow: %w", err)
	}
	return wf, *idx, nil
}

// Advance executes steps from idx until one halts or the workflow ends.
// override replaces the configured query or URL of the first step.
func (e *Engine) Advance(ctx context.Context, live *session.Live, wf *types.Workflow, idx int, override string) error {
	for {
		if idx < 0 || idx >= len(wf.Steps) {
			e.finish(ctx, live, wf)
			return nil
		}
		e.setStep(ctx, live, wf.ID, &idx)
		// advisories of the previous step end here
		e.guide(ctx, live, "")

		step := wf.Steps[idx]
		tr, err := e.execute(ctx, live, wf, idx, override)
		override = ""
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", idx+1, step.Type, err)
		}
		slog.Debug("workflow step", "session_id", string(live.ID()), "workflow", wf.ID, "step", idx, "type", string(step.Type), "halt", tr.Halt)

		if tr.Guided != "" {
			e.guide(ctx, live, tr.Guided)
		}
		if tr.Done {
			e.finish(ctx, live, wf)
			return nil
		}
		if tr.Halt {
			return nil
		}
		if err := e.sleep(ctx, tr.Delay); err != nil {
			return err
		}
		idx++
	}
}

func (e *Engine) execute(ctx context.Context, live *session.Live, wf *types.Workflow, idx int, override string) (Transition, error) {
	step := wf.Steps[idx]
	switch step.Type {
	case types.StepPrompt:
		return e.prompt(ctx, live, wf, idx)
	case types.StepFileUpload:
		return Transition{Halt: true, Guided: fileRequirement(step)}, nil
	case types.StepMCPTool:
		return e.enableTools(live, step), nil
	case types.StepPersona:
		return e.persona(ctx, live, step), nil
	case types.StepExport:
		return e.export(ctx, live, step, idx), nil
	case types.StepDatabaseSearch, types.StepVectorSearch:
		return e.databaseSearch(ctx, live, step, idx, override), nil
	case types.StepWebScraper:
		return e.scrape(ctx, live, step, idx, override), nil
	case types.StepSerpSearch:
		return e.webSearch(ctx, live, step, idx, override), nil
	default:
		slog.Warn("unknown workflow step", "workflow", wf.ID, "step", idx, "type", string(step.Type))
		return Transition{Done: true}, nil
	}
}

func (e *Engine) finish(ctx context.Context, live *session.Live, wf *types.Workflow) {
	e.setStep(ctx, live, wf.ID, nil)
	e.guide(ctx, live, "")
	slog.Info("workflow finished", "session_id", string(live.ID()), "workflow", wf.ID)
}

func (e *Engine) setStep(ctx context.Context, live *session.Live, workflowID string, idx *int) {
	live.SetStep(workflowID, idx)
	e.publish(ctx, &types.Update{Type: types.UpdateStep, SessionID: live.ID(), Step: idx})
}

func (e *Engine) guide(ctx context.Context, live *session.Live, text string) {
	if live.Guided() == text {
		return
	}
	live.SetGuided(text)
	e.publish(ctx, &types.Update{Type: types.UpdateGuided, SessionID: live.ID(), Guided: text})
}

func (e *Engine) appendMessage(ctx context.Context, live *session.Live, m *types.Message) {
	live.Append(m)
	e.publish(ctx, &types.Update{Type: types.UpdateMessage, SessionID: live.ID(), MessageID: m.ID, Message: m.Clone()})
}

func (e *Engine) publish(ctx context.Context, u *types.Update) {
	if e.Publisher != nil {
		e.Publisher.Publish(ctx, u)
	}
}

// systemMessage builds a user-role system message attributed to the
// session's user.
func systemMessage(live *session.Live, content string, idx *int) *types.Message {
	m := &types.Message{
		ID:       types.NewMessageID(),
		Role:     types.RoleUser,
		Content:  content,
		IsSystem: true,
		UserName: live.User(),
		UserID:   live.User(),
	}
	if idx != nil {
		v := *idx
		m.WorkflowStepIndex = &v
		m.WorkflowRun = live.Run()
	}
	return m
}

// SystemInstruction resolves the session persona, falling back to the
// default instruction.
func (e *Engine) SystemInstruction(ctx context.Context, live *session.Live) string {
	id := live.Snapshot().PersonaID
	if id == "" {
		return ""
	}
	p, err := e.Resources.Persona(ctx, id, live.Partition())
	if err != nil {
		slog.Warn("persona unavailable", "session_id", string(live.ID()), "persona", id, "error", err)
		return ""
	}
	return p.SystemInstruction
}

// Resume restores the run context and advisory of a session reopened
// mid-workflow without executing anything.
func (e *Engine) Resume(ctx context.Context, live *session.Live) (State, error) {
	wf, idx, err := e.current(ctx, live)
	if errors.Is(err, ErrNotRunning) {
		return State{}, nil
	}
	if err != nil {
		return State{}, err
	}

	if idx >= len(wf.Steps) {
		e.finish(ctx, live, wf)
		return State{}, nil
	}

	rc := Derive(wf, idx)
	if len(rc.Models) > 0 {
		live.SetModels(rc.Models)
	}
	if len(rc.ToolIDs) > 0 && e.Tools != nil {
		found, _ := e.Tools.Lookup(rc.ToolIDs)
		live.SetTools(found)
	}

	st := Pending(wf, live.Run(), &idx, live.Messages())
	if st.Awaiting == AwaitQuery && wf.Steps[idx].Type != types.StepSerpSearch {
		if src, err := e.Resources.Source(ctx, wf.Steps[idx].DatabaseID, live.Partition()); err == nil {
			st.Guided = queryAdvisory(src.Name)
		}
	}
	e.guide(ctx, live, st.Guided)
	return st, nil
}
