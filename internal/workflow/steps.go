package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/user/multichat/internal/fanout"
	"github.com/user/multichat/internal/scrape"
	"github.com/user/multichat/internal/search"
	"github.com/user/multichat/internal/session"
	"github.com/user/multichat/internal/types"
)

const (
	sourceNotFound       = "Database source not found. Skipping search..."
	personaNotFound      = "Persona not found. Skipping persona step..."
	noModelAdvisory      = "Workflow Prompt: Please select a model to continue."
	promptFailedAdvisory = "Workflow Prompt: A model failed to respond. Retry it or continue with the next step."
)

// paused replaces tr with a halt when the step asks the user to review
// its result first.
func paused(step types.WorkflowStep, tr Transition) Transition {
	if step.MultiStepInstruction != "" {
		return Transition{Halt: true, Guided: step.MultiStepInstruction}
	}
	return tr
}

func (e *Engine) prompt(ctx context.Context, live *session.Live, wf *types.Workflow, idx int) (Transition, error) {
	step := wf.Steps[idx]
	if strings.TrimSpace(step.Prompt) == "" {
		slog.Warn("workflow prompt step has no prompt", "workflow", wf.ID, "step", idx)
		return Transition{}, nil
	}
	if step.Model != "" {
		live.SetModels([]string{step.Model})
	}
	if step.MultiStepInstruction != "" {
		return Transition{Halt: true, Guided: step.MultiStepInstruction}, nil
	}

	e.guide(ctx, live, "")
	_, tr, err := e.runPrompt(ctx, live, promptText(wf, idx), nil, idx)
	return tr, err
}

// runPrompt fans text out for step idx. A failed model halts the run on
// the step so the response can be retried.
func (e *Engine) runPrompt(ctx context.Context, live *session.Live, text string, atts []types.Attachment, idx int) (*types.Message, Transition, error) {
	reply, err := e.Turns.Run(ctx, live, fanout.Turn{
		Text:              text,
		Attachments:       atts,
		Models:            live.Models(),
		Tools:             live.Tools(),
		SystemInstruction: e.SystemInstruction(ctx, live),
		StepIndex:         &idx,
		UserName:          live.User(),
		UserID:            live.User(),
	})
	if errors.Is(err, fanout.ErrNoModels) {
		return nil, Transition{Halt: true, Guided: noModelAdvisory}, nil
	}
	if err != nil {
		return nil, Transition{}, err
	}
	if failed(reply) {
		return reply, Transition{Halt: true, Guided: promptFailedAdvisory}, nil
	}
	return reply, Transition{}, nil
}

func (e *Engine) enableTools(live *session.Live, step types.WorkflowStep) Transition {
	if e.Tools == nil {
		slog.Warn("workflow tool step without a tool catalog", "session_id", string(live.ID()), "tools", step.ToolIDs)
		return Transition{}
	}
	found, missing := e.Tools.Lookup(step.ToolIDs)
	live.SetTools(found)
	if len(missing) > 0 {
		slog.Warn("workflow tools not found", "session_id", string(live.ID()), "missing", missing)
		return Transition{Guided: "Tools not found: " + strings.Join(missing, ", ")}
	}
	return Transition{}
}

func (e *Engine) persona(ctx context.Context, live *session.Live, step types.WorkflowStep) Transition {
	if _, err := e.Resources.Persona(ctx, step.PersonaID, live.Partition()); err != nil {
		slog.Warn("workflow persona not found", "session_id", string(live.ID()), "persona", step.PersonaID, "error", err)
		return Transition{Guided: personaNotFound, Delay: e.skipDelay}
	}
	live.Update(func(s *types.ChatSession) {
		s.PersonaID = step.PersonaID
	})
	return Transition{}
}

// export appends the export marker unless the last message already
// advertises the same format.
func (e *Engine) export(ctx context.Context, live *session.Live, step types.WorkflowStep, idx int) Transition {
	format := step.ExportFormat
	if format == "" {
		format = "text"
	}
	m := systemMessage(live, fmt.Sprintf("**Workflow Export Ready**\n\nThe current context has been prepared for export in **%s** format. Click the button below to download the file.",
		strings.ToUpper(format)), &idx)
	m.WorkflowExport = &types.ExportMarker{Format: format}

	appended := false
	live.Update(func(s *types.ChatSession) {
		if n := len(s.Messages); n > 0 {
			if last := s.Messages[n-1]; last.WorkflowExport != nil && last.WorkflowExport.Format == format {
				return
			}
		}
		s.Messages = append(s.Messages, m)
		appended = true
	})
	if appended {
		e.publish(ctx, &types.Update{Type: types.UpdateMessage, SessionID: live.ID(), MessageID: m.ID, Message: m.Clone()})
	}
	e.guide(ctx, live, "")
	return Transition{}
}

func (e *Engine) databaseSearch(ctx context.Context, live *session.Live, step types.WorkflowStep, idx int, override string) Transition {
	src, err := e.Resources.Source(ctx, step.DatabaseID, live.Partition())
	if err != nil {
		slog.Warn("workflow database source not found", "session_id", string(live.ID()), "source", step.DatabaseID, "error", err)
		return Transition{Guided: sourceNotFound, Delay: e.skipDelay}
	}

	query := firstNonEmpty(override, step.SearchQuery)
	if query == "" {
		return Transition{Halt: true, Guided: queryAdvisory(src.Name)}
	}
	e.guide(ctx, live, fmt.Sprintf("Searching %s for %q...", src.Name, query))

	var res *search.Result
	if e.Search == nil {
		err = errors.New("search is not configured")
	} else {
		res, err = e.Search.Search(ctx, src, query)
	}
	if err != nil {
		slog.Warn("workflow search failed", "session_id", string(live.ID()), "source", src.ID, "error", err)
		e.appendMessage(ctx, live, systemMessage(live, fmt.Sprintf("**Database Search Results**\nSource: %s\nQuery: \"%s\"\n\nSearch failed: %v", src.Name, query, err), &idx))
		label := "Search Error"
		if src.Type == types.SourceAzureSearch {
			label = "Azure Search Error"
		}
		return Transition{Guided: fmt.Sprintf("%s: %v", label, err), Delay: e.resultDelay}
	}

	content, meta := search.RenderResults(src, query, res)
	m := systemMessage(live, content, &idx)
	m.SearchMetadata = meta
	e.appendMessage(ctx, live, m)

	return paused(step, Transition{
		Guided: fmt.Sprintf("Database Search: Found %d records.", len(res.Records)),
		Delay:  e.resultDelay,
	})
}

func (e *Engine) scrape(ctx context.Context, live *session.Live, step types.WorkflowStep, idx int, override string) Transition {
	target := firstNonEmpty(override, step.URL)
	if target == "" {
		return Transition{Halt: true, Guided: scraperAdvisory}
	}
	e.guide(ctx, live, fmt.Sprintf("Scraping %s...", target))

	var (
		results []scrape.Result
		err     error
	)
	if e.Scraper == nil {
		err = errors.New("scraper is not configured")
	} else {
		results, err = e.Scraper.Scrape(ctx, target, step.IncludeMeta)
	}
	if err != nil {
		slog.Warn("workflow scrape failed", "session_id", string(live.ID()), "url", target, "error", err)
		msg := fmt.Sprintf("Scraping failed: %v", err)
		e.appendMessage(ctx, live, systemMessage(live, msg, &idx))
		return Transition{Guided: msg, Delay: e.resultDelay}
	}

	e.appendMessage(ctx, live, systemMessage(live, scrape.Format(results, step.IncludeMeta), &idx))
	return paused(step, Transition{
		Guided: fmt.Sprintf("Web Scraper: Added %d page(s) from %s.", len(results), target),
		Delay:  e.resultDelay,
	})
}

func (e *Engine) webSearch(ctx context.Context, live *session.Live, step types.WorkflowStep, idx int, override string) Transition {
	query := firstNonEmpty(override, step.SearchQuery)
	if query == "" {
		return Transition{Halt: true, Guided: queryAdvisory("web search")}
	}
	e.guide(ctx, live, fmt.Sprintf("Searching the web for %q...", query))

	var (
		out string
		err error
	)
	if e.Web == nil {
		err = errors.New("web search is not configured")
	} else {
		out, err = e.Web.Search(ctx, query)
	}
	if err != nil {
		slog.Warn("workflow web search failed", "session_id", string(live.ID()), "error", err)
		msg := fmt.Sprintf("Error performing search for %s: %v.", query, err)
		e.appendMessage(ctx, live, systemMessage(live, msg, &idx))
		return Transition{Guided: "Web Search Error: " + err.Error(), Delay: e.resultDelay}
	}

	e.appendMessage(ctx, live, systemMessage(live, fmt.Sprintf("**Web Search Results**\nQuery: \"%s\"\n\n%s", query, out), &idx))
	return paused(step, Transition{Guided: "Web Search: Results added to the conversation.", Delay: e.resultDelay})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
