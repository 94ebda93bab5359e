package workflow

import (
	"strings"

	"github.com/user/multichat/internal/types"
)

// Await names what a paused workflow is waiting for.
type Await string

const (
	AwaitNothing Await = ""
	AwaitConfirm Await = "confirm" // paused prompt step
	AwaitFiles   Await = "files"
	AwaitQuery   Await = "query"
	AwaitURL     Await = "url"
	AwaitRetry   Await = "retry" // a prompt step generation failed
	AwaitNext    Await = "next"
)

const (
	defaultFileRequirement = "Please upload required files."
	scraperAdvisory        = "Workflow Scraper: Please enter URL to scrape"
	slideHint              = "\n\n(IMPORTANT: Please format the output as a presentation. Separate each slide with a horizontal rule '---' on a new line so it can be parsed correctly.)"
)

// queryAdvisory is the guided text of a search step without a query.
func queryAdvisory(name string) string {
	if name == "" {
		return "Workflow Search: Please enter search query"
	}
	return "Workflow Search: Please enter search query for " + name
}

// State is what a session shows while its workflow is positioned on a step.
type State struct {
	Index    *int                `json:"index"`
	Step     *types.WorkflowStep `json:"step,omitempty"`
	Awaiting Await               `json:"awaiting,omitempty"`
	Guided   string              `json:"guided,omitempty"`
	// Input is the text prefilled for the user, if any.
	Input string `json:"input,omitempty"`
}

// Pending derives the waiting state of a workflow from its position and the
// transcript alone. Only messages tagged with run count, so an earlier run
// of the same workflow in the session does not mark steps as done. It never
// executes a step.
func Pending(wf *types.Workflow, run string, idx *int, msgs []*types.Message) State {
	if wf == nil || idx == nil || *idx < 0 || *idx >= len(wf.Steps) {
		return State{}
	}
	i := *idx
	step := wf.Steps[i]
	st := State{Index: types.IntPtr(i), Step: &step}
	tagged := stepMessages(msgs, run, i)

	switch step.Type {
	case types.StepPrompt:
		reply := lastAssistant(tagged)
		switch {
		case reply != nil && failed(reply):
			st.Awaiting = AwaitRetry
		case reply != nil:
			st.Awaiting = AwaitNext
		case step.MultiStepInstruction != "":
			st.Awaiting = AwaitConfirm
			st.Guided = step.MultiStepInstruction
			st.Input = promptText(wf, i)
		default:
			st.Awaiting = AwaitNext
		}

	case types.StepFileUpload:
		st.Awaiting = AwaitFiles
		st.Guided = fileRequirement(step)

	case types.StepDatabaseSearch, types.StepVectorSearch, types.StepSerpSearch, types.StepWebScraper:
		if len(tagged) == 0 && needsInput(step) {
			if step.Type == types.StepWebScraper {
				st.Awaiting = AwaitURL
				st.Guided = scraperAdvisory
			} else {
				st.Awaiting = AwaitQuery
				st.Guided = queryAdvisory("")
				if step.Type == types.StepSerpSearch {
					st.Guided = queryAdvisory("web search")
				}
			}
			break
		}
		st.Awaiting = AwaitNext
		if len(tagged) > 0 && step.MultiStepInstruction != "" {
			st.Guided = step.MultiStepInstruction
		}

	default:
		st.Awaiting = AwaitNext
	}
	return st
}

// RunContext is the model, tool and persona selection a workflow has made
// by the time it reaches a step.
type RunContext struct {
	Models    []string
	ToolIDs   []string
	PersonaID string
}

// Derive reconstructs the run context in effect at step idx. A prompt
// step's model applies from that step on; tool and persona steps apply to
// the steps after them.
func Derive(wf *types.Workflow, idx int) RunContext {
	var rc RunContext
	if wf == nil {
		return rc
	}
	for i, step := range wf.Steps {
		if i > idx {
			break
		}
		switch step.Type {
		case types.StepPrompt:
			if step.Model != "" && step.Prompt != "" {
				rc.Models = []string{step.Model}
			}
		case types.StepMCPTool:
			if i < idx {
				rc.ToolIDs = append([]string(nil), step.ToolIDs...)
			}
		case types.StepPersona:
			if i < idx && step.PersonaID != "" {
				rc.PersonaID = step.PersonaID
			}
		}
	}
	return rc
}

func promptText(wf *types.Workflow, i int) string {
	text := wf.Steps[i].Prompt
	if i+1 < len(wf.Steps) {
		next := wf.Steps[i+1]
		if next.Type == types.StepExport && next.ExportFormat == "pptx" {
			text += slideHint
		}
	}
	return text
}

func fileRequirement(step types.WorkflowStep) string {
	if step.FileRequirement != "" {
		return step.FileRequirement
	}
	return defaultFileRequirement
}

func needsInput(step types.WorkflowStep) bool {
	if step.Type == types.StepWebScraper {
		return strings.TrimSpace(step.URL) == ""
	}
	return strings.TrimSpace(step.SearchQuery) == ""
}

func stepMessages(msgs []*types.Message, run string, i int) []*types.Message {
	var out []*types.Message
	for _, m := range msgs {
		if m.WorkflowRun == run && m.WorkflowStepIndex != nil && *m.WorkflowStepIndex == i {
			out = append(out, m)
		}
	}
	return out
}

func lastAssistant(msgs []*types.Message) *types.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == types.RoleAssistant {
			return msgs[i]
		}
	}
	return nil
}

func failed(m *types.Message) bool {
	for _, r := range m.Responses {
		if r.Status == types.StatusError {
			return true
		}
	}
	return false
}
