package workflow

import (
	"testing"

	"github.com/user/multichat/internal/types"
)

func tagged(role types.Role, idx int, status types.ResponseStatus) *types.Message {
	m := &types.Message{ID: types.NewMessageID(), Role: role, WorkflowStepIndex: types.IntPtr(idx)}
	if role == types.RoleAssistant {
		m.Responses = map[string]*types.ModelResponse{"m": {Model: "m", Status: status}}
	}
	return m
}

func TestPending(t *testing.T) {
	wf := &types.Workflow{ID: "wf", Steps: []types.WorkflowStep{
		{Type: types.StepPrompt, Prompt: "Outline", MultiStepInstruction: "Edit then send"},
		{Type: types.StepExport, ExportFormat: "pptx"},
		{Type: types.StepFileUpload},
		{Type: types.StepDatabaseSearch, DatabaseID: "db"},
		{Type: types.StepWebScraper},
		{Type: types.StepSerpSearch, SearchQuery: "news", MultiStepInstruction: "Read these"},
	}}

	tests := []struct {
		name     string
		idx      *int
		msgs     []*types.Message
		awaiting Await
		guided   string
		input    string
	}{
		{name: "no run", idx: nil, awaiting: AwaitNothing},
		{name: "out of range", idx: types.IntPtr(9), awaiting: AwaitNothing},
		{name: "paused prompt", idx: types.IntPtr(0), awaiting: AwaitConfirm, guided: "Edit then send", input: "Outline"},
		{
			name:     "prompt answered",
			idx:      types.IntPtr(0),
			msgs:     []*types.Message{tagged(types.RoleUser, 0, ""), tagged(types.RoleAssistant, 0, types.StatusSuccess)},
			awaiting: AwaitNext,
		},
		{
			name:     "prompt failed",
			idx:      types.IntPtr(0),
			msgs:     []*types.Message{tagged(types.RoleUser, 0, ""), tagged(types.RoleAssistant, 0, types.StatusError)},
			awaiting: AwaitRetry,
		},
		{name: "interrupted export", idx: types.IntPtr(1), awaiting: AwaitNext},
		{name: "upload", idx: types.IntPtr(2), awaiting: AwaitFiles, guided: "Please upload required files."},
		{name: "search needs query", idx: types.IntPtr(3), awaiting: AwaitQuery, guided: "Workflow Search: Please enter search query"},
		{
			name:     "search done",
			idx:      types.IntPtr(3),
			msgs:     []*types.Message{tagged(types.RoleUser, 3, "")},
			awaiting: AwaitNext,
		},
		{name: "scraper needs url", idx: types.IntPtr(4), awaiting: AwaitURL, guided: "Workflow Scraper: Please enter URL to scrape"},
		{
			name:     "web search paused on results",
			idx:      types.IntPtr(5),
			msgs:     []*types.Message{tagged(types.RoleUser, 5, "")},
			awaiting: AwaitNext,
			guided:   "Read these",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := Pending(wf, "", tt.idx, tt.msgs)
			if st.Awaiting != tt.awaiting {
				t.Errorf("awaiting = %q, want %q", st.Awaiting, tt.awaiting)
			}
			if st.Guided != tt.guided {
				t.Errorf("guided = %q, want %q", st.Guided, tt.guided)
			}
			if tt.input != "" && st.Input[:len(tt.input)] != tt.input {
				t.Errorf("input = %q, want prefix %q", st.Input, tt.input)
			}
		})
	}
}

func TestPendingIsStable(t *testing.T) {
	wf := &types.Workflow{Steps: []types.WorkflowStep{{Type: types.StepDatabaseSearch}}}
	msgs := []*types.Message{{ID: "a", Role: types.RoleUser}}
	first := Pending(wf, "", types.IntPtr(0), msgs)
	second := Pending(wf, "", types.IntPtr(0), msgs)
	if first.Awaiting != second.Awaiting || first.Guided != second.Guided || *first.Index != *second.Index {
		t.Errorf("pending not stable: %+v vs %+v", first, second)
	}
}

func TestPendingIgnoresEarlierRuns(t *testing.T) {
	wf := &types.Workflow{Steps: []types.WorkflowStep{
		{Type: types.StepPrompt, Prompt: "Outline", MultiStepInstruction: "Edit then send"},
		{Type: types.StepDatabaseSearch, DatabaseID: "db"},
	}}
	old := []*types.Message{
		tagged(types.RoleUser, 0, ""),
		tagged(types.RoleAssistant, 0, types.StatusSuccess),
		tagged(types.RoleUser, 1, ""),
	}
	for _, m := range old {
		m.WorkflowRun = "run-1"
	}

	if st := Pending(wf, "run-2", types.IntPtr(0), old); st.Awaiting != AwaitConfirm {
		t.Errorf("prompt: awaiting = %q, want %q", st.Awaiting, AwaitConfirm)
	}
	if st := Pending(wf, "run-2", types.IntPtr(1), old); st.Awaiting != AwaitQuery {
		t.Errorf("search: awaiting = %q, want %q", st.Awaiting, AwaitQuery)
	}
	if st := Pending(wf, "run-1", types.IntPtr(1), old); st.Awaiting != AwaitNext {
		t.Errorf("same run: awaiting = %q, want %q", st.Awaiting, AwaitNext)
	}
}

func TestPendingPromptAddsSlideHint(t *testing.T) {
	wf := &types.Workflow{Steps: []types.WorkflowStep{
		{Type: types.StepPrompt, Prompt: "Deck", MultiStepInstruction: "Go"},
		{Type: types.StepExport, ExportFormat: "pptx"},
	}}
	st := Pending(wf, "", types.IntPtr(0), nil)
	if st.Input != "Deck"+slideHint {
		t.Errorf("unexpected input %q", st.Input)
	}
}

func TestDerive(t *testing.T) {
	wf := &types.Workflow{Steps: []types.WorkflowStep{
		{Type: types.StepPrompt, Prompt: "a", Model: "m1"},
		{Type: types.StepMCPTool, ToolIDs: []string{"s/t1"}},
		{Type: types.StepPersona, PersonaID: "p1"},
		{Type: types.StepPrompt, Prompt: "b", Model: "m2"},
		{Type: types.StepMCPTool, ToolIDs: []string{"s/t2"}},
	}}

	rc := Derive(wf, 0)
	if len(rc.Models) != 1 || rc.Models[0] != "m1" || rc.ToolIDs != nil || rc.PersonaID != "" {
		t.Errorf("step 0: %+v", rc)
	}

	rc = Derive(wf, 3)
	if rc.Models[0] != "m2" || rc.ToolIDs[0] != "s/t1" || rc.PersonaID != "p1" {
		t.Errorf("step 3: %+v", rc)
	}

	rc = Derive(wf, 4)
	if rc.ToolIDs[0] != "s/t1" {
		t.Errorf("tool step applies after itself: %+v", rc)
	}

	if rc := Derive(nil, 2); rc.Models != nil {
		t.Errorf("nil workflow: %+v", rc)
	}
}
