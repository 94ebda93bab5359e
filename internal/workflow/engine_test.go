package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/user/multichat/internal/fanout"
	"github.com/user/multichat/internal/scrape"
	"github.com/user/multichat/internal/search"
	"github.com/user/multichat/internal/session"
	"github.com/user/multichat/internal/types"
)

type fakeGenerator struct {
	mu       sync.Mutex
	errs     map[string]error
	requests []*types.GenerationRequest
}

func (g *fakeGenerator) Generate(_ context.Context, req *types.GenerationRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if err := g.errs[req.Model]; err != nil {
		return "", err
	}
	return req.Model + " answered", nil
}

func (g *fakeGenerator) last(t *testing.T) *types.GenerationRequest {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.requests) == 0 {
		t.Fatal("no generation requests")
	}
	return g.requests[len(g.requests)-1]
}

type fakeResources struct {
	workflows map[string]*types.Workflow
	personas  map[string]*types.Persona
	sources   map[string]*types.DatabaseSource
}

func (f *fakeResources) Workflow(_ context.Context, id, _ string) (*types.Workflow, error) {
	if wf, ok := f.workflows[id]; ok {
		return wf, nil
	}
	return nil, fmt.Errorf("workflow %s: %w", id, types.ErrNotFound)
}

func (f *fakeResources) Persona(_ context.Context, id, _ string) (*types.Persona, error) {
	if p, ok := f.personas[id]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("persona %s: %w", id, types.ErrNotFound)
}

func (f *fakeResources) Source(_ context.Context, id, _ string) (*types.DatabaseSource, error) {
	if s, ok := f.sources[id]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("source %s: %w", id, types.ErrNotFound)
}

type fakeScraper struct {
	err error
}

func (f *fakeScraper) Scrape(_ context.Context, url string, meta bool) ([]scrape.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	r := scrape.Result{URL: url, Content: "Page body"}
	if meta {
		r.Meta = &scrape.Meta{Description: "About"}
	}
	return []scrape.Result{r}, nil
}

type fakeWeb struct{}

func (fakeWeb) Search(_ context.Context, q string) (string, error) {
	return "### [" + q + "](https://example.com)\nsnippet\n", nil
}

type fakeCatalog struct{}

func (fakeCatalog) Lookup(ids []string) ([]types.ToolDescriptor, []string) {
	var found []types.ToolDescriptor
	var missing []string
	for _, id := range ids {
		if id == "inventory/search" {
			found = append(found, types.ToolDescriptor{ID: id, Name: "search", Server: "inventory"})
		} else {
			missing = append(missing, id)
		}
	}
	return found, missing
}

type failingSearch struct{}

func (failingSearch) Search(context.Context, *types.DatabaseSource, string) (*search.Result, error) {
	return nil, errors.New("index offline")
}

type fakeBlobs struct {
	mu   sync.Mutex
	keys map[string][]byte
}

func (b *fakeBlobs) Put(_ context.Context, key, _ string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.keys == nil {
		b.keys = map[string][]byte{}
	}
	b.keys[key] = data
	return nil
}

type harness struct {
	engine *Engine
	gen    *fakeGenerator
	res    *fakeResources
	live   *session.Live
}

func newHarness(t *testing.T, steps ...types.WorkflowStep) *harness {
	t.Helper()
	var rows strings.Builder
	rows.WriteString("name,kind\n")
	for i := range 25 {
		fmt.Fprintf(&rows, "Widget %d,part\n", i+1)
	}
	rows.WriteString("Gadget,tool\n")

	res := &fakeResources{
		workflows: map[string]*types.Workflow{"wf": {ID: "wf", Name: "Flow", Steps: steps}},
		personas:  map[string]*types.Persona{"analyst": {ID: "analyst", Name: "Analyst", SystemInstruction: "You are an analyst."}},
		sources: map[string]*types.DatabaseSource{
			"parts": {ID: "parts", Name: "Parts", Type: types.SourceCSV, Content: rows.String()},
		},
	}
	gen := &fakeGenerator{errs: map[string]error{}}
	e := New(Deps{
		Resources: res,
		Turns:     fanout.New(gen, nil, nil),
		Search:    search.NewService(nil),
		Web:       fakeWeb{},
		Scraper:   &fakeScraper{},
		Tools:     fakeCatalog{},
	}, WithDelays(0, 0))

	live := session.NewLive(&types.ChatSession{ID: types.NewSessionID()}, "alice", "alice")
	live.SetModels([]string{"model-a"})
	return &harness{engine: e, gen: gen, res: res, live: live}
}

func (h *harness) step(t *testing.T) *int {
	t.Helper()
	_, idx := h.live.Step()
	return idx
}

func (h *harness) messages() []*types.Message {
	return h.live.Messages()
}

func TestSearchWithoutQueryHalts(t *testing.T) {
	h := newHarness(t,
		types.WorkflowStep{Type: types.StepDatabaseSearch, DatabaseID: "parts"},
		types.WorkflowStep{Type: types.StepExport, ExportFormat: "text"},
	)
	ctx := context.Background()

	if err := h.engine.Play(ctx, h.live, "wf"); err != nil {
		t.Fatal(err)
	}
	if idx := h.step(t); idx == nil || *idx != 0 {
		t.Fatalf("expected to stay on step 0, got %v", idx)
	}
	if g := h.live.Guided(); !strings.HasPrefix(g, "Workflow Search:") || !strings.Contains(g, "Parts") {
		t.Errorf("unexpected guided text %q", g)
	}
	if n := len(h.messages()); n != 0 {
		t.Errorf("expected no messages, got %d", n)
	}

	if _, err := h.engine.Submit(ctx, h.live, Input{Text: "widget"}); err != nil {
		t.Fatal(err)
	}
	msgs := h.messages()
	if len(msgs) != 2 {
		t.Fatalf("expected search result and export, got %d messages", len(msgs))
	}
	res := msgs[0]
	if !res.IsSystem || res.SearchMetadata == nil || res.SearchMetadata.TotalResults != 25 || res.SearchMetadata.Offset != 10 {
		t.Errorf("unexpected search message %+v", res)
	}
	if !strings.Contains(res.Content, "Found 25 records.") {
		t.Errorf("unexpected content:\n%s", res.Content)
	}
	if res.WorkflowStepIndex == nil || *res.WorkflowStepIndex != 0 {
		t.Error("expected search message tagged with step 0")
	}
	if h.step(t) != nil {
		t.Error("expected workflow finished")
	}
	if h.live.Guided() != "" {
		t.Errorf("expected guided cleared, got %q", h.live.Guided())
	}
}

func TestReplayedSearchStepTakesQuery(t *testing.T) {
	h := newHarness(t,
		types.WorkflowStep{Type: types.StepDatabaseSearch, DatabaseID: "parts"},
		types.WorkflowStep{Type: types.StepExport, ExportFormat: "text"},
	)
	ctx := context.Background()

	if err := h.engine.Play(ctx, h.live, "wf"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.Submit(ctx, h.live, Input{Text: "widget"}); err != nil {
		t.Fatal(err)
	}
	first := h.live.Run()

	if err := h.engine.Play(ctx, h.live, "wf"); err != nil {
		t.Fatal(err)
	}
	if h.live.Run() == first {
		t.Fatal("expected a new run id")
	}
	if g := h.live.Guided(); !strings.HasPrefix(g, "Workflow Search:") {
		t.Fatalf("expected search advisory, got %q", g)
	}
	st := Pending(h.res.workflows["wf"], h.live.Run(), h.step(t), h.messages())
	if st.Awaiting != AwaitQuery {
		t.Fatalf("expected replayed step to await a query, got %q", st.Awaiting)
	}

	before := len(h.messages())
	if _, err := h.engine.Submit(ctx, h.live, Input{Text: "gadget"}); err != nil {
		t.Fatal(err)
	}
	if n := len(h.gen.requests); n != 0 {
		t.Errorf("expected the query to run the search, got %d model calls", n)
	}
	msgs := h.messages()[before:]
	if len(msgs) == 0 || !strings.Contains(msgs[0].Content, "Gadget") || msgs[0].WorkflowRun != h.live.Run() {
		t.Errorf("expected search result of the new run, got %+v", msgs)
	}
	if h.step(t) != nil {
		t.Error("expected workflow finished")
	}
}

func TestReplayedPausedPromptWaitsAgain(t *testing.T) {
	h := newHarness(t,
		types.WorkflowStep{Type: types.StepPrompt, Prompt: "Plan the trip", MultiStepInstruction: "Review and send."},
		types.WorkflowStep{Type: types.StepExport},
	)
	ctx := context.Background()

	if err := h.engine.Play(ctx, h.live, "wf"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.Submit(ctx, h.live, Input{Text: "Plan the trip to Oslo"}); err != nil {
		t.Fatal(err)
	}
	if err := h.engine.Play(ctx, h.live, "wf"); err != nil {
		t.Fatal(err)
	}

	st := Pending(h.res.workflows["wf"], h.live.Run(), h.step(t), h.messages())
	if st.Awaiting != AwaitConfirm {
		t.Fatalf("expected replayed prompt to await confirmation, got %q", st.Awaiting)
	}
	if _, err := h.engine.Submit(ctx, h.live, Input{Text: "Plan the trip to Bergen"}); err != nil {
		t.Fatal(err)
	}
	if n := len(h.gen.requests); n != 2 {
		t.Errorf("expected two generations, got %d", n)
	}
	if h.step(t) != nil {
		t.Error("expected workflow finished after confirmation")
	}
}

func TestConsecutiveExportsDeduplicate(t *testing.T) {
	h := newHarness(t,
		types.WorkflowStep{Type: types.StepExport, ExportFormat: "pdf"},
		types.WorkflowStep{Type: types.StepExport, ExportFormat: "pdf"},
		types.WorkflowStep{Type: types.StepExport, ExportFormat: "excel"},
	)
	if err := h.engine.Play(context.Background(), h.live, "wf"); err != nil {
		t.Fatal(err)
	}
	msgs := h.messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 export messages, got %d", len(msgs))
	}
	if msgs[0].WorkflowExport.Format != "pdf" || msgs[1].WorkflowExport.Format != "excel" {
		t.Errorf("unexpected formats %q, %q", msgs[0].WorkflowExport.Format, msgs[1].WorkflowExport.Format)
	}
	if !strings.Contains(msgs[0].Content, "**PDF** format") {
		t.Errorf("unexpected content %q", msgs[0].Content)
	}
	if h.step(t) != nil {
		t.Error("expected workflow finished")
	}
}

func TestPromptStepRunsTurnAndAdvances(t *testing.T) {
	h := newHarness(t,
		types.WorkflowStep{Type: types.StepPersona, PersonaID: "analyst"},
		types.WorkflowStep{Type: types.StepPrompt, Prompt: "Summarize", Model: "model-b"},
		types.WorkflowStep{Type: types.StepExport, ExportFormat: "pptx"},
	)
	if err := h.engine.Play(context.Background(), h.live, "wf"); err != nil {
		t.Fatal(err)
	}

	req := h.gen.last(t)
	if req.Model != "model-b" {
		t.Errorf("expected step model, got %s", req.Model)
	}
	if !strings.HasPrefix(req.Prompt, "Summarize\n\n(IMPORTANT: Please format the output as a presentation.") {
		t.Errorf("expected slide hint, got %q", req.Prompt)
	}
	if req.SystemInstruction != "You are an analyst." {
		t.Errorf("expected persona instruction, got %q", req.SystemInstruction)
	}
	if got := h.live.Snapshot().PersonaID; got != "analyst" {
		t.Errorf("expected persona set, got %q", got)
	}

	msgs := h.messages()
	if len(msgs) != 3 {
		t.Fatalf("expected user, assistant and export, got %d", len(msgs))
	}
	if msgs[1].Responses["model-b"].Status != types.StatusSuccess {
		t.Errorf("unexpected response %+v", msgs[1].Responses["model-b"])
	}
	if msgs[1].WorkflowStepIndex == nil || *msgs[1].WorkflowStepIndex != 1 {
		t.Error("expected reply tagged with step 1")
	}
	if h.step(t) != nil {
		t.Error("expected workflow finished")
	}
}

func TestPromptFailureKeepsStep(t *testing.T) {
	h := newHarness(t,
		types.WorkflowStep{Type: types.StepPrompt, Prompt: "Draft"},
		types.WorkflowStep{Type: types.StepExport},
	)
	h.gen.errs["model-a"] = errors.New("HTTP 500")
	ctx := context.Background()

	if err := h.engine.Play(ctx, h.live, "wf"); err != nil {
		t.Fatal(err)
	}
	if idx := h.step(t); idx == nil || *idx != 0 {
		t.Fatalf("expected step 0 kept, got %v", idx)
	}
	if h.live.Guided() != promptFailedAdvisory {
		t.Errorf("unexpected guided %q", h.live.Guided())
	}
	msgs := h.messages()
	if msgs[len(msgs)-1].Responses["model-a"].Status != types.StatusError {
		t.Error("expected error response")
	}

	if err := h.engine.Next(ctx, h.live); err != nil {
		t.Fatal(err)
	}
	if h.step(t) != nil {
		t.Error("expected workflow finished after next")
	}
}

func TestPausedPromptWaitsForConfirmation(t *testing.T) {
	h := newHarness(t,
		types.WorkflowStep{Type: types.StepPrompt, Prompt: "Plan the trip", MultiStepInstruction: "Review the prompt and press send."},
		types.WorkflowStep{Type: types.StepExport},
	)
	ctx := context.Background()

	if err := h.engine.Play(ctx, h.live, "wf"); err != nil {
		t.Fatal(err)
	}
	if h.live.Guided() != "Review the prompt and press send." {
		t.Errorf("unexpected guided %q", h.live.Guided())
	}
	if len(h.gen.requests) != 0 {
		t.Fatal("paused prompt must not generate")
	}

	wf := h.res.workflows["wf"]
	st := Pending(wf, h.live.Run(), h.step(t), h.messages())
	if st.Awaiting != AwaitConfirm || st.Input != "Plan the trip" {
		t.Errorf("unexpected pending state %+v", st)
	}

	reply, err := h.engine.Submit(ctx, h.live, Input{})
	if !errors.Is(err, fanout.ErrEmptyTurn) {
		t.Fatalf("expected empty turn error, got %v", err)
	}

	reply, err = h.engine.Submit(ctx, h.live, Input{Text: "Plan the trip to Oslo"})
	if err != nil {
		t.Fatal(err)
	}
	if reply == nil || reply.Responses["model-a"].Status != types.StatusSuccess {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if h.gen.last(t).Prompt != "Plan the trip to Oslo" {
		t.Errorf("unexpected prompt %q", h.gen.last(t).Prompt)
	}
	if h.step(t) != nil {
		t.Error("expected workflow finished")
	}
}

func TestFileUploadStoresAndAdvances(t *testing.T) {
	h := newHarness(t,
		types.WorkflowStep{Type: types.StepFileUpload, FileRequirement: "Upload the contract."},
		types.WorkflowStep{Type: types.StepExport},
	)
	blobs := &fakeBlobs{}
	h.engine.Blobs = blobs
	ctx := context.Background()

	if err := h.engine.Play(ctx, h.live, "wf"); err != nil {
		t.Fatal(err)
	}
	if h.live.Guided() != "Upload the contract." {
		t.Errorf("unexpected guided %q", h.live.Guided())
	}

	att := types.Attachment{ID: "a1", Name: "c.txt", Type: "text/plain", Base64: "data:text/plain;base64,aGVsbG8="}
	if _, err := h.engine.Submit(ctx, h.live, Input{Attachments: []types.Attachment{att}}); err != nil {
		t.Fatal(err)
	}

	msgs := h.messages()
	if len(msgs) != 2 || len(msgs[0].Attachments) != 1 {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	key := msgs[0].Attachments[0].BlobKey
	if string(blobs.keys[key]) != "hello" {
		t.Errorf("expected blob under %q, got %v", key, blobs.keys)
	}
	if len(h.gen.requests) != 0 {
		t.Error("upload must not generate")
	}
	if h.step(t) != nil {
		t.Error("expected workflow finished")
	}
}

func TestToolStepEnablesTools(t *testing.T) {
	h := newHarness(t,
		types.WorkflowStep{Type: types.StepMCPTool, ToolIDs: []string{"inventory/search", "gone/tool"}},
		types.WorkflowStep{Type: types.StepPrompt, Prompt: "Find widgets"},
	)
	if err := h.engine.Play(context.Background(), h.live, "wf"); err != nil {
		t.Fatal(err)
	}
	tools := h.gen.last(t).Tools
	if len(tools) != 1 || tools[0].ID != "inventory/search" {
		t.Errorf("unexpected tools %+v", tools)
	}
}

func TestMissingResourcesAreSkipped(t *testing.T) {
	h := newHarness(t,
		types.WorkflowStep{Type: types.StepPersona, PersonaID: "ghost"},
		types.WorkflowStep{Type: types.StepDatabaseSearch, DatabaseID: "ghost", SearchQuery: "x"},
		types.WorkflowStep{Type: types.StepExport},
	)
	if err := h.engine.Play(context.Background(), h.live, "wf"); err != nil {
		t.Fatal(err)
	}
	msgs := h.messages()
	if len(msgs) != 1 || msgs[0].WorkflowExport == nil {
		t.Fatalf("expected only the export message, got %+v", msgs)
	}
	if h.live.Snapshot().PersonaID != "" {
		t.Error("persona must not change")
	}
	if h.step(t) != nil {
		t.Error("expected workflow finished")
	}
}

func TestAdvisoryClearedOnNextStep(t *testing.T) {
	h := newHarness(t,
		types.WorkflowStep{Type: types.StepPersona, PersonaID: "ghost"},
		types.WorkflowStep{Type: types.StepExport, ExportFormat: "pdf"},
		types.WorkflowStep{Type: types.StepMCPTool},
	)
	var mu sync.Mutex
	var log []string
	h.engine.Publisher = fanout.PublisherFunc(func(_ context.Context, u *types.Update) {
		mu.Lock()
		defer mu.Unlock()
		switch u.Type {
		case types.UpdateGuided:
			log = append(log, "guided:"+u.Guided)
		case types.UpdateMessage:
			log = append(log, "message")
		}
	})
	if err := h.engine.Play(context.Background(), h.live, "wf"); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	advisory, cleared, export := -1, -1, -1
	for i, e := range log {
		switch {
		case e == "guided:"+personaNotFound:
			advisory = i
		case e == "guided:" && advisory >= 0 && cleared < 0:
			cleared = i
		case e == "message":
			export = i
		}
	}
	if advisory < 0 || cleared < advisory || export < cleared {
		t.Errorf("expected advisory, then cleared, then export message; got %v", log)
	}
}

func TestSearchFailureBecomesContent(t *testing.T) {
	h := newHarness(t,
		types.WorkflowStep{Type: types.StepVectorSearch, DatabaseID: "parts", SearchQuery: "widget"},
	)
	h.engine.Search = failingSearch{}
	if err := h.engine.Play(context.Background(), h.live, "wf"); err != nil {
		t.Fatal(err)
	}
	msgs := h.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].Content, "Search failed: index offline") {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	if h.step(t) != nil {
		t.Error("expected workflow to advance past the failure")
	}
}

func TestSearchPauseInstructionHalts(t *testing.T) {
	h := newHarness(t,
		types.WorkflowStep{Type: types.StepDatabaseSearch, DatabaseID: "parts", SearchQuery: "gadget", MultiStepInstruction: "Check the results."},
		types.WorkflowStep{Type: types.StepExport},
	)
	if err := h.engine.Play(context.Background(), h.live, "wf"); err != nil {
		t.Fatal(err)
	}
	if idx := h.step(t); idx == nil || *idx != 0 {
		t.Fatalf("expected halt on step 0, got %v", idx)
	}
	if h.live.Guided() != "Check the results." {
		t.Errorf("unexpected guided %q", h.live.Guided())
	}
	if len(h.messages()) != 1 {
		t.Errorf("expected one result message")
	}
}

func TestScraperStep(t *testing.T) {
	h := newHarness(t,
		types.WorkflowStep{Type: types.StepWebScraper, IncludeMeta: true},
	)
	ctx := context.Background()
	if err := h.engine.Play(ctx, h.live, "wf"); err != nil {
		t.Fatal(err)
	}
	if h.live.Guided() != scraperAdvisory {
		t.Fatalf("unexpected guided %q", h.live.Guided())
	}

	if _, err := h.engine.Submit(ctx, h.live, Input{Text: "https://example.com"}); err != nil {
		t.Fatal(err)
	}
	msgs := h.messages()
	want := "Source: https://example.com\n\n**Main Content:**\n\nPage body\n\nMetadata:\n- Description: About\n"
	if len(msgs) != 1 || msgs[0].Content != want {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	if h.step(t) != nil {
		t.Error("expected workflow finished")
	}
}

func TestScraperFailureAdvances(t *testing.T) {
	h := newHarness(t,
		types.WorkflowStep{Type: types.StepWebScraper, URL: "https://down.test"},
		types.WorkflowStep{Type: types.StepExport},
	)
	h.engine.Scraper = &fakeScraper{err: errors.New("HTTP 502")}
	if err := h.engine.Play(context.Background(), h.live, "wf"); err != nil {
		t.Fatal(err)
	}
	msgs := h.messages()
	if len(msgs) != 2 || msgs[0].Content != "Scraping failed: HTTP 502" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
}

func TestWebSearchStep(t *testing.T) {
	h := newHarness(t, types.WorkflowStep{Type: types.StepSerpSearch, SearchQuery: "golang"})
	if err := h.engine.Play(context.Background(), h.live, "wf"); err != nil {
		t.Fatal(err)
	}
	msgs := h.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].Content, "### [golang](https://example.com)") {
		t.Fatalf("unexpected messages %+v", msgs)
	}
}

func TestUnknownStepEndsRun(t *testing.T) {
	h := newHarness(t,
		types.WorkflowStep{Type: "teleport"},
		types.WorkflowStep{Type: types.StepExport},
	)
	if err := h.engine.Play(context.Background(), h.live, "wf"); err != nil {
		t.Fatal(err)
	}
	if h.step(t) != nil {
		t.Error("expected terminal state")
	}
	if len(h.messages()) != 0 {
		t.Error("steps after an unknown step must not run")
	}
}

func TestLoadMore(t *testing.T) {
	h := newHarness(t, types.WorkflowStep{Type: types.StepDatabaseSearch, DatabaseID: "parts", SearchQuery: "widget"})
	ctx := context.Background()
	if err := h.engine.Play(ctx, h.live, "wf"); err != nil {
		t.Fatal(err)
	}
	first := h.messages()[0]

	more, err := h.engine.LoadMore(ctx, h.live, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if more == nil || !strings.Contains(more.Content, "(Records 11 - 20)") || more.SearchMetadata.Offset != 20 {
		t.Fatalf("unexpected page %+v", more)
	}

	last, err := h.engine.LoadMore(ctx, h.live, more.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(last.Content, "*All matching records have been loaded.*") {
		t.Errorf("unexpected final page:\n%s", last.Content)
	}

	none, err := h.engine.LoadMore(ctx, h.live, last.ID)
	if err != nil || none != nil {
		t.Errorf("expected no-op, got %+v, %v", none, err)
	}

	if _, err := h.engine.LoadMore(ctx, h.live, "missing"); !errors.Is(err, session.ErrMessageNotFound) {
		t.Errorf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestLoadMoreIndexSource(t *testing.T) {
	h := newHarness(t)
	h.res.sources["vectors"] = &types.DatabaseSource{ID: "vectors", Name: "Docs", Type: types.SourcePGVector}
	m := &types.Message{
		ID:             types.NewMessageID(),
		Role:           types.RoleUser,
		IsSystem:       true,
		SearchMetadata: &types.SearchMetadata{DatabaseID: "vectors", SearchQuery: "q", Offset: 10, TotalResults: 15},
	}
	h.live.Append(m)

	more, err := h.engine.LoadMore(context.Background(), h.live, m.ID)
	if !errors.Is(err, ErrNoSearch) || more != nil {
		t.Errorf("expected ErrNoSearch, got %+v, %v", more, err)
	}
	if n := len(h.messages()); n != 1 {
		t.Errorf("expected nothing appended, got %d messages", n)
	}
}

func TestNextWithoutRun(t *testing.T) {
	h := newHarness(t, types.WorkflowStep{Type: types.StepExport})
	if err := h.engine.Next(context.Background(), h.live); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
}

func TestSubmitWithoutWorkflowRunsTurn(t *testing.T) {
	h := newHarness(t)
	reply, err := h.engine.Submit(context.Background(), h.live, Input{Text: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Responses["model-a"].Text != "model-a answered" {
		t.Errorf("unexpected reply %+v", reply.Responses["model-a"])
	}
	if reply.WorkflowStepIndex != nil {
		t.Error("plain turns are not tagged")
	}
}

func TestResumeRestoresContext(t *testing.T) {
	h := newHarness(t,
		types.WorkflowStep{Type: types.StepMCPTool, ToolIDs: []string{"inventory/search"}},
		types.WorkflowStep{Type: types.StepPrompt, Prompt: "Go", Model: "model-z", MultiStepInstruction: "Confirm"},
		types.WorkflowStep{Type: types.StepDatabaseSearch, DatabaseID: "parts"},
	)
	ctx := context.Background()
	if err := h.engine.Play(ctx, h.live, "wf"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.Submit(ctx, h.live, Input{Text: "Go"}); err != nil {
		t.Fatal(err)
	}

	reopened := session.NewLive(h.live.Snapshot(), "alice", "alice")
	st, err := h.engine.Resume(ctx, reopened)
	if err != nil {
		t.Fatal(err)
	}
	if st.Awaiting != AwaitQuery || st.Index == nil || *st.Index != 2 {
		t.Errorf("unexpected state %+v", st)
	}
	if reopened.Guided() != "Workflow Search: Please enter search query for Parts" {
		t.Errorf("unexpected guided %q", reopened.Guided())
	}
	if m := reopened.Models(); len(m) != 1 || m[0] != "model-z" {
		t.Errorf("unexpected models %v", m)
	}
	if tools := reopened.Tools(); len(tools) != 1 {
		t.Errorf("unexpected tools %v", tools)
	}
	if n := len(h.gen.requests); n != 1 {
		t.Errorf("resume must not generate, got %d requests", n)
	}
}
