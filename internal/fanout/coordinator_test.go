package fanout

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/user/multichat/internal/session"
	"github.com/user/multichat/internal/state"
	"github.com/user/multichat/internal/types"
)

type fakeGenerator struct {
	mu       sync.Mutex
	texts    map[string]string
	errs     map[string]error
	delays   map[string]time.Duration
	requests []*types.GenerationRequest
}

func (g *fakeGenerator) Generate(ctx context.Context, req *types.GenerationRequest) (string, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	delay := g.delays[req.Model]
	err := g.errs[req.Model]
	text, ok := g.texts[req.Model]
	g.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return "", err
	}
	if !ok {
		text = req.Model + ": " + req.Prompt
	}
	return text, nil
}

type recorder struct {
	mu      sync.Mutex
	updates []*types.Update
}

func (r *recorder) Publish(_ context.Context, u *types.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) count(typ string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, u := range r.updates {
		if u.Type == typ {
			n++
		}
	}
	return n
}

func newLive() *session.Live {
	return session.NewLive(&types.ChatSession{ID: types.NewSessionID()}, "alice", "alice")
}

func TestRunIsolatesModelFailures(t *testing.T) {
	gen := &fakeGenerator{
		texts:  map[string]string{"model-a": "answer from a"},
		errs:   map[string]error{"model-b": errors.New("HTTP 503")},
		delays: map[string]time.Duration{"model-a": 30 * time.Millisecond},
	}
	pub := &recorder{}
	c := New(gen, pub, nil)
	live := newLive()

	reply, err := c.Run(context.Background(), live, Turn{Text: "compare", Models: []string{"model-a", "model-b", "model-a"}})
	if err != nil {
		t.Fatal(err)
	}

	if len(reply.Responses) != 2 {
		t.Fatalf("expected one response per unique model, got %d", len(reply.Responses))
	}
	a, b := reply.Responses["model-a"], reply.Responses["model-b"]
	if a.Status != types.StatusSuccess || a.Text != "answer from a" {
		t.Errorf("model-a: %+v", a)
	}
	if len(a.Versions) != 1 || a.Versions[0].Label != "Original" {
		t.Errorf("model-a versions: %+v", a.Versions)
	}
	if b.Status != types.StatusError || b.Error != "HTTP 503" {
		t.Errorf("model-b: %+v", b)
	}
	if len(b.Versions) != 0 || b.CurrentVersionIndex != 0 {
		t.Errorf("error response must have no versions: %+v", b)
	}

	msgs := live.Messages()
	if len(msgs) != 2 || msgs[0].Role != types.RoleUser || msgs[1].Role != types.RoleAssistant {
		t.Fatalf("unexpected transcript: %+v", msgs)
	}
	if live.Busy() {
		t.Error("session should be idle after Run")
	}
	if pub.count(types.UpdateMessage) != 2 || pub.count(types.UpdateResponse) != 2 {
		t.Errorf("unexpected updates: %d messages, %d responses", pub.count(types.UpdateMessage), pub.count(types.UpdateResponse))
	}
}

func TestRunPassesHistoryAndSystemInstruction(t *testing.T) {
	gen := &fakeGenerator{}
	c := New(gen, nil, nil)
	live := newLive()
	live.Append(&types.Message{ID: types.NewMessageID(), Role: types.RoleUser, Content: "earlier"})

	_, err := c.Run(context.Background(), live, Turn{Text: "now", Models: []string{"m"}, StepIndex: types.IntPtr(2)})
	if err != nil {
		t.Fatal(err)
	}
	req := gen.requests[0]
	if len(req.History) != 1 || req.History[0].Content != "earlier" {
		t.Errorf("history should hold only prior messages: %+v", req.History)
	}
	if !strings.HasPrefix(req.SystemInstruction, "You are a helpful assistant. Today is ") {
		t.Errorf("expected default system instruction, got %q", req.SystemInstruction)
	}
	msgs := live.Messages()
	for _, m := range msgs[1:] {
		if m.WorkflowStepIndex == nil || *m.WorkflowStepIndex != 2 {
			t.Errorf("expected step index 2 on %s message", m.Role)
		}
	}
}

func TestRunRejectsEmptyTurns(t *testing.T) {
	c := New(&fakeGenerator{}, nil, nil)
	if _, err := c.Run(context.Background(), newLive(), Turn{Text: "hi"}); !errors.Is(err, ErrNoModels) {
		t.Errorf("expected ErrNoModels, got %v", err)
	}
	if _, err := c.Run(context.Background(), newLive(), Turn{Models: []string{"m"}}); !errors.Is(err, ErrEmptyTurn) {
		t.Errorf("expected ErrEmptyTurn, got %v", err)
	}
}

func TestRunLargeInputBecomesAttachment(t *testing.T) {
	gen := &fakeGenerator{texts: map[string]string{"m": "ok"}}
	c := New(gen, nil, nil)
	live := newLive()

	big := strings.Repeat("word ", LargeInputChars/5+10)
	if _, err := c.Run(context.Background(), live, Turn{Text: big, Models: []string{"m"}}); err != nil {
		t.Fatal(err)
	}

	req := gen.requests[0]
	if !strings.HasPrefix(req.Prompt, "[Large text input converted to attachment]\n\n") || !strings.HasSuffix(req.Prompt, "...") {
		t.Errorf("unexpected prompt: %q", req.Prompt[:60])
	}
	if len(req.Attachments) != 1 || !strings.HasPrefix(req.Attachments[0].Name, "large-input-") {
		t.Fatalf("expected large input attachment, got %+v", req.Attachments)
	}
	if req.Attachments[0].Statistics.Pages != -1 {
		t.Error("expected pages -1 on pasted text")
	}
}

func TestRunExcludesOversizedDocuments(t *testing.T) {
	gen := &fakeGenerator{texts: map[string]string{"m": "summary"}}
	docs := state.NewDocumentStore(t.TempDir())
	c := New(gen, nil, docs)
	live := newLive()

	huge := strings.Repeat("lorem ", DocumentWordLimit+1)
	small := "short note"
	reply, err := c.Run(context.Background(), live, Turn{
		Text:   "summarize",
		Models: []string{"m"},
		Attachments: []types.Attachment{
			{Name: "huge.txt", Type: "text/plain", Content: &huge},
			{Name: "note.txt", Type: "text/plain", Content: &small},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	req := gen.requests[0]
	if len(req.Attachments) != 1 || req.Attachments[0].Name != "note.txt" {
		t.Errorf("expected only the small document in context: %+v", req.Attachments)
	}
	text := reply.Responses["m"].Text
	if !strings.HasPrefix(text, "> **Document Limit Notice**") || !strings.Contains(text, "**huge.txt**") {
		t.Errorf("expected notice prefix, got %q", text)
	}
	if !strings.HasSuffix(text, "summary") {
		t.Errorf("expected model text after notice, got %q", text)
	}

	stored := live.Messages()[0].Attachments[0]
	if !stored.ExcludeFromContext || stored.StorageKey == "" || stored.Content != nil {
		t.Errorf("expected huge.txt parked in the briefcase: %+v", stored)
	}
	if _, err := docs.Get(context.Background(), types.DocumentID(stored.StorageKey)); err != nil {
		t.Errorf("document not stored: %v", err)
	}
}

func TestRunOnlyExcludedDocuments(t *testing.T) {
	gen := &fakeGenerator{}
	c := New(gen, nil, state.NewDocumentStore(t.TempDir()))
	live := newLive()

	huge := strings.Repeat("lorem ", DocumentWordLimit+1)
	reply, err := c.Run(context.Background(), live, Turn{
		Models:      []string{"a", "b"},
		Attachments: []types.Attachment{{Name: "huge.txt", Type: "text/plain", Content: &huge}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(gen.requests) != 0 {
		t.Errorf("no backend should be called, got %d", len(gen.requests))
	}
	for model, r := range reply.Responses {
		if r.Status != types.StatusSuccess || !strings.HasSuffix(r.Text, NoContextText) {
			t.Errorf("%s: %+v", model, r)
		}
		if len(r.Versions) != 1 || r.Versions[0].Label != "Original" {
			t.Errorf("%s versions: %+v", model, r.Versions)
		}
	}
}

func TestEventLogSkipsLoading(t *testing.T) {
	events := state.NewEventStore(t.TempDir())
	log := EventLog{Recorder: events}
	ctx := context.Background()
	sid := types.NewSessionID()

	log.Publish(ctx, &types.Update{Type: types.UpdateResponse, SessionID: sid, Response: &types.ModelResponse{Status: types.StatusLoading}})
	log.Publish(ctx, &types.Update{Type: types.UpdateResponse, SessionID: sid, Response: &types.ModelResponse{Status: types.StatusSuccess}})
	log.Publish(ctx, &types.Update{Type: types.UpdateMessage, SessionID: sid, Message: &types.Message{}})

	n, err := events.Count(ctx, sid)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 recorded events, got %d", n)
	}
}
