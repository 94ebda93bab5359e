package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/user/multichat/internal/types"
)

// DefaultAutosave is the debounce applied to autosaves.
const DefaultAutosave = 2 * time.Second

// Manager opens sessions and keeps them persisted.
type Manager struct {
	store    types.SessionStore
	debounce time.Duration

	mu     sync.Mutex
	live   map[types.SessionID]*Live
	timers map[types.SessionID]*time.Timer
	closed bool
}

// NewManager creates a Manager. debounce <= 0 uses DefaultAutosave.
func NewManager(store types.SessionStore, debounce time.Duration) *Manager {
	if debounce <= 0 {
		debounce = DefaultAutosave
	}
	return &Manager{
		store:    store,
		debounce: debounce,
		live:     make(map[types.SessionID]*Live),
		timers:   make(map[types.SessionID]*time.Timer),
	}
}

func (m *Manager) track(l *Live) *Live {
	l.onChange = m.schedule
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.live[l.s.ID]; ok {
		return existing
	}
	m.live[l.s.ID] = l
	return l
}

// Create starts a new empty session and saves it.
func (m *Manager) Create(ctx context.Context, user, title string) (*Live, error) {
	if title == "" {
		title = "New Chat"
	}
	s := &types.ChatSession{
		ID:        types.NewSessionID(),
		Title:     title,
		Timestamp: time.Now().UnixMilli(),
		Messages:  []*types.Message{},
	}
	l := NewLive(s, s.PartitionKey(user), user)
	if err := m.store.Save(ctx, s, l.partition); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return m.track(l), nil
}

// Open returns the live session, loading it from the store if needed.
func (m *Manager) Open(ctx context.Context, id types.SessionID, partition, user string) (*Live, error) {
	if l, ok := m.Get(id); ok {
		return l, nil
	}
	s, err := m.store.Get(ctx, id, partition)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	return m.track(NewLive(s, partition, user)), nil
}

// Get returns an already open session.
func (m *Manager) Get(id types.SessionID) (*Live, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.live[id]
	return l, ok
}

// All returns the open sessions in no particular order.
func (m *Manager) All() []*Live {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Live, 0, len(m.live))
	for _, l := range m.live {
		out = append(out, l)
	}
	return out
}

// List returns the stored sessions of a partition.
func (m *Manager) List(ctx context.Context, partition string) ([]*types.ChatSession, error) {
	return m.store.List(ctx, partition)
}

// Delete removes a session from memory and storage.
func (m *Manager) Delete(ctx context.Context, id types.SessionID, partition string) error {
	m.mu.Lock()
	delete(m.live, id)
	if t, ok := m.timers[id]; ok {
		t.Stop()
		delete(m.timers, id)
	}
	m.mu.Unlock()
	return m.store.Delete(ctx, id, partition)
}

// Save persists l now.
func (m *Manager) Save(ctx context.Context, l *Live) error {
	s, version := l.snapshotForSave()
	if err := m.store.Save(ctx, s, l.partition); err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	l.markSaved(version)
	return nil
}

// schedule (re)arms the debounced autosave for l.
func (m *Manager) schedule(l *Live) {
	id := l.ID()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if t, ok := m.timers[id]; ok {
		t.Stop()
	}
	m.timers[id] = time.AfterFunc(m.debounce, func() { m.autosave(l) })
}

func (m *Manager) autosave(l *Live) {
	if !l.Dirty() {
		return
	}
	if l.Busy() {
		// End() re-arms the timer once the last generation finishes.
		return
	}
	if err := m.Save(context.Background(), l); err != nil {
		slog.Error("autosave failed", "session_id", string(l.ID()), "error", err)
	}
}

// Refresh reloads l from the store unless it is busy or has unsaved
// changes. It reports whether the in-memory copy was replaced.
func (m *Manager) Refresh(ctx context.Context, l *Live) (bool, error) {
	if l.Busy() || l.Dirty() {
		return false, nil
	}
	s, err := m.store.Get(ctx, l.ID(), l.partition)
	if err != nil {
		return false, fmt.Errorf("refresh session: %w", err)
	}
	return l.Replace(s), nil
}

// BranchOptions select what a branch carries forward.
type BranchOptions struct {
	MessageID types.MessageID
	Model     string
	Title     string
	// CarryWorkflow keeps the workflow id and resumes at the message's
	// step index, or the source's current step when the message has none.
	CarryWorkflow bool
}

// Branch creates a new session holding the source history up to and
// including opts.MessageID, keeping only opts.Model's response on it.
func (m *Manager) Branch(ctx context.Context, src *Live, opts BranchOptions) (*Live, error) {
	snap := src.Snapshot()
	idx := -1
	for i, msg := range snap.Messages {
		if msg.ID == opts.MessageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("branch at %s: %w", opts.MessageID, ErrMessageNotFound)
	}

	msgs := snap.Messages[:idx+1]
	target := msgs[idx]
	if r, ok := target.Responses[opts.Model]; ok {
		target.Responses = map[string]*types.ModelResponse{opts.Model: r}
	}

	title := opts.Title
	if title == "" {
		title = "New Branch"
	}
	s := &types.ChatSession{
		ID:        types.NewSessionID(),
		Title:     title,
		Timestamp: time.Now().UnixMilli(),
		Messages:  msgs,
		FolderID:  snap.FolderID,
		PersonaID: snap.PersonaID,
	}
	if opts.CarryWorkflow {
		s.WorkflowID = snap.WorkflowID
		s.WorkflowRun = snap.WorkflowRun
		if target.WorkflowStepIndex != nil {
			s.CurrentWorkflowStep = types.IntPtr(*target.WorkflowStepIndex)
		} else {
			s.CurrentWorkflowStep = snap.CurrentWorkflowStep
		}
	}

	l := NewLive(s, s.PartitionKey(src.user), src.user)
	if opts.Model != "" {
		l.SetModels([]string{opts.Model})
	}
	if err := m.store.Save(ctx, s, l.partition); err != nil {
		return nil, fmt.Errorf("save branch: %w", err)
	}
	return m.track(l), nil
}

// Close stops pending autosaves and flushes every dirty session.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
	open := make([]*Live, 0, len(m.live))
	for _, l := range m.live {
		open = append(open, l)
	}
	m.mu.Unlock()

	var firstErr error
	for _, l := range open {
		if !l.Dirty() {
			continue
		}
		if err := m.Save(ctx, l); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
