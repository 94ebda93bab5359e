// Package session holds the in-memory state of open chat sessions.
package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/user/multichat/internal/types"
)

// ErrMessageNotFound is returned when a message id is not in the transcript.
var ErrMessageNotFound = errors.New("message not found")

// Live is an open session. All reads and writes of the transcript go
// through its mutex; concurrent model completions only ever replace a
// single response entry.
type Live struct {
	mu        sync.RWMutex
	s         *types.ChatSession
	partition string
	user      string

	models []string
	tools  []types.ToolDescriptor
	guided string

	busy    int
	dirty   bool
	version uint64

	onChange func(*Live)
}

// NewLive wraps s. partition is the storage partition key.
func NewLive(s *types.ChatSession, partition, user string) *Live {
	if s.Messages == nil {
		s.Messages = []*types.Message{}
	}
	return &Live{s: s, partition: partition, user: user}
}

func (l *Live) ID() types.SessionID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.s.ID
}

func (l *Live) Partition() string { return l.partition }

// Shared reports whether the session belongs to a group.
func (l *Live) Shared() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.s.IsShared
}

func (l *Live) User() string { return l.user }

// Snapshot returns a deep copy of the session.
func (l *Live) Snapshot() *types.ChatSession {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.s.Clone()
}

// Messages returns a deep copy of the transcript.
func (l *Live) Messages() []*types.Message {
	return l.Snapshot().Messages
}

// Message returns a copy of the message with id.
func (l *Live) Message(id types.MessageID) (*types.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if m := l.find(id); m != nil {
		return m.Clone(), true
	}
	return nil, false
}

func (l *Live) find(id types.MessageID) *types.Message {
	for _, m := range l.s.Messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// Update applies fn to the session under the write lock.
func (l *Live) Update(fn func(s *types.ChatSession)) {
	l.mu.Lock()
	fn(l.s)
	l.touch()
	l.mu.Unlock()
	l.changed()
}

// Append adds messages to the end of the transcript.
func (l *Live) Append(msgs ...*types.Message) {
	l.Update(func(s *types.ChatSession) {
		s.Messages = append(s.Messages, msgs...)
	})
}

// SetResponse replaces the response for model on message id.
func (l *Live) SetResponse(id types.MessageID, model string, r *types.ModelResponse) error {
	l.mu.Lock()
	m := l.find(id)
	if m == nil {
		l.mu.Unlock()
		return fmt.Errorf("set response on %s: %w", id, ErrMessageNotFound)
	}
	if m.Responses == nil {
		m.Responses = make(map[string]*types.ModelResponse)
	}
	m.Responses[model] = r.Clone()
	l.touch()
	l.mu.Unlock()
	l.changed()
	return nil
}

// UpdateResponse applies fn to a copy of the model's response and stores
// the result. fn may return false to leave the response untouched.
func (l *Live) UpdateResponse(id types.MessageID, model string, fn func(r *types.ModelResponse) bool) error {
	l.mu.Lock()
	m := l.find(id)
	if m == nil {
		l.mu.Unlock()
		return fmt.Errorf("update response on %s: %w", id, ErrMessageNotFound)
	}
	cur, ok := m.Responses[model]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("no response from %s on %s: %w", model, id, ErrMessageNotFound)
	}
	next := cur.Clone()
	if !fn(next) {
		l.mu.Unlock()
		return nil
	}
	m.Responses[model] = next
	l.touch()
	l.mu.Unlock()
	l.changed()
	return nil
}

// touch must be called with mu held.
func (l *Live) touch() {
	l.dirty = true
	l.version++
}

func (l *Live) changed() {
	if l.onChange != nil {
		l.onChange(l)
	}
}

// Begin marks a generation as in flight. Every Begin needs one End.
func (l *Live) Begin() {
	l.mu.Lock()
	l.busy++
	l.mu.Unlock()
}

// End marks a generation as finished.
func (l *Live) End() {
	l.mu.Lock()
	if l.busy > 0 {
		l.busy--
	}
	l.mu.Unlock()
	l.changed()
}

// Busy reports whether any generation is in flight or any response is
// still loading.
func (l *Live) Busy() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.busy > 0 {
		return true
	}
	for _, m := range l.s.Messages {
		for _, r := range m.Responses {
			if r.Status == types.StatusLoading {
				return true
			}
		}
	}
	return false
}

// Dirty reports whether there are changes not yet saved.
func (l *Live) Dirty() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.dirty
}

// snapshotForSave returns a copy and the version it reflects.
func (l *Live) snapshotForSave() (*types.ChatSession, uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.s.Clone(), l.version
}

// markSaved clears the dirty flag if nothing changed since version.
func (l *Live) markSaved(version uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.version == version {
		l.dirty = false
	}
}

// Replace swaps in a freshly loaded copy. It refuses while busy or dirty
// and reports false when s matches the open copy.
func (l *Live) Replace(s *types.ChatSession) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.busy > 0 || l.dirty {
		return false
	}
	if s.Messages == nil {
		s.Messages = []*types.Message{}
	}
	if sameSession(l.s, s) {
		return false
	}
	l.s = s
	return true
}

func sameSession(a, b *types.ChatSession) bool {
	x, err := json.Marshal(a)
	if err != nil {
		return false
	}
	y, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(x, y)
}

// Models returns the models a plain turn fans out to.
func (l *Live) Models() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.models...)
}

func (l *Live) SetModels(models []string) {
	l.mu.Lock()
	l.models = append([]string(nil), models...)
	l.mu.Unlock()
}

// Tools returns the tools enabled for this session.
func (l *Live) Tools() []types.ToolDescriptor {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]types.ToolDescriptor(nil), l.tools...)
}

func (l *Live) SetTools(tools []types.ToolDescriptor) {
	l.mu.Lock()
	l.tools = append([]types.ToolDescriptor(nil), tools...)
	l.mu.Unlock()
}

// Guided returns the advisory shown while a workflow waits for input.
func (l *Live) Guided() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.guided
}

func (l *Live) SetGuided(text string) {
	l.mu.Lock()
	l.guided = text
	l.mu.Unlock()
}

// Step returns the current workflow id and step index.
func (l *Live) Step() (string, *int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.s.CurrentWorkflowStep == nil {
		return l.s.WorkflowID, nil
	}
	idx := *l.s.CurrentWorkflowStep
	return l.s.WorkflowID, &idx
}

// Run returns the id of the current workflow run.
func (l *Live) Run() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.s.WorkflowRun
}

// StartRun begins a new run of workflowID before its first step and
// returns the run id. Step messages of earlier runs no longer count.
func (l *Live) StartRun(workflowID string) string {
	run := string(types.NewRunID())
	l.Update(func(s *types.ChatSession) {
		s.WorkflowID = workflowID
		s.WorkflowRun = run
		s.CurrentWorkflowStep = nil
	})
	return run
}

// SetStep sets the workflow position. A nil index ends the workflow run.
func (l *Live) SetStep(workflowID string, idx *int) {
	l.Update(func(s *types.ChatSession) {
		s.WorkflowID = workflowID
		if idx == nil {
			s.CurrentWorkflowStep = nil
			return
		}
		v := *idx
		s.CurrentWorkflowStep = &v
	})
}
