package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/multichat/internal/types"
)

const maxEventLine = 4 << 20

// EventStore is the append-only update log of each session, one JSON
// line per terminal response, workflow step or advisory. Clients that
// missed websocket updates replay it with Since.
type EventStore struct {
	root string

	mu    sync.Mutex
	locks map[types.SessionID]*sync.Mutex
	next  map[types.SessionID]int64
}

// NewEventStore keeps logs under root/events.
func NewEventStore(root string) *EventStore {
	return &EventStore{
		root:  root,
		locks: make(map[types.SessionID]*sync.Mutex),
		next:  make(map[types.SessionID]int64),
	}
}

func (e *EventStore) lock(id types.SessionID) func() {
	e.mu.Lock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (e *EventStore) path(id types.SessionID) string {
	return filepath.Join(e.root, "events", safeName(string(id))+".jsonl")
}

// scan calls fn for each stored event in order. A missing log is empty.
func (e *EventStore) scan(id types.SessionID, fn func(*types.Event)) error {
	f, err := os.Open(e.path(id))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open update log: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxEventLine)
	for sc.Scan() {
		var ev types.Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			return fmt.Errorf("decode update %s: %w", id, err)
		}
		fn(&ev)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("scan update log: %w", err)
	}
	return nil
}

// lastSeq is cached after the first scan. Caller holds the session lock.
func (e *EventStore) lastSeq(id types.SessionID) (int64, error) {
	e.mu.Lock()
	seq, ok := e.next[id]
	e.mu.Unlock()
	if ok {
		return seq, nil
	}
	err := e.scan(id, func(ev *types.Event) { seq = ev.Seq })
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	e.next[id] = seq
	e.mu.Unlock()
	return seq, nil
}

// Append stores event with the next sequence number of its session.
func (e *EventStore) Append(_ context.Context, event *types.Event) error {
	defer e.lock(event.SessionID)()

	p := e.path(event.SessionID)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create events dir: %w", err)
	}
	seq, err := e.lastSeq(event.SessionID)
	if err != nil {
		return err
	}
	event.Seq = seq + 1
	if event.ID == "" {
		event.ID = types.NewEventID()
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	f, err := os.OpenFile(p, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open update log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	e.mu.Lock()
	e.next[event.SessionID] = event.Seq
	e.mu.Unlock()
	return nil
}

// Record marshals an update payload and appends it.
func (e *EventStore) Record(ctx context.Context, sessionID types.SessionID, typ, source string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return e.Append(ctx, &types.Event{
		SessionID: sessionID,
		Type:      typ,
		Source:    source,
		Payload:   raw,
	})
}

// Since returns the events after seq, oldest first.
func (e *EventStore) Since(_ context.Context, sessionID types.SessionID, seq int64) ([]*types.Event, error) {
	defer e.lock(sessionID)()

	var out []*types.Event
	err := e.scan(sessionID, func(ev *types.Event) {
		if ev.Seq > seq {
			out = append(out, ev)
		}
	})
	return out, err
}

// Tail returns the last limit events.
func (e *EventStore) Tail(_ context.Context, sessionID types.SessionID, limit int) ([]*types.Event, error) {
	defer e.lock(sessionID)()

	var out []*types.Event
	err := e.scan(sessionID, func(ev *types.Event) {
		out = append(out, ev)
		if len(out) > limit {
			out = out[1:]
		}
	})
	return out, err
}

// Count returns the number of events logged for the session.
func (e *EventStore) Count(_ context.Context, sessionID types.SessionID) (int64, error) {
	defer e.lock(sessionID)()
	return e.lastSeq(sessionID)
}
