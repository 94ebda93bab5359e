// internal/state/session.go
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/user/multichat/internal/types"
)

// SessionStore is a JSON-file-backed chat session store.
// Each session is stored at sessions/<partitionKey>/<sessionID>.json.
type SessionStore struct {
	root string
	mu   sync.RWMutex
}

// NewSessionStore creates a new file-backed SessionStore rooted at the given directory.
func NewSessionStore(root string) *SessionStore {
	return &SessionStore{root: root}
}

func (s *SessionStore) partitionDir(partitionKey string) string {
	return filepath.Join(s.root, "sessions", safeName(partitionKey))
}

func (s *SessionStore) sessionPath(id types.SessionID, partitionKey string) string {
	return filepath.Join(s.partitionDir(partitionKey), safeName(string(id))+".json")
}

// safeName keeps keys from escaping the store directory.
func safeName(key string) string {
	if key == "" {
		return "_"
	}
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	return r.Replace(key)
}

// Get returns the session with the given id in the given partition.
func (s *SessionStore) Get(_ context.Context, id types.SessionID, partitionKey string) (*types.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.sessionPath(id, partitionKey))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("session %s: %w", id, types.ErrNotFound)
		}
		return nil, fmt.Errorf("read session: %w", err)
	}

	var session types.ChatSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &session, nil
}

// Save writes the session atomically, replacing any previous version.
func (s *SessionStore) Save(_ context.Context, session *types.ChatSession, partitionKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	if err := os.MkdirAll(s.partitionDir(partitionKey), 0o755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}
	return writeAtomic(s.sessionPath(session.ID, partitionKey), data)
}

// Delete removes the session. Deleting a missing session is not an error.
func (s *SessionStore) Delete(_ context.Context, id types.SessionID, partitionKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.sessionPath(id, partitionKey)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// List returns all sessions in the partition, newest first.
func (s *SessionStore) List(_ context.Context, partitionKey string) ([]*types.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.partitionDir(partitionKey))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}

	var sessions []*types.ChatSession
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.partitionDir(partitionKey), e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read session: %w", err)
		}
		var session types.ChatSession
		if err := json.Unmarshal(data, &session); err != nil {
			return nil, fmt.Errorf("unmarshal session %s: %w", e.Name(), err)
		}
		sessions = append(sessions, &session)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Timestamp > sessions[j].Timestamp
	})
	return sessions, nil
}

// writeAtomic writes to a temp file then renames it over path.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
