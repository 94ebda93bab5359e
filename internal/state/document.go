// internal/state/document.go
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/user/multichat/internal/types"
)

// documentWrapper is the on-disk format for briefcase documents.
type documentWrapper struct {
	Meta    *types.Document `json:"meta"`
	Content string          `json:"content"`
}

// DocumentStore keeps oversized attachments out of the conversation context.
// Files are located at documents/<sessionID>/<documentID>.json.
type DocumentStore struct {
	root string
}

// NewDocumentStore creates a new file-backed DocumentStore rooted at the given directory.
func NewDocumentStore(root string) *DocumentStore {
	return &DocumentStore{root: root}
}

func (d *DocumentStore) sessionDir(sessionID types.SessionID) string {
	return filepath.Join(d.root, "documents", safeName(string(sessionID)))
}

// find locates a document file by ID across all sessions.
func (d *DocumentStore) find(id types.DocumentID) (*documentWrapper, error) {
	pattern := filepath.Join(d.root, "documents", "*", safeName(string(id))+".json")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob document: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("document %s: %w", id, types.ErrNotFound)
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		return nil, fmt.Errorf("read document file: %w", err)
	}
	var wrapper documentWrapper
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return &wrapper, nil
}

// Put stores a document's extracted text and returns its metadata.
func (d *DocumentStore) Put(_ context.Context, sessionID types.SessionID, name, mimeType, content string) (*types.Document, error) {
	meta := &types.Document{
		ID:        types.NewDocumentID(),
		SessionID: sessionID,
		Name:      name,
		MimeType:  mimeType,
		Words:     len(strings.Fields(content)),
		CreatedAt: time.Now(),
	}

	data, err := json.MarshalIndent(&documentWrapper{Meta: meta, Content: content}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}

	dir := d.sessionDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create documents dir: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, string(meta.ID)+".json"), data); err != nil {
		return nil, err
	}
	return meta, nil
}

// Get returns the full text of a document.
func (d *DocumentStore) Get(_ context.Context, id types.DocumentID) (string, error) {
	wrapper, err := d.find(id)
	if err != nil {
		return "", err
	}
	return wrapper.Content, nil
}

// Excerpt returns a slice of the document, centred on query when it occurs.
func (d *DocumentStore) Excerpt(_ context.Context, id types.DocumentID, query string, maxTokens int) (string, error) {
	wrapper, err := d.find(id)
	if err != nil {
		return "", err
	}

	raw := wrapper.Content

	// Roughly 4 chars per token
	maxChars := maxTokens * 4
	if maxChars <= 0 {
		maxChars = len(raw)
	}

	if query != "" {
		idx := strings.Index(strings.ToLower(raw), strings.ToLower(query))
		if idx >= 0 {
			start := idx - maxChars/2
			if start < 0 {
				start = 0
			}
			end := start + maxChars
			if end > len(raw) {
				end = len(raw)
			}
			return raw[start:end], nil
		}
	}

	if len(raw) > maxChars {
		return raw[:maxChars], nil
	}
	return raw, nil
}
