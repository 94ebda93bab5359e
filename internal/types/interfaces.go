// internal/types/interfaces.go
package types

import (
	"context"
	"errors"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

type SessionStore interface {
	Get(ctx context.Context, id SessionID, partitionKey string) (*ChatSession, error)
	Save(ctx context.Context, session *ChatSession, partitionKey string) error
	Delete(ctx context.Context, id SessionID, partitionKey string) error
	List(ctx context.Context, partitionKey string) ([]*ChatSession, error)
}

type EventStore interface {
	Append(ctx context.Context, event *Event) error
	Since(ctx context.Context, sessionID SessionID, seq int64) ([]*Event, error)
	Tail(ctx context.Context, sessionID SessionID, limit int) ([]*Event, error)
	Count(ctx context.Context, sessionID SessionID) (int64, error)
}

type DocumentStore interface {
	Put(ctx context.Context, sessionID SessionID, name, mimeType, content string) (*Document, error)
	Get(ctx context.Context, id DocumentID) (string, error)
	Excerpt(ctx context.Context, id DocumentID, query string, maxTokens int) (string, error)
}

// Resource kinds held by a ResourceStore.
const (
	KindWorkflow = "workflow"
	KindPersona  = "persona"
	KindSource   = "database_source"
)

// ResourceStore holds workflows, personas and database sources as JSON
// documents keyed by (kind, id, partitionKey).
type ResourceStore interface {
	Get(ctx context.Context, kind, id, partitionKey string, out any) error
	Put(ctx context.Context, kind, id, partitionKey string, value any) error
	Delete(ctx context.Context, kind, id, partitionKey string) error
	List(ctx context.Context, kind, partitionKey string) ([][]byte, error)
}
