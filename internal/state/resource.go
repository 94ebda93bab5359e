// internal/state/resource.go
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/user/multichat/internal/types"
)

const resourceSchema = `
CREATE TABLE IF NOT EXISTS resources (
	kind          TEXT NOT NULL,
	id            TEXT NOT NULL,
	partition_key TEXT NOT NULL,
	body          TEXT NOT NULL,
	updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (kind, id, partition_key)
);
CREATE INDEX IF NOT EXISTS idx_resources_partition ON resources(kind, partition_key);
`

// ResourceStore keeps workflows, personas and database sources in SQLite.
type ResourceStore struct {
	db *sql.DB
}

// OpenResourceStore opens (and migrates) the SQLite database at path.
func OpenResourceStore(ctx context.Context, path string) (*ResourceStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database at %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, resourceSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate resources: %w", err)
	}
	return &ResourceStore{db: db}, nil
}

// Close releases the database handle.
func (r *ResourceStore) Close() error {
	return r.db.Close()
}

// Get decodes the stored JSON document into out.
func (r *ResourceStore) Get(ctx context.Context, kind, id, partitionKey string, out any) error {
	var body string
	err := r.db.QueryRowContext(ctx,
		`SELECT body FROM resources WHERE kind = ? AND id = ? AND partition_key = ?`,
		kind, id, partitionKey,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, types.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("query %s: %w", kind, err)
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("unmarshal %s: %w", kind, err)
	}
	return nil
}

// Put inserts or replaces a document.
func (r *ResourceStore) Put(ctx context.Context, kind, id, partitionKey string, value any) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", kind, err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO resources (kind, id, partition_key, body, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(kind, id, partition_key) DO UPDATE SET body = excluded.body, updated_at = CURRENT_TIMESTAMP`,
		kind, id, partitionKey, string(body),
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", kind, err)
	}
	return nil
}

// Delete removes a document. Deleting a missing document is not an error.
func (r *ResourceStore) Delete(ctx context.Context, kind, id, partitionKey string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM resources WHERE kind = ? AND id = ? AND partition_key = ?`,
		kind, id, partitionKey,
	); err != nil {
		return fmt.Errorf("delete %s: %w", kind, err)
	}
	return nil
}

// List returns the raw JSON of every document of kind in the partition.
func (r *ResourceStore) List(ctx context.Context, kind, partitionKey string) ([][]byte, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT body FROM resources WHERE kind = ? AND partition_key = ? ORDER BY id`,
		kind, partitionKey,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		out = append(out, []byte(body))
	}
	return out, rows.Err()
}

// GetPersona is a typed convenience over Get.
func (r *ResourceStore) GetPersona(ctx context.Context, id, partitionKey string) (*types.Persona, error) {
	var p types.Persona
	if err := r.Get(ctx, types.KindPersona, id, partitionKey, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetSource is a typed convenience over Get.
func (r *ResourceStore) GetSource(ctx context.Context, id, partitionKey string) (*types.DatabaseSource, error) {
	var d types.DatabaseSource
	if err := r.Get(ctx, types.KindSource, id, partitionKey, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
