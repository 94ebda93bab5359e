// Package state provides filesystem- and SQLite-backed storage implementations.
package state

import "github.com/user/multichat/internal/types"

// Compile-time interface compliance checks.
var _ types.SessionStore = (*SessionStore)(nil)
var _ types.EventStore = (*EventStore)(nil)
var _ types.DocumentStore = (*DocumentStore)(nil)
var _ types.ResourceStore = (*ResourceStore)(nil)
