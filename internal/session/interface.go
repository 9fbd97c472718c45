// Package session stores dialogue state between turns.
package session

import (
	"context"
	"errors"
)

var (
	ErrNotFound         = errors.New("session not found")
	ErrVersionConflict  = errors.New("session version conflict")
	ErrInvalidStoreType = errors.New("invalid session store type")
	ErrInvalidConfig    = errors.New("invalid session store configuration")
)

// Store defines the interface for session storage operations.
type Store interface {
	// Create stores a new session with Version set to 1.
	Create(ctx context.Context, s *State) error

	// Get retrieves a session by ID.
	// Returns nil if the session is not found (not an error).
	Get(ctx context.Context, id string) (*State, error)

	// Update replaces a session with optimistic locking. The stored version
	// must equal s.Version; on success s.Version is incremented.
	// Returns ErrVersionConflict if the version does not match and
	// ErrNotFound if the session does not exist.
	Update(ctx context.Context, s *State) error

	// Delete deletes a session by ID.
	Delete(ctx context.Context, id string) error

	// List returns the IDs of every stored session.
	List(ctx context.Context) ([]string, error)

	// Close closes the store and releases any resources.
	Close() error
}
