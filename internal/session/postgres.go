package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hray3182/DoseLine/internal/database"
)

// PostgresStore implements Store on the session_states table.
type PostgresStore struct {
	db  *database.DB
	ttl time.Duration
}

func NewPostgresStore(db *database.DB, ttl time.Duration) *PostgresStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &PostgresStore{db: db, ttl: ttl}
}

// Create implements Store.
func (s *PostgresStore) Create(ctx context.Context, st *State) error {
	now := time.Now()
	st.CreatedAt = now
	st.UpdatedAt = now
	st.Version = 1

	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	_, err = s.db.Pool.Exec(ctx, `
		INSERT INTO session_states (session_id, version, data, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $4, $5)
		ON CONFLICT (session_id) DO UPDATE
		SET version = EXCLUDED.version, data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at, expires_at = EXCLUDED.expires_at
	`, st.ID, st.Version, data, now, now.Add(s.ttl))
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// Get implements Store. Expired rows read as missing.
func (s *PostgresStore) Get(ctx context.Context, id string) (*State, error) {
	var data []byte
	err := s.db.Pool.QueryRow(ctx, `
		SELECT data FROM session_states
		WHERE session_id = $1 AND expires_at > NOW()
	`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &st, nil
}

// Update implements Store.
func (s *PostgresStore) Update(ctx context.Context, st *State) error {
	next := *st
	next.Version++
	next.UpdatedAt = time.Now()

	data, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	tag, err := s.db.Pool.Exec(ctx, `
		UPDATE session_states
		SET version = $1, data = $2, updated_at = $3, expires_at = $4
		WHERE session_id = $5 AND version = $6
	`, next.Version, data, next.UpdatedAt, next.UpdatedAt.Add(s.ttl), st.ID, st.Version)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		err := s.db.Pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM session_states WHERE session_id = $1)",
			st.ID,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check session: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}

	st.Version = next.Version
	st.UpdatedAt = next.UpdatedAt
	return nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.Pool.Exec(ctx, "DELETE FROM session_states WHERE session_id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT session_id FROM session_states
		WHERE expires_at > NOW()
		ORDER BY session_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close implements Store. The pool belongs to the caller.
func (s *PostgresStore) Close() error {
	return nil
}
