// File: internal/store/postgres.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// DBPool abstracts pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// PGStore keeps every document as a jsonb row in a single table, preserving
// the whole-document read-modify-write contract of the Store interface.
type PGStore struct {
	pool DBPool
	log  *zap.Logger
}

const createDocumentsTable = `
    CREATE TABLE IF NOT EXISTS documents (
        name TEXT PRIMARY KEY,
        body JSONB NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL
    );
`

// NewPGStore verifies the connection and ensures the documents table exists.
func NewPGStore(ctx context.Context, pool DBPool, logger *zap.Logger) (*PGStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, createDocumentsTable); err != nil {
		return nil, fmt.Errorf("failed to ensure documents table: %w", err)
	}
	return &PGStore{pool: pool, log: logger.Named("store")}, nil
}

// Read implements Store.
func (s *PGStore) Read(ctx context.Context, name string, v any) error {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT body FROM documents WHERE name = $1;`, name).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("failed to read document %s: %w", name, err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to decode document %s: %w", name, err)
	}
	return nil
}

// Write implements Store.
func (s *PGStore) Write(ctx context.Context, name string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", name, err)
	}
	_, err = s.pool.Exec(ctx, `
        INSERT INTO documents (name, body, updated_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (name) DO UPDATE SET
            body = EXCLUDED.body,
            updated_at = EXCLUDED.updated_at;
    `, name, body, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to write document %s: %w", name, err)
	}
	return nil
}

// List implements Store.
func (s *PGStore) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT name FROM documents WHERE name LIKE $1 || '%' ORDER BY name;`, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents under %q: %w", prefix, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan document name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return names, nil
}

// Delete implements Store.
func (s *PGStore) Delete(ctx context.Context, name string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE name = $1;`, name); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", name, err)
	}
	return nil
}

// Close implements Store.
func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}

var _ Store = (*PGStore)(nil)
