package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS blobs (
	owner       TEXT        NOT NULL,
	path        TEXT        NOT NULL,
	data        BYTEA       NOT NULL,
	modified_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (owner, path)
)`

// postgresStore persists blobs in a shared Postgres database.
type postgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to the DSN and bootstraps the schema.
func OpenPostgres(ctx context.Context, dsn string) (Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("store: postgres dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connecting to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: bootstrapping schema: %w", err)
	}
	return &postgresStore{pool: pool}, nil
}

func (s *postgresStore) Get(ctx context.Context, owner, path string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM blobs WHERE owner = $1 AND path = $2`, owner, path,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get: %w", err)
	}
	return data, nil
}

func (s *postgresStore) Put(ctx context.Context, owner, path string, data []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO blobs (owner, path, data, modified_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner, path) DO UPDATE SET data = EXCLUDED.data, modified_at = EXCLUDED.modified_at`,
		owner, path, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: put: %w", err)
	}
	return nil
}

func (s *postgresStore) Delete(ctx context.Context, owner, path string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM blobs WHERE owner = $1 AND path = $2`, owner, path)
	if err != nil {
		return fmt.Errorf("store: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *postgresStore) List(ctx context.Context, owner, prefix string) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT path, LENGTH(data), modified_at FROM blobs
		WHERE owner = $1 AND path LIKE $2 ESCAPE '\' ORDER BY path`,
		owner, pgLikePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Path, &e.Size, &e.ModifiedAt); err != nil {
			return nil, fmt.Errorf("store: list scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}

func pgLikePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
