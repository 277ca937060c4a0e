package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS blobs (
	owner       TEXT    NOT NULL,
	path        TEXT    NOT NULL,
	data        BLOB    NOT NULL,
	modified_at INTEGER NOT NULL,
	PRIMARY KEY (owner, path)
);
CREATE INDEX IF NOT EXISTS idx_blobs_owner_path ON blobs (owner, path);
`

// sqliteStore persists blobs in a single SQLite database file.
type sqliteStore struct {
	db *sql.DB
}

// OpenSQLite creates or opens the database at path, bootstraps the schema
// and enables WAL mode. Per-connection PRAGMAs ride on the DSN so every
// pooled connection gets them.
func OpenSQLite(path string) (Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store: sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: creating data dir: %w", err)
		}
	}

	dsn := "file:" + url.PathEscape(path) +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening sqlite: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: bootstrapping schema: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Get(ctx context.Context, owner, path string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM blobs WHERE owner = ? AND path = ?`, owner, path,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get: %w", err)
	}
	return data, nil
}

func (s *sqliteStore) Put(ctx context.Context, owner, path string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (owner, path, data, modified_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (owner, path) DO UPDATE SET data = excluded.data, modified_at = excluded.modified_at`,
		owner, path, data, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("store: put: %w", err)
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, owner, path string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM blobs WHERE owner = ? AND path = ?`, owner, path)
	if err != nil {
		return fmt.Errorf("store: delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) List(ctx context.Context, owner, prefix string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, LENGTH(data), modified_at FROM blobs
		WHERE owner = ? AND path LIKE ? ESCAPE '\' ORDER BY path`,
		owner, likePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var modified int64
		if err := rows.Scan(&e.Path, &e.Size, &modified); err != nil {
			return nil, fmt.Errorf("store: list scan: %w", err)
		}
		e.ModifiedAt = time.Unix(modified, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Close() error { return s.db.Close() }

// likePrefix escapes LIKE metacharacters so a prefix is matched literally.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
