// Package store is the byte-storage façade keyed by (owner address,
// namespace path). The access-control gate lives above it: callers must
// pass the session manager's check before any operation here runs.
//
// Drivers:
//   - memory (default, tests and throwaway deployments)
//   - sqlite (single-node persistent, the common case)
//   - postgres (shared database deployments)
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get and Delete for absent paths.
var ErrNotFound = errors.New("store: not found")

// Entry is one listing row.
type Entry struct {
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Store is the persistence operation set. owner is the user's address
// text; path is a normalized namespace path.
type Store interface {
	Get(ctx context.Context, owner, path string) ([]byte, error)
	Put(ctx context.Context, owner, path string, data []byte) error
	Delete(ctx context.Context, owner, path string) error
	List(ctx context.Context, owner, prefix string) ([]Entry, error)
	Close() error
}

// Config selects and configures a driver.
type Config struct {
	Driver string // "memory" | "sqlite" | "postgres"
	Path   string // sqlite database file
	DSN    string // postgres connection string
}

// New builds a Store for the configured driver.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(cfg.Path)
	case "postgres":
		return OpenPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
