// Package cache provides the TTL'd key-value client used for short-lived
// authentication state: signin challenges, consumed token nonces and
// similar one-shot records.
//
// Backends:
//   - memory (in-process, default)
//   - redis (shared, for deployments behind several processes)
package cache

import (
	"context"
	"errors"
	"time"
)

// Client is the cache operation set.
type Client interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key. ttl == 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Add stores value under key only when the key is absent. Returns
	// false when the key already exists. The check-and-set is atomic;
	// replay detection depends on it.
	Add(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// GetDel returns the value and removes the key in one step, or
	// ErrNotFound. Used for one-shot challenge redemption.
	GetDel(ctx context.Context, key string) (string, error)

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}

// ErrNotFound is returned by Get/GetDel for absent or expired keys.
var ErrNotFound = errors.New("cache: key not found")

// Config selects and configures a backend.
type Config struct {
	Driver   string // "memory" | "redis"
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// New builds a Client for the configured driver. An empty or unknown
// driver falls back to memory.
func New(cfg Config) (Client, error) {
	switch cfg.Driver {
	case "redis":
		return NewRedis(cfg)
	default:
		return NewMemory(cfg.Prefix), nil
	}
}
