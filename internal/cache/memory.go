package cache

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// memoryClient backs Client with an in-process go-cache instance.
type memoryClient struct {
	prefix string
	c      *gocache.Cache

	// go-cache has no atomic get-and-delete; GetDel takes this lock.
	mu sync.Mutex
}

// NewMemory creates an in-process cache client.
func NewMemory(prefix string) Client {
	return &memoryClient{
		prefix: prefix,
		c:      gocache.New(gocache.NoExpiration, time.Minute),
	}
}

func (m *memoryClient) key(k string) string {
	if m.prefix == "" {
		return k
	}
	return m.prefix + ":" + k
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl == 0 {
		return gocache.NoExpiration
	}
	return ttl
}

func (m *memoryClient) Get(ctx context.Context, key string) (string, error) {
	v, ok := m.c.Get(m.key(key))
	if !ok {
		return "", ErrNotFound
	}
	s, _ := v.(string)
	return s, nil
}

func (m *memoryClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.c.Set(m.key(key), value, ttlOrDefault(ttl))
	return nil
}

func (m *memoryClient) Add(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := m.c.Add(m.key(key), value, ttlOrDefault(ttl)); err != nil {
		return false, nil
	}
	return true, nil
}

func (m *memoryClient) GetDel(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(key)
	v, ok := m.c.Get(k)
	if !ok {
		return "", ErrNotFound
	}
	m.c.Delete(k)
	s, _ := v.(string)
	return s, nil
}

func (m *memoryClient) Delete(ctx context.Context, key string) error {
	m.c.Delete(m.key(key))
	return nil
}

func (m *memoryClient) Ping(ctx context.Context) error { return nil }

func (m *memoryClient) Close() error {
	m.c.Flush()
	return nil
}
