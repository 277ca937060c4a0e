package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memEntry struct {
	data       []byte
	modifiedAt time.Time
}

// memoryStore keeps all blobs in a two-level map.
type memoryStore struct {
	mu     sync.RWMutex
	owners map[string]map[string]memEntry
}

// NewMemory creates an in-process store.
func NewMemory() Store {
	return &memoryStore{owners: make(map[string]map[string]memEntry)}
}

func (m *memoryStore) Get(ctx context.Context, owner, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.owners[owner][path]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out, nil
}

func (m *memoryStore) Put(ctx context.Context, owner, path string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.owners[owner]
	if !ok {
		ns = make(map[string]memEntry)
		m.owners[owner] = ns
	}
	ns[path] = memEntry{data: cp, modifiedAt: time.Now().UTC()}
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, owner, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns := m.owners[owner]
	if _, ok := ns[path]; !ok {
		return ErrNotFound
	}
	delete(ns, path)
	return nil
}

func (m *memoryStore) List(ctx context.Context, owner, prefix string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entry
	for p, e := range m.owners[owner] {
		if strings.HasPrefix(p, prefix) {
			out = append(out, Entry{Path: p, Size: int64(len(e.data)), ModifiedAt: e.modifiedAt})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *memoryStore) Close() error { return nil }
