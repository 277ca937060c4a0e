package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGetSetDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemory("t")

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Set(ctx, "k", "v", 0))
	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting an absent key is a no-op.
	assert.NoError(t, c.Delete(ctx, "k"))
}

func TestMemoryTTL(t *testing.T) {
	ctx := context.Background()
	c := NewMemory("")

	require.NoError(t, c.Set(ctx, "k", "v", 20*time.Millisecond))
	time.Sleep(40 * time.Millisecond)
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryAddIsAtomic(t *testing.T) {
	ctx := context.Background()
	c := NewMemory("")

	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := c.Add(ctx, "nonce", "1", time.Minute)
			require.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestMemoryGetDelIsOneShot(t *testing.T) {
	ctx := context.Background()
	c := NewMemory("")

	require.NoError(t, c.Set(ctx, "challenge", "payload", time.Minute))

	v, err := c.GetDel(ctx, "challenge")
	require.NoError(t, err)
	assert.Equal(t, "payload", v)

	_, err = c.GetDel(ctx, "challenge")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewFallsBackToMemory(t *testing.T) {
	c, err := New(Config{Driver: ""})
	require.NoError(t, err)
	assert.NoError(t, c.Ping(context.Background()))
}
