package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeUnderTest runs the same behavioural suite against every driver
// that can open in a test environment.
func storeUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "data", "blobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })

	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sq,
	}
}

func TestStoreCRUD(t *testing.T) {
	const owner = "pk1zTestOwnerAddress"
	ctx := context.Background()

	for name, s := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, owner, "pub/app1/notes.txt")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Put(ctx, owner, "pub/app1/notes.txt", []byte("v1")))
			data, err := s.Get(ctx, owner, "pub/app1/notes.txt")
			require.NoError(t, err)
			assert.Equal(t, []byte("v1"), data)

			// Put overwrites.
			require.NoError(t, s.Put(ctx, owner, "pub/app1/notes.txt", []byte("v2")))
			data, err = s.Get(ctx, owner, "pub/app1/notes.txt")
			require.NoError(t, err)
			assert.Equal(t, []byte("v2"), data)

			require.NoError(t, s.Delete(ctx, owner, "pub/app1/notes.txt"))
			assert.ErrorIs(t, s.Delete(ctx, owner, "pub/app1/notes.txt"), ErrNotFound)
		})
	}
}

func TestStoreListByPrefix(t *testing.T) {
	const owner = "pk1zTestOwnerAddress"
	ctx := context.Background()

	for name, s := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(ctx, owner, "pub/app1/a.txt", []byte("a")))
			require.NoError(t, s.Put(ctx, owner, "pub/app1/b.txt", []byte("bb")))
			require.NoError(t, s.Put(ctx, owner, "pub/app2/c.txt", []byte("c")))
			require.NoError(t, s.Put(ctx, "pk1zSomebodyElse", "pub/app1/x.txt", []byte("x")))

			entries, err := s.List(ctx, owner, "pub/app1/")
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, "pub/app1/a.txt", entries[0].Path)
			assert.Equal(t, "pub/app1/b.txt", entries[1].Path)
			assert.Equal(t, int64(2), entries[1].Size)

			all, err := s.List(ctx, owner, "")
			require.NoError(t, err)
			assert.Len(t, all, 3)

			none, err := s.List(ctx, owner, "priv/")
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestStoreOwnersIsolated(t *testing.T) {
	ctx := context.Background()
	for name, s := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(ctx, "pk1zOwnerA", "pub/f", []byte("a")))
			_, err := s.Get(ctx, "pk1zOwnerB", "pub/f")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestListEscapesLikeMetacharacters(t *testing.T) {
	ctx := context.Background()
	for name, s := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(ctx, "pk1zOwner", "pub/a_b/f", []byte("x")))
			require.NoError(t, s.Put(ctx, "pk1zOwner", "pub/axb/f", []byte("y")))

			entries, err := s.List(ctx, "pk1zOwner", "pub/a_b/")
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, "pub/a_b/f", entries[0].Path)
		})
	}
}

func TestFactory(t *testing.T) {
	ctx := context.Background()

	s, err := New(ctx, Config{Driver: "memory"})
	require.NoError(t, err)
	assert.NoError(t, s.Close())

	s, err = New(ctx, Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "b.db")})
	require.NoError(t, err)
	assert.NoError(t, s.Close())

	_, err = New(ctx, Config{Driver: "mongodb"})
	assert.Error(t, err)

	_, err = New(ctx, Config{Driver: "sqlite"})
	assert.Error(t, err) // path required

	_, err = New(ctx, Config{Driver: "postgres"})
	assert.Error(t, err) // dsn required
}
