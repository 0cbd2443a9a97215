package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestBadger(t *testing.T, namespace string) *BadgerStore {
	t.Helper()

	store, err := OpenBadger(t.TempDir(), namespace)
	require.NoError(t, err)

	t.Cleanup(func() { store.Close() })

	return store
}

func TestBadgerStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	store := openTestBadger(t, "test")

	got, err := store.Get(ctx, "user", "a")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.Put(ctx, "user", "a", []byte("value-a")))

	got, err = store.Get(ctx, "user", "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("value-a"), got)

	require.NoError(t, store.Delete(ctx, "user", "a"))

	got, err = store.Get(ctx, "user", "a")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestBadgerStore_ForEach(t *testing.T) {
	ctx := context.Background()
	store := openTestBadger(t, "test")

	require.NoError(t, store.Put(ctx, "user", "a", []byte("1")))
	require.NoError(t, store.Put(ctx, "user", "b", []byte("2")))
	require.NoError(t, store.Put(ctx, "note", "n", []byte("other kind")))

	visited := make(map[string]string)

	err := store.ForEach(ctx, "user", func(id string, value []byte) error {
		visited[id] = string(value)

		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, visited)
}

func TestBadgerStore_ForEachHonorsContext(t *testing.T) {
	ctx := context.Background()
	store := openTestBadger(t, "test")

	require.NoError(t, store.Put(ctx, "user", "a", []byte("1")))

	canceled, cancel := context.WithCancel(ctx)
	cancel()

	err := store.ForEach(canceled, "user", func(id string, value []byte) error {
		t.Fatal("callback must not run after cancellation")

		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBadgerStore_BulkPut(t *testing.T) {
	ctx := context.Background()
	store := openTestBadger(t, "test")

	require.NoError(t, store.BulkPut(ctx, "user", map[string][]byte{
		"a": []byte("1"),
		"b": []byte("2"),
		"c": []byte("3"),
	}))

	got, err := store.Get(ctx, "user", "c")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), got)
}

func TestBadgerStore_Kinds(t *testing.T) {
	ctx := context.Background()
	store := openTestBadger(t, "test")

	require.NoError(t, store.Put(ctx, "user", "a", []byte("1")))
	require.NoError(t, store.Put(ctx, "note", "n", []byte("2")))
	require.NoError(t, store.StoreSalt(ctx, []byte("salt")))

	kinds, err := store.Kinds(ctx)
	require.NoError(t, err)

	// The namespace-level salt key is not a kind.
	assert.ElementsMatch(t, []string{"user", "note"}, kinds)
}

func TestBadgerStore_Salt(t *testing.T) {
	ctx := context.Background()
	store := openTestBadger(t, "test")

	salt, err := store.LoadSalt(ctx)
	require.NoError(t, err)
	assert.Nil(t, salt)

	require.NoError(t, store.StoreSalt(ctx, []byte("installation-salt")))

	salt, err = store.LoadSalt(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("installation-salt"), salt)
}

func TestBadgerStore_NamespaceIsolation(t *testing.T) {
	ctx := context.Background()

	dir := t.TempDir()

	base, err := OpenBadger(dir, "alpha")
	require.NoError(t, err)

	t.Cleanup(func() { base.Close() })

	other := NewBadgerStore(base.db, "beta")

	require.NoError(t, base.Put(ctx, "user", "a", []byte("alpha's")))

	got, err := other.Get(ctx, "user", "a")
	require.NoError(t, err)
	assert.Nil(t, got)

	kinds, err := other.Kinds(ctx)
	require.NoError(t, err)
	assert.Empty(t, kinds)
}
