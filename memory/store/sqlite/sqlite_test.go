package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picobot/picobot/memory"
)

func newTestDB(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "vectors.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func item(id, ns, content string, embedding []float32) memory.MemoryItem {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return memory.MemoryItem{
		ID:        id,
		Namespace: ns,
		Content:   content,
		Embedding: embedding,
		Metadata:  map[string]any{"importance": 0.7},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestUpsertAndGetRoundTrip(t *testing.T) {
	store := newTestDB(t)
	ctx := context.Background()

	orig := item("m1", "default", "User likes tea", []float32{0.1, 0.2, 0.3})
	require.NoError(t, store.Upsert(ctx, orig))

	got, ok, err := store.Get(ctx, "default", "m1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, orig.Content, got.Content)
	assert.Equal(t, orig.Embedding, got.Embedding)
	assert.Equal(t, 0.7, got.Metadata["importance"])
	assert.True(t, orig.CreatedAt.Equal(got.CreatedAt))

	_, ok, err = store.Get(ctx, "default", "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpsertReplacesInPlace(t *testing.T) {
	store := newTestDB(t)
	ctx := context.Background()

	first := item("m1", "default", "old content", []float32{1, 0})
	require.NoError(t, store.Upsert(ctx, first))

	second := first
	second.Content = "new content"
	second.Embedding = []float32{0, 1}
	second.UpdatedAt = first.UpdatedAt.Add(time.Minute)
	require.NoError(t, store.Upsert(ctx, second))

	got, ok, err := store.Get(ctx, "default", "m1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new content", got.Content)
	assert.Equal(t, []float32{0, 1}, got.Embedding)
	assert.True(t, second.UpdatedAt.Equal(got.UpdatedAt))

	count, err := store.Count(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDeleteReportsExistence(t *testing.T) {
	store := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, item("m1", "default", "x y z", []float32{1})))

	removed, err := store.Delete(ctx, "default", "m1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = store.Delete(ctx, "default", "m1")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestSearchRanksByCosine(t *testing.T) {
	store := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, item("close", "default", "a", []float32{1, 0.1})))
	require.NoError(t, store.Upsert(ctx, item("far", "default", "b", []float32{0, 1})))
	require.NoError(t, store.Upsert(ctx, item("mid", "default", "c", []float32{1, 1})))

	results, err := store.Search(ctx, "default", []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "close", results[0].Item.ID)
	assert.Equal(t, "mid", results[1].Item.ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestNamespacesAreIsolated(t *testing.T) {
	store := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, item("m1", "alice", "alice's fact", []float32{1})))
	require.NoError(t, store.Upsert(ctx, item("m1", "bob", "bob's fact", []float32{1})))

	got, ok, err := store.Get(ctx, "alice", "m1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice's fact", got.Content)

	items, err := store.List(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "bob's fact", items[0].Content)

	removed, err := store.Delete(ctx, "alice", "m1")
	require.NoError(t, err)
	assert.True(t, removed)

	count, err := store.Count(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.db")
	ctx := context.Background()

	store, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, store.Upsert(ctx, item("m1", "default", "durable fact", []float32{0.5, 0.5})))
	require.NoError(t, store.Close())

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok, err := reopened.Get(ctx, "default", "m1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "durable fact", got.Content)
	assert.Equal(t, []float32{0.5, 0.5}, got.Embedding)
}

func TestEmbeddingCodecRoundTrip(t *testing.T) {
	vec := []float32{0, -1.5, 3.25, 1e-7}
	assert.Equal(t, vec, decodeEmbedding(encodeEmbedding(vec)))
	assert.Empty(t, decodeEmbedding(nil))
}
