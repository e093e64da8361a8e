package chromem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picobot/picobot/memory"
)

func item(id, ns, content string, embedding []float32) memory.MemoryItem {
	now := time.Now().UTC()
	return memory.MemoryItem{
		ID:        id,
		Namespace: ns,
		Content:   content,
		Embedding: embedding,
		Metadata:  map[string]any{"importance": 0.5},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestUpsertGetDelete(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, item("m1", "default", "User likes tea", []float32{1, 0})))

	got, ok, err := store.Get(ctx, "default", "m1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "User likes tea", got.Content)

	// Replacement keeps the count at one.
	require.NoError(t, store.Upsert(ctx, item("m1", "default", "User likes coffee", []float32{0, 1})))
	count, err := store.Count(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	removed, err := store.Delete(ctx, "default", "m1")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = store.Delete(ctx, "default", "m1")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestSearchClampsK(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, item("m1", "default", "only item", []float32{1, 0})))

	// Asking for more results than stored must not error.
	results, err := store.Search(ctx, "default", []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "m1", results[0].Item.ID)
	assert.InDelta(t, 1.0, float64(results[0].Score), 1e-5)
}

func TestSearchEmptyNamespace(t *testing.T) {
	store := New()
	results, err := store.Search(context.Background(), "nobody", []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestListReturnsAllItems(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, item("m1", "default", "first", []float32{1, 0})))
	require.NoError(t, store.Upsert(ctx, item("m2", "default", "second", []float32{0, 1})))

	items, err := store.List(ctx, "default")
	require.NoError(t, err)
	assert.Len(t, items, 2)
}
