package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picobot/picobot/memory"
	"github.com/picobot/picobot/memory/embedder/mock"
	"github.com/picobot/picobot/memory/notes"
	"github.com/picobot/picobot/memory/store/chromem"
)

func newTestRegistry(t *testing.T) (*Registry, *memory.VectorStore) {
	t.Helper()
	store := memory.NewVectorStore(chromem.New(), mock.New(64), 100, nil)
	t.Cleanup(func() { store.Close() })
	return MemoryTools(store, nil, "default", 0.1), store
}

func execute(t *testing.T, r *Registry, name string, args map[string]any) (string, error) {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	return r.Execute(context.Background(), name, raw)
}

func TestMemorySaveSearchForget(t *testing.T) {
	r, store := newTestRegistry(t)
	ctx := context.Background()

	out, err := execute(t, r, "memory_save", map[string]any{
		"content":    "User prefers dark mode",
		"importance": 0.8,
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Saved as ")

	count, err := store.Count(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	out, err = execute(t, r, "memory_search", map[string]any{"query": "dark mode preference"})
	require.NoError(t, err)
	assert.Contains(t, out, "User prefers dark mode")

	// The search output carries the id needed to forget.
	items, err := store.Count(ctx, "default")
	require.NoError(t, err)
	require.Equal(t, 1, items)
}

func TestMemorySearchEmptyStore(t *testing.T) {
	r, _ := newTestRegistry(t)
	out, err := execute(t, r, "memory_search", map[string]any{"query": "anything"})
	require.NoError(t, err)
	assert.Equal(t, "No matching memories.", out)
}

func TestMemoryForgetUnknownID(t *testing.T) {
	r, _ := newTestRegistry(t)
	out, err := execute(t, r, "memory_forget", map[string]any{"memory_id": "nope"})
	require.NoError(t, err)
	assert.Equal(t, "No such memory.", out)
}

func TestExecuteRejectsUnknownTool(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Execute(context.Background(), "rm_rf", nil)
	assert.Error(t, err)
}

func TestExecuteValidatesArguments(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := execute(t, r, "memory_search", map[string]any{})
	assert.Error(t, err)

	_, err = r.Execute(context.Background(), "memory_search", []byte("not json"))
	assert.Error(t, err)
}

func TestNotesOnlyRegistry(t *testing.T) {
	notesStore, err := notes.NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	r := MemoryTools(nil, notesStore, "default", 0.1)

	out, err := execute(t, r, "notes_append", map[string]any{"line": "Reviewed the quarterly plan."})
	require.NoError(t, err)
	assert.Equal(t, "Noted.", out)

	content, err := notesStore.Today()
	require.NoError(t, err)
	assert.Contains(t, content, "Reviewed the quarterly plan.")

	// Vector tools are absent when no vector store is wired.
	_, err = execute(t, r, "memory_search", map[string]any{"query": "anything"})
	assert.Error(t, err)
}

func TestDefinitionsExposeSchemas(t *testing.T) {
	r, _ := newTestRegistry(t)
	defs := r.Definitions()
	require.NotEmpty(t, defs)
	for _, def := range defs {
		assert.NotEmpty(t, def.Name)
		assert.Equal(t, "object", def.InputSchema["type"])
	}
}
