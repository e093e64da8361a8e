// Package chromem is the in-memory memory backend, useful for tests and for
// running without a workspace on disk. Each namespace maps to one chromem
// collection; a side index keeps full items because chromem exposes lookup
// and query but not enumeration.
package chromem

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	chromemgo "github.com/philippgille/chromem-go"

	"github.com/picobot/picobot/memory"
)

// Store implements memory.Backend over chromem-go collections.
type Store struct {
	db *chromemgo.DB

	mu    sync.RWMutex
	items map[string]map[string]memory.MemoryItem
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		db:    chromemgo.NewDB(),
		items: make(map[string]map[string]memory.MemoryItem),
	}
}

func (s *Store) collection(namespace string) (*chromemgo.Collection, error) {
	// The embedding func is never used: documents always arrive with a
	// precomputed embedding.
	return s.db.GetOrCreateCollection("memories-"+namespace, nil,
		func(ctx context.Context, text string) ([]float32, error) {
			return nil, fmt.Errorf("embedding not precomputed")
		})
}

// Upsert inserts or replaces the item.
func (s *Store) Upsert(ctx context.Context, item memory.MemoryItem) error {
	col, err := s.collection(item.Namespace)
	if err != nil {
		return fmt.Errorf("open collection: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ns, ok := s.items[item.Namespace]; ok {
		if _, exists := ns[item.ID]; exists {
			if err := col.Delete(ctx, nil, nil, item.ID); err != nil {
				return fmt.Errorf("replace document: %w", err)
			}
		}
	}

	metadata, err := json.Marshal(item.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	doc := chromemgo.Document{
		ID:        item.ID,
		Content:   item.Content,
		Embedding: item.Embedding,
		Metadata: map[string]string{
			"metadata":   string(metadata),
			"created_at": item.CreatedAt.UTC().Format(time.RFC3339Nano),
			"updated_at": item.UpdatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}

	if s.items[item.Namespace] == nil {
		s.items[item.Namespace] = make(map[string]memory.MemoryItem)
	}
	s.items[item.Namespace][item.ID] = item
	return nil
}

// Get returns the item, reporting whether it exists.
func (s *Store) Get(ctx context.Context, namespace, id string) (memory.MemoryItem, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[namespace][id]
	return item, ok, nil
}

// Delete removes the item, reporting whether it existed.
func (s *Store) Delete(ctx context.Context, namespace, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.items[namespace]
	if !ok {
		return false, nil
	}
	if _, exists := ns[id]; !exists {
		return false, nil
	}
	col, err := s.collection(namespace)
	if err != nil {
		return false, fmt.Errorf("open collection: %w", err)
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return false, fmt.Errorf("delete document: %w", err)
	}
	delete(ns, id)
	return true, nil
}

// Search returns up to k items ranked by similarity, highest first.
func (s *Store) Search(ctx context.Context, namespace string, embedding []float32, k int) ([]memory.Scored, error) {
	col, err := s.collection(namespace)
	if err != nil {
		return nil, fmt.Errorf("open collection: %w", err)
	}
	// chromem rejects queries asking for more results than stored.
	if count := col.Count(); count < k {
		k = count
	}
	if k <= 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, embedding, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	scored := make([]memory.Scored, 0, len(results))
	for _, res := range results {
		item, ok := s.items[namespace][res.ID]
		if !ok {
			continue
		}
		scored = append(scored, memory.Scored{Item: item, Score: res.Similarity})
	}
	return scored, nil
}

// List returns all items in a namespace.
func (s *Store) List(ctx context.Context, namespace string) ([]memory.MemoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns := s.items[namespace]
	out := make([]memory.MemoryItem, 0, len(ns))
	for _, item := range ns {
		out = append(out, item)
	}
	return out, nil
}

// Count returns the number of items in a namespace.
func (s *Store) Count(ctx context.Context, namespace string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items[namespace]), nil
}

// Close is a no-op; the store lives entirely in memory.
func (s *Store) Close() error {
	return nil
}
