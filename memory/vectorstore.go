package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// VectorStore is the durable, namespaced collection of memory items. It
// owns sanitization, embedding, id assignment and the capacity bound; the
// Backend only stores and ranks.
//
// Writers and point reads are serialized by a single store-wide lock.
// Search and Count go through the backend directly; consolidation already
// treats "not found on update" as a lost race rather than assuming
// exclusivity.
type VectorStore struct {
	backend  Backend
	embedder Embedder
	maxItems int
	logger   *log.Logger

	mu sync.Mutex
}

// NewVectorStore creates a store bounded at maxItems per namespace.
func NewVectorStore(backend Backend, embedder Embedder, maxItems int, logger *log.Logger) *VectorStore {
	if maxItems <= 0 {
		maxItems = 1000
	}
	if logger == nil {
		logger = log.Default()
	}
	return &VectorStore{
		backend:  backend,
		embedder: embedder,
		maxItems: maxItems,
		logger:   logger,
	}
}

// Add sanitizes content, computes its embedding, assigns an id and stores
// the item. When the namespace is at capacity, the lowest-importance item
// (oldest updated_at among ties) is evicted first. An embedding failure
// propagates with no mutation performed.
func (s *VectorStore) Add(ctx context.Context, content string, metadata map[string]any, namespace string) (string, error) {
	content = SanitizeContent(strings.TrimSpace(content))
	if content == "" {
		return "", fmt.Errorf("empty content")
	}

	embedding, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return "", fmt.Errorf("embed content: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.evictIfFull(ctx, namespace); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	item := MemoryItem{
		ID:        uuid.NewString(),
		Content:   content,
		Embedding: embedding,
		Namespace: namespace,
		Metadata:  cloneMetadata(metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.backend.Upsert(ctx, item); err != nil {
		return "", fmt.Errorf("store item: %w", err)
	}

	s.logger.Debug("memory added", "id", item.ID, "namespace", namespace, "importance", item.Importance())
	return item.ID, nil
}

// Update replaces the item's content and embedding in place, bumping
// updated_at. It fails softly: a nil item with no error means the id was
// not found in the namespace.
func (s *VectorStore) Update(ctx context.Context, id, content string, metadata map[string]any, namespace string) (*MemoryItem, error) {
	content = SanitizeContent(strings.TrimSpace(content))
	if content == "" {
		return nil, fmt.Errorf("empty content")
	}

	embedding, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok, err := s.backend.Get(ctx, namespace, id)
	if err != nil {
		return nil, fmt.Errorf("load item: %w", err)
	}
	if !ok {
		return nil, nil
	}

	existing.Content = content
	existing.Embedding = embedding
	existing.UpdatedAt = time.Now().UTC()
	if metadata != nil {
		existing.Metadata = cloneMetadata(metadata)
	}
	if err := s.backend.Upsert(ctx, existing); err != nil {
		return nil, fmt.Errorf("store item: %w", err)
	}

	s.logger.Debug("memory updated", "id", id, "namespace", namespace)
	return &existing, nil
}

// Get loads one item by id, reporting whether it exists in the namespace.
func (s *VectorStore) Get(ctx context.Context, id, namespace string) (MemoryItem, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok, err := s.backend.Get(ctx, namespace, id)
	if err != nil {
		return MemoryItem{}, false, fmt.Errorf("load item: %w", err)
	}
	return item, ok, nil
}

// Delete removes the item, reporting whether anything was removed.
// Idempotent.
func (s *VectorStore) Delete(ctx context.Context, id, namespace string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := s.backend.Delete(ctx, namespace, id)
	if err != nil {
		return false, fmt.Errorf("delete item: %w", err)
	}
	if removed {
		s.logger.Debug("memory deleted", "id", id, "namespace", namespace)
	}
	return removed, nil
}

// Search embeds the query and returns up to k namespace items scored at or
// above the effective cutoff, highest first. The cutoff is the greater of
// threshold and floor; an empty result is valid and means "no related
// memory".
func (s *VectorStore) Search(ctx context.Context, query string, k int, threshold float32, namespace string, floor float32) ([]Scored, error) {
	if k <= 0 {
		return nil, nil
	}
	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	ranked, err := s.backend.Search(ctx, namespace, embedding, k)
	if err != nil {
		return nil, fmt.Errorf("search backend: %w", err)
	}

	cutoff := threshold
	if floor > cutoff {
		cutoff = floor
	}
	out := ranked[:0]
	for _, sc := range ranked {
		if sc.Score >= cutoff {
			out = append(out, sc)
		}
	}
	return out, nil
}

// Count returns the item count for a namespace.
func (s *VectorStore) Count(ctx context.Context, namespace string) (int, error) {
	return s.backend.Count(ctx, namespace)
}

// Close releases backend resources.
func (s *VectorStore) Close() error {
	return s.backend.Close()
}

// evictIfFull makes room for one insertion. Tie-break: least importance
// first, then oldest updated_at. Caller holds the write lock.
func (s *VectorStore) evictIfFull(ctx context.Context, namespace string) error {
	count, err := s.backend.Count(ctx, namespace)
	if err != nil {
		return fmt.Errorf("count items: %w", err)
	}
	if count < s.maxItems {
		return nil
	}

	items, err := s.backend.List(ctx, namespace)
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	victim := items[0]
	for _, item := range items[1:] {
		if item.Importance() < victim.Importance() ||
			(item.Importance() == victim.Importance() && item.UpdatedAt.Before(victim.UpdatedAt)) {
			victim = item
		}
	}
	if _, err := s.backend.Delete(ctx, namespace, victim.ID); err != nil {
		return fmt.Errorf("evict item: %w", err)
	}
	s.logger.Info("memory evicted at capacity",
		"id", victim.ID, "namespace", namespace, "importance", victim.Importance())
	return nil
}

func cloneMetadata(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		out[k] = v
	}
	if _, ok := out["importance"]; !ok {
		out["importance"] = 0.5
	}
	return out
}
