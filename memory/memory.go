package memory

import (
	"context"
	"math"
	"strings"
	"time"
	"unicode"
)

// MemoryItem is one durable fact in the vector store.
//
// An id, once issued, never refers to a different namespace or an unrelated
// fact: Update replaces content and embedding in place, it does not reassign
// identity.
type MemoryItem struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Embedding []float32      `json:"-"`
	Namespace string         `json:"namespace"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Importance reads the item's importance score from metadata, defaulting
// to 0.5 when absent or malformed.
func (m MemoryItem) Importance() float64 {
	if m.Metadata == nil {
		return 0.5
	}
	switch v := m.Metadata["importance"].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0.5
}

// Scored pairs an item with its similarity to a query.
type Scored struct {
	Item  MemoryItem
	Score float32
}

// ExtractedFact is a candidate fact proposed by the Extractor. It is never
// persisted directly; the Consolidator decides what to do with it.
type ExtractedFact struct {
	Content    string
	Importance float64

	// Source is "llm" or "heuristic", for diagnostics only.
	Source string
}

// Embedder converts text to vector embeddings.
// Implementations: provider.OpenAIEmbedder (remote), mock.Embedder (testing),
// onnx.Embedder (local, build-tagged).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Backend is the storage layer under VectorStore.
// Implementations: sqlite.Store (durable), chromem.Store (in-memory).
//
// Every mutation either fully applies or reports an error with no partial
// state visible to subsequent reads.
type Backend interface {
	// Upsert inserts the item, replacing any existing item with the same id
	// in the same namespace.
	Upsert(ctx context.Context, item MemoryItem) error

	// Get returns the item, reporting whether it exists.
	Get(ctx context.Context, namespace, id string) (MemoryItem, bool, error)

	// Delete removes the item, reporting whether it existed. Idempotent.
	Delete(ctx context.Context, namespace, id string) (bool, error)

	// Search returns up to k items ranked by cosine similarity, highest
	// first, with no threshold applied.
	Search(ctx context.Context, namespace string, embedding []float32, k int) ([]Scored, error)

	// List returns all items in a namespace, in no particular order.
	List(ctx context.Context, namespace string) ([]MemoryItem, error)

	// Count returns the number of items in a namespace.
	Count(ctx context.Context, namespace string) (int, error)

	// Close releases resources.
	Close() error
}

// SanitizeContent neutralizes markup-breaking sequences before storage:
// HTML-like brackets become entities and control characters (other than
// newline and tab) are dropped.
func SanitizeContent(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		switch r {
		case '<':
			sb.WriteString("&lt;")
		case '>':
			sb.WriteString("&gt;")
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched or zero vectors score 0.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
