// Package mock provides a deterministic embedder for tests and offline use.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// Embedder maps text to a fixed-size vector from token hashes. The same
// text always yields the same vector, and texts sharing tokens score higher
// than unrelated texts, which is enough structure to exercise search,
// thresholds and consolidation without a model.
type Embedder struct {
	dims int

	// Err, when set, is returned from every Embed call.
	Err error
}

// New creates a mock embedder producing vectors of the given size.
func New(dims int) *Embedder {
	if dims <= 0 {
		dims = 64
	}
	return &Embedder{dims: dims}
}

// Embed returns the deterministic vector for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	vec := make([]float32, e.dims)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()
		vec[sum%uint64(e.dims)] += 1
		vec[(sum>>32)%uint64(e.dims)] += 0.5
	}
	normalize(vec)
	return vec, nil
}

// Dimensions returns the vector size.
func (e *Embedder) Dimensions() int {
	return e.dims
}

func normalize(vec []float32) {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
}
