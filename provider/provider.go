// Package provider implements the completion and embedding capabilities the
// memory pipeline consumes. Both are blocking calls with a caller-enforced
// timeout; transport, auth and rate-limit failures all surface as plain
// errors, which the memory pipeline treats uniformly as "unavailable now".
package provider

import (
	"context"

	"github.com/picobot/picobot/core"
)

// CompletionRequest carries one chat-completion call.
type CompletionRequest struct {
	Model       string
	Messages    []core.Message
	MaxTokens   int64
	Temperature float64

	// JSONResponse requests the provider's strict JSON-object response mode.
	// Providers without a native mode enforce it via the system prompt.
	JSONResponse bool
}

// Completer sends messages to a model and returns the response text.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Embedder converts text to a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}
