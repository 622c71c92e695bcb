// ABOUTME: Contract with the external text-generation service
// ABOUTME: Defines the streaming request/chunk types consumed by the Adapter

package generation

import (
	"context"

	"github.com/brainhq/brain-gateway/internal/store"
)

// Request carries one generation call: the user's query plus recent
// conversation context, oldest turn first.
type Request struct {
	Query   string
	History []store.ContextTurn
}

// Chunk is one increment of the generation stream. Exactly one of Text or
// Err is set; the channel closes after the final chunk (or after an error
// chunk).
type Chunk struct {
	Text string
	Err  error
}

// Client is the connection-level contract with the generation service:
// an ordered stream of content deltas with connection-level cancellation
// via ctx. A stream cannot be resumed; restarting means a brand-new call.
type Client interface {
	StreamGenerate(ctx context.Context, req *Request) (<-chan Chunk, error)
}
