// Package llm wraps the embedding and chat-completion service behind a
// small provider interface so both pipelines can be tested with fakes.
package llm

import (
	"context"
	"errors"
)

// ErrProviderUnavailable indicates the embedding/completion backend
// rejected or failed a call. Transient by nature; the indexing path retries
// it, the retrieval path does not.
var ErrProviderUnavailable = errors.New("llm provider unavailable")

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider is the contract for the embedding/completion backend. The same
// provider (and embedding model) must be used by the indexing and the
// retrieval path; mixing models mixes vector spaces.
type Provider interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, model string, input []string) ([][]float32, error)

	// Complete sends a chat message list and returns the generated text.
	Complete(ctx context.Context, model string, messages []Message, temperature float64) (string, error)
}
