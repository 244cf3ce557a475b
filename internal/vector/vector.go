// Package vector talks to the external vector index. Records are keyed by
// chunk id, which makes every upsert idempotent: re-writing an id replaces
// the previous entry instead of duplicating it.
package vector

import (
	"context"
	"errors"
)

// ErrIndexUnavailable indicates the vector index rejected or failed a call.
var ErrIndexUnavailable = errors.New("vector index unavailable")

// Record is one (id, embedding, metadata) entry in the index.
type Record struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Match is one scored result of a similarity query. Higher score means more
// similar under the index's cosine metric.
type Match struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Index is the narrow contract both pipelines share: the write path upserts
// whole batches, the read path runs filtered top-k queries.
type Index interface {
	Upsert(ctx context.Context, records []Record) error
	Query(ctx context.Context, vector []float32, topK int, filter map[string]any, includeMetadata bool) ([]Match, error)
}
