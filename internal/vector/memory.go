package vector

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryIndex is an in-memory Index used in tests and local development. It
// mirrors the remote index's semantics: upserts replace by id, queries score
// by cosine similarity and honor $in metadata filters.
type MemoryIndex struct {
	mu      sync.Mutex
	records map[string]Record

	// UpsertErr, when set, is returned by Upsert before any write.
	UpsertErr error
	// Upserts counts successful Upsert calls.
	Upserts int
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{records: make(map[string]Record)}
}

func (m *MemoryIndex) Upsert(ctx context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpsertErr != nil {
		return m.UpsertErr
	}
	for _, r := range records {
		m.records[r.ID] = r
	}
	m.Upserts++
	return nil
}

func (m *MemoryIndex) Query(ctx context.Context, vector []float32, topK int, filter map[string]any, includeMetadata bool) ([]Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if topK <= 0 {
		topK = 8
	}
	var matches []Match
	for _, r := range m.records {
		if !matchesFilter(r.Metadata, filter) {
			continue
		}
		match := Match{ID: r.ID, Score: cosine(vector, r.Values)}
		if includeMetadata {
			match.Metadata = r.Metadata
		}
		matches = append(matches, match)
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Len returns the number of stored records.
func (m *MemoryIndex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Record returns the stored record for id, if present.
func (m *MemoryIndex) Record(id string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	return r, ok
}

// matchesFilter evaluates the subset of the filter language both pipelines
// use: nil matches everything, {"field": {"$in": [...]}} matches when the
// record's field value is one of the listed values, and a bare value means
// equality.
func matchesFilter(metadata map[string]any, filter map[string]any) bool {
	if len(filter) == 0 {
		return true
	}
	for field, cond := range filter {
		val, ok := metadata[field]
		if !ok {
			return false
		}
		switch c := cond.(type) {
		case map[string]any:
			in, ok := c["$in"]
			if !ok {
				return false
			}
			if !valueIn(val, in) {
				return false
			}
		default:
			if val != cond {
				return false
			}
		}
	}
	return true
}

func valueIn(val any, in any) bool {
	switch list := in.(type) {
	case []string:
		for _, s := range list {
			if val == s {
				return true
			}
		}
	case []any:
		for _, s := range list {
			if val == s {
				return true
			}
		}
	}
	return false
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
