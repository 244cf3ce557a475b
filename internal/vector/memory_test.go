package vector

import (
	"context"
	"testing"
)

func TestUpsertIsIdempotent(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	first := Record{ID: "chunk-1", Values: []float32{1, 0}, Metadata: map[string]any{"preview": "old"}}
	if err := idx.Upsert(ctx, []Record{first}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	second := Record{ID: "chunk-1", Values: []float32{0, 1}, Metadata: map[string]any{"preview": "new"}}
	if err := idx.Upsert(ctx, []Record{second}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if idx.Len() != 1 {
		t.Fatalf("len = %d, want 1", idx.Len())
	}
	got, ok := idx.Record("chunk-1")
	if !ok {
		t.Fatal("record missing")
	}
	if got.Metadata["preview"] != "new" || got.Values[1] != 1 {
		t.Fatalf("second write did not win: %+v", got)
	}
}

func TestQueryFiltersByPermission(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	records := []Record{
		{ID: "a", Values: []float32{1, 0}, Metadata: map[string]any{"permission": "slack:public"}},
		{ID: "b", Values: []float32{1, 0}, Metadata: map[string]any{"permission": "hubspot:sales"}},
		{ID: "c", Values: []float32{1, 0}, Metadata: map[string]any{"permission": "hr:private"}},
	}
	if err := idx.Upsert(ctx, records); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	filter := map[string]any{"permission": map[string]any{"$in": []string{"slack:public", "hubspot:sales"}}}
	matches, err := idx.Query(ctx, []float32{1, 0}, 10, filter, true)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	for _, m := range matches {
		if m.ID == "c" {
			t.Fatal("hr:private chunk leaked through the filter")
		}
	}
}

func TestQueryNilFilterMatchesAll(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	records := []Record{
		{ID: "a", Values: []float32{1, 0}, Metadata: map[string]any{"permission": "slack:public"}},
		{ID: "b", Values: []float32{0, 1}, Metadata: map[string]any{"permission": "hr:private"}},
	}
	if err := idx.Upsert(ctx, records); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	matches, err := idx.Query(ctx, []float32{1, 0}, 10, nil, false)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
}

func TestQueryRanksByCosineAndCapsTopK(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	records := []Record{
		{ID: "far", Values: []float32{0, 1}},
		{ID: "near", Values: []float32{1, 0.1}},
		{ID: "exact", Values: []float32{1, 0}},
	}
	if err := idx.Upsert(ctx, records); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	matches, err := idx.Query(ctx, []float32{1, 0}, 2, nil, false)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].ID != "exact" || matches[1].ID != "near" {
		t.Fatalf("order = %s, %s", matches[0].ID, matches[1].ID)
	}
}
