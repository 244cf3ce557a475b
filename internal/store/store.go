package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Store wraps the warehouse connection used for change capture and for the
// indexer watermark row.
type Store struct {
	DB *sql.DB
}

// WatermarkEpoch is the sentinel watermark written when the state row is
// first created. It predates any real chunk.
var WatermarkEpoch = time.Unix(0, 0).UTC()

var (
	// ErrStoreUnavailable indicates the watermark state row could not be
	// read or written.
	ErrStoreUnavailable = errors.New("watermark store unavailable")
	// ErrFetchFailed indicates the chunk change query failed.
	ErrFetchFailed = errors.New("chunk fetch failed")
)

// Chunk is one row of the unified chunk table: a unit of source document
// text plus its access-control tag.
type Chunk struct {
	ChunkID         string
	DocID           string
	Source          string
	AuthorID        string
	PermissionScope string
	ChunkText       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// New opens a warehouse connection and verifies it is reachable.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("warehouse ping: %w", err)
	}
	return &Store{DB: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// EnsureWatermark creates the state row for the stream at the epoch
// sentinel when it does not exist yet. Safe to call on every run.
func (s *Store) EnsureWatermark(ctx context.Context, stream string) error {
	if stream == "" {
		return fmt.Errorf("stream required")
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO indexer_state (id, last_watermark)
VALUES ($1, $2)
ON CONFLICT (id) DO NOTHING;
`, stream, WatermarkEpoch)
	if err != nil {
		return fmt.Errorf("%w: ensure state row: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Watermark returns the last synchronized timestamp for the stream.
func (s *Store) Watermark(ctx context.Context, stream string) (time.Time, error) {
	var wm time.Time
	err := s.DB.QueryRowContext(ctx,
		`SELECT last_watermark FROM indexer_state WHERE id = $1`, stream,
	).Scan(&wm)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: read watermark: %v", ErrStoreUnavailable, err)
	}
	return wm.UTC(), nil
}

// SetWatermark persists a new watermark for the stream. The indexing driver
// only ever calls this with a timestamp at or past the current value.
func (s *Store) SetWatermark(ctx context.Context, stream string, ts time.Time) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE indexer_state SET last_watermark = $2 WHERE id = $1`, stream, ts.UTC())
	if err != nil {
		return fmt.Errorf("%w: write watermark: %v", ErrStoreUnavailable, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: state row %q missing", ErrStoreUnavailable, stream)
	}
	return nil
}

// FetchChunksSince returns up to limit chunks with created_at at or past
// since, ascending by (created_at, chunk_id).
//
// The lower bound is inclusive and chunk_id breaks timestamp ties, so a
// page cut in the middle of equal timestamps re-delivers the boundary rows
// on the next run instead of dropping them. Downstream upserts are keyed by
// chunk_id, which makes the re-delivery harmless.
func (s *Store) FetchChunksSince(ctx context.Context, since time.Time, limit int) ([]Chunk, error) {
	if limit <= 0 {
		limit = 5000
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT chunk_id, doc_id, source, created_at, author_id, permission_scope, chunk_text, NOW() AS updated_at
FROM unified_chunks_v1
WHERE created_at >= $1
ORDER BY created_at ASC, chunk_id ASC
LIMIT $2
`, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ChunkID, &c.DocID, &c.Source, &c.CreatedAt, &c.AuthorID, &c.PermissionScope, &c.ChunkText, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrFetchFailed, err)
		}
		c.CreatedAt = c.CreatedAt.UTC()
		c.UpdatedAt = c.UpdatedAt.UTC()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return out, nil
}
