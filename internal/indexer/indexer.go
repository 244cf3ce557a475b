// Package indexer runs the incremental sync: it drains new warehouse chunks
// past the committed watermark, embeds them, and upserts them into the
// vector index. The watermark only advances after a durable upsert, so a
// crash re-delivers rows and the upsert-by-id makes the redelivery harmless.
package indexer

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/estuarylab/knowledged/config"
	"github.com/estuarylab/knowledged/internal/store"
	"github.com/estuarylab/knowledged/internal/telemetry"
	"github.com/estuarylab/knowledged/internal/vector"
)

// previewLimit caps the chunk text stored as index metadata.
const previewLimit = 500

// ChunkStore is the warehouse surface the driver needs.
type ChunkStore interface {
	EnsureWatermark(ctx context.Context, stream string) error
	Watermark(ctx context.Context, stream string) (time.Time, error)
	SetWatermark(ctx context.Context, stream string, ts time.Time) error
	FetchChunksSince(ctx context.Context, since time.Time, limit int) ([]store.Chunk, error)
}

// Embedder is the slice of llm.Provider the driver uses.
type Embedder interface {
	Embed(ctx context.Context, model string, input []string) ([][]float32, error)
}

// Stats summarizes one completed run.
type Stats struct {
	Pages     int
	Batches   int
	Chunks    int
	Watermark time.Time
}

// Driver executes indexing runs. It is safe to run the same driver
// repeatedly; each run resumes from the committed watermark.
type Driver struct {
	store    ChunkStore
	embedder Embedder
	index    vector.Index
	cfg      config.IndexerConfig
	model    string
	retry    RetryPolicy
	logger   *log.Logger
	metrics  *telemetry.Metrics
}

func New(st ChunkStore, embedder Embedder, index vector.Index, cfg config.IndexerConfig, model string, logger *log.Logger, metrics *telemetry.Metrics) *Driver {
	cfg = cfg.Normalize()
	if logger == nil {
		logger = log.New(log.Writer(), "[INDEXER] ", log.LstdFlags)
	}
	if metrics == nil {
		metrics = telemetry.NewNopMetrics()
	}
	return &Driver{
		store:    st,
		embedder: embedder,
		index:    index,
		cfg:      cfg,
		model:    model,
		retry:    RetryPolicy{MaxAttempts: cfg.MaxAttempts, MinWait: cfg.MinWait, MaxWait: cfg.MaxWait},
		logger:   logger,
		metrics:  metrics,
	}
}

// Run drains everything at or past the committed watermark and returns once
// the stream is caught up. On any failure it returns without advancing past
// the last durable batch, leaving the failed rows for the next run.
func (d *Driver) Run(ctx context.Context) (Stats, error) {
	runID := uuid.NewString()
	stats, err := d.run(ctx, runID)
	if err != nil {
		d.metrics.IndexerRuns.WithLabelValues("error").Inc()
		return stats, err
	}
	d.metrics.IndexerRuns.WithLabelValues("success").Inc()
	return stats, nil
}

func (d *Driver) run(ctx context.Context, runID string) (Stats, error) {
	var stats Stats

	if err := d.store.EnsureWatermark(ctx, d.cfg.Stream); err != nil {
		return stats, err
	}
	since, err := d.store.Watermark(ctx, d.cfg.Stream)
	if err != nil {
		return stats, err
	}
	stats.Watermark = since
	d.logger.Printf("run %s start stream=%s watermark=%s", runID, d.cfg.Stream, since.Format(time.RFC3339))

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		chunks, err := d.store.FetchChunksSince(ctx, since, d.cfg.PageLimit)
		if err != nil {
			return stats, err
		}
		if len(chunks) == 0 {
			break
		}
		stats.Pages++

		for start := 0; start < len(chunks); start += d.cfg.BatchSize {
			end := start + d.cfg.BatchSize
			if end > len(chunks) {
				end = len(chunks)
			}
			batch := chunks[start:end]
			mark, err := d.indexBatch(ctx, batch)
			if err != nil {
				return stats, fmt.Errorf("batch at offset %d: %w", start, err)
			}
			if err := d.store.SetWatermark(ctx, d.cfg.Stream, mark); err != nil {
				return stats, err
			}
			stats.Batches++
			stats.Chunks += len(batch)
			stats.Watermark = mark
			d.metrics.ChunksIndexed.Add(float64(len(batch)))
			d.metrics.WatermarkSeconds.Set(float64(mark.Unix()))
		}

		last := chunks[len(chunks)-1].CreatedAt
		if len(chunks) < d.cfg.PageLimit {
			break
		}
		if !last.After(since) {
			// A full page shares one timestamp, so the inclusive fetch
			// would return the same rows forever. Raise page_limit above
			// the largest same-timestamp cluster to get past this.
			d.logger.Printf("warn: watermark stuck at %s with a full page, stopping run", last.Format(time.RFC3339))
			break
		}
		since = last
	}

	d.logger.Printf("run %s done pages=%d batches=%d chunks=%d watermark=%s",
		runID, stats.Pages, stats.Batches, stats.Chunks, stats.Watermark.Format(time.RFC3339))
	return stats, nil
}

// indexBatch embeds one batch and upserts it, returning the batch's highest
// created_at. The embed call is the only retried step; upsert failures
// surface immediately so the watermark stays put.
func (d *Driver) indexBatch(ctx context.Context, batch []store.Chunk) (time.Time, error) {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.ChunkText
	}

	var vectors [][]float32
	err := d.retry.Do(ctx, func(ctx context.Context) error {
		var embErr error
		vectors, embErr = d.embedder.Embed(ctx, d.model, texts)
		return embErr
	}, func(attempt int, err error) {
		d.metrics.EmbeddingRetries.Inc()
		d.logger.Printf("warn: embed attempt %d failed: %v", attempt, err)
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("embed batch of %d: %w", len(batch), err)
	}
	if len(vectors) != len(batch) {
		return time.Time{}, fmt.Errorf("embed returned %d vectors for %d chunks", len(vectors), len(batch))
	}

	records := make([]vector.Record, len(batch))
	mark := batch[0].CreatedAt
	for i, c := range batch {
		records[i] = vector.Record{
			ID:       c.ChunkID,
			Values:   vectors[i],
			Metadata: chunkMetadata(c),
		}
		if c.CreatedAt.After(mark) {
			mark = c.CreatedAt
		}
	}
	if err := d.index.Upsert(ctx, records); err != nil {
		return time.Time{}, err
	}
	return mark, nil
}

func chunkMetadata(c store.Chunk) map[string]any {
	return map[string]any{
		"doc_id":     c.DocID,
		"source":     c.Source,
		"created_at": c.CreatedAt.UTC().Format(time.RFC3339),
		"permission": c.PermissionScope,
		"preview":    Preview(c.ChunkText),
	}
}

// Preview truncates text for index metadata, marking the cut with an
// ellipsis.
func Preview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewLimit {
		return text
	}
	return string(runes[:previewLimit]) + "…"
}
