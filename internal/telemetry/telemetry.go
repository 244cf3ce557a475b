// Package telemetry defines the service's prometheus collectors. Both
// pipelines report through one Metrics value so the /metrics endpoint shows
// indexing and answering side by side.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the service exports.
type Metrics struct {
	IndexerRuns      *prometheus.CounterVec
	ChunksIndexed    prometheus.Counter
	EmbeddingRetries prometheus.Counter
	WatermarkSeconds prometheus.Gauge

	AskRequests      *prometheus.CounterVec
	AskSeconds       prometheus.Histogram
	RetrievalMatches prometheus.Histogram
	CacheHits        prometheus.Counter
}

// NewMetrics creates and registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IndexerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "knowledged_indexer_runs_total",
			Help: "Indexer runs by final status.",
		}, []string{"status"}),
		ChunksIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "knowledged_indexer_chunks_indexed_total",
			Help: "Chunks durably upserted into the vector index.",
		}),
		EmbeddingRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "knowledged_indexer_embedding_retries_total",
			Help: "Embedding calls retried after a transient failure.",
		}),
		WatermarkSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "knowledged_indexer_watermark_timestamp_seconds",
			Help: "Unix timestamp of the last committed watermark.",
		}),
		AskRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "knowledged_ask_requests_total",
			Help: "Ask requests by final status.",
		}, []string{"status"}),
		AskSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "knowledged_ask_request_seconds",
			Help:    "End-to-end ask latency.",
			Buckets: prometheus.DefBuckets,
		}),
		RetrievalMatches: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "knowledged_ask_retrieval_matches",
			Help:    "Matches returned by the vector query per request.",
			Buckets: []float64{0, 1, 2, 4, 8, 16},
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "knowledged_ask_cache_hits_total",
			Help: "Ask requests answered from the cache.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.IndexerRuns, m.ChunksIndexed, m.EmbeddingRetries, m.WatermarkSeconds,
			m.AskRequests, m.AskSeconds, m.RetrievalMatches, m.CacheHits,
		)
	}
	return m
}

// NewNopMetrics creates collectors without registering them, for tests.
func NewNopMetrics() *Metrics {
	return NewMetrics(nil)
}
