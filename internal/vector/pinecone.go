package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/estuarylab/knowledged/config"
)

// PineconeIndex implements Index over the Pinecone REST API. Control-plane
// calls (DescribeIndex) go to the base URL; data-plane calls go to the
// index host.
type PineconeIndex struct {
	cfg    config.VectorConfig
	host   string
	logger *log.Logger
	client *http.Client
}

// IndexDescription is the control-plane view of an index.
type IndexDescription struct {
	Name      string `json:"name"`
	Host      string `json:"host"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
	Status    struct {
		Ready bool   `json:"ready"`
		State string `json:"state"`
	} `json:"status"`
}

// NewPineconeIndex creates a data-plane client. When cfg.IndexHost is empty
// the host is resolved via DescribeIndex; the index dimension and metric
// are always validated against wantDimension and cosine similarity, since a
// mismatch with the embedding model cannot be handled at query time.
func NewPineconeIndex(ctx context.Context, cfg config.VectorConfig, wantDimension int, logger *log.Logger) (*PineconeIndex, error) {
	idx, err := newClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	desc, err := idx.DescribeIndex(ctx)
	if err != nil {
		return nil, err
	}
	if idx.host == "" {
		idx.host = desc.Host
		idx.logger.Printf("resolved index host via describe_index: %s", idx.host)
	}
	if wantDimension > 0 && desc.Dimension != wantDimension {
		return nil, fmt.Errorf("index %q has dimension %d, embedding model produces %d", cfg.IndexName, desc.Dimension, wantDimension)
	}
	if desc.Metric != "" && desc.Metric != "cosine" {
		return nil, fmt.Errorf("index %q uses metric %q, expected cosine", cfg.IndexName, desc.Metric)
	}
	return idx, nil
}

func newClient(cfg config.VectorConfig, logger *log.Logger) (*PineconeIndex, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2025-01"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.pinecone.io"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[VECTOR] ", log.LstdFlags)
	}
	return &PineconeIndex{
		cfg:    cfg,
		host:   strings.TrimSpace(cfg.IndexHost),
		logger: logger,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// EnsureIndex creates the index when it does not exist yet. Existing indexes
// are left untouched, whatever their dimension; NewPineconeIndex is where
// the dimension check happens.
func EnsureIndex(ctx context.Context, cfg config.VectorConfig, dimension int, logger *log.Logger) error {
	p, err := newClient(cfg, logger)
	if err != nil {
		return err
	}
	_, err = p.DescribeIndex(ctx)
	if err == nil {
		return nil
	}
	var apiErr *apiError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		return err
	}

	req := struct {
		Name      string `json:"name"`
		Dimension int    `json:"dimension"`
		Metric    string `json:"metric"`
		Spec      struct {
			Serverless struct {
				Cloud  string `json:"cloud"`
				Region string `json:"region"`
			} `json:"serverless"`
		} `json:"spec"`
	}{Name: p.cfg.IndexName, Dimension: dimension, Metric: "cosine"}
	req.Spec.Serverless.Cloud = "aws"
	req.Spec.Serverless.Region = "us-east-1"

	u := strings.TrimRight(p.cfg.BaseURL, "/") + "/indexes"
	if err := p.doJSON(ctx, http.MethodPost, u, req, nil); err != nil {
		return fmt.Errorf("create index %q: %w", p.cfg.IndexName, err)
	}
	p.logger.Printf("created index %s (dimension=%d metric=cosine)", p.cfg.IndexName, dimension)
	return nil
}

// DescribeIndex fetches the control-plane description of the index.
func (p *PineconeIndex) DescribeIndex(ctx context.Context) (*IndexDescription, error) {
	u := strings.TrimRight(p.cfg.BaseURL, "/") + "/indexes/" + p.cfg.IndexName
	var out IndexDescription
	if err := p.doJSON(ctx, http.MethodGet, u, nil, &out); err != nil {
		return nil, fmt.Errorf("describe index: %w", err)
	}
	if strings.TrimSpace(out.Host) == "" {
		return nil, fmt.Errorf("%w: describe_index returned empty host", ErrIndexUnavailable)
	}
	return &out, nil
}

// Upsert writes the whole batch or fails; a failed call leaves the caller's
// watermark untouched and is safe to retry.
func (p *PineconeIndex) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	req := struct {
		Vectors   []Record `json:"vectors"`
		Namespace string   `json:"namespace,omitempty"`
	}{Vectors: records, Namespace: p.cfg.Namespace}

	var out struct {
		UpsertedCount int64 `json:"upsertedCount"`
	}
	if err := p.doJSON(ctx, http.MethodPost, p.hostURL("/vectors/upsert"), req, &out); err != nil {
		return fmt.Errorf("upsert %d records: %w", len(records), err)
	}
	return nil
}

// Query runs a filtered top-k similarity search and returns matches in the
// index's descending-score order.
func (p *PineconeIndex) Query(ctx context.Context, vector []float32, topK int, filter map[string]any, includeMetadata bool) ([]Match, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector required")
	}
	if topK <= 0 {
		topK = 8
	}
	req := struct {
		Namespace       string         `json:"namespace,omitempty"`
		Vector          []float32      `json:"vector"`
		TopK            int            `json:"topK"`
		Filter          map[string]any `json:"filter,omitempty"`
		IncludeMetadata bool           `json:"includeMetadata"`
	}{
		Namespace:       p.cfg.Namespace,
		Vector:          vector,
		TopK:            topK,
		Filter:          filter,
		IncludeMetadata: includeMetadata,
	}

	var out struct {
		Matches []Match `json:"matches"`
	}
	if err := p.doJSON(ctx, http.MethodPost, p.hostURL("/query"), req, &out); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return out.Matches, nil
}

// apiError carries the HTTP status of a failed call so callers can tell a
// missing index from an outage.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

func (p *PineconeIndex) hostURL(path string) string {
	if strings.Contains(p.host, "://") {
		return strings.TrimRight(p.host, "/") + path
	}
	return "https://" + p.host + path
}

func (p *PineconeIndex) doJSON(ctx context.Context, method, url string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Api-Key", p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pinecone-Api-Version", p.cfg.APIVersion)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %w", ErrIndexUnavailable, &apiError{Status: resp.StatusCode, Body: string(raw)})
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
