// Package ask answers questions over the indexed corpus: embed the query,
// run a permission-filtered similarity search, and ground the completion in
// the retrieved previews.
package ask

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/estuarylab/knowledged/config"
	"github.com/estuarylab/knowledged/internal/llm"
	"github.com/estuarylab/knowledged/internal/telemetry"
	"github.com/estuarylab/knowledged/internal/vector"
)

// FallbackAnswer is returned verbatim when retrieval comes back empty. The
// completion model is never consulted in that case.
const FallbackAnswer = "I couldn't find anything relevant."

const defaultTopK = 8

const systemPrompt = `You are the internal assistant. Be concise and cite sources as [doc_id].
Respect permissions: only use docs where permission intersects the user's groups.
If nothing relevant is found, say so.`

// Request is one question with the caller's group memberships.
type Request struct {
	Query      string   `json:"query"`
	UserGroups []string `json:"user_groups"`
	TopK       int      `json:"top_k"`
}

// Response carries the answer and the doc ids it drew on.
type Response struct {
	Answer    string   `json:"answer"`
	Citations []string `json:"citations"`
}

// Service wires the retrieval pipeline together. All fields are set at
// construction; Ask is safe for concurrent use.
type Service struct {
	provider llm.Provider
	index    vector.Index
	cache    Cache
	cfg      config.LLMConfig
	logger   *log.Logger
	metrics  *telemetry.Metrics
}

func NewService(provider llm.Provider, index vector.Index, cache Cache, cfg config.LLMConfig, logger *log.Logger, metrics *telemetry.Metrics) *Service {
	if logger == nil {
		logger = log.New(log.Writer(), "[ASK] ", log.LstdFlags)
	}
	if metrics == nil {
		metrics = telemetry.NewNopMetrics()
	}
	return &Service{
		provider: provider,
		index:    index,
		cache:    cache,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
	}
}

// GroupFilter builds the metadata filter for the caller's groups. An empty
// group list means no filter at all: the caller sees the whole corpus. That
// is the service's trust model, not an accident; callers that should see
// nothing must not reach this service.
func GroupFilter(groups []string) map[string]any {
	if len(groups) == 0 {
		return nil
	}
	return map[string]any{"permission": map[string]any{"$in": groups}}
}

// Ask answers one question. Failures of the embedding, index, or completion
// backends surface as errors; an empty retrieval is not an error.
func (s *Service) Ask(ctx context.Context, req Request) (Response, error) {
	started := time.Now()
	resp, cached, err := s.ask(ctx, req)
	if err != nil {
		s.metrics.AskRequests.WithLabelValues("error").Inc()
		return Response{}, err
	}
	s.metrics.AskRequests.WithLabelValues("success").Inc()
	s.metrics.AskSeconds.Observe(time.Since(started).Seconds())
	if cached {
		s.metrics.CacheHits.Inc()
	}
	return resp, nil
}

func (s *Service) ask(ctx context.Context, req Request) (Response, bool, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return Response{}, false, fmt.Errorf("query is required")
	}
	topK := req.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	key := cacheKey(query, req.UserGroups, topK)
	if resp, ok := s.cacheGet(ctx, key); ok {
		return resp, true, nil
	}

	vectors, err := s.provider.Embed(ctx, s.cfg.EmbeddingModel, []string{query})
	if err != nil {
		return Response{}, false, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return Response{}, false, fmt.Errorf("embed query: got %d vectors", len(vectors))
	}

	matches, err := s.index.Query(ctx, vectors[0], topK, GroupFilter(req.UserGroups), true)
	if err != nil {
		return Response{}, false, fmt.Errorf("vector query: %w", err)
	}
	s.metrics.RetrievalMatches.Observe(float64(len(matches)))

	if len(matches) == 0 {
		return Response{Answer: FallbackAnswer, Citations: []string{}}, false, nil
	}

	contexts, citations := buildContext(matches)
	messages := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: fmt.Sprintf("Question: %s\n\nSources:\n%s", query, strings.Join(contexts, "\n\n"))},
	}
	answer, err := s.provider.Complete(ctx, s.cfg.ChatModel, messages, 0)
	if err != nil {
		return Response{}, false, fmt.Errorf("complete: %w", err)
	}

	resp := Response{Answer: answer, Citations: citations}
	s.cacheSet(ctx, key, resp)
	return resp, false, nil
}

// buildContext turns matches into "[doc_id] preview" source lines, keeping
// the index's score order, and collects doc ids with first-seen dedup.
func buildContext(matches []vector.Match) (contexts []string, citations []string) {
	seen := make(map[string]struct{}, len(matches))
	citations = make([]string, 0, len(matches))
	contexts = make([]string, 0, len(matches))
	for _, m := range matches {
		docID := m.ID
		var preview string
		if m.Metadata != nil {
			if v, ok := m.Metadata["doc_id"].(string); ok && v != "" {
				docID = v
			}
			preview, _ = m.Metadata["preview"].(string)
		}
		contexts = append(contexts, fmt.Sprintf("[%s] %s", docID, preview))
		if _, dup := seen[docID]; !dup {
			seen[docID] = struct{}{}
			citations = append(citations, docID)
		}
	}
	return contexts, citations
}
