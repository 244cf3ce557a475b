package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/estuarylab/knowledged/config"
)

// OpenAIProvider implements Provider against the OpenAI REST API (or any
// compatible endpoint via base_url).
type OpenAIProvider struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewOpenAIProvider creates a provider from configuration. The API key may
// also come from the OPENAI_API_KEY environment variable.
func NewOpenAIProvider(cfg config.LLMConfig) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *OpenAIProvider) apiKey() string {
	if p.cfg.APIKey != "" {
		return p.cfg.APIKey
	}
	return os.Getenv("OPENAI_API_KEY")
}

// Embed returns one vector per input text, in input order.
func (p *OpenAIProvider) Embed(ctx context.Context, model string, input []string) ([][]float32, error) {
	if len(input) == 0 {
		return nil, nil
	}
	req := struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}{Model: model, Input: input}

	var out struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := p.doJSON(ctx, "/embeddings", req, &out); err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(out.Data) != len(input) {
		return nil, fmt.Errorf("embed: got %d vectors for %d inputs", len(out.Data), len(input))
	}
	vectors := make([][]float32, len(input))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embed: vector index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// Complete sends a chat message list and returns the generated text.
func (p *OpenAIProvider) Complete(ctx context.Context, model string, messages []Message, temperature float64) (string, error) {
	req := struct {
		Model       string    `json:"model"`
		Messages    []Message `json:"messages"`
		Temperature float64   `json:"temperature"`
	}{Model: model, Messages: messages, Temperature: temperature}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := p.doJSON(ctx, "/chat/completions", req, &out); err != nil {
		return "", fmt.Errorf("complete: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("complete: no choices returned")
	}
	return out.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) doJSON(ctx context.Context, path string, body any, out any) error {
	apiKey := p.apiKey()
	if apiKey == "" {
		return fmt.Errorf("API key not configured")
	}
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: status %d: %s", ErrProviderUnavailable, resp.StatusCode, string(raw))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
