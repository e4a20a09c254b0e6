package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = string(openai.SmallEmbedding3)

// OpenAIProvider calls an OpenAI-compatible embeddings endpoint. Requests
// are paced by a token bucket.
type OpenAIProvider struct {
	client     *openai.Client
	model      string
	dimensions int
	limiter    *rate.Limiter
}

// NewOpenAI creates a provider from cfg. APIKey is required.
func NewOpenAI(cfg Config) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai embeddings: api key is not set")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	slog.Info("initializing openai embeddings", "model", model)
	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      model,
		dimensions: cfg.Dimensions,
		limiter:    rate.NewLimiter(limit, 1),
	}, nil
}

// Model returns the embedding model name.
func (p *OpenAIProvider) Model() string { return p.model }

// Embed sends texts in one request.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(p.model),
		Dimensions: p.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) || out[d.Index] != nil {
			return nil, fmt.Errorf("openai embeddings: bad index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
