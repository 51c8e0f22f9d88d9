package openai

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragstream/internal/domain"
	"github.com/kailas-cloud/ragstream/internal/metrics"
)

// Embedder embeds queries through an OpenAI-compatible /embeddings endpoint.
type Embedder struct {
	client     *openai.Client
	model      string
	dimensions int
	provider   string
	logger     *zap.Logger
}

// EmbedderConfig holds the embedding model settings.
type EmbedderConfig struct {
	Provider   ProviderConfig
	Model      string
	Dimensions int // requested output size; 0 keeps the model default
	Logger     *zap.Logger
}

// NewEmbedder creates an embedding client.
func NewEmbedder(cfg *EmbedderConfig) *Embedder {
	return &Embedder{
		client:     newClient(cfg.Provider),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		provider:   cfg.Provider.Name,
		logger:     cfg.Logger,
	}
}

// Embed implements domain.Embedder. A vector whose length differs from the
// requested dimensions is rejected, since the index would refuse it anyway.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.QueryEmbedding, error) {
	call := metrics.StartProviderCall(e.provider, e.model, metrics.OpEmbed)

	req := openai.EmbeddingRequest{
		Input:          []string{text},
		Model:          openai.EmbeddingModel(e.model),
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
		Dimensions:     e.dimensions,
	}
	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		call.Fail(errorKind(err))
		return domain.QueryEmbedding{}, parseAPIError("embedding", err)
	}

	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		call.Fail("empty_response")
		return domain.QueryEmbedding{}, fmt.Errorf("empty embedding response: %w", domain.ErrUpstreamUnavailable)
	}
	vec := resp.Data[0].Embedding
	if e.dimensions > 0 && len(vec) != e.dimensions {
		call.Fail("dimension_mismatch")
		e.logger.Error("Embedding dimension mismatch",
			zap.String("model", e.model), zap.Int("want", e.dimensions), zap.Int("got", len(vec)))
		return domain.QueryEmbedding{}, fmt.Errorf("embedding has %d dimensions, want %d: %w",
			len(vec), e.dimensions, domain.ErrUpstreamUnavailable)
	}

	call.Done()
	call.Tokens(resp.Usage.PromptTokens, 0)
	return domain.QueryEmbedding{Vector: vec, Tokens: resp.Usage.TotalTokens}, nil
}

// HealthCheck lists models, which costs no tokens.
func (e *Embedder) HealthCheck(ctx context.Context) error {
	if _, err := e.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}
