package openai

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kailas-cloud/ragstream/internal/domain"
	"github.com/kailas-cloud/ragstream/internal/metrics"
)

const hydePrompt = "Write a short passage that would answer the following question. " +
	"Do not mention the question itself. Reply with the passage only."

// Rewriter expands a query into a hypothetical answer passage (HyDE),
// which embeds closer to the documents that answer it.
type Rewriter struct {
	client    *openai.Client
	model     string
	provider  string
	maxTokens int
}

// RewriterConfig holds the rewrite model settings.
type RewriterConfig struct {
	Provider  ProviderConfig
	Model     string
	MaxTokens int // 0 uses defaultRewriteTokens
}

const defaultRewriteTokens = 256

// NewRewriter creates a HyDE rewriter.
func NewRewriter(cfg *RewriterConfig) *Rewriter {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultRewriteTokens
	}
	return &Rewriter{
		client:    newClient(cfg.Provider),
		model:     cfg.Model,
		provider:  cfg.Provider.Name,
		maxTokens: maxTokens,
	}
}

// Rewrite returns the generated passage for query.
func (r *Rewriter) Rewrite(ctx context.Context, query string) (string, error) {
	call := metrics.StartProviderCall(r.provider, r.model, metrics.OpRewrite)

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     r.model,
		MaxTokens: r.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: hydePrompt},
			{Role: openai.ChatMessageRoleUser, Content: query},
		},
	})
	if err != nil {
		call.Fail(errorKind(err))
		return "", parseAPIError("rewrite", err)
	}

	var passage string
	if len(resp.Choices) > 0 {
		passage = strings.TrimSpace(resp.Choices[0].Message.Content)
	}
	if passage == "" {
		call.Fail("empty_response")
		return "", fmt.Errorf("empty rewrite response: %w", domain.ErrUpstreamUnavailable)
	}

	call.Done()
	call.Tokens(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	return passage, nil
}
