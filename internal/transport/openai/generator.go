package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragstream/internal/domain"
	"github.com/kailas-cloud/ragstream/internal/metrics"
)

// Generator streams chat completions from an OpenAI-compatible API.
type Generator struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	provider    string
	logger      *zap.Logger
}

// GeneratorConfig holds the chat model settings.
type GeneratorConfig struct {
	Provider    ProviderConfig
	Model       string
	Temperature float32
	MaxTokens   int
	Logger      *zap.Logger
}

// NewGenerator creates a streaming chat completion client.
func NewGenerator(cfg *GeneratorConfig) *Generator {
	return &Generator{
		client:      newClient(cfg.Provider),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		provider:    cfg.Provider.Name,
		logger:      cfg.Logger,
	}
}

// Stream opens a completion stream for the prompt.
// Prompt.Model overrides the configured model when set. The provider call is
// recorded when the stream ends, so its duration covers the whole answer.
func (g *Generator) Stream(ctx context.Context, p domain.Prompt) (domain.TokenStream, error) {
	model := g.model
	if p.Model != "" {
		model = p.Model
	}
	call := metrics.StartProviderCall(g.provider, model, metrics.OpGenerate)

	req := openai.ChatCompletionRequest{
		Model:         model,
		Messages:      chatMessages(p),
		Temperature:   g.temperature,
		MaxTokens:     g.maxTokens,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	stream, err := g.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		call.Fail(errorKind(err))
		return nil, parseAPIError("generation", err)
	}
	return &chatStream{stream: stream, call: call, logger: g.logger}, nil
}

func chatMessages(p domain.Prompt) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, 2)
	if p.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: p.System})
	}
	return append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: p.User})
}

// HealthCheck lists models, which costs no tokens.
func (g *Generator) HealthCheck(ctx context.Context) error {
	if _, err := g.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

type chatStream struct {
	stream *openai.ChatCompletionStream
	call   metrics.ProviderCall
	logger *zap.Logger
	ended  sync.Once
}

// finish records the call outcome once: success on EOF, the error kind
// otherwise.
func (s *chatStream) finish(err error) {
	s.ended.Do(func() {
		if err == nil {
			s.call.Done()
			return
		}
		s.call.Fail(errorKind(err))
	})
}

// Recv returns the next content delta, possibly empty for role or usage chunks.
func (s *chatStream) Recv() (string, error) {
	resp, err := s.stream.Recv()
	if errors.Is(err, io.EOF) {
		s.finish(nil)
		return "", io.EOF
	}
	if err != nil {
		s.finish(err)
		s.logger.Debug("Generation stream failed", zap.String("error_type", errorKind(err)), zap.Error(err))
		return "", parseAPIError("generation stream", err)
	}
	if resp.Usage != nil {
		s.call.Tokens(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Delta.Content, nil
}

// Close before EOF counts the call as cancelled.
func (s *chatStream) Close() error {
	s.finish(context.Canceled)
	s.stream.Close()
	return nil
}
