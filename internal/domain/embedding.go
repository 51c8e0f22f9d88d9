package domain

import (
	"context"
	"fmt"
	"strings"
)

// Embedder turns query text into a vector for semantic retrieval.
type Embedder interface {
	Embed(ctx context.Context, text string) (QueryEmbedding, error)
}

// QueryEmbedding is a query vector plus provider usage.
// Tokens is zero when the vector came from cache.
type QueryEmbedding struct {
	Vector []float32
	Tokens int
	Cached bool
}

// InstructionEmbedder prefixes queries with a retrieval instruction, as
// asymmetric embedding models expect ("query: ...").
type InstructionEmbedder struct {
	inner       Embedder
	instruction string
}

// NewInstructionEmbedder wraps inner.
func NewInstructionEmbedder(inner Embedder, instruction string) *InstructionEmbedder {
	return &InstructionEmbedder{inner: inner, instruction: instruction}
}

// Embed implements Embedder. Text already carrying the instruction is not prefixed twice.
func (e *InstructionEmbedder) Embed(ctx context.Context, text string) (QueryEmbedding, error) {
	if !strings.HasPrefix(text, e.instruction) {
		text = e.instruction + text
	}
	res, err := e.inner.Embed(ctx, text)
	if err != nil {
		return QueryEmbedding{}, fmt.Errorf("instruction embed: %w", err)
	}
	return res, nil
}
