package pipeline

import (
	"context"

	"github.com/kailas-cloud/ragstream/internal/domain"
	"github.com/kailas-cloud/ragstream/internal/domain/candidate"
)

// Guard is the Safety Gate.
type Guard interface {
	Check(ctx context.Context, text string) (domain.Verdict, error)
}

// Rewriter is the Query Rewriter. On failure it returns the original text
// along with the error.
type Rewriter interface {
	Rewrite(ctx context.Context, text string) (string, error)
}

// Retriever is the Retrieval Facade.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]candidate.Candidate, error)
}

// Reranker is the Rerank Facade. userID may be empty; backends can use it
// for per-user ranking.
type Reranker interface {
	Rerank(ctx context.Context, query, userID string, cands []candidate.Candidate, topK int) ([]candidate.Ranked, error)
	Fallback(cands []candidate.Candidate, topK int) []candidate.Ranked
}

// Generator is the Generation Facade.
type Generator interface {
	BuildPrompt(question string, ranked []candidate.Ranked) domain.PromptContext
	Render(pc domain.PromptContext, model string) domain.Prompt
	Open(ctx context.Context, p domain.Prompt) (<-chan domain.Fragment, error)
}

// Filter is the Output Filter.
type Filter interface {
	Apply(ctx context.Context, in <-chan domain.Fragment) <-chan domain.Fragment
}

// VariantPicker chooses the generation variant for a user.
type VariantPicker interface {
	Pick(userID string) domain.Variant
}
