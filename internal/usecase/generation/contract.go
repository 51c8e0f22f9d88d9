package generation

import (
	"context"

	"github.com/kailas-cloud/ragstream/internal/domain"
)

// Backend opens a text generation stream for a prompt.
type Backend interface {
	Stream(ctx context.Context, p domain.Prompt) (domain.TokenStream, error)
}

// Counter measures and trims text in prompt budget units.
type Counter interface {
	Count(text string) int
	Trim(text string, budget int) string
}
