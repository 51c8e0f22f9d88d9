package search

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/ragstream/internal/db"
	"github.com/kailas-cloud/ragstream/internal/domain"
	"github.com/kailas-cloud/ragstream/internal/domain/candidate"
	"github.com/kailas-cloud/ragstream/internal/domain/search/mode"
)

// Config selects the index and retrieval strategy.
type Config struct {
	Index     string
	KeyPrefix string // stripped from store keys to form document ids
	Mode      mode.Mode
	EFRuntime int // passed to the vector index; 0 keeps its default
}

// Repo is the search backend behind the retrieval facade.
type Repo struct {
	vectors db.VectorSearcher
	text    db.TextSearcher
	embed   domain.Embedder
	cfg     Config
}

// New creates a search repository. text may be nil when cfg.Mode is semantic;
// embed may be nil when cfg.Mode is keyword.
func New(vectors db.VectorSearcher, text db.TextSearcher, embed domain.Embedder, cfg Config) (*Repo, error) {
	if !cfg.Mode.IsValid() {
		return nil, fmt.Errorf("unsupported search mode %q", cfg.Mode)
	}
	if cfg.Mode.UsesVectors() && (vectors == nil || embed == nil) {
		return nil, fmt.Errorf("mode %s requires a vector store and an embedder", cfg.Mode)
	}
	if cfg.Mode.UsesText() && text == nil {
		return nil, fmt.Errorf("mode %s requires a text search store", cfg.Mode)
	}
	return &Repo{vectors: vectors, text: text, embed: embed, cfg: cfg}, nil
}

// Search returns up to topK candidates for query, best first.
func (r *Repo) Search(ctx context.Context, query string, topK int) ([]candidate.Candidate, error) {
	switch r.cfg.Mode {
	case mode.Semantic:
		return r.searchSemantic(ctx, query, topK)
	case mode.Keyword:
		return r.searchKeyword(ctx, query, topK)
	default:
		return r.searchHybrid(ctx, query, topK)
	}
}

func (r *Repo) searchSemantic(ctx context.Context, query string, topK int) ([]candidate.Candidate, error) {
	emb, err := r.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("vectorize query: %w", err)
	}
	sr, err := r.vectors.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    r.cfg.Index,
		Vector:       emb.Vector,
		K:            topK,
		EFRuntime:    r.cfg.EFRuntime,
		ReturnFields: returnFields(),
	})
	if err != nil {
		return nil, fmt.Errorf("search knn %s: %w", r.cfg.Index, err)
	}
	return r.toCandidates(sr), nil
}

func (r *Repo) searchKeyword(ctx context.Context, query string, topK int) ([]candidate.Candidate, error) {
	sr, err := r.text.SearchBM25(ctx, &db.TextQuery{
		IndexName:    r.cfg.Index,
		Query:        query,
		TopK:         topK,
		ReturnFields: returnFields(),
	})
	if err != nil {
		return nil, fmt.Errorf("search bm25 %s: %w", r.cfg.Index, err)
	}
	return r.toCandidates(sr), nil
}

// searchHybrid runs KNN and BM25 concurrently, then fuses via RRF.
func (r *Repo) searchHybrid(ctx context.Context, query string, topK int) ([]candidate.Candidate, error) {
	var knn, bm25 []candidate.Candidate
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		knn, err = r.searchSemantic(gctx, query, topK)
		return err
	})
	g.Go(func() error {
		var err error
		bm25, err = r.searchKeyword(gctx, query, topK)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return fuseRRF(knn, bm25, topK), nil
}

func returnFields() []string {
	return []string{db.FieldContent, db.FieldID}
}

func (r *Repo) toCandidates(sr *db.SearchResult) []candidate.Candidate {
	if sr == nil || len(sr.Entries) == 0 {
		return nil
	}
	out := make([]candidate.Candidate, 0, len(sr.Entries))
	for _, e := range sr.Entries {
		id := e.Fields[db.FieldID]
		if id == "" {
			id = strings.TrimPrefix(e.Key, r.cfg.KeyPrefix)
		}
		var meta map[string]string
		for k, v := range e.Fields {
			if k == db.FieldContent || k == db.FieldID || strings.HasPrefix(k, "__") {
				continue
			}
			if meta == nil {
				meta = make(map[string]string)
			}
			meta[k] = v
		}
		out = append(out, candidate.New(id, e.Fields[db.FieldContent], e.Score, meta))
	}
	return out
}
