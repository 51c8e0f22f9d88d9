package search

import (
	"context"
	"errors"
	"testing"

	"github.com/kailas-cloud/ragstream/internal/db"
	"github.com/kailas-cloud/ragstream/internal/domain/search/mode"
)

func entries(keys ...string) *db.SearchResult {
	sr := &db.SearchResult{Total: len(keys)}
	for i, k := range keys {
		sr.Entries = append(sr.Entries, db.SearchEntry{
			Key:   "docs:" + k,
			Score: 1.0 - float64(i)*0.1,
			Fields: map[string]string{
				db.FieldContent: "content-" + k,
				"source":        "faq",
			},
		})
	}
	return sr
}

func TestNew_Validation(t *testing.T) {
	ms := &mockStore{}
	emb := &mockEmbedder{}
	if _, err := New(ms, ms, emb, Config{Mode: "geo"}); err == nil {
		t.Error("expected error for unknown mode")
	}
	if _, err := New(ms, nil, emb, Config{Mode: mode.Hybrid}); err == nil {
		t.Error("expected error for hybrid without text store")
	}
	if _, err := New(nil, ms, nil, Config{Mode: mode.Semantic}); err == nil {
		t.Error("expected error for semantic without vectors")
	}
	if _, err := New(nil, ms, nil, Config{Mode: mode.Keyword}); err != nil {
		t.Errorf("keyword needs only text store: %v", err)
	}
}

func TestSearch_Semantic(t *testing.T) {
	ms := &mockStore{
		searchKNNFn: func(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
			if q.IndexName != "docs:idx" || q.K != 5 || len(q.Vector) != 4 {
				t.Errorf("unexpected query %+v", q)
			}
			return entries("a", "b"), nil
		},
		searchBM25Fn: func(context.Context, *db.TextQuery) (*db.SearchResult, error) {
			t.Error("keyword search must not run in semantic mode")
			return nil, nil
		},
	}
	repo, err := New(ms, ms, &mockEmbedder{}, Config{Index: "docs:idx", KeyPrefix: "docs:", Mode: mode.Semantic})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	got, err := repo.Search(context.Background(), "reset password", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got[0].ID() != "a" || got[0].Text() != "content-a" || got[0].Score() != 1.0 {
		t.Errorf("unexpected first candidate: id=%s text=%s score=%f", got[0].ID(), got[0].Text(), got[0].Score())
	}
	if got[0].Metadata()["source"] != "faq" {
		t.Errorf("expected metadata preserved, got %v", got[0].Metadata())
	}
}

func TestSearch_PrefersExplicitDocumentID(t *testing.T) {
	ms := &mockStore{searchBM25Fn: func(context.Context, *db.TextQuery) (*db.SearchResult, error) {
		return &db.SearchResult{Total: 1, Entries: []db.SearchEntry{{
			Key:    "7f1c0c5e",
			Score:  2.5,
			Fields: map[string]string{db.FieldID: "faq-1", db.FieldContent: "x"},
		}}}, nil
	}}
	repo, _ := New(nil, ms, nil, Config{Mode: mode.Keyword})

	got, err := repo.Search(context.Background(), "q", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[0].ID() != "faq-1" {
		t.Errorf("expected faq-1, got %s", got[0].ID())
	}
	if got[0].Metadata() != nil {
		t.Errorf("expected no metadata, got %v", got[0].Metadata())
	}
}

func TestSearch_HybridFusesBothLists(t *testing.T) {
	ms := &mockStore{
		searchKNNFn: func(context.Context, *db.KNNQuery) (*db.SearchResult, error) {
			return entries("a", "b"), nil
		},
		searchBM25Fn: func(_ context.Context, q *db.TextQuery) (*db.SearchResult, error) {
			if q.Query != "reset password" || q.TopK != 10 {
				t.Errorf("unexpected text query %+v", q)
			}
			return entries("b", "c"), nil
		},
	}
	emb := &mockEmbedder{}
	repo, _ := New(ms, ms, emb, Config{KeyPrefix: "docs:", Mode: mode.Hybrid})

	got, err := repo.Search(context.Background(), "reset password", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 fused candidates, got %d", len(got))
	}
	if got[0].ID() != "b" {
		t.Errorf("expected b (in both lists) first, got %s", got[0].ID())
	}
	if emb.calls != 1 {
		t.Errorf("expected one embedding call, got %d", emb.calls)
	}
}

func TestSearch_HybridPropagatesErrors(t *testing.T) {
	storeErr := errors.New("connection refused")
	ms := &mockStore{searchBM25Fn: func(context.Context, *db.TextQuery) (*db.SearchResult, error) {
		return nil, storeErr
	}}
	repo, _ := New(ms, ms, &mockEmbedder{}, Config{Mode: mode.Hybrid})

	if _, err := repo.Search(context.Background(), "q", 5); !errors.Is(err, storeErr) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestSearch_EmbedError(t *testing.T) {
	embErr := errors.New("provider down")
	ms := &mockStore{}
	repo, _ := New(ms, ms, &mockEmbedder{err: embErr}, Config{Mode: mode.Semantic})

	if _, err := repo.Search(context.Background(), "q", 5); !errors.Is(err, embErr) {
		t.Fatalf("expected embed error, got %v", err)
	}
}

func TestSearch_EmptyResult(t *testing.T) {
	ms := &mockStore{}
	repo, _ := New(ms, ms, &mockEmbedder{}, Config{Mode: mode.Hybrid})

	got, err := repo.Search(context.Background(), "q", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no candidates, got %d", len(got))
	}
}
