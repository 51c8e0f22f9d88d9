package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kailas-cloud/ragstream/internal/domain"
	"github.com/kailas-cloud/ragstream/internal/metrics"
)

func completionServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			MaxTokens int `json:"max_tokens"`
			Messages  []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(body.Messages) != 2 || body.Messages[1].Content != "what is rrf?" {
			t.Errorf("unexpected messages: %+v", body.Messages)
		}
		if body.MaxTokens != defaultRewriteTokens {
			t.Errorf("max_tokens = %d, want %d", body.MaxTokens, defaultRewriteTokens)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "rw-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
			"usage": map[string]any{"prompt_tokens": 7, "completion_tokens": 9, "total_tokens": 16},
		})
	}))
}

func TestRewriter_Rewrite(t *testing.T) {
	server := completionServer(t, "  Reciprocal rank fusion merges ranked lists.\n")
	defer server.Close()

	rw := NewRewriter(&RewriterConfig{
		Provider: ProviderConfig{Name: "test", APIKey: "k", BaseURL: server.URL},
		Model:    "rw-model",
	})
	got, err := rw.Rewrite(context.Background(), "what is rrf?")
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if got != "Reciprocal rank fusion merges ranked lists." {
		t.Errorf("got %q", got)
	}
	if n := testutil.ToFloat64(metrics.ProviderTokensTotal.WithLabelValues("test", "rw-model", metrics.OpRewrite, "completion")); n < 9 {
		t.Errorf("expected completion tokens counted, got %f", n)
	}
}

func TestRewriter_EmptyAnswer(t *testing.T) {
	server := completionServer(t, "   ")
	defer server.Close()

	rw := NewRewriter(&RewriterConfig{
		Provider: ProviderConfig{Name: "test", APIKey: "k", BaseURL: server.URL},
		Model:    "rw-model",
	})
	_, err := rw.Rewrite(context.Background(), "what is rrf?")
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}
