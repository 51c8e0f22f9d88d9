package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/kailas-cloud/ragstream/internal/domain"
	"github.com/kailas-cloud/ragstream/internal/domain/candidate"
)

const maxReplyBytes = 4 << 20

// Client calls a Cohere-compatible rerank endpoint.
type Client struct {
	http     *http.Client
	endpoint string
	apiKey   string
	model    string
}

// Config holds rerank service settings.
type Config struct {
	Endpoint string
	APIKey   string
	Model    string
}

// New creates a rerank client. Timeouts come from the caller's context.
func New(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{http: httpClient, endpoint: cfg.Endpoint, apiKey: cfg.APIKey, model: cfg.Model}
}

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
	User      string   `json:"user,omitempty"`
}

// Score returns relevance scores for docs against query. userID, when set,
// is sent as "user" for services that personalise ranking.
// Documents the service omits are absent from the result.
func (c *Client) Score(ctx context.Context, query, userID string, docs []string) ([]candidate.Score, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(rerankRequest{Model: c.model, Query: query, Documents: docs, TopN: len(docs), User: userID})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, fmt.Errorf("read rerank reply: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("rerank returned status %d: %w", resp.StatusCode, domain.ErrUpstreamUnavailable)
	}
	return parseScores(body, len(docs))
}

// parseScores reads {"results":[{"index":i,"relevance_score":s}]}.
// Out-of-range indexes are dropped.
func parseScores(body []byte, n int) ([]candidate.Score, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("malformed rerank reply: %w", domain.ErrUpstreamUnavailable)
	}
	results := gjson.GetBytes(body, "results")
	if !results.IsArray() {
		return nil, fmt.Errorf("rerank reply has no results: %w", domain.ErrUpstreamUnavailable)
	}

	scores := make([]candidate.Score, 0, n)
	results.ForEach(func(_, r gjson.Result) bool {
		idx := r.Get("index")
		val := r.Get("relevance_score")
		if !idx.Exists() || !val.Exists() {
			return true
		}
		if i := int(idx.Int()); i >= 0 && i < n {
			scores = append(scores, candidate.Score{Index: i, Value: val.Float()})
		}
		return true
	})
	return scores, nil
}
