package safety

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/kailas-cloud/ragstream/internal/domain"
)

const maxReplyBytes = 1 << 20

// Remote asks an external guardrail service for a verdict.
type Remote struct {
	client  *http.Client
	baseURL string
}

// NewRemote creates a remote gate posting to baseURL + "/validate".
// Timeouts come from the caller's context.
func NewRemote(baseURL string, client *http.Client) *Remote {
	if client == nil {
		client = http.DefaultClient
	}
	return &Remote{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

type validateRequest struct {
	Prompt string `json:"prompt"`
}

// Check implements guard.Gate.
func (r *Remote) Check(ctx context.Context, text string) (domain.Verdict, error) {
	reqBody, err := json.Marshal(validateRequest{Prompt: text})
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("marshal guardrail request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/validate", bytes.NewReader(reqBody))
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("build guardrail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("guardrail service unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("read guardrail reply: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Verdict{}, fmt.Errorf("guardrail returned status %d: %w",
			resp.StatusCode, domain.ErrUpstreamUnavailable)
	}

	return parseVerdict(body, text)
}

// parseVerdict accepts {"decision": "allow|block|modify", "sanitized": ..., "reason": ...}
// or the older {"allowed": bool, "sanitized_input": ..., "reason": ...} shape.
func parseVerdict(body []byte, original string) (domain.Verdict, error) {
	if !gjson.ValidBytes(body) {
		return domain.Verdict{}, fmt.Errorf("malformed guardrail reply: %w", domain.ErrUpstreamUnavailable)
	}
	reply := gjson.ParseBytes(body)
	reason := reply.Get("reason").String()

	if d := reply.Get("decision"); d.Exists() {
		sanitized := reply.Get("sanitized").String()
		if sanitized == "" {
			sanitized = reply.Get("sanitized_input").String()
		}
		switch decision := domain.Decision(strings.ToLower(d.String())); decision {
		case domain.Allow, domain.Block:
			return domain.Verdict{Decision: decision, Reason: reason}, nil
		case domain.Modify:
			return domain.Verdict{Decision: decision, Sanitized: sanitized, Reason: reason}, nil
		default:
			return domain.Verdict{}, fmt.Errorf("unknown guardrail decision %q: %w",
				d.String(), domain.ErrUpstreamUnavailable)
		}
	}

	allowed := reply.Get("allowed")
	if !allowed.Exists() {
		return domain.Verdict{}, fmt.Errorf("guardrail reply has no decision: %w", domain.ErrUpstreamUnavailable)
	}
	if !allowed.Bool() {
		return domain.Verdict{Decision: domain.Block, Reason: reason}, nil
	}
	if s := reply.Get("sanitized_input").String(); s != "" && s != original {
		return domain.Verdict{Decision: domain.Modify, Sanitized: s, Reason: reason}, nil
	}
	return domain.Verdict{Decision: domain.Allow, Reason: reason}, nil
}
