package ragstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HealthStatus represents the aggregated system health.
type HealthStatus struct {
	Status string            `json:"status"`           // "ok", "degraded", "error"
	Checks map[string]string `json:"checks,omitempty"` // component → "ok"/"error"
}

// Health calls the liveness probe.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	return c.probe(ctx, "health", "/health")
}

// Ready reports dependency health. A "degraded" report still means the
// service is serving. An unhealthy service returns the report together with
// an *APIError carrying status 503.
func (c *Client) Ready(ctx context.Context) (HealthStatus, error) {
	return c.probe(ctx, "ready", "/ready")
}

func (c *Client) probe(ctx context.Context, op, path string) (hs HealthStatus, err error) {
	start := time.Now()
	defer func() { c.obs.observe(op, start, err) }()

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return HealthStatus{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(&hs); err != nil {
		return HealthStatus{}, fmt.Errorf("ragstream: decode %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return hs, &APIError{Status: resp.StatusCode, Code: hs.Status, Message: "service not ready"}
	}
	return hs, nil
}
