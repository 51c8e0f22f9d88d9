package ragstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultErrorMarker matches the server's default in-band error marker.
const DefaultErrorMarker = "\n[error: the response was interrupted]"

const (
	readChunk        = 4096
	defaultUserAgent = "ragstream-go"
)

// Response headers set by the service on /search.
const (
	headerTraceID = "X-Trace-ID"
	headerVariant = "X-Variant-Version"
	headerOutcome = "X-Pipeline-Outcome"
)

// Outcome values reported for a search.
const (
	OutcomeAnswered  = "answered"
	OutcomeRefused   = "refused"
	OutcomeNoResults = "no_results"
)

// SearchResult describes a completed search.
type SearchResult struct {
	TraceID string
	Variant string
	Outcome string
	Bytes   int
}

// Client is the ragstream SDK entry point.
type Client struct {
	baseURL     string
	apiKey      string
	hc          *http.Client
	errorMarker string
	userAgent   string
	obs         *observer
}

// New creates a Client.
func New(opts ...Option) (*Client, error) {
	cfg := &clientConfig{errorMarker: DefaultErrorMarker, userAgent: defaultUserAgent}
	for _, o := range opts {
		o.apply(cfg)
	}

	if cfg.baseURL == "" {
		return nil, errors.New("ragstream: base URL required (use WithBaseURL)")
	}
	if cfg.httpClient == nil {
		cfg.httpClient = &http.Client{}
	}

	obs, err := newObserver(cfg.logger, cfg.metricsReg)
	if err != nil {
		return nil, err
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.baseURL, "/"),
		apiKey:      cfg.apiKey,
		hc:          cfg.httpClient,
		errorMarker: cfg.errorMarker,
		userAgent:   cfg.userAgent,
		obs:         obs,
	}, nil
}

type searchRequest struct {
	Query     string `json:"query"`
	UserID    string `json:"user_id,omitempty"`
	TimeoutMs int64  `json:"timeout_ms,omitempty"`
}

// Search asks a question and passes the answer to fn chunk by chunk as the
// server streams it. Chunks are raw body bytes and may split a multi-byte
// character. Returning an error from fn stops the stream and cancels the
// request on the server.
func (c *Client) Search(
	ctx context.Context, query, userID string, fn func(chunk string) error,
) (res *SearchResult, err error) {
	start := time.Now()
	defer func() { c.obs.observe("search", start, err) }()

	sr := searchRequest{Query: query, UserID: userID}
	// Forward the caller's deadline so the server stops work at the same time.
	if dl, ok := ctx.Deadline(); ok {
		if ms := time.Until(dl).Milliseconds(); ms > 0 {
			sr.TimeoutMs = ms
		}
	}
	body, err := json.Marshal(sr)
	if err != nil {
		return nil, fmt.Errorf("ragstream: encode request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	resp, err := c.do(ctx, http.MethodPost, "/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}

	res = &SearchResult{
		TraceID: resp.Header.Get(headerTraceID),
		Variant: resp.Header.Get(headerVariant),
		Outcome: resp.Header.Get(headerOutcome),
	}
	first := true
	n, err := c.readStream(resp.Body, func(chunk string) error {
		if first {
			first = false
			c.obs.firstChunk(start)
		}
		return fn(chunk)
	})
	res.Bytes = n
	if err != nil {
		return res, err
	}
	return res, nil
}

// readStream forwards body chunks to fn, holding back enough trailing bytes
// to recognize the error marker at the end of the stream.
func (c *Client) readStream(r io.Reader, fn func(string) error) (int, error) {
	hold := len(c.errorMarker)
	var pending []byte
	total := 0
	buf := make([]byte, readChunk)

	emit := func(b []byte) error {
		if len(b) == 0 {
			return nil
		}
		total += len(b)
		c.obs.chunk()
		if err := fn(string(b)); err != nil {
			return fmt.Errorf("ragstream: callback: %w", err)
		}
		return nil
	}

	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			if over := len(pending) - hold; over > 0 {
				if err := emit(pending[:over]); err != nil {
					return total, err
				}
				pending = append(pending[:0], pending[over:]...)
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			_ = emit(pending)
			return total, fmt.Errorf("%w: %w", ErrStreamInterrupted, readErr)
		}
	}

	if hold > 0 && bytes.HasSuffix(pending, []byte(c.errorMarker)) {
		if err := emit(pending[:len(pending)-hold]); err != nil {
			return total, err
		}
		return total, ErrStreamInterrupted
	}
	return total, emit(pending)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("ragstream: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("User-Agent", c.userAgent)
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ragstream: %s %s: %w", method, path, err)
	}
	return resp, nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
		apiErr.Code = body.Code
		apiErr.Message = body.Message
	} else {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
