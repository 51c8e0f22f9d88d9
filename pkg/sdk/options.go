package ragstream

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	errorMarker string
	userAgent   string

	logger     *slog.Logger
	metricsReg prometheus.Registerer
}

// WithBaseURL sets the service address, e.g. "http://localhost:8080".
func WithBaseURL(u string) Option {
	return optionFunc(func(c *clientConfig) {
		c.baseURL = u
	})
}

// WithAPIKey sets the Bearer token sent with every request.
func WithAPIKey(key string) Option {
	return optionFunc(func(c *clientConfig) {
		c.apiKey = key
	})
}

// WithHTTPClient replaces the default HTTP client.
// Do not set a client Timeout shorter than the longest expected answer;
// use the request context instead.
func WithHTTPClient(hc *http.Client) Option {
	return optionFunc(func(c *clientConfig) {
		c.httpClient = hc
	})
}

// WithErrorMarker sets the in-band marker the server appends to an
// interrupted stream. Must match the server's pipeline.error_marker.
// Pass "" to disable detection.
func WithErrorMarker(m string) Option {
	return optionFunc(func(c *clientConfig) {
		c.errorMarker = m
	})
}

// WithUserAgent overrides the User-Agent header ("ragstream-go" by default).
func WithUserAgent(ua string) Option {
	return optionFunc(func(c *clientConfig) {
		if ua != "" {
			c.userAgent = ua
		}
	})
}

// WithLogger enables structured logging for SDK operations.
// Pass nil to disable (default). Uses standard library slog.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}

// WithPrometheus registers SDK metrics (operation counts and durations)
// on the given registerer. Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *clientConfig) {
		c.metricsReg = reg
	})
}
