package chi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragstream/internal/domain"
	"github.com/kailas-cloud/ragstream/internal/logger"
	healthuc "github.com/kailas-cloud/ragstream/internal/usecase/health"
	pipelineuc "github.com/kailas-cloud/ragstream/internal/usecase/pipeline"
)

// Response headers set on every search answer.
const (
	HeaderTraceID  = "X-Trace-ID"
	HeaderVariant  = "X-Variant-Version"
	HeaderOutcome  = "X-Pipeline-Outcome"
	defaultMarker  = "\n[error: the response was interrupted]"
	maxRequestBody = 1 << 20
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Pipeline answers a query, streaming the result.
type Pipeline interface {
	Run(ctx context.Context, q domain.Query) (*pipelineuc.Response, error)
}

// ReadinessChecker reports dependency health.
type ReadinessChecker interface {
	Check(ctx context.Context) healthuc.Report
}

// Config holds request validation and streaming settings.
type Config struct {
	MaxQueryChars int
	ErrorMarker   string // written in-band when a stream fails after the first byte
}

// Server serves the search API.
type Server struct {
	pipeline      Pipeline
	health        ReadinessChecker
	cfg           Config
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(pipeline Pipeline, health ReadinessChecker, cfg Config, logger *zap.Logger) *Server {
	if cfg.ErrorMarker == "" {
		cfg.ErrorMarker = defaultMarker
	}
	s := &Server{
		pipeline: pipeline,
		health:   health,
		cfg:      cfg,
		logger:   logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrValidation, http.StatusBadRequest, CodeValidationFailed),
		sentinelHandler(domain.ErrCancelled, statusClientClosedRequest, CodeCancelled),
		sentinelHandler(domain.ErrUpstreamTimeout, http.StatusGatewayTimeout, CodeUpstreamTimeout),
		sentinelHandler(domain.ErrUpstreamUnavailable, http.StatusBadGateway, CodeUpstreamUnavailable),
	}
	return s
}

// Routes registers the API on r.
func (s *Server) Routes(r chi.Router) {
	r.Post("/search", s.Search)
	r.Get("/health", s.Health)
	r.Get("/ready", s.Ready)
	r.Get("/metrics", s.Metrics)
}

type searchRequest struct {
	Query  string `json:"query"`
	UserID string `json:"user_id,omitempty"`
	// TimeoutMs tightens the server-side request timeout for this call.
	TimeoutMs int `json:"timeout_ms,omitempty"`
}

// Search handles POST /search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if req.TimeoutMs < 0 {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "timeout_ms must not be negative")
		return
	}
	var deadline time.Time
	if req.TimeoutMs > 0 {
		deadline = time.Now().Add(time.Duration(req.TimeoutMs) * time.Millisecond)
	}

	userID := req.UserID
	if userID == "" {
		userID = CallerFromContext(r.Context())
	}
	q, err := domain.NewQuery(req.Query, userID, r.Header.Get(HeaderTraceID), deadline, s.cfg.MaxQueryChars)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	resp, err := s.pipeline.Run(r.Context(), q)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set(HeaderTraceID, resp.TraceID)
	h.Set(HeaderVariant, resp.Variant)
	h.Set(HeaderOutcome, string(resp.Outcome))
	w.WriteHeader(http.StatusOK)

	if resp.Fragments == nil {
		_, _ = io.WriteString(w, resp.Message)
		return
	}
	s.stream(w, r, resp)
}

// stream writes fragments as they arrive and flushes after each one.
// Once the status line is out, failures are reported with the error marker.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, resp *pipelineuc.Response) {
	_, log := logger.WithTrace(r.Context(), s.logger, resp.TraceID)
	rc := http.NewResponseController(w)

	for f := range resp.Fragments {
		if f.Err != nil {
			log.Warn("Stream aborted", zap.String("stage", domain.StageOf(f.Err)), zap.Error(f.Err))
			s.writeMarker(w, rc)
			return
		}
		if f.Text != "" {
			if _, err := io.WriteString(w, f.Text); err != nil {
				log.Debug("Client went away", zap.Error(err))
				return
			}
			_ = rc.Flush()
		}
		if f.EOS {
			return
		}
	}

	if r.Context().Err() == nil {
		log.Warn("Stream ended without a terminal fragment")
		s.writeMarker(w, rc)
	}
}

func (s *Server) writeMarker(w io.Writer, rc *http.ResponseController) {
	_, _ = io.WriteString(w, s.cfg.ErrorMarker)
	_ = rc.Flush()
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Health handles GET /health.
func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: string(healthuc.Healthy)})
}

// Ready handles GET /ready.
func (s *Server) Ready(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, healthResponse{Status: string(report.Status), Checks: checks})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	if errors.Is(err, domain.ErrValidation) {
		// validation messages are built from client input only
		return err.Error()
	}
	sentinels := []error{
		domain.ErrCancelled,
		domain.ErrUpstreamTimeout,
		domain.ErrUpstreamUnavailable,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContextOr(r.Context(), s.logger)
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			log.Warn("domain error", zap.String("stage", domain.StageOf(err)), zap.Error(err))
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}
