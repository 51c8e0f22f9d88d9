package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragstream/internal/config"
	"github.com/kailas-cloud/ragstream/internal/db"
	dbBadger "github.com/kailas-cloud/ragstream/internal/db/badger"
	dbQdrant "github.com/kailas-cloud/ragstream/internal/db/qdrant"
	dbRedis "github.com/kailas-cloud/ragstream/internal/db/redis"
	"github.com/kailas-cloud/ragstream/internal/domain"
	"github.com/kailas-cloud/ragstream/internal/domain/search/mode"
	logpkg "github.com/kailas-cloud/ragstream/internal/logger"
	"github.com/kailas-cloud/ragstream/internal/metrics"
	"github.com/kailas-cloud/ragstream/internal/observe"
	"github.com/kailas-cloud/ragstream/internal/repository/embcache"
	"github.com/kailas-cloud/ragstream/internal/repository/rewritecache"
	searchrepo "github.com/kailas-cloud/ragstream/internal/repository/search"
	chiTransport "github.com/kailas-cloud/ragstream/internal/transport/chi"
	openaiTransport "github.com/kailas-cloud/ragstream/internal/transport/openai"
	rerankTransport "github.com/kailas-cloud/ragstream/internal/transport/rerank"
	"github.com/kailas-cloud/ragstream/internal/transport/safety"
	"github.com/kailas-cloud/ragstream/internal/usecase/filter"
	"github.com/kailas-cloud/ragstream/internal/usecase/generation"
	guarduc "github.com/kailas-cloud/ragstream/internal/usecase/guard"
	healthuc "github.com/kailas-cloud/ragstream/internal/usecase/health"
	"github.com/kailas-cloud/ragstream/internal/usecase/pipeline"
	rerankuc "github.com/kailas-cloud/ragstream/internal/usecase/rerank"
	"github.com/kailas-cloud/ragstream/internal/usecase/retrieval"
	rewriteuc "github.com/kailas-cloud/ragstream/internal/usecase/rewrite"
	"github.com/kailas-cloud/ragstream/internal/usecase/variant"
	"github.com/kailas-cloud/ragstream/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting ragstream API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("cache_driver", cfg.Cache.Driver),
		zap.String("search_driver", cfg.Search.Driver),
		zap.String("search_mode", cfg.Search.Mode),
	)

	// Register metrics explicitly (no init())
	metrics.RegisterProviderMetrics()
	metrics.RegisterPipelineMetrics()

	ctx := context.Background()

	cache, err := openCache(cfg.Cache, logger)
	if err != nil {
		logger.Fatal("Failed to create cache store", zap.Error(err))
	}
	defer cache.Close()

	if err := cache.WaitForReady(ctx, time.Duration(cfg.Cache.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Cache store not ready", zap.Error(err))
	}
	logger.Info("Connected to cache store")

	index, err := openSearch(cfg, cache)
	if err != nil {
		logger.Fatal("Failed to create search store", zap.Error(err))
	}
	defer index.close()

	// Query embedder: OpenAI -> Cached -> Instruction
	var embedder domain.Embedder
	var embeddingHealth healthuc.ProviderChecker
	if mode.Mode(cfg.Search.Mode).UsesVectors() {
		base := openaiTransport.NewEmbedder(&openaiTransport.EmbedderConfig{
			Provider:   provider(cfg, cfg.Embedding.Provider),
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
			Logger:     logger,
		})
		embedder = buildEmbedder(base, cache, cfg, logger)
		embeddingHealth = base
		logger.Info("Embedder created",
			zap.String("provider", cfg.Embedding.Provider),
			zap.String("model", cfg.Embedding.Model),
			zap.Int("dimensions", cfg.Embedding.Dimensions),
		)
	}

	searchRepo, err := searchrepo.New(index.vectors, index.text, embedder, searchrepo.Config{
		Index:     index.name,
		KeyPrefix: cfg.Search.DocPrefix,
		Mode:      mode.Mode(cfg.Search.Mode),
		EFRuntime: cfg.Search.EFRuntime,
	})
	if err != nil {
		logger.Fatal("Failed to create search repository", zap.Error(err))
	}

	// Stage services
	guardSvc := guarduc.New(buildGate(cfg.Guard), cfg.Guard.Timeout())

	var rewriteBackend rewriteuc.Backend
	if cfg.Rewrite.Enabled {
		rewriteBackend = openaiTransport.NewRewriter(&openaiTransport.RewriterConfig{
			Provider: provider(cfg, cfg.Rewrite.Provider),
			Model:    cfg.Rewrite.Model,
		})
	}
	rewriteSvc := rewriteuc.New(
		rewriteBackend,
		rewritecache.New(cache, cfg.Cache.KeyPrefix, cfg.Rewrite.StaleTTL()),
		rewriteuc.Config{
			Enabled:           cfg.Rewrite.Enabled,
			Timeout:           cfg.Rewrite.Timeout(),
			FreshTTL:          cfg.Rewrite.FreshTTL(),
			RevalidateTimeout: cfg.Rewrite.RevalidateTimeout(),
		},
		metrics.RewriteCacheTotal,
		logger,
	)

	retrievalSvc := retrieval.New(searchRepo, retrieval.Config{
		DefaultTopK:  cfg.Pipeline.RetrieveTopK,
		MaxTopK:      cfg.Pipeline.MaxTopK,
		Timeout:      cfg.Retrieval.Timeout(),
		RetryBackoff: cfg.Retrieval.RetryBackoff(),
	}, metrics.RetrievalRetriesTotal)

	// Nil interface (not a typed nil pointer) disables reranking.
	var scorer rerankuc.Scorer
	if cfg.Rerank.Endpoint != "" {
		scorer = rerankTransport.New(rerankTransport.Config{
			Endpoint: cfg.Rerank.Endpoint,
			APIKey:   cfg.Rerank.APIKey,
			Model:    cfg.Rerank.Model,
		}, &http.Client{})
	}
	rerankSvc := rerankuc.New(scorer, cfg.Rerank.Timeout())

	generator := openaiTransport.NewGenerator(&openaiTransport.GeneratorConfig{
		Provider:    provider(cfg, cfg.Generation.Provider),
		Model:       cfg.Generation.Model,
		Temperature: cfg.Generation.Temperature,
		MaxTokens:   cfg.Generation.MaxTokens,
		Logger:      logger,
	})
	counter, err := generation.NewCounter(cfg.Generation.BudgetUnit, cfg.Generation.Encoding)
	if err != nil {
		logger.Fatal("Failed to create context budget counter", zap.Error(err))
	}
	generationSvc := generation.New(generator, counter, generation.Config{
		SystemPrompt:    cfg.Generation.SystemPrompt,
		ContextBudget:   cfg.Generation.ContextBudget,
		OpenTimeout:     cfg.Generation.OpenTimeout(),
		FragmentTimeout: cfg.Generation.FragmentTimeout(),
		Buffer:          cfg.Pipeline.StreamBuffer,
	})

	filterSvc := filter.New(filter.Config{
		Phrases:     cfg.OutputFilter.Phrases,
		WindowChars: cfg.OutputFilter.WindowChars,
		Replacement: cfg.OutputFilter.Replacement,
		Buffer:      cfg.Pipeline.StreamBuffer,
	}, metrics.OutputFilterRedactionsTotal)

	sink := observe.Multi{
		observe.NewHistogram(metrics.StageDuration),
		observe.NewLog(logger),
	}
	orchestrator := pipeline.New(pipeline.Deps{
		Guard:     guardSvc,
		Rewriter:  rewriteSvc,
		Retriever: retrievalSvc,
		Reranker:  rerankSvc,
		Generator: generationSvc,
		Filter:    filterSvc,
		Variants:  variant.New(cfg.Variants.ChallengerWeight, cfg.Variants.ChallengerModel),
	}, pipeline.Config{
		RetrieveTopK:     cfg.Pipeline.RetrieveTopK,
		RerankTopK:       cfg.Pipeline.RerankTopK,
		RequestTimeout:   cfg.Pipeline.RequestTimeout(),
		RefusalMessage:   cfg.Pipeline.RefusalMessage,
		NoResultsMessage: cfg.Pipeline.NoResultsMessage,
	}, sink, logger)

	healthSvc := healthuc.New(cache, index.pinger, generator, embeddingHealth,
		healthuc.WithCheckTimeout(cfg.HTTP.HealthCheckTimeout()))

	server := chiTransport.NewServer(orchestrator, healthSvc, chiTransport.Config{
		MaxQueryChars: cfg.Guard.MaxQueryChars,
		ErrorMarker:   cfg.Pipeline.ErrorMarker,
	}, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	// detached rewrite fetches write to the cache; let them finish before it closes
	rewriteSvc.Wait()

	logger.Info("Server stopped gracefully")
}

func provider(cfg config.Config, name string) openaiTransport.ProviderConfig {
	p := cfg.Providers[name]
	return openaiTransport.ProviderConfig{Name: name, APIKey: p.APIKey, BaseURL: p.BaseURL}
}

// openCache creates the key-value store behind the rewrite and embedding caches.
func openCache(cfg config.CacheConfig, logger *zap.Logger) (db.CacheStore, error) {
	switch cfg.Driver {
	case "redis":
		s, err := dbRedis.NewStore(dbRedis.Config{Addrs: cfg.Addrs, Password: cfg.Password})
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		return s, nil
	case "badger":
		s, err := dbBadger.Open(dbBadger.Config{Path: cfg.Path, InMemory: cfg.InMemory}, logger)
		if err != nil {
			return nil, fmt.Errorf("badger cache: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Driver)
	}
}

// searchIndex is the document index selected by search.driver.
type searchIndex struct {
	name    string
	vectors db.VectorSearcher
	text    db.TextSearcher
	pinger  healthuc.StorePinger
	close   func()
}

// openSearch creates the search store, sharing the cache connection when
// both point at the same redis deployment.
func openSearch(cfg config.Config, cache db.CacheStore) (*searchIndex, error) {
	switch cfg.Search.Driver {
	case "qdrant":
		s, err := dbQdrant.NewStore(dbQdrant.Config{Addr: cfg.Search.QdrantAddr, APIKey: cfg.Search.QdrantAPIKey})
		if err != nil {
			return nil, fmt.Errorf("qdrant search: %w", err)
		}
		return &searchIndex{name: cfg.Search.Collection, vectors: s, pinger: s, close: s.Close}, nil
	case "redis":
		if shared, ok := cache.(*dbRedis.Store); ok && slices.Equal(cfg.Search.Addrs, cfg.Cache.Addrs) {
			return &searchIndex{name: cfg.Search.Index, vectors: shared, text: shared, pinger: shared, close: func() {}}, nil
		}
		s, err := dbRedis.NewStore(dbRedis.Config{Addrs: cfg.Search.Addrs, Password: cfg.Search.Password})
		if err != nil {
			return nil, fmt.Errorf("redis search: %w", err)
		}
		return &searchIndex{name: cfg.Search.Index, vectors: s, text: s, pinger: s, close: s.Close}, nil
	default:
		return nil, fmt.Errorf("unknown search driver %q", cfg.Search.Driver)
	}
}

// buildEmbedder assembles the decorator chain: OpenAI -> Cached -> Instruction
func buildEmbedder(base domain.Embedder, cache db.CacheStore, cfg config.Config, logger *zap.Logger) domain.Embedder {
	var embedder domain.Embedder = embcache.New(base, cache, embcache.Config{
		KeyPrefix: cfg.Cache.KeyPrefix,
		Model:     cfg.Embedding.Model,
		TTL:       cfg.Cache.EmbeddingTTL(),
	}, metrics.EmbeddingCacheTotal, logger)

	// Instruction prefix (outermost, so the cache key includes it)
	if cfg.Embedding.QueryInstruction != "" {
		return domain.NewInstructionEmbedder(embedder, cfg.Embedding.QueryInstruction)
	}
	return embedder
}

// buildGate selects the remote safety service or the local rule gate.
func buildGate(cfg config.GuardConfig) guarduc.Gate {
	if cfg.Endpoint != "" {
		return safety.NewRemote(cfg.Endpoint, &http.Client{})
	}
	return safety.NewLocal(cfg.BlockedPhrases, cfg.MaxQueryChars)
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					if rvr == http.ErrAbortHandler {
						panic(rvr)
					}
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(chiTransport.ErrorResponse{
						Code:    chiTransport.CodeInternalError,
						Message: "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line, one per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.String("trace_id", ww.Header().Get(chiTransport.HeaderTraceID)),
				zap.String("outcome", ww.Header().Get(chiTransport.HeaderOutcome)),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
