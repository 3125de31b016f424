package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/noesis/internal/chunker"
	"github.com/kailas-cloud/noesis/internal/config"
	dbRedis "github.com/kailas-cloud/noesis/internal/db/redis"
	"github.com/kailas-cloud/noesis/internal/db/sqlite"
	"github.com/kailas-cloud/noesis/internal/domain"
	logpkg "github.com/kailas-cloud/noesis/internal/logger"
	"github.com/kailas-cloud/noesis/internal/metrics"
	chatrepo "github.com/kailas-cloud/noesis/internal/repository/chat"
	documentrepo "github.com/kailas-cloud/noesis/internal/repository/document"
	"github.com/kailas-cloud/noesis/internal/repository/embcache"
	graphrepo "github.com/kailas-cloud/noesis/internal/repository/graph"
	chiTransport "github.com/kailas-cloud/noesis/internal/transport/chi"
	"github.com/kailas-cloud/noesis/internal/transport/fetch"
	openaiClient "github.com/kailas-cloud/noesis/internal/transport/openai"
	chatuc "github.com/kailas-cloud/noesis/internal/usecase/chat"
	graphuc "github.com/kailas-cloud/noesis/internal/usecase/graph"
	healthuc "github.com/kailas-cloud/noesis/internal/usecase/health"
	ingestuc "github.com/kailas-cloud/noesis/internal/usecase/ingest"
	retrievaluc "github.com/kailas-cloud/noesis/internal/usecase/retrieval"
	"github.com/kailas-cloud/noesis/internal/version"
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

	logger.Info("Starting noesis API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_path", cfg.Database.Path),
	)

	database, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatal("Failed to open knowledge store", zap.Error(err))
	}
	defer func() { _ = database.Close() }()
	logger.Info("Knowledge store ready")

	// Register pipeline metrics explicitly (no init())
	metrics.RegisterPipelineMetrics()

	// AI provider client serves embeddings, enrichment, and generation.
	provider := openaiClient.NewClient(&openaiClient.Config{
		APIKey:         cfg.AI.APIKey,
		BaseURL:        cfg.AI.BaseURL,
		EmbeddingModel: cfg.AI.EmbeddingModel,
		Dimensions:     cfg.AI.EmbeddingDimensions,
		ChatModel:      cfg.AI.ChatModel,
		Logger:         logger,
	})

	// Optional Redis embedding cache in front of the provider.
	var embedder domain.Embedder = provider
	if len(cfg.Cache.Addrs) > 0 {
		kv, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Cache.Addrs,
			Password: cfg.Cache.Password,
		})
		if err != nil {
			logger.Fatal("Failed to create embedding cache store", zap.Error(err))
		}
		defer kv.Close()
		embedder = embcache.New(provider, kv, metrics.EmbeddingCacheTotal, logger)
		logger.Info("Embedding cache enabled", zap.Strings("addrs", cfg.Cache.Addrs))
	}

	// Repositories (domain-native, no adapters)
	docRepo := documentrepo.New(database)
	graphRepo := graphrepo.New(database)
	threadRepo := chatrepo.New(database)

	// Documents stuck in "processing" from a previous crash are unrecoverable.
	ctx := context.Background()
	staleAfter := time.Duration(cfg.Ingest.StaleAfterSec) * time.Second
	if n, err := docRepo.MarkStaleFailed(ctx, staleAfter); err != nil {
		logger.Error("Stale document sweep failed", zap.Error(err))
	} else if n > 0 {
		logger.Warn("Marked stale processing documents as failed", zap.Int("count", n))
	}

	// Use case services
	ingestSvc, err := ingestuc.New(
		fetch.New(time.Duration(cfg.Ingest.FetchTimeoutSec)*time.Second),
		chunker.New(cfg.Ingest.ChunkMaxTokens),
		provider,
		embedder,
		docRepo,
		graphRepo,
		ingestuc.Config{
			EmbedBatchSize:     cfg.Ingest.EmbedBatchSize,
			EmbedWorkers:       cfg.Ingest.EmbedWorkers,
			EnrichmentMaxChars: cfg.Ingest.EnrichmentMaxChars,
			CallTimeout:        time.Duration(cfg.AI.RequestTimeoutSec) * time.Second,
		},
		logger,
	)
	if err != nil {
		logger.Fatal("Failed to create ingestion service", zap.Error(err))
	}
	defer ingestSvc.Close()

	retrievalSvc := retrievaluc.New(docRepo, graphRepo, docRepo, embedder, retrievaluc.Config{
		Budget:        cfg.Retrieval.Budget,
		MaxCandidates: cfg.Retrieval.MaxCandidates,
	}, logger)

	chatSvc := chatuc.New(threadRepo, retrievalSvc, provider, graphRepo, docRepo, logger)
	graphSvc := graphuc.New(graphRepo, docRepo)
	healthSvc := healthuc.New(docRepo, provider)

	// Create chi server
	server := chiTransport.NewServer(ingestSvc, chatSvc, graphSvc, docRepo, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
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
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

	// In-flight pipelines run on detached contexts; give chat persistence
	// writes a chance to land before the process exits.
	chatSvc.Wait()

	logger.Info("Server stopped gracefully")
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
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

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
