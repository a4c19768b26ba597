// AI Tutor - multi-capability tutoring server
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dakarenzi/AI-Tutor/internal/agent"
	"github.com/dakarenzi/AI-Tutor/internal/api"
	"github.com/dakarenzi/AI-Tutor/internal/config"
	"github.com/dakarenzi/AI-Tutor/internal/coordinator"
	"github.com/dakarenzi/AI-Tutor/internal/identity"
	"github.com/dakarenzi/AI-Tutor/internal/llm"
	"github.com/dakarenzi/AI-Tutor/internal/metrics"
	"github.com/dakarenzi/AI-Tutor/internal/middleware"
	"github.com/dakarenzi/AI-Tutor/internal/persona"
	"github.com/dakarenzi/AI-Tutor/internal/ratelimit"
	"github.com/dakarenzi/AI-Tutor/internal/routing"
	"github.com/dakarenzi/AI-Tutor/internal/safety"
	"github.com/dakarenzi/AI-Tutor/internal/store"
	"github.com/dakarenzi/AI-Tutor/internal/transcript"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server",
		"port", cfg.Port,
		"model_provider", cfg.Model.Provider,
		"rate_limit_backend", cfg.RateLimit.Backend,
	)

	// Initialize storage.
	repo, err := store.NewSQLite(cfg.DBPath, cfg.Tutor.ShortTermSize)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New(prometheus.NewRegistry())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gen, closeGen, err := newGenerator(ctx, cfg, m, logger)
	if err != nil {
		slog.Error("Failed to initialize model backend", "error", err)
		os.Exit(1)
	}
	defer closeGen()
	slog.Info("Model backend initialized", "provider", cfg.Model.Provider, "model", cfg.Model.Name)

	// Initialize rate limiting.
	counters, sweepCounters, closeCounters, err := newCounterStore(cfg, repo)
	if err != nil {
		slog.Error("Failed to initialize rate limit store", "error", err)
		os.Exit(1)
	}
	defer closeCounters()

	limiter, err := ratelimit.New(counters, cfg.RateLimit.Config, ratelimit.WithLogger(logger))
	if err != nil {
		slog.Error("Failed to initialize rate limiter", "error", err)
		os.Exit(1)
	}

	// Initialize the pipeline.
	rules := persona.New(persona.Rules{MaxResponseLength: cfg.Tutor.MaxResponseLength})
	opts := []coordinator.Option{
		coordinator.WithLogger(logger),
		coordinator.WithShortTermSize(cfg.Tutor.ShortTermSize),
	}
	if m != nil {
		opts = append(opts, coordinator.WithObserver(m))
	}
	coord, err := coordinator.New(coordinator.Deps{
		Classifier: routing.NewEngine(),
		Safety:     safety.NewEngine(safety.Config{MaxResponseLength: cfg.Tutor.MaxResponseLength}),
		Persona:    rules,
		Registry:   agent.NewDefaultRegistry(gen, rules),
		LongTerm:   repo,
	}, opts...)
	if err != nil {
		slog.Error("Failed to initialize coordinator", "error", err)
		os.Exit(1)
	}

	transcripts, err := transcript.New(transcript.Config{
		Enabled:   cfg.Transcript.Enabled,
		Dir:       cfg.Transcript.Dir,
		QueueSize: cfg.Transcript.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize transcript logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := transcripts.Close(); closeErr != nil {
			slog.Error("Failed to close transcript logger", "error", closeErr)
		}
	}()

	// Initialize handlers.
	chatCfg := api.ChatConfig{
		Coordinator:      coord,
		Limiter:          limiter,
		Scope:            ratelimit.Scope(cfg.RateLimit.Scope),
		MaxMessageLength: cfg.Tutor.MaxMessageLength,
		Transcript:       transcripts,
		SocketOrigins:    socketOrigins(cfg.AllowedOrigins),
		Logger:           logger,
	}
	if m != nil {
		chatCfg.OnRateLimited = m.ObserveRateLimited
	}
	chatHandler := api.NewChatHandler(chatCfg)
	healthHandler := api.NewHealthHandler(map[string]api.HealthCheck{
		"database": repo.Ping,
	}, 0)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(identity.Middleware)

	healthHandler.RegisterHealth(r)
	chatHandler.RegisterRoutes(r)
	if m != nil {
		r.Handle("/metrics", m.Handler())
	}

	// Create server. WebSocket chats are long lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start cleanup worker.
	jobs := store.RepositoryJobs(repo)
	if sweepCounters != nil {
		jobs = append(jobs, store.SweepJob{Name: "memory_counters", Run: sweepCounters})
	}
	if idle := cfg.Tutor.SessionIdleTimeout; idle > 0 {
		jobs = append(jobs, store.SweepJob{
			Name: "idle_ledgers",
			Run: func(context.Context) (int64, error) {
				return int64(coord.Sessions().EvictIdle(idle)), nil
			},
		})
	}
	store.StartSweeper(ctx, cfg.Tutor.SweepInterval, jobs...)
	slog.Info("Sweeper started", "interval", cfg.Tutor.SweepInterval, "jobs", len(jobs))

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return
	}

	slog.Info("Server stopped successfully")
}

// newGenerator builds the configured model backend wrapped in retries.
func newGenerator(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (llm.Generator, func(), error) {
	defaults := llm.Defaults{
		Model:       cfg.Model.Name,
		MaxTokens:   cfg.Model.MaxTokens,
		Temperature: cfg.Model.Temperature,
	}
	closeFn := func() {}

	var (
		backend llm.Generator
		err     error
	)
	switch cfg.Model.Provider {
	case config.ProviderAnthropic:
		backend, err = llm.NewAnthropicGenerator(cfg.Model.APIKey, cfg.Model.BaseURL, defaults)
	case config.ProviderOpenAI:
		backend, err = llm.NewOpenAIGenerator(cfg.Model.APIKey, cfg.Model.BaseURL, defaults)
	case config.ProviderGRPC:
		grpcCfg := llm.DefaultGRPCConfig()
		grpcCfg.Address = cfg.Model.GRPCAddr
		var g *llm.GRPCGenerator
		g, err = llm.NewGRPCGenerator(grpcCfg, defaults, logger)
		if err == nil {
			backend, closeFn = g, g.Close
		}
	default:
		backend, err = llm.NewGeminiGenerator(ctx, cfg.Model.APIKey, defaults)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("create %s generator: %w", cfg.Model.Provider, err)
	}

	retryCfg := llm.DefaultRetryConfig()
	retryCfg.MaxRetries = cfg.Model.MaxRetries
	retryCfg.Timeout = cfg.Model.Timeout

	var observe llm.Observer
	if m != nil {
		observe = m.ObserveModelCall
	}
	return llm.NewRetrying(backend, cfg.Model.Provider, retryCfg, logger, observe), closeFn, nil
}

// newCounterStore builds the rate limit counter store. sweep is non-nil when
// the store needs periodic expiry.
func newCounterStore(cfg *config.Config, repo *store.SQLiteStore) (ratelimit.CounterStore, func(context.Context) (int64, error), func(), error) {
	switch cfg.RateLimit.Backend {
	case config.RateLimitRedis:
		rs, err := ratelimit.NewRedisStoreFromURL(cfg.RateLimit.RedisURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		return rs, nil, func() {
			if err := rs.Close(); err != nil {
				slog.Error("Failed to close redis client", "error", err)
			}
		}, nil
	case config.RateLimitSQLite:
		return repo, nil, func() {}, nil
	default:
		ms := ratelimit.NewMemoryStore()
		return ms, ms.Sweep, func() {}, nil
	}
}

// socketOrigins converts CORS origins into websocket origin patterns, which
// match hosts rather than full URLs.
func socketOrigins(allowed []string) []string {
	patterns := make([]string, 0, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return []string{"*"}
		}
		if i := strings.Index(origin, "://"); i >= 0 {
			origin = origin[i+3:]
		}
		patterns = append(patterns, origin)
	}
	return patterns
}
