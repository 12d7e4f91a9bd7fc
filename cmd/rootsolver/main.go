package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/rootfinder/cache"
	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/rootfinder/handler"
	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/rootfinder/history"
	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/rootfinder/service"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/ratelimit"
	pkgredis "github.com/Adithya-Monish-Kumar-K/polyroots/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/tracing"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults plus PR_* env vars when empty)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format, "rootsolver")
	slog.Info("starting root solver service",
		"port", cfg.Server.Port,
		"workers", cfg.Solver.Workers,
		"max_degree", cfg.Solver.MaxDegree,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, "rootsolver")
		defer shutdownMetrics(context.Background())
	}

	deps := service.Deps{
		Metrics: m,
		Tracer:  tracing.New(cfg.Tracing.Enabled, slog.Default()),
	}

	var resultCache *cache.ResultCache
	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, result caching disabled", "error", err)
	} else {
		defer redisClient.Close()
		resultCache = cache.New(redisClient, cfg.Redis.CacheTTL)
		deps.Cache = resultCache
		slog.Info("result cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}

	var historyStore *history.Store
	pg, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, solve history disabled", "error", err)
	} else {
		defer pg.Close()
		if err := pg.RegisterMetrics(prometheus.DefaultRegisterer, "solve_history"); err != nil {
			slog.Warn("could not register pool metrics", "error", err)
		}
		schemaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = pg.EnsureSchema(schemaCtx, history.Schema...)
		cancel()
		if err != nil {
			slog.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}
		breaker := resilience.NewCircuitBreaker("solve-history", resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
			IsFailure:        history.Transient,
			OnStateChange: func(name string, from, to resilience.State) {
				m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			},
		})
		historyStore = history.NewStore(pg.DB, breaker)
		deps.History = historyStore
		slog.Info("solve history enabled", "database", cfg.Postgres.Database)
	}

	analyticsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
	defer analyticsProducer.Close()
	collector := analytics.NewCollector(analyticsProducer, cfg.Analytics.BufferSize)
	collector.Start(ctx)
	defer collector.Close()
	deps.Events = collector
	slog.Info("analytics collector started", "topic", cfg.Kafka.Topics.AnalyticsEvents)

	svc := service.New(cfg.Solver, deps)
	defer svc.Close()

	checker := health.NewChecker()
	checker.Register("solver", func(ctx context.Context) health.ComponentHealth {
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d workers", cfg.Solver.Workers)}
	})
	var redisPing, pgPing func(context.Context) error
	if redisClient != nil {
		redisPing = redisClient.Ping
	}
	if pg != nil {
		pgPing = pg.Ping
	}
	checker.Register("redis", health.PingCheck(redisPing, false))
	checker.Register("postgres", health.PingCheck(pgPing, false))

	var (
		hist     handler.HistoryLister
		cacheAdm handler.CacheAdmin
	)
	if historyStore != nil {
		hist = historyStore
	}
	if resultCache != nil {
		cacheAdm = resultCache
	}
	h := handler.New(svc, hist, cacheAdm)

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.RequestTimeout())(chain)
	if cfg.Server.RateLimitPerMinute > 0 {
		trusted, err := middleware.ParseTrustedProxies(cfg.Server.TrustedProxies)
		if err != nil {
			slog.Error("invalid trusted proxies", "error", err)
			os.Exit(1)
		}
		limiter := ratelimit.New(cfg.Server.RateLimitPerMinute, time.Minute)
		defer limiter.Stop()
		chain = middleware.RateLimit(limiter, trusted)(chain)
		slog.Info("rate limiting enabled", "per_minute", cfg.Server.RateLimitPerMinute, "trusted_proxies", len(trusted))
	}
	chain = middleware.Metrics(m)(chain)
	if len(cfg.Server.CORSOrigins) > 0 {
		chain = middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.CORSOrigins))(chain)
	}
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("root solver listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("root solver stopped")
}
