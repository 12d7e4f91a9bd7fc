// Command analytics runs the solve analytics service.
//
// It consumes solve and job events from Kafka, aggregates them in memory
// (outcome counts, iteration and latency statistics, cache hit rate, popular
// degrees) and serves them at GET /api/v1/analytics. With Postgres
// available it restores the last snapshot on start and saves one every
// analytics.snapshotInterval, listed at GET /api/v1/analytics/snapshots.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
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
	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/analytics/aggregator"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults plus PR_* env vars when empty)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format, "analytics")
	slog.Info("starting analytics service", "port", cfg.Analytics.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	agg := analytics.NewAggregator(nil)
	agg.SetConsumer(kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents, analytics.HandleEvent(agg)))

	var snapshots analytics.SnapshotLister
	pg, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, analytics snapshots disabled", "error", err)
	} else {
		defer pg.Close()
		if err := pg.RegisterMetrics(prometheus.DefaultRegisterer, "analytics"); err != nil {
			slog.Warn("could not register pool metrics", "error", err)
		}
		schemaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = pg.EnsureSchema(schemaCtx, aggregator.Schema...)
		cancel()
		if err != nil {
			slog.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}

		store := aggregator.NewStore(pg.DB)
		snapshots = store
		if latest, err := store.LatestSnapshot(ctx); err != nil {
			slog.Warn("could not load analytics snapshot", "error", err)
		} else if latest != nil {
			agg.Restore(*latest)
			slog.Info("analytics restored from snapshot", "total_solves", latest.TotalSolves)
		}
		store.StartPeriodicSave(ctx, agg, cfg.Analytics.SnapshotInterval)
	}

	go func() {
		if err := agg.Start(ctx); err != nil {
			slog.Error("aggregator error", "error", err)
		}
	}()
	slog.Info("analytics aggregator started", "topic", cfg.Kafka.Topics.AnalyticsEvents)

	analyticsHandler := analytics.NewHandler(agg, snapshots)

	checker := health.NewChecker()
	checker.Register("aggregator", func(ctx context.Context) health.ComponentHealth {
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d solves aggregated", agg.Stats().TotalSolves)}
	})
	var pgPing func(context.Context) error
	if pg != nil {
		pgPing = pg.Ping
	}
	checker.Register("postgres", health.PingCheck(pgPing, false))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics", analyticsHandler.Stats)
	mux.HandleFunc("GET /api/v1/analytics/snapshots", analyticsHandler.Snapshots)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	var chain http.Handler = mux
	chain = middleware.Metrics(m)(chain)
	if len(cfg.Server.CORSOrigins) > 0 {
		chain = middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.CORSOrigins))(chain)
	}
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Analytics.Port),
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

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("analytics service stopped")
}
