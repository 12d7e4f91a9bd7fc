package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/analytics/collector"
	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/rootfinder/cache"
	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/rootfinder/service"
	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/rootfinder/worker"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/polyroots/pkg/redis"
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

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format, "solveworker")
	slog.Info("starting solve worker",
		"topic", cfg.Kafka.Topics.SolveRequests,
		"group", cfg.Kafka.ConsumerGroup,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, "solveworker")
		defer shutdownMetrics(context.Background())
	}

	deps := service.Deps{
		Metrics: m,
		Tracer:  tracing.New(cfg.Tracing.Enabled, slog.Default()),
	}
	if redisClient, err := pkgredis.NewClient(cfg.Redis); err != nil {
		slog.Warn("redis unavailable, result caching disabled", "error", err)
	} else {
		defer redisClient.Close()
		deps.Cache = cache.New(redisClient, cfg.Redis.CacheTTL)
	}

	analyticsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
	defer analyticsProducer.Close()
	events := analytics.NewCollector(analyticsProducer, cfg.Analytics.BufferSize)
	events.Start(ctx)
	defer events.Close()
	deps.Events = events

	svc := service.New(cfg.Solver, deps)
	defer svc.Close()

	resultProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SolveResults)
	defer resultProducer.Close()
	results := collector.NewBatchCollector(resultProducer, cfg.Analytics.BatchSize, cfg.Analytics.FlushInterval)
	results.Start(ctx)

	consumer := kafka.NewConsumer(
		cfg.Kafka,
		cfg.Kafka.Topics.SolveRequests,
		worker.HandleJob(svc, results, events, m),
	)
	w := worker.New(consumer)

	slog.Info("solve worker ready, consuming from kafka",
		"results_topic", cfg.Kafka.Topics.SolveResults,
	)
	if err := w.Start(ctx); err != nil {
		slog.Error("consumer error", "error", err)
	}

	slog.Info("flushing pending results before shutdown")
	results.Close()
	slog.Info("solve worker stopped")
}
