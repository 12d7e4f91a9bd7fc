// Package worker solves queued SolveJobs read from Kafka and publishes a
// SolveResultEvent for each through a batching sink.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/rootfinder"
	apperrors "github.com/Adithya-Monish-Kumar-K/polyroots/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/metrics"
)

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// RootSolver is satisfied by *service.Service.
type RootSolver interface {
	Solve(ctx context.Context, req rootfinder.SolveRequest) (*rootfinder.SolveResponse, error)
}

// ResultSink is satisfied by *collector.BatchCollector.
type ResultSink interface {
	Track(key string, value any)
}

// EventTracker is satisfied by *analytics.Collector.
type EventTracker interface {
	Track(event any)
}

// Worker drives a Kafka consumer whose handler is built by HandleJob.
type Worker struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

func New(consumer *kafka.Consumer) *Worker {
	return &Worker{
		consumer: consumer,
		logger:   logger.WithComponent("solve-worker"),
	}
}

// Start consumes jobs until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("solve worker starting")
	return w.consumer.Start(ctx)
}

// HandleJob returns a MessageHandler that solves each job and publishes its
// result. Undecodable messages are logged and committed. A solve that was
// cut short because the worker is shutting down returns an error so the
// message is redelivered. events and m may be nil.
func HandleJob(solver RootSolver, sink ResultSink, events EventTracker, m *metrics.Metrics) kafka.MessageHandler {
	log := logger.WithComponent("solve-worker")
	return func(ctx context.Context, key []byte, value []byte) error {
		start := time.Now()
		job, err := kafka.DecodeJSON[rootfinder.SolveJob](value)
		if err != nil {
			log.Error("failed to decode solve job", "error", err, "key", string(key))
			observe(m, "malformed")
			return nil
		}
		if job.ID == "" {
			job.ID = string(key)
		}

		jobCtx := logger.WithRequestID(ctx, job.ID)
		resp, err := solver.Solve(jobCtx, job.Request)
		if err != nil && ctx.Err() != nil && errors.Is(err, apperrors.ErrRequestAborted) {
			return err
		}

		result := rootfinder.SolveResultEvent{
			JobID:       job.ID,
			Status:      StatusOK,
			Response:    resp,
			CompletedAt: time.Now().UTC(),
		}
		if err != nil {
			result.Status = StatusFailed
			result.Error = err.Error()
		}
		sink.Track(job.ID, result)
		observe(m, result.Status)

		if events != nil {
			events.Track(analytics.JobEvent{
				Type:      analytics.EventJob,
				JobID:     job.ID,
				Status:    result.Status,
				LatencyUs: time.Since(start).Microseconds(),
				Timestamp: result.CompletedAt,
			})
		}
		log.Debug("solve job processed", "job_id", job.ID, "status", result.Status)
		return nil
	}
}

func observe(m *metrics.Metrics, status string) {
	if m != nil {
		m.JobsProcessedTotal.WithLabelValues(status).Inc()
	}
}
