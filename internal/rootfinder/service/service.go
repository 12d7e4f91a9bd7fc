// Package service runs solve requests end to end: validation, the result
// cache, the time-limited Aberth solve, and the metrics, analytics events
// and history records every solve produces.
package service

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/aberth"
	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/poly"
	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/rootfinder"
	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/rootfinder/history"
	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/rootfinder/validator"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/polyroots/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/tracing"
)

const historyTimeout = 5 * time.Second

// Solver is satisfied by *aberth.Solver.
type Solver interface {
	Solve(ctx context.Context, p poly.Polynomial) (*aberth.Result, error)
}

// ResultCache is satisfied by *cache.ResultCache.
type ResultCache interface {
	GetOrCompute(
		ctx context.Context,
		req rootfinder.SolveRequest,
		compute func() (*rootfinder.SolveResponse, error),
	) (*rootfinder.SolveResponse, bool, error)
}

// EventTracker is satisfied by *analytics.Collector.
type EventTracker interface {
	Track(event any)
}

// HistoryRecorder is satisfied by *history.Store.
type HistoryRecorder interface {
	Record(ctx context.Context, rec history.Record) error
}

// Deps are the optional collaborators of a Service. Nil fields disable the
// corresponding feature.
type Deps struct {
	Cache   ResultCache
	Events  EventTracker
	History HistoryRecorder
	Metrics *metrics.Metrics
	Tracer  *tracing.Tracer
}

type Service struct {
	cfg       config.SolverConfig
	limits    validator.Limits
	base      aberth.Options
	deps      Deps
	newSolver func(aberth.Options) (Solver, error)
	pending   sync.WaitGroup
	logger    *slog.Logger
}

func New(cfg config.SolverConfig, deps Deps) *Service {
	return &Service{
		cfg:    cfg,
		limits: validator.LimitsFromConfig(cfg),
		base: aberth.Options{
			Tolerance:         cfg.Tolerance,
			MaxIterations:     cfg.MaxIterations,
			Workers:           cfg.Workers,
			ParallelThreshold: cfg.ParallelThreshold,
			PhaseOffset:       cfg.PhaseOffset,
			Restarts:          cfg.Restarts,
			Seed:              cfg.Seed,
		},
		deps: deps,
		newSolver: func(opts aberth.Options) (Solver, error) {
			return aberth.New(opts)
		},
		logger: slog.Default().With("component", "solve-service"),
	}
}

// Solve always returns a response describing the outcome. The error is an
// *apperrors.AppError whose status code fits the outcome: 400 for invalid
// requests, 422 for degenerate, numerically failed or unconverged solves,
// 504 on timeout and 499 when the caller went away.
func (s *Service) Solve(ctx context.Context, req rootfinder.SolveRequest) (*rootfinder.SolveResponse, error) {
	start := time.Now()
	ctx, span := s.deps.Tracer.Start(ctx, "solve")
	defer s.deps.Tracer.Finish(span)

	_, vspan := s.deps.Tracer.Start(ctx, "validate")
	err := validator.ValidateSolveRequest(&req, s.limits)
	s.deps.Tracer.Finish(vspan)
	if err != nil {
		resp := &rootfinder.SolveResponse{
			RequestID: logger.RequestID(ctx),
			Outcome:   rootfinder.OutcomeInvalid,
			Degree:    len(req.Coefficients) - 1,
			Error:     err.Error(),
		}
		s.finish(ctx, span, req, resp, false, start)
		return resp, apperrors.Wrap(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid solve request", err)
	}
	req = s.withDefaults(req)

	compute := func() (*rootfinder.SolveResponse, error) {
		return s.compute(ctx, req)
	}
	var (
		shared *rootfinder.SolveResponse
		hit    bool
	)
	if s.deps.Cache != nil {
		_, cspan := s.deps.Tracer.Start(ctx, "cache")
		shared, hit, err = s.deps.Cache.GetOrCompute(ctx, req, compute)
		cspan.SetAttr("hit", hit)
		s.deps.Tracer.Finish(cspan)
	} else {
		shared, err = compute()
	}
	if shared == nil {
		shared = &rootfinder.SolveResponse{Outcome: rootfinder.OutcomeError, Degree: req.Polynomial().Degree(), Tolerance: req.Tolerance}
		if err == nil {
			err = apperrors.New(apperrors.ErrInternal, http.StatusInternalServerError, "solve produced no result")
		}
	}

	// Responses may be shared between singleflight callers.
	resp := *shared
	resp.RequestID = logger.RequestID(ctx)
	resp.CacheHit = hit
	if err != nil {
		resp.Error = err.Error()
	}
	s.finish(ctx, span, req, &resp, hit, start)
	return &resp, err
}

// Close waits for pending history writes.
func (s *Service) Close() {
	s.pending.Wait()
}

func (s *Service) withDefaults(req rootfinder.SolveRequest) rootfinder.SolveRequest {
	if req.Tolerance == 0 {
		req.Tolerance = s.cfg.Tolerance
	}
	if req.MaxIterations == 0 {
		req.MaxIterations = s.cfg.MaxIterations
	}
	return req
}

func (s *Service) compute(ctx context.Context, req rootfinder.SolveRequest) (*rootfinder.SolveResponse, error) {
	p := req.Polynomial()
	resp := &rootfinder.SolveResponse{
		Degree:    p.Degree(),
		Tolerance: req.Tolerance,
	}

	opts := s.base
	opts.Tolerance = req.Tolerance
	opts.MaxIterations = req.MaxIterations
	opts.Logger = logger.FromContext(ctx)
	solver, err := s.newSolver(opts)
	if err != nil {
		resp.Outcome = rootfinder.OutcomeError
		return resp, apperrors.Wrap(apperrors.ErrInternal, http.StatusInternalServerError, "configuring solver", err)
	}

	ictx, ispan := s.deps.Tracer.Start(ctx, "iterate")
	res, err := resilience.WithTimeout(ictx, s.cfg.Timeout, "aberth-solve", func(ctx context.Context) (*aberth.Result, error) {
		return solver.Solve(ctx, p)
	})
	s.deps.Tracer.Finish(ispan)

	if err != nil {
		return resp, classify(err, p, resp)
	}
	resp.Outcome = rootfinder.OutcomeConverged
	resp.Roots = rootfinder.FromComplex(res.Roots)
	resp.Residuals = residuals(p, res.Roots)
	resp.Iterations = res.Iterations
	resp.MaxCorrection = res.MaxCorrection
	resp.Restarts = res.Restarts
	ispan.SetAttr("iterations", res.Iterations)
	return resp, nil
}

// classify sets resp.Outcome from the solver error and maps it to an
// AppError. A deadline is checked before abort because an expired timeout
// surfaces from the solver as ErrAborted wrapping DeadlineExceeded.
func classify(err error, p poly.Polynomial, resp *rootfinder.SolveResponse) error {
	var (
		notConverged *aberth.NotConvergedError
		numerical    *aberth.NumericalError
	)
	switch {
	case errors.As(err, &notConverged):
		resp.Outcome = rootfinder.OutcomeNotConverged
		resp.Roots = rootfinder.FromComplex(notConverged.Roots)
		resp.Residuals = residuals(p, notConverged.Roots)
		resp.Iterations = notConverged.Iterations
		resp.MaxCorrection = notConverged.MaxCorrection
		return apperrors.Wrap(apperrors.ErrNotConverged, http.StatusUnprocessableEntity, "iteration cap reached", err)
	case errors.Is(err, aberth.ErrDegenerateInput):
		resp.Outcome = rootfinder.OutcomeDegenerate
		return apperrors.Wrap(apperrors.ErrUnsolvable, http.StatusUnprocessableEntity, "degenerate polynomial", err)
	case errors.As(err, &numerical):
		resp.Outcome = rootfinder.OutcomeNumericalFailure
		resp.Iterations = numerical.Iteration
		return apperrors.Wrap(apperrors.ErrUnsolvable, http.StatusUnprocessableEntity, "numerical failure", err)
	case errors.Is(err, context.DeadlineExceeded):
		resp.Outcome = rootfinder.OutcomeTimeout
		return apperrors.Wrap(apperrors.ErrTimeout, http.StatusGatewayTimeout, "solve timed out", err)
	case errors.Is(err, aberth.ErrAborted), errors.Is(err, context.Canceled):
		resp.Outcome = rootfinder.OutcomeAborted
		return apperrors.Wrap(apperrors.ErrRequestAborted, 499, "solve aborted", err)
	default:
		resp.Outcome = rootfinder.OutcomeError
		return apperrors.Wrap(apperrors.ErrInternal, http.StatusInternalServerError, "solve failed", err)
	}
}

// residuals reports |p(z)| / max(Σ|c_i||z|^i, 1) per root. Overflowing
// values are clamped so the response stays JSON-encodable.
func residuals(p poly.Polynomial, roots []complex128) []float64 {
	out := make([]float64, len(roots))
	for i, z := range roots {
		r := p.Residual(z)
		if math.IsNaN(r) || math.IsInf(r, 0) {
			r = math.MaxFloat64
		}
		out[i] = r
	}
	return out
}

func (s *Service) finish(ctx context.Context, span *tracing.Span, req rootfinder.SolveRequest, resp *rootfinder.SolveResponse, hit bool, start time.Time) {
	elapsed := time.Since(start)
	resp.DurationUs = elapsed.Microseconds()
	span.SetAttr("degree", resp.Degree)
	span.SetAttr("outcome", string(resp.Outcome))

	log := logger.FromContext(ctx).With("component", "solve-service")
	attrs := []any{
		"degree", resp.Degree,
		"outcome", resp.Outcome,
		"iterations", resp.Iterations,
		"restarts", resp.Restarts,
		"cache_hit", hit,
		"duration_us", resp.DurationUs,
	}
	if resp.Outcome == rootfinder.OutcomeConverged {
		log.Info("solve completed", attrs...)
	} else {
		log.Warn("solve failed", append(attrs, "error", resp.Error)...)
	}

	s.observe(resp, hit, elapsed)

	if s.deps.Events != nil {
		s.deps.Events.Track(analytics.SolveEvent{
			Type:       analytics.EventSolve,
			RequestID:  resp.RequestID,
			Degree:     resp.Degree,
			Outcome:    string(resp.Outcome),
			Iterations: resp.Iterations,
			Restarts:   resp.Restarts,
			LatencyUs:  resp.DurationUs,
			CacheHit:   hit,
			Timestamp:  time.Now().UTC(),
		})
	}

	if s.deps.History != nil && !hit && resp.Outcome != rootfinder.OutcomeInvalid {
		rec := history.Record{
			RequestID:     resp.RequestID,
			Degree:        resp.Degree,
			Outcome:       resp.Outcome,
			Iterations:    resp.Iterations,
			MaxCorrection: resp.MaxCorrection,
			Restarts:      resp.Restarts,
			Tolerance:     req.Tolerance,
			Coefficients:  req.Coefficients,
			Roots:         resp.Roots,
			DurationUs:    resp.DurationUs,
			CreatedAt:     time.Now().UTC(),
		}
		s.pending.Add(1)
		go func() {
			defer s.pending.Done()
			hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyTimeout)
			defer cancel()
			if err := s.deps.History.Record(hctx, rec); err != nil {
				log.Warn("recording solve history failed", "error", err)
			}
		}()
	}
}

func (s *Service) observe(resp *rootfinder.SolveResponse, hit bool, elapsed time.Duration) {
	m := s.deps.Metrics
	if m == nil {
		return
	}
	outcome := string(resp.Outcome)
	m.SolvesTotal.WithLabelValues(outcome).Inc()
	m.SolveDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	if resp.Outcome == rootfinder.OutcomeInvalid {
		return
	}
	if s.deps.Cache != nil {
		if hit {
			m.CacheHitsTotal.Inc()
			return
		}
		m.CacheMissesTotal.Inc()
	}
	if resp.Degree > 0 {
		m.SolveDegree.Observe(float64(resp.Degree))
	}
	if resp.Outcome == rootfinder.OutcomeConverged {
		m.SolveIterations.Observe(float64(resp.Iterations))
	}
	if resp.Restarts > 0 {
		m.SolveRestartsTotal.Add(float64(resp.Restarts))
	}
}
