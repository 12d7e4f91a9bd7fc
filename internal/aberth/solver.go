// Package aberth finds all complex roots of a polynomial simultaneously with
// the Aberth–Ehrlich iteration.
//
// Every round corrects each estimate x_k by
//
//	w_k = p(x_k) / p'(x_k)
//	c_k = w_k / (1 - w_k * sum_{j != k} 1/(x_k - x_j))
//
// using only the estimates published by the previous round, so the
// corrections of one round are independent and may be computed in parallel.
// Iteration stops when every |c_k| is within the tolerance.
package aberth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/cmplx"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/poly"
)

// perturbScale is the relative size of the jitter applied to a start set
// before a restart.
const perturbScale = 1e-3

// Options controls a Solver.
type Options struct {
	// Tolerance is the absolute bound every per-root correction must meet
	// in the same round for the solve to converge.
	Tolerance float64
	// MaxIterations caps the number of rounds.
	MaxIterations int
	// Workers is the number of goroutines sharing one round. Values <= 1
	// compute rounds sequentially.
	Workers int
	// ParallelThreshold is the smallest degree solved with Workers > 1.
	ParallelThreshold int
	// PhaseOffset rotates the generated starting circle, in radians.
	PhaseOffset float64
	// Restarts is how many times a numerical failure is retried from a
	// randomly perturbed copy of the previous start set.
	Restarts int
	// Seed feeds the perturbation source.
	Seed int64
	// Start overrides the generated initial estimates. Its length must
	// equal the degree.
	Start []complex128
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns the options used by Solve.
func DefaultOptions() Options {
	return Options{
		Tolerance:         1e-6,
		MaxIterations:     500,
		Workers:           runtime.GOMAXPROCS(0),
		ParallelThreshold: 64,
		PhaseOffset:       DefaultPhaseOffset,
	}
}

// Result is a converged estimate set.
type Result struct {
	// Roots holds one estimate per root. Position k is the estimate that
	// started at the k-th start point.
	Roots         []complex128
	Iterations    int
	MaxCorrection float64
	Restarts      int
}

// Solver runs Aberth–Ehrlich solves. It holds no per-solve state and is
// safe for concurrent use.
type Solver struct {
	opts   Options
	logger *slog.Logger
}

// New validates opts and returns a Solver.
func New(opts Options) (*Solver, error) {
	if !(opts.Tolerance > 0) || math.IsInf(opts.Tolerance, 1) {
		return nil, fmt.Errorf("%w: tolerance must be positive and finite, got %v", ErrInvalidOptions, opts.Tolerance)
	}
	if opts.MaxIterations <= 0 {
		return nil, fmt.Errorf("%w: max iterations must be positive, got %d", ErrInvalidOptions, opts.MaxIterations)
	}
	if opts.Restarts < 0 {
		return nil, fmt.Errorf("%w: restarts must not be negative, got %d", ErrInvalidOptions, opts.Restarts)
	}
	if math.IsNaN(opts.PhaseOffset) || math.IsInf(opts.PhaseOffset, 0) {
		return nil, fmt.Errorf("%w: phase offset must be finite", ErrInvalidOptions)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Start != nil {
		opts.Start = append([]complex128(nil), opts.Start...)
	}
	return &Solver{
		opts:   opts,
		logger: logger.With("component", "aberth"),
	}, nil
}

// Solve finds every root of the polynomial with the given coefficients,
// ascending power, using DefaultOptions with the given tolerance and cap.
func Solve(coeffs []complex128, tolerance float64, maxIterations int) ([]complex128, error) {
	opts := DefaultOptions()
	opts.Tolerance = tolerance
	opts.MaxIterations = maxIterations
	s, err := New(opts)
	if err != nil {
		return nil, err
	}
	res, err := s.Solve(context.Background(), poly.New(coeffs...))
	if err != nil {
		return nil, err
	}
	return res.Roots, nil
}

// Solve refines start estimates for p until every correction in a round is
// within tolerance. Zero leading coefficients are ignored. The context is
// checked once per round.
func (s *Solver) Solve(ctx context.Context, p poly.Polynomial) (*Result, error) {
	if !p.IsFinite() {
		return nil, fmt.Errorf("%w: non-finite coefficient", ErrDegenerateInput)
	}
	p = p.Trim()
	if p.IsZero() {
		return nil, fmt.Errorf("%w: all coefficients are zero", ErrDegenerateInput)
	}
	n := p.Degree()
	if n < 1 {
		return nil, fmt.Errorf("%w: constant polynomial has no roots", ErrDegenerateInput)
	}
	if m, _ := p.LowestNonZero(); m == n {
		// c*x^n: every root is exactly zero.
		return &Result{Roots: make([]complex128, n)}, nil
	}

	start := s.opts.Start
	if start == nil {
		var err error
		start, err = StartPoints(p, s.opts.PhaseOffset)
		if err != nil {
			return nil, err
		}
	} else if len(start) != n {
		return nil, fmt.Errorf("%w: %d start points for degree %d", ErrInvalidOptions, len(start), n)
	}

	var rng *rand.Rand
	for attempt := 0; ; attempt++ {
		res, err := s.iterate(ctx, p, start)
		if err == nil {
			res.Restarts = attempt
			s.logger.Debug("solve converged",
				"degree", n,
				"iterations", res.Iterations,
				"max_correction", res.MaxCorrection,
				"restarts", attempt,
			)
			return res, nil
		}
		if !errors.Is(err, ErrNumericalFailure) || attempt >= s.opts.Restarts {
			return nil, err
		}
		if rng == nil {
			rng = rand.New(rand.NewSource(s.opts.Seed))
		}
		start = perturb(start, rng)
		s.logger.Warn("numerical failure, restarting from perturbed start",
			"attempt", attempt+1,
			"max_restarts", s.opts.Restarts,
			"error", err,
		)
	}
}

func (s *Solver) iterate(ctx context.Context, p poly.Polynomial, start []complex128) (*Result, error) {
	dp := p.Derivative()
	cur := append([]complex128(nil), start...)
	next := make([]complex128, len(cur))
	corr := make([]float64, len(cur))

	var maxCorr float64
	for iter := 1; iter <= s.opts.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w after %d iterations: %w", ErrAborted, iter-1, err)
		}
		if err := s.round(p, dp, cur, next, corr, iter); err != nil {
			return nil, err
		}
		cur, next = next, cur

		maxCorr = 0
		for _, c := range corr {
			maxCorr = math.Max(maxCorr, c)
		}
		if maxCorr <= s.opts.Tolerance {
			return &Result{Roots: cur, Iterations: iter, MaxCorrection: maxCorr}, nil
		}
	}
	return nil, &NotConvergedError{
		Iterations:    s.opts.MaxIterations,
		MaxCorrection: maxCorr,
		Roots:         cur,
	}
}

// round writes the next estimate set into next. cur is read-only for the
// whole round; next becomes visible to the caller only after every range
// has been corrected.
func (s *Solver) round(p, dp poly.Polynomial, cur, next []complex128, corr []float64, iter int) error {
	n := len(cur)
	workers := min(s.opts.Workers, n)
	if workers <= 1 || n < s.opts.ParallelThreshold {
		return correctRange(p, dp, cur, next, corr, 0, n, iter)
	}

	chunk := (n + workers - 1) / workers
	var g errgroup.Group
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			return correctRange(p, dp, cur, next, corr, lo, hi, iter)
		})
	}
	return g.Wait()
}

func correctRange(p, dp poly.Polynomial, cur, next []complex128, corr []float64, lo, hi, iter int) error {
	for k := lo; k < hi; k++ {
		c, err := correction(p, dp, cur, k)
		if err != nil {
			return &NumericalError{Iteration: iter, Index: k, Reason: err.Error()}
		}
		next[k] = cur[k] - c
		corr[k] = cmplx.Abs(c)
	}
	return nil
}

func correction(p, dp poly.Polynomial, x []complex128, k int) (complex128, error) {
	xk := x[k]
	var sum complex128
	for j, xj := range x {
		if j == k {
			continue
		}
		diff := xk - xj
		if diff == 0 {
			return 0, fmt.Errorf("estimate coincides with root %d", j)
		}
		sum += 1 / diff
	}

	num := p.Eval(xk)
	if num == 0 {
		return 0, nil
	}
	den := dp.Eval(xk)
	if den == 0 {
		return 0, errors.New("derivative vanishes at estimate")
	}
	w := num / den
	denom := 1 - w*sum
	if denom == 0 {
		return 0, errors.New("singular correction denominator")
	}
	c := w / denom
	if cmplx.IsNaN(c) || cmplx.IsInf(c) {
		return 0, errors.New("non-finite correction")
	}
	return c, nil
}

func perturb(points []complex128, rng *rand.Rand) []complex128 {
	out := make([]complex128, len(points))
	for i, x := range points {
		r := perturbScale * math.Max(cmplx.Abs(x), 1) * (0.5 + rng.Float64())
		out[i] = x + cmplx.Rect(r, 2*math.Pi*rng.Float64())
	}
	return out
}
