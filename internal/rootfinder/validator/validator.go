// Package validator checks solve requests against the service limits and
// returns per-field error details.
package validator

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/rootfinder"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/config"
)

// Limits bounds what a single request may ask of the solver.
type Limits struct {
	MaxDegree      int
	MaxTolerance   float64
	IterationLimit int
}

// LimitsFromConfig extracts the request limits from the solver config.
func LimitsFromConfig(cfg config.SolverConfig) Limits {
	return Limits{
		MaxDegree:      cfg.MaxDegree,
		MaxTolerance:   cfg.MaxTolerance,
		IterationLimit: cfg.IterationLimit,
	}
}

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		keys = append(keys, field)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, field := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", field, e.Fields[field]))
	}
	return strings.Join(parts, "; ")
}

// ValidateSolveRequest rejects requests the solver must never see: missing
// or non-finite coefficients, degrees above the limit and out-of-range
// tolerance or iteration caps. A constant or all-zero polynomial passes
// here and is reported by the solver as degenerate.
func ValidateSolveRequest(req *rootfinder.SolveRequest, limits Limits) error {
	errs := make(map[string]string)

	switch n := len(req.Coefficients); {
	case n == 0:
		errs["coefficients"] = "at least one coefficient is required"
	case limits.MaxDegree > 0 && n-1 > limits.MaxDegree:
		errs["coefficients"] = fmt.Sprintf("degree must be at most %d", limits.MaxDegree)
	default:
		for i, c := range req.Coefficients {
			if !finite(real(c)) || !finite(imag(c)) {
				errs["coefficients"] = fmt.Sprintf("coefficient %d is not finite", i)
				break
			}
		}
	}

	tol := req.Tolerance
	switch {
	case math.IsNaN(tol) || tol < 0:
		errs["tolerance"] = "tolerance must be positive"
	case limits.MaxTolerance > 0 && tol > limits.MaxTolerance:
		errs["tolerance"] = fmt.Sprintf("tolerance must be at most %g", limits.MaxTolerance)
	}

	switch {
	case req.MaxIterations < 0:
		errs["max_iterations"] = "max_iterations must be positive"
	case limits.IterationLimit > 0 && req.MaxIterations > limits.IterationLimit:
		errs["max_iterations"] = fmt.Sprintf("max_iterations must be at most %d", limits.IterationLimit)
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
