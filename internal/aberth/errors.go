package aberth

import (
	"errors"
	"fmt"
)

// Solve outcomes other than convergence. Callers match them with errors.Is;
// the typed errors below carry the iteration state.
var (
	// ErrDegenerateInput is returned for polynomials without roots to seed:
	// degree < 1, all-zero, or non-finite coefficients.
	ErrDegenerateInput = errors.New("aberth: degenerate polynomial")

	// ErrNumericalFailure is returned when a correction would divide by zero:
	// two estimates coincide, or the derivative vanishes at an estimate.
	ErrNumericalFailure = errors.New("aberth: numerical failure")

	// ErrNotConverged is returned when the iteration cap is reached.
	ErrNotConverged = errors.New("aberth: iteration limit reached without convergence")

	// ErrAborted is returned when the context ends between rounds.
	ErrAborted = errors.New("aberth: solve aborted")

	// ErrInvalidOptions is returned for a non-positive tolerance or cap.
	ErrInvalidOptions = errors.New("aberth: invalid options")
)

// NumericalError records where a round broke down.
type NumericalError struct {
	Iteration int
	Index     int
	Reason    string
}

func (e *NumericalError) Error() string {
	return fmt.Sprintf("%s: %s (iteration %d, root %d)", ErrNumericalFailure, e.Reason, e.Iteration, e.Index)
}

func (e *NumericalError) Unwrap() error {
	return ErrNumericalFailure
}

// NotConvergedError carries the best estimate set reached before the cap so
// the caller can decide whether to retry with a larger cap or looser
// tolerance.
type NotConvergedError struct {
	Iterations    int
	MaxCorrection float64
	Roots         []complex128
}

func (e *NotConvergedError) Error() string {
	return fmt.Sprintf("%s: %d iterations, last max correction %.3g", ErrNotConverged, e.Iterations, e.MaxCorrection)
}

func (e *NotConvergedError) Unwrap() error {
	return ErrNotConverged
}
