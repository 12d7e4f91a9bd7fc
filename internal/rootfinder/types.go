// Package rootfinder defines the request/response types shared by the HTTP
// API, the Kafka solve worker and the solve history store.
package rootfinder

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/poly"
)

// Outcome classifies how a solve ended.
type Outcome string

const (
	OutcomeConverged        Outcome = "converged"
	OutcomeNotConverged     Outcome = "not_converged"
	OutcomeNumericalFailure Outcome = "numerical_failure"
	OutcomeDegenerate       Outcome = "degenerate"
	OutcomeAborted          Outcome = "aborted"
	OutcomeTimeout          Outcome = "timeout"
	OutcomeInvalid          Outcome = "invalid"
	OutcomeError            Outcome = "error"
)

// Complex is a complex128 with a JSON form of {"re": x, "im": y}. A bare
// JSON number decodes as a real value.
type Complex complex128

func (c Complex) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Re float64 `json:"re"`
		Im float64 `json:"im"`
	}{real(c), imag(c)})
}

func (c *Complex) UnmarshalJSON(data []byte) error {
	var re float64
	if err := json.Unmarshal(data, &re); err == nil {
		*c = Complex(complex(re, 0))
		return nil
	}
	var obj struct {
		Re *float64 `json:"re"`
		Im *float64 `json:"im"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("complex value must be a number or {\"re\",\"im\"} object: %w", err)
	}
	if obj.Re == nil && obj.Im == nil {
		return fmt.Errorf("complex value needs at least one of re, im")
	}
	var v complex128
	if obj.Re != nil {
		v += complex(*obj.Re, 0)
	}
	if obj.Im != nil {
		v += complex(0, *obj.Im)
	}
	*c = Complex(v)
	return nil
}

// ToComplex converts a slice of wire values.
func ToComplex(values []Complex) []complex128 {
	out := make([]complex128, len(values))
	for i, v := range values {
		out[i] = complex128(v)
	}
	return out
}

// FromComplex converts solver values to their wire form.
func FromComplex(values []complex128) []Complex {
	out := make([]Complex, len(values))
	for i, v := range values {
		out[i] = Complex(v)
	}
	return out
}

// SolveRequest is the JSON body of POST /api/v1/roots and the payload of a
// queued SolveJob. Coefficients are in ascending power order: index i holds
// the coefficient of x^i. Zero Tolerance or MaxIterations selects the
// service default.
type SolveRequest struct {
	Coefficients  []Complex `json:"coefficients"`
	Tolerance     float64   `json:"tolerance,omitempty"`
	MaxIterations int       `json:"max_iterations,omitempty"`
}

// Polynomial returns the request coefficients as a polynomial.
func (r SolveRequest) Polynomial() poly.Polynomial {
	return poly.New(ToComplex(r.Coefficients)...)
}

// SolveResponse reports a solve. Roots are present for converged results and
// hold the best estimates for not_converged ones. DurationUs is the wall time
// of the call that produced this response, including cache lookups.
type SolveResponse struct {
	RequestID     string    `json:"request_id,omitempty"`
	Outcome       Outcome   `json:"outcome"`
	Degree        int       `json:"degree"`
	Roots         []Complex `json:"roots,omitempty"`
	Residuals     []float64 `json:"residuals,omitempty"`
	Iterations    int       `json:"iterations"`
	MaxCorrection float64   `json:"max_correction"`
	Restarts      int       `json:"restarts"`
	Tolerance     float64   `json:"tolerance"`
	CacheHit      bool      `json:"cache_hit"`
	DurationUs    int64     `json:"duration_us"`
	Error         string    `json:"error,omitempty"`
}

// SolveJob is the Kafka message consumed by the solve worker.
type SolveJob struct {
	ID          string       `json:"id"`
	Request     SolveRequest `json:"request"`
	SubmittedAt time.Time    `json:"submitted_at"`
}

// SolveResultEvent is published by the solve worker for every job.
type SolveResultEvent struct {
	JobID       string         `json:"job_id"`
	Status      string         `json:"status"`
	Response    *SolveResponse `json:"response,omitempty"`
	Error       string         `json:"error,omitempty"`
	CompletedAt time.Time      `json:"completed_at"`
}
