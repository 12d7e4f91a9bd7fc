package aberth

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/poly"
)

// DefaultPhaseOffset rotates the starting circle off the real axis. Real
// coefficient polynomials keep real estimates real under the iteration, so
// a start set containing only real points can never reach complex roots.
const DefaultPhaseOffset = 0.7

// StartPoints places Degree() estimates evenly on a circle, angle
// 2*pi*k/n + offset. The radius is |c_m / c_n|^(1/(n-m)) with m the lowest
// non-zero index, the geometric mean magnitude of the non-zero roots.
func StartPoints(p poly.Polynomial, offset float64) ([]complex128, error) {
	p = p.Trim()
	n := p.Degree()
	if n < 1 {
		return nil, fmt.Errorf("%w: degree %d has no roots to seed", ErrDegenerateInput, n)
	}
	m, _ := p.LowestNonZero()
	radius := 1.0
	if m < n {
		radius = math.Pow(cmplx.Abs(p[m])/cmplx.Abs(p.Leading()), 1/float64(n-m))
	}
	if radius == 0 || math.IsInf(radius, 0) || math.IsNaN(radius) {
		return nil, fmt.Errorf("%w: root radius estimate %v out of range", ErrDegenerateInput, radius)
	}

	points := make([]complex128, n)
	step := 2 * math.Pi / float64(n)
	for k := range points {
		points[k] = cmplx.Rect(radius, step*float64(k)+offset)
	}
	return points, nil
}
