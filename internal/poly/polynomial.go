// Package poly provides a dense univariate polynomial over complex128 with
// Horner evaluation and formal differentiation.
//
// Coefficients are stored in ascending power order: index i holds the
// coefficient of x^i, so [-6, 11, -6, 1] is x^3 - 6x^2 + 11x - 6.
package poly

import (
	"math"
	"math/cmplx"
)

// Polynomial is an ordered coefficient sequence, ascending power.
type Polynomial []complex128

// New copies coeffs into a Polynomial.
func New(coeffs ...complex128) Polynomial {
	p := make(Polynomial, len(coeffs))
	copy(p, coeffs)
	return p
}

// FromReal embeds real coefficients as complex ones.
func FromReal(coeffs ...float64) Polynomial {
	p := make(Polynomial, len(coeffs))
	for i, c := range coeffs {
		p[i] = complex(c, 0)
	}
	return p
}

// FromRoots returns the monic polynomial (x - r0)(x - r1)...(x - rn).
func FromRoots(roots ...complex128) Polynomial {
	p := Polynomial{1}
	for _, r := range roots {
		next := make(Polynomial, len(p)+1)
		for i, c := range p {
			next[i+1] += c
			next[i] -= r * c
		}
		p = next
	}
	return p
}

// Degree returns the highest power with a non-zero coefficient, or -1 for
// the zero polynomial.
func (p Polynomial) Degree() int {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] != 0 {
			return i
		}
	}
	return -1
}

// Trim returns p without zero leading coefficients. The result shares
// storage with p.
func (p Polynomial) Trim() Polynomial {
	return p[:p.Degree()+1]
}

// IsZero reports whether every coefficient is zero.
func (p Polynomial) IsZero() bool {
	return p.Degree() < 0
}

// IsFinite reports whether no coefficient is NaN or infinite.
func (p Polynomial) IsFinite() bool {
	for _, c := range p {
		if cmplx.IsNaN(c) || cmplx.IsInf(c) {
			return false
		}
	}
	return true
}

// Leading returns the coefficient of the highest non-zero power.
func (p Polynomial) Leading() complex128 {
	d := p.Degree()
	if d < 0 {
		return 0
	}
	return p[d]
}

// LowestNonZero returns the smallest index holding a non-zero coefficient.
func (p Polynomial) LowestNonZero() (int, bool) {
	for i, c := range p {
		if c != 0 {
			return i, true
		}
	}
	return 0, false
}

// Eval computes p(x) by Horner's method. An empty polynomial evaluates to 0.
func (p Polynomial) Eval(x complex128) complex128 {
	if len(p) == 0 {
		return 0
	}
	acc := p[len(p)-1]
	for i := len(p) - 2; i >= 0; i-- {
		acc = acc*x + p[i]
	}
	return acc
}

// Derivative returns p' where coefficient i is (i+1)*p[i+1]. Constants
// differentiate to the empty polynomial.
func (p Polynomial) Derivative() Polynomial {
	if len(p) <= 1 {
		return Polynomial{}
	}
	d := make(Polynomial, len(p)-1)
	for i := range d {
		d[i] = complex(float64(i+1), 0) * p[i+1]
	}
	return d
}

// Bound returns sum |c_i| |x|^i, the magnitude scale against which the
// rounding error of Eval(x) is measured.
func (p Polynomial) Bound(x complex128) float64 {
	if len(p) == 0 {
		return 0
	}
	r := cmplx.Abs(x)
	acc := cmplx.Abs(p[len(p)-1])
	for i := len(p) - 2; i >= 0; i-- {
		acc = acc*r + cmplx.Abs(p[i])
	}
	return acc
}

// Residual returns |p(x)| / max(Bound(x), 1), a scale-free measure of how
// well x satisfies p(x) = 0.
func (p Polynomial) Residual(x complex128) float64 {
	return cmplx.Abs(p.Eval(x)) / math.Max(p.Bound(x), 1)
}
