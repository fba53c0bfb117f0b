// Package curvefit fits and evaluates low-degree polynomials used to
// approximate the upcoming path in the car frame.
package curvefit

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// NumericError is returned by Fit when the Vandermonde normal equations are
// singular or rank-deficient, e.g. because the sample x-values are not
// distinct.
type NumericError struct {
	cause error
}

func (e *NumericError) Error() string {
	return fmt.Sprintf("polyfit: ill-conditioned system: %v", e.cause)
}

func (e *NumericError) Unwrap() error {
	return e.cause
}

// Fit returns the degree-d least-squares polynomial coefficients c_0..c_d
// such that p(x) = Σ c_k x^k approximates the samples (xs[i], ys[i]).
// len(xs) must equal len(ys) and be at least degree+1.
func Fit(xs, ys []float64, degree int) ([]float64, error) {
	if len(xs) != len(ys) {
		return nil, errors.Errorf("polyfit: len(xs)=%d != len(ys)=%d", len(xs), len(ys))
	}
	if len(xs) < degree+1 {
		return nil, errors.Errorf("polyfit: need at least %d samples for degree %d, got %d", degree+1, degree, len(xs))
	}

	n := len(xs)
	cols := degree + 1
	a := mat.NewDense(n, cols, nil)
	for i, x := range xs {
		xp := 1.0
		for k := 0; k < cols; k++ {
			a.Set(i, k, xp)
			xp *= x
		}
	}
	y := mat.NewVecDense(n, ys)

	var ata mat.Dense
	ata.Mul(a.T(), a)
	var aty mat.VecDense
	aty.MulVec(a.T(), y)

	var coeffs mat.VecDense
	if err := coeffs.SolveVec(&ata, &aty); err != nil {
		return nil, &NumericError{cause: err}
	}

	out := make([]float64, cols)
	for k := 0; k < cols; k++ {
		out[k] = coeffs.AtVec(k)
	}
	return out, nil
}

// Eval evaluates p(x) = Σ c_k x^k via Horner's method.
func Eval(c []float64, x float64) float64 {
	if len(c) == 0 {
		return 0
	}
	y := c[len(c)-1]
	for k := len(c) - 2; k >= 0; k-- {
		y = y*x + c[k]
	}
	return y
}

// EvalDeriv evaluates p'(x), the analytic derivative of the polynomial
// with coefficients c, at x.
func EvalDeriv(c []float64, x float64) float64 {
	if len(c) <= 1 {
		return 0
	}
	// Derivative coefficients: d_k = (k+1)*c_{k+1}, for k = 0..len(c)-2.
	d := make([]float64, len(c)-1)
	for k := range d {
		d[k] = float64(k+1) * c[k+1]
	}
	return Eval(d, x)
}
