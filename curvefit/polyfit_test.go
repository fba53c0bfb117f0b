package curvefit

import (
	"math"
	"testing"

	"go.viam.com/test"
)

func TestFitLine(t *testing.T) {
	// y = 2x + 1
	xs := []float64{0, 1, 2, 3, 4}
	ys := []float64{1, 3, 5, 7, 9}
	c, err := Fit(xs, ys, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c[0], test.ShouldAlmostEqual, 1.0)
	test.That(t, c[1], test.ShouldAlmostEqual, 2.0)
}

func TestFitQuadratic(t *testing.T) {
	// y = x^2 - x + 2
	xs := []float64{-2, -1, 0, 1, 2, 3}
	ys := make([]float64, len(xs))
	for i, x := range xs {
		ys[i] = x*x - x + 2
	}
	c, err := Fit(xs, ys, 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c[0], test.ShouldAlmostEqual, 2.0)
	test.That(t, c[1], test.ShouldAlmostEqual, -1.0)
	test.That(t, c[2], test.ShouldAlmostEqual, 1.0)
}

func TestFitTooFewSamples(t *testing.T) {
	_, err := Fit([]float64{0, 1}, []float64{0, 1}, 2)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestFitMismatchedLengths(t *testing.T) {
	_, err := Fit([]float64{0, 1, 2}, []float64{0, 1}, 1)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestFitSingular(t *testing.T) {
	// All x identical: the Vandermonde system is rank-deficient.
	xs := []float64{1, 1, 1}
	ys := []float64{1, 2, 3}
	_, err := Fit(xs, ys, 1)
	test.That(t, err, test.ShouldNotBeNil)
	var numErr *NumericError
	test.That(t, errorsAsNumericError(err, &numErr), test.ShouldBeTrue)
}

func errorsAsNumericError(err error, target **NumericError) bool {
	for err != nil {
		if ne, ok := err.(*NumericError); ok {
			*target = ne
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func TestEval(t *testing.T) {
	c := []float64{1, 2, 3} // 1 + 2x + 3x^2
	test.That(t, Eval(c, 0), test.ShouldAlmostEqual, 1.0)
	test.That(t, Eval(c, 2), test.ShouldAlmostEqual, 1+4+12)
}

func TestEvalDeriv(t *testing.T) {
	c := []float64{1, 2, 3} // p'(x) = 2 + 6x
	test.That(t, EvalDeriv(c, 0), test.ShouldAlmostEqual, 2.0)
	test.That(t, EvalDeriv(c, 1), test.ShouldAlmostEqual, 8.0)

	// eps = -atan(c_1) at x=0 uses this directly.
	eps := -math.Atan(EvalDeriv(c, 0))
	test.That(t, eps, test.ShouldAlmostEqual, -math.Atan(2.0))
}
