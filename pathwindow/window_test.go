package pathwindow

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func straightLine(n int) []r3.Vector {
	pts := make([]r3.Vector, n)
	for i := range pts {
		pts[i] = r3.Vector{X: float64(i) * 0.5, Y: 0, Z: 0}
	}
	return pts
}

func TestFindClosest(t *testing.T) {
	pts := straightLine(51)
	idx := FindClosest(pts, r3.Vector{X: 5, Y: 0})
	test.That(t, idx, test.ShouldEqual, 10)
}

func TestFindClosestTieBreaksLowestIndex(t *testing.T) {
	// pts[1] and pts[2] are equidistant from pos; the lower index wins.
	pts := []r3.Vector{{X: 5, Y: 0}, {X: 2, Y: 0}, {X: -2, Y: 0}}
	idx := FindClosest(pts, r3.Vector{X: 0, Y: 0})
	test.That(t, idx, test.ShouldEqual, 1)
}

func TestWindowNoWrap(t *testing.T) {
	pts := straightLine(51)
	w := Window(pts, 20, 5, 2, 1)
	test.That(t, len(w), test.ShouldEqual, 5)
	// start = 20-1 = 19, stepping by 2: 19, 21, 23, 25, 27
	test.That(t, w[0].X, test.ShouldAlmostEqual, pts[19].X)
	test.That(t, w[4].X, test.ShouldAlmostEqual, pts[27].X)
}

func TestWindowWraps(t *testing.T) {
	pts := straightLine(10)
	// idx near the end: the step sequence wraps back around past the end
	// of pts.
	w := Window(pts, 9, 6, 1, 2)
	test.That(t, len(w), test.ShouldEqual, 6)
	// start = (9-2) mod 10 = 7; indices: 7,8,9,0,1,2
	expected := []int{7, 8, 9, 0, 1, 2}
	for i, e := range expected {
		test.That(t, w[i].X, test.ShouldAlmostEqual, pts[e].X)
	}
}
