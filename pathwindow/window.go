// Package pathwindow selects the contiguous slice of the (cyclic)
// centerline polyline around the vehicle's current position that is fed
// into the local-frame polynomial fit.
package pathwindow

import "github.com/golang/geo/r3"

// FindClosest returns the index into pts minimizing squared Euclidean
// distance to pos, breaking ties by the lowest index. O(len(pts)).
func FindClosest(pts []r3.Vector, pos r3.Vector) int {
	closest := -1
	closestDist := mathInf
	for i, p := range pts {
		d := p.Sub(pos).Norm2()
		if d < closestDist {
			closest = i
			closestDist = d
		}
	}
	return closest
}

const mathInf = 1.0e19

// Window returns numStepsPoly points from the cyclic polyline pts,
// starting at (idx - numStepsBack) mod len(pts) and stepping by
// stepPoly. Including points behind the nearest index stabilizes the fit
// at the low-x end of the car frame.
func Window(pts []r3.Vector, idx, numStepsPoly, stepPoly, numStepsBack int) []r3.Vector {
	n := len(pts)
	out := make([]r3.Vector, numStepsPoly)
	start := mod(idx-numStepsBack, n)
	for i := 0; i < numStepsPoly; i++ {
		out[i] = pts[mod(start+i*stepPoly, n)]
	}
	return out
}

func mod(a, n int) int {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}
