// Package localframe projects centerline samples from the map frame into
// the car frame and stabilizes the resulting x-spacing so that curvefit
// sees a well-conditioned set of samples.
package localframe

import (
	"math"

	"github.com/golang/geo/r3"
)

// Pose is the vehicle pose used to build the local frame: a map-frame
// position and a yaw (radians).
type Pose struct {
	X, Y, Psi float64
}

// Transform projects pts from the map frame into the car frame centered
// at pose: translate by -pose position, then rotate by -pose.Psi.
func Transform(pose Pose, pts []r3.Vector) []r3.Vector {
	sinPsi, cosPsi := math.Sin(pose.Psi), math.Cos(pose.Psi)
	out := make([]r3.Vector, len(pts))
	for i, p := range pts {
		dx := p.X - pose.X
		dy := p.Y - pose.Y
		out[i] = r3.Vector{
			X: dx*cosPsi + dy*sinPsi,
			Y: -dx*sinPsi + dy*cosPsi,
		}
	}
	return out
}

// Stabilize repairs non-monotone or too-slowly-increasing x-spacing in a
// car-frame point sequence produced by Transform. Starting at index
// i > degree, if x_c[i]-x_c[i-1] < xDeltaMin, the tail [i:] is discarded
// and replaced with a linear extrapolation of the last two accepted
// points, so the returned slice always has the same length as pts. The
// synthetic tail keeps the direction of those two points; when the repair
// triggers at i = degree+1, their spacing was never checked, so x beyond
// index degree is increasing only if x_c[degree] > x_c[degree-1].
//
// fractionStepsOK reports (i+1)/len(pts), the portion of the window that
// was trusted; it is 1.0 when no repair was needed.
func Stabilize(pts []r3.Vector, degree int, xDeltaMin float64) (stabilized []r3.Vector, fractionStepsOK float64) {
	n := len(pts)
	out := make([]r3.Vector, n)
	copy(out, pts)

	for i := degree + 1; i < n; i++ {
		if out[i].X-out[i-1].X >= xDeltaMin {
			continue
		}
		numStepsRemaining := n - i + 1
		fractionStepsOK = float64(i+1) / float64(n)

		dx := (out[i-1].X - out[i-2].X) / float64(numStepsRemaining)
		dy := (out[i-1].Y - out[i-2].Y) / float64(numStepsRemaining)
		for sub := 1; sub < numStepsRemaining && i-1+sub < n; sub++ {
			out[i-1+sub] = r3.Vector{
				X: out[i-1].X + float64(sub)*dx,
				Y: out[i-1].Y + float64(sub)*dy,
			}
		}
		return out, fractionStepsOK
	}
	return out, 1.0
}
