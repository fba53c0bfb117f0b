package control

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// PoseSample is one delivery on the pose input channel: a map-frame
// position and the orientation quaternion it was measured with.
type PoseSample struct {
	X, Y        float64
	Orientation quat.Number
}

// Orientation2Psi derives yaw from the sample's quaternion.
func (p PoseSample) Orientation2Psi() float64 {
	return yawFromQuaternion(p.Orientation)
}

// yawFromQuaternion derives yaw (radians) from a unit quaternion in
// gonum's num/quat representation:
// ψ = atan2(2(wz+xy), 1−2(y²+z²)).
func yawFromQuaternion(q quat.Number) float64 {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	sinyCosp := 2.0 * (w*z + x*y)
	cosyCosp := 1.0 - 2.0*(y*y+z*z)
	return math.Atan2(sinyCosp, cosyCosp)
}

// quaternionFromYaw constructs the unit quaternion (0, 0, sin(ψ/2),
// cos(ψ/2)) that yawFromQuaternion round-trips back to ψ; used only in
// tests to verify the round-trip property.
func quaternionFromYaw(psi float64) quat.Number {
	return quat.Number{Real: math.Cos(psi / 2), Kmag: math.Sin(psi / 2)}
}
