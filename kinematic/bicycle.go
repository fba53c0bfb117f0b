// Package kinematic implements the single-track (bicycle) model used to
// roll the vehicle's state forward inside the MPC horizon.
package kinematic

import "math"

// State is the car-frame state presented to and propagated by the MPC
// solver: position, heading, speed, cross-track error and heading error.
type State struct {
	X, Y, Psi, V float64
	CTE, EPsi    float64
}

// Controls are the two actuator inputs the model accepts: steering angle
// (radians, positive turns left) and longitudinal acceleration.
type Controls struct {
	Delta, A float64
}

// Limits bounds the controls and names the platform's wheelbase.
type Limits struct {
	// Lf is the distance from the car's center of mass to the front axle.
	Lf float64
	// DeltaMax bounds steering to [-DeltaMax, DeltaMax], radians.
	DeltaMax float64
	// AMin, AMax bound longitudinal acceleration.
	AMin, AMax float64
}

// DefaultDeltaMax is ~25 degrees, the platform's mechanical steering limit.
const DefaultDeltaMax = 0.436

// Clamp returns u with Delta and A bounded to l's ranges.
func (l Limits) Clamp(u Controls) Controls {
	return Controls{
		Delta: clamp(u.Delta, -l.DeltaMax, l.DeltaMax),
		A:     clamp(u.A, l.AMin, l.AMax),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Step advances s by one horizon step dt under controls u, given the
// wheelbase Lf and the local-frame path polynomial coefficients used to
// recompute cte/eψ at the new x. polyEval and polyDeriv evaluate that
// polynomial and its derivative; passing them in (rather than importing
// curvefit) keeps this package free of any dependency beyond math.
func Step(s State, u Controls, dt, Lf float64, polyEval, polyDeriv func(x float64) float64) State {
	next := State{
		X:   s.X + s.V*math.Cos(s.Psi)*dt,
		Y:   s.Y + s.V*math.Sin(s.Psi)*dt,
		Psi: s.Psi + (s.V/Lf)*u.Delta*dt,
		V:   s.V + u.A*dt,
	}
	next.CTE = (polyEval(s.X) - s.Y) + s.V*math.Sin(s.EPsi)*dt
	next.EPsi = (s.Psi - math.Atan(polyDeriv(s.X))) + (s.V/Lf)*u.Delta*dt
	return next
}
