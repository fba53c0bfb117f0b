//go:build !windows && !no_cgo

// Package mpcsolve formulates and solves the finite-horizon nonlinear
// program that produces the vehicle's steering and speed setpoints,
// using nlopt with finite-difference gradients over the MPC's
// state/control tape.
package mpcsolve

import (
	"github.com/go-nlopt/nlopt"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/SiChiTong/mpc/curvefit"
	"github.com/SiChiTong/mpc/kinematic"
)

// ErrSolveFailed is returned when the NLP does not converge or the
// problem is infeasible within MaxIterations.
var ErrSolveFailed = errors.New("mpcsolve: solver did not converge")

const (
	defaultJump    = 1e-8
	defaultMaxEval = 2000
	defaultEpsilon = 1e-7
)

// Weights are the cost-term coefficients from the configuration surface.
type Weights struct {
	CTE, EPsi, Speed float64
	Steer            float64
	ConsecSteer      float64
	ConsecSpeed      float64
}

// Config parameterizes one Solver: the horizon, step, platform limits,
// and cost weights.
type Config struct {
	StepsAhead int // H
	DT         float64
	Limits     kinematic.Limits
	Weights    Weights
	// MaxIterations bounds nlopt's evaluation count; 0 uses defaultMaxEval.
	MaxIterations int
}

// Result is the first-step controls plus the predicted car-frame
// trajectory, returned as named fields rather than an index into the
// flat decision tape.
type Result struct {
	Steer      float64
	SpeedCmd   float64
	Trajectory []kinematic.State
}

// Solver holds one configured nlopt instance's parameters; it is re-used
// tick to tick (stateless across calls other than the immutable Config).
type Solver struct {
	cfg Config
}

// New returns a Solver for cfg. cfg.StepsAhead must be >= 2.
func New(cfg Config) (*Solver, error) {
	if cfg.StepsAhead < 2 {
		return nil, errors.Errorf("mpcsolve: steps_ahead must be >= 2, got %d", cfg.StepsAhead)
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxEval
	}
	return &Solver{cfg: cfg}, nil
}

// tape layout: [x_0..x_{H-1}, y_0.., psi_0.., v_0.., cte_0.., epsi_0..,
// delta_0..delta_{H-2}, a_0..a_{H-2}]
type layout struct {
	h       int
	nStates int // 6*h
	nCtrl   int // h-1
	nVars   int
}

func newLayout(h int) layout {
	return layout{h: h, nStates: 6 * h, nCtrl: h - 1, nVars: 6*h + 2*(h-1)}
}

func (l layout) xIdx(k int) int    { return k }
func (l layout) yIdx(k int) int    { return l.h + k }
func (l layout) psiIdx(k int) int  { return 2*l.h + k }
func (l layout) vIdx(k int) int    { return 3*l.h + k }
func (l layout) cteIdx(k int) int  { return 4*l.h + k }
func (l layout) epsiIdx(k int) int { return 5*l.h + k }
func (l layout) deltaIdx(k int) int {
	return l.nStates + k // k in [0, h-2]
}
func (l layout) aIdx(k int) int {
	return l.nStates + l.nCtrl + k
}

func stateAt(x []float64, l layout, k int) kinematic.State {
	return kinematic.State{
		X: x[l.xIdx(k)], Y: x[l.yIdx(k)], Psi: x[l.psiIdx(k)],
		V: x[l.vIdx(k)], CTE: x[l.cteIdx(k)], EPsi: x[l.epsiIdx(k)],
	}
}

func controlsAt(x []float64, l layout, k int) kinematic.Controls {
	return kinematic.Controls{Delta: x[l.deltaIdx(k)], A: x[l.aIdx(k)]}
}

// Solve runs the NLP for one tick and returns the first-step commands
// and predicted trajectory. state is the car-frame state at the
// projected pose ([0,0,0,cte,eψ]); coeffs is the local-frame path
// polynomial; refV is the (possibly stabilizer-attenuated) reference
// speed; state.V seeds v_0.
func (s *Solver) Solve(state kinematic.State, coeffs []float64, refV float64) (Result, error) {
	h := s.cfg.StepsAhead
	l := newLayout(h)
	dt := s.cfg.DT
	lim := s.cfg.Limits
	w := s.cfg.Weights

	polyEval := func(x float64) float64 { return curvefit.Eval(coeffs, x) }
	polyDeriv := func(x float64) float64 { return curvefit.EvalDeriv(coeffs, x) }

	opt, err := nlopt.NewNLopt(nlopt.LD_SLSQP, uint(l.nVars))
	if err != nil {
		return Result{}, errors.Wrap(err, "mpcsolve: nlopt creation error")
	}
	defer opt.Destroy()

	lower := make([]float64, l.nVars)
	upper := make([]float64, l.nVars)
	for i := 0; i < l.nStates; i++ {
		lower[i] = negInf
		upper[i] = posInf
	}
	for k := 0; k < l.nCtrl; k++ {
		lower[l.deltaIdx(k)], upper[l.deltaIdx(k)] = -lim.DeltaMax, lim.DeltaMax
		lower[l.aIdx(k)], upper[l.aIdx(k)] = lim.AMin, lim.AMax
	}

	costFunc := func(x, gradient []float64) float64 {
		cost := evalCost(x, l, w, refV)
		if len(gradient) > 0 {
			fillGradient(gradient, x, func(xx []float64) float64 {
				return evalCost(xx, l, w, refV)
			}, defaultJump)
		}
		return cost
	}

	var combined error
	combined = multierr.Combine(
		opt.SetLowerBounds(lower),
		opt.SetUpperBounds(upper),
		opt.SetMinObjective(costFunc),
		opt.SetXtolRel(defaultEpsilon),
		opt.SetFtolRel(defaultEpsilon),
		opt.SetMaxEval(s.cfg.MaxIterations),
	)

	// Equality constraints: step 0 is pinned to the input state, and each
	// subsequent step must satisfy the bicycle-model dynamics.
	for k := 0; k < 6; k++ {
		k := k
		idx := stateComponentIdx(l, k, 0)
		pin := pinnedValue(state, k)
		combined = multierr.Append(combined, opt.AddEqualityConstraint(
			func(x, gradient []float64) float64 {
				if len(gradient) > 0 {
					for i := range gradient {
						gradient[i] = 0
					}
					gradient[idx] = 1
				}
				return x[idx] - pin
			}, 1e-8))
	}

	for k := 1; k < h; k++ {
		k := k
		for comp := 0; comp < 6; comp++ {
			comp := comp
			fn := func(x, gradient []float64) float64 {
				prev := stateAt(x, l, k-1)
				ctrl := controlsAt(x, l, k-1)
				next := kinematic.Step(prev, ctrl, dt, lim.Lf, polyEval, polyDeriv)
				actual := componentOf(next, comp)
				target := x[stateComponentIdx(l, comp, k)]
				if len(gradient) > 0 {
					fillGradient(gradient, x, func(xx []float64) float64 {
						prev := stateAt(xx, l, k-1)
						ctrl := controlsAt(xx, l, k-1)
						next := kinematic.Step(prev, ctrl, dt, lim.Lf, polyEval, polyDeriv)
						return componentOf(next, comp) - xx[stateComponentIdx(l, comp, k)]
					}, defaultJump)
				}
				return actual - target
			}
			combined = multierr.Append(combined, opt.AddEqualityConstraint(fn, 1e-6))
		}
	}

	if combined != nil {
		return Result{}, errors.Wrap(combined, "mpcsolve: nlopt configuration error")
	}

	x0 := initialGuess(state, l)
	xOpt, _, nloptErr := opt.Optimize(x0)
	if nloptErr != nil || xOpt == nil {
		return Result{}, multierr.Append(ErrSolveFailed, nloptErr)
	}

	traj := make([]kinematic.State, h)
	for k := 0; k < h; k++ {
		traj[k] = stateAt(xOpt, l, k)
	}

	return Result{
		Steer:      lim.Clamp(kinematic.Controls{Delta: xOpt[l.deltaIdx(0)]}).Delta,
		SpeedCmd:   xOpt[l.vIdx(1)],
		Trajectory: traj,
	}, nil
}

const negInf = -1e19
const posInf = 1e19

func stateComponentIdx(l layout, comp, k int) int {
	switch comp {
	case 0:
		return l.xIdx(k)
	case 1:
		return l.yIdx(k)
	case 2:
		return l.psiIdx(k)
	case 3:
		return l.vIdx(k)
	case 4:
		return l.cteIdx(k)
	default:
		return l.epsiIdx(k)
	}
}

func componentOf(s kinematic.State, comp int) float64 {
	switch comp {
	case 0:
		return s.X
	case 1:
		return s.Y
	case 2:
		return s.Psi
	case 3:
		return s.V
	case 4:
		return s.CTE
	default:
		return s.EPsi
	}
}

func pinnedValue(s kinematic.State, comp int) float64 {
	return componentOf(s, comp)
}

func evalCost(x []float64, l layout, w Weights, refV float64) float64 {
	cost := 0.0
	for k := 0; k < l.h; k++ {
		cte := x[l.cteIdx(k)]
		epsi := x[l.epsiIdx(k)]
		v := x[l.vIdx(k)]
		cost += w.CTE*cte*cte + w.EPsi*epsi*epsi + w.Speed*(v-refV)*(v-refV)
	}
	for k := 0; k < l.nCtrl; k++ {
		delta := x[l.deltaIdx(k)]
		cost += w.Steer * delta * delta
	}
	for k := 0; k < l.nCtrl-1; k++ {
		dDelta := x[l.deltaIdx(k+1)] - x[l.deltaIdx(k)]
		dA := x[l.aIdx(k+1)] - x[l.aIdx(k)]
		cost += w.ConsecSteer*dDelta*dDelta + w.ConsecSpeed*dA*dA
	}
	return cost
}

// fillGradient computes a one-sided finite-difference gradient of f at x
// with an adaptive jump: start from jump, and if the difference underflows
// to zero, grow the step.
func fillGradient(gradient, x []float64, f func([]float64) float64, jump float64) {
	base := f(x)
	xTest := append([]float64(nil), x...)
	for i := range gradient {
		step := jump
		for tries := 0; tries < 4; tries++ {
			xTest[i] = x[i] + step
			diff := f(xTest) - base
			xTest[i] = x[i]
			if diff != 0 {
				gradient[i] = diff / step
				break
			}
			step *= 10
			gradient[i] = 0
		}
	}
}

func initialGuess(state kinematic.State, l layout) []float64 {
	x0 := make([]float64, l.nVars)
	for k := 0; k < l.h; k++ {
		x0[l.xIdx(k)] = state.X
		x0[l.yIdx(k)] = state.Y
		x0[l.psiIdx(k)] = state.Psi
		x0[l.vIdx(k)] = state.V
		x0[l.cteIdx(k)] = state.CTE
		x0[l.epsiIdx(k)] = state.EPsi
	}
	return x0
}
