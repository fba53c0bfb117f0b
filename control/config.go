package control

import (
	"go.uber.org/multierr"

	"github.com/SiChiTong/mpc/kinematic"
)

// Config is the full configuration surface for a Loop: the required
// parameters from the external interface table, plus the platform
// constants (wheelbase, wheel radius, RPM gain, window-extraction
// constants) a complete deployment also needs to supply.
type Config struct {
	// --- required surface ---
	StepsAhead int     // >= 2
	DT         float64 // > 0, horizon step
	RefV       float64 // > 0
	RefVAlpha  float64 // in [0, 1]
	Latency    float64 // >= 0; warn if > 1s

	CTECoeff, EPsiCoeff, SpeedCoeff                float64 // >= 0
	SteerCoeff, ConsecSteerCoeff, ConsecSpeedCoeff float64 // >= 0

	PolyDegree   int // >= 1, <= NumStepsPoly-1
	NumStepsPoly int // >= PolyDegree+2

	Debug bool

	// --- platform constants, required for the control loop to be
	// runnable against a real base ---
	Lf          float64 // wheelbase, > 0
	DeltaMax    float64 // steering limit, radians, > 0
	AMin, AMax  float64 // acceleration bounds, AMin <= AMax
	WheelRadius float64 // meters, > 0
	RPMGain     float64 // empirical platform gain K; != 0

	NumStepsBack int     // window samples behind the nearest point, >= 0
	StepPoly     int     // window stride, >= 1
	XDeltaMin    float64 // stabilizer threshold, > 0

	TickHz float64 // control loop rate, >= 100
}

// DefaultConfig returns a Config with the platform constants this module
// ships as sane defaults for a small RC-scale ground vehicle; the
// required surface fields are left at their zero values and must be set
// by the caller (or by cmd/mpcloopd's argument parser).
func DefaultConfig() Config {
	return Config{
		Lf:           0.29,
		DeltaMax:     kinematic.DefaultDeltaMax,
		AMin:         -3.0,
		AMax:         3.0,
		WheelRadius:  0.05,
		RPMGain:      10.0,
		NumStepsBack: 3,
		StepPoly:     4,
		XDeltaMin:    0.05,
		TickHz:       100,
	}
}

// Validate checks every field in the configuration surface, returning a
// combined error (via multierr) naming every violation at once rather
// than failing on the first one.
func (c Config) Validate() error {
	var err error
	req := func(cond bool, msg string) {
		if !cond {
			err = multierr.Append(err, errConfigf(msg))
		}
	}

	req(c.StepsAhead >= 2, "steps_ahead must be >= 2")
	req(c.DT > 0, "dt must be > 0")
	req(c.RefV > 0, "ref_v must be > 0")
	req(c.RefVAlpha >= 0 && c.RefVAlpha <= 1, "ref_v_alpha must be in [0, 1]")
	req(c.Latency >= 0, "latency must be >= 0")

	req(c.CTECoeff >= 0, "cte_coeff must be >= 0")
	req(c.EPsiCoeff >= 0, "epsi_coeff must be >= 0")
	req(c.SpeedCoeff >= 0, "speed_coeff must be >= 0")
	req(c.SteerCoeff >= 0, "steer_coeff must be >= 0")
	req(c.ConsecSteerCoeff >= 0, "consec_steer_coeff must be >= 0")
	req(c.ConsecSpeedCoeff >= 0, "consec_speed_coeff must be >= 0")

	req(c.PolyDegree >= 1, "poly_degree must be >= 1")
	req(c.NumStepsPoly >= c.PolyDegree+2, "num_steps_poly must be >= poly_degree+2")

	req(c.Lf > 0, "Lf must be > 0")
	req(c.DeltaMax > 0, "DeltaMax must be > 0")
	req(c.AMax >= c.AMin, "AMax must be >= AMin")
	req(c.WheelRadius > 0, "WheelRadius must be > 0")
	req(c.RPMGain != 0, "RPMGain must be != 0")
	req(c.NumStepsBack >= 0, "NumStepsBack must be >= 0")
	req(c.StepPoly >= 1, "StepPoly must be >= 1")
	req(c.XDeltaMin > 0, "XDeltaMin must be > 0")
	req(c.TickHz >= 100, "TickHz must be >= 100")

	return err
}

// MinCenterlineLen is the shortest centerline this Config can operate on,
// per the window-extraction invariant: length >= num_steps_poly *
// STEP_POLY + NUM_STEPS_BACK.
func (c Config) MinCenterlineLen() int {
	return c.NumStepsPoly*c.StepPoly + c.NumStepsBack
}
