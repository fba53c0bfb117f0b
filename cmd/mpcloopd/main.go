//go:build !windows && !no_cgo

// Command mpcloopd is the demo control-loop process: it parses the
// platform's tuning parameters from a fixed positional-argument list,
// wires an in-process transport, and runs the control loop until
// interrupted.
package main

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/SiChiTong/mpc/control"
	"github.com/SiChiTong/mpc/logging"
)

// numExpectedArgs is steps_ahead, dt, ref_v, ref_v_alpha, latency,
// cte_coeff, epsi_coeff, speed_coeff, steer_coeff, consec_steer_coeff,
// consec_speed_coeff, poly_degree, num_steps_poly, debug: 14 positional
// arguments, in that order.
const numExpectedArgs = 14

func main() {
	utils.ContextualMain(mainWithArgs, logging.NewLogger("mpcloopd"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	positional := args[1:]
	if len(positional) != numExpectedArgs {
		if len(positional) > numExpectedArgs {
			return errors.New("too many arguments passed to main")
		}
		return errors.New("too few arguments passed to main")
	}

	cfg := control.DefaultConfig()

	var err error
	cfg.StepsAhead, err = strconv.Atoi(positional[0])
	if err != nil {
		return errors.Wrap(err, "steps_ahead")
	}
	if cfg.DT, err = strconv.ParseFloat(positional[1], 64); err != nil {
		return errors.Wrap(err, "dt")
	}
	if cfg.RefV, err = strconv.ParseFloat(positional[2], 64); err != nil {
		return errors.Wrap(err, "ref_v")
	}
	if cfg.RefVAlpha, err = strconv.ParseFloat(positional[3], 64); err != nil {
		return errors.Wrap(err, "ref_v_alpha")
	}
	if cfg.RefVAlpha > 1.0 || cfg.RefVAlpha < 0.0 {
		return errors.Errorf("the ref_v_alpha argument should be a float between 0.0 and 1.0 (inclusive) and you passed %v", cfg.RefVAlpha)
	}
	if cfg.Latency, err = strconv.ParseFloat(positional[4], 64); err != nil {
		return errors.Wrap(err, "latency")
	}
	if cfg.CTECoeff, err = strconv.ParseFloat(positional[5], 64); err != nil {
		return errors.Wrap(err, "cte_coeff")
	}
	if cfg.EPsiCoeff, err = strconv.ParseFloat(positional[6], 64); err != nil {
		return errors.Wrap(err, "epsi_coeff")
	}
	if cfg.SpeedCoeff, err = strconv.ParseFloat(positional[7], 64); err != nil {
		return errors.Wrap(err, "speed_coeff")
	}
	if cfg.SteerCoeff, err = strconv.ParseFloat(positional[8], 64); err != nil {
		return errors.Wrap(err, "steer_coeff")
	}
	if cfg.ConsecSteerCoeff, err = strconv.ParseFloat(positional[9], 64); err != nil {
		return errors.Wrap(err, "consec_steer_coeff")
	}
	if cfg.ConsecSpeedCoeff, err = strconv.ParseFloat(positional[10], 64); err != nil {
		return errors.Wrap(err, "consec_speed_coeff")
	}
	if cfg.PolyDegree, err = strconv.Atoi(positional[11]); err != nil {
		return errors.Wrap(err, "poly_degree")
	}
	if cfg.NumStepsPoly, err = strconv.Atoi(positional[12]); err != nil {
		return errors.Wrap(err, "num_steps_poly")
	}
	switch positional[13] {
	case "true":
		cfg.Debug = true
	case "false":
		cfg.Debug = false
	default:
		return errors.Errorf("the debug argument should either be %q or %q and you passed %q", "true", "false", positional[13])
	}

	if cfg.Debug {
		logger = logging.NewDebugLogger("mpcloopd")
	}

	logger.Infof("steps_ahead: %d dt: %v ref_v: %v ref_v_alpha: %v latency: %v[s] "+
		"cte_coeff: %v epsi_coeff: %v speed_coeff: %v steer_coeff: %v "+
		"consec_steer_coeff: %v consec_speed_coeff: %v poly_degree: %d num_steps_poly: %d debug: %v",
		cfg.StepsAhead, cfg.DT, cfg.RefV, cfg.RefVAlpha, cfg.Latency,
		cfg.CTECoeff, cfg.EPsiCoeff, cfg.SpeedCoeff, cfg.SteerCoeff,
		cfg.ConsecSteerCoeff, cfg.ConsecSpeedCoeff, cfg.PolyDegree, cfg.NumStepsPoly, cfg.Debug)

	if cfg.Latency > 1 {
		logger.Warnf("latency passed to main is > 1. However, it should be in seconds, isn't %v too large?", cfg.Latency)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	tp := newInProcessTransport()
	loop, err := control.NewLoop(cfg, tp, logger)
	if err != nil {
		return err
	}

	if err := loop.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	loop.Stop(context.Background())
	return nil
}
