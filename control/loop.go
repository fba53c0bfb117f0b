//go:build !windows && !no_cgo

// Package control implements the real-time control loop: periodic
// ticking, input-readiness gating, latency compensation, actuator
// mapping and clipping, and the go/emergency-stop discipline. It
// composes curvefit, kinematic, pathwindow, localframe and mpcsolve
// into the per-tick centerline-tracking pipeline.
package control

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/SiChiTong/mpc/curvefit"
	"github.com/SiChiTong/mpc/kinematic"
	"github.com/SiChiTong/mpc/localframe"
	"github.com/SiChiTong/mpc/logging"
	"github.com/SiChiTong/mpc/mpcsolve"
	"github.com/SiChiTong/mpc/pathwindow"
	"github.com/SiChiTong/mpc/transport"
)

// Center is the neutral servo position emitted on zero steering or on
// safe-stop.
const Center = 0.5

// Go-signal codes on the go_signal channel; any other value is ignored.
const (
	GoSignalStop int = 0
	GoSignalGo   int = 2309
)

// Loop owns all control-loop state: the four input slots, the go flag,
// and the last-applied steering value, each guarded by its own mutex so
// that a message handler never blocks the tick goroutine (or vice versa)
// for longer than a copy-in/copy-out, and the solve itself never runs
// under any of these locks.
type Loop struct {
	cfg       Config
	logger    logging.Logger
	transport transport.PubSub
	solver    *mpcsolve.Solver

	centerlineMu sync.Mutex
	centerline   []r3.Vector
	centerlineOK bool

	poseMu    sync.Mutex
	pose      PoseSample
	poseOK    bool
	headingOK bool

	speedMu sync.Mutex
	speed   float64
	speedOK bool

	goMu   sync.Mutex
	goFlag bool

	lastMu    sync.Mutex
	lastDelta float64

	cancel                  context.CancelFunc
	activeBackgroundWorkers sync.WaitGroup
}

// NewLoop validates cfg and constructs a Loop that publishes/subscribes
// through tp and logs through logger.
func NewLoop(cfg Config, tp transport.PubSub, logger logging.Logger) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "control: invalid configuration")
	}
	solver, err := mpcsolve.New(mpcsolve.Config{
		StepsAhead: cfg.StepsAhead,
		DT:         cfg.DT,
		Limits: kinematic.Limits{
			Lf:       cfg.Lf,
			DeltaMax: cfg.DeltaMax,
			AMin:     cfg.AMin,
			AMax:     cfg.AMax,
		},
		Weights: mpcsolve.Weights{
			CTE:         cfg.CTECoeff,
			EPsi:        cfg.EPsiCoeff,
			Speed:       cfg.SpeedCoeff,
			Steer:       cfg.SteerCoeff,
			ConsecSteer: cfg.ConsecSteerCoeff,
			ConsecSpeed: cfg.ConsecSpeedCoeff,
		},
	})
	if err != nil {
		return nil, err
	}
	return &Loop{cfg: cfg, logger: logger, transport: tp, solver: solver}, nil
}

// HandleCenterline is the message handler for the centerline channel.
func (l *Loop) HandleCenterline(ctx context.Context, pts []r3.Vector) {
	if len(pts) < l.cfg.MinCenterlineLen() {
		l.logger.Warnf("centerline: got %d points, need >= %d for the configured window", len(pts), l.cfg.MinCenterlineLen())
	}
	l.centerlineMu.Lock()
	defer l.centerlineMu.Unlock()
	l.centerline = pts
	l.centerlineOK = true
}

// HandlePose is the message handler for the pose channel.
func (l *Loop) HandlePose(ctx context.Context, sample PoseSample) {
	l.poseMu.Lock()
	defer l.poseMu.Unlock()
	l.pose = sample
	l.poseOK = true
	l.headingOK = true
}

// HandleSpeed is the message handler for the odom (speed) channel.
func (l *Loop) HandleSpeed(ctx context.Context, v float64) {
	l.speedMu.Lock()
	defer l.speedMu.Unlock()
	l.speed = v
	l.speedOK = true
}

// HandleGoSignal is the message handler for the go_signal channel.
func (l *Loop) HandleGoSignal(ctx context.Context, code int) {
	switch code {
	case GoSignalStop:
		l.logger.Warn("emergency stop signal received")
		l.goMu.Lock()
		l.goFlag = false
		l.goMu.Unlock()
	case GoSignalGo:
		l.logger.Warn("go signal received")
		l.goMu.Lock()
		l.goFlag = true
		l.goMu.Unlock()
	}
}

// Start subscribes to the four input channels and launches the
// background tick goroutine at cfg.TickHz. The goroutine is launched with
// utils.PanicCapturingGo so a panicking tick cannot silently take the
// process down without at least being logged.
func (l *Loop) Start(ctx context.Context) error {
	if err := l.transport.Subscribe(ctx, transport.ChannelCenterline, func(ctx context.Context, v interface{}) {
		if pts, ok := v.([]r3.Vector); ok {
			l.HandleCenterline(ctx, pts)
		}
	}); err != nil {
		return err
	}
	if err := l.transport.Subscribe(ctx, transport.ChannelPose, func(ctx context.Context, v interface{}) {
		if sample, ok := v.(PoseSample); ok {
			l.HandlePose(ctx, sample)
		}
	}); err != nil {
		return err
	}
	if err := l.transport.Subscribe(ctx, transport.ChannelOdom, func(ctx context.Context, v interface{}) {
		if speed, ok := v.(float64); ok {
			l.HandleSpeed(ctx, speed)
		}
	}); err != nil {
		return err
	}
	if err := l.transport.Subscribe(ctx, transport.ChannelGoSignal, func(ctx context.Context, v interface{}) {
		if code, ok := v.(int); ok {
			l.HandleGoSignal(ctx, code)
		}
	}); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	period := time.Duration(float64(time.Second) / l.cfg.TickHz)
	l.activeBackgroundWorkers.Add(1)
	utils.PanicCapturingGo(func() {
		defer l.activeBackgroundWorkers.Done()
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				l.tick(loopCtx)
			}
		}
	})
	return nil
}

// Stop cancels the tick goroutine, waits for the in-flight tick to
// finish, and publishes one final safe-stop command.
func (l *Loop) Stop(ctx context.Context) {
	if l.cancel != nil {
		l.cancel()
	}
	l.activeBackgroundWorkers.Wait()
	l.publishSafeStop(ctx)
}

func (l *Loop) publishSafeStop(ctx context.Context) {
	if err := l.transport.Publish(ctx, transport.ChannelServoPosition, Center); err != nil {
		l.logger.Warnf("publish servo_position safe-stop: %v", err)
	}
	if err := l.transport.Publish(ctx, transport.ChannelMotorSpeed, 0.0); err != nil {
		l.logger.Warnf("publish motor_speed safe-stop: %v", err)
	}
}

// tick runs exactly one control cycle. It is the sole failure boundary:
// every error arising inside it is resolved here, either to a computed
// command pair or to a safe-stop publish, and never propagates out.
func (l *Loop) tick(ctx context.Context) {
	centerline, centerlineOK := l.snapshotCenterline()
	pose, poseOK, headingOK := l.snapshotPose()
	speed, speedOK := l.snapshotSpeed()

	if !(centerlineOK && poseOK && speedOK && headingOK) {
		l.logger.Warnf("%v: centerline=%v pose=%v speed=%v heading=%v", ErrNotReady, centerlineOK, poseOK, speedOK, headingOK)
		return
	}

	lastDelta := l.snapshotLastDelta()

	// Latency-compensated pose: project forward by cfg.Latency using the
	// last applied steer.
	vLat := speed
	psiLat := pose.Orientation2Psi() - l.cfg.Latency*(vLat*lastDelta/l.cfg.Lf)
	posXLat := pose.X + l.cfg.Latency*vLat*math.Cos(psiLat)
	posYLat := pose.Y + l.cfg.Latency*vLat*math.Sin(psiLat)
	projectedPose := localframe.Pose{X: posXLat, Y: posYLat, Psi: psiLat}

	idx := pathwindow.FindClosest(centerline, r3.Vector{X: posXLat, Y: posYLat})
	window := pathwindow.Window(centerline, idx, l.cfg.NumStepsPoly, l.cfg.StepPoly, l.cfg.NumStepsBack)
	carFrame := localframe.Transform(projectedPose, window)
	stabilized, fractionStepsOK := localframe.Stabilize(carFrame, l.cfg.PolyDegree, l.cfg.XDeltaMin)

	xs := make([]float64, len(stabilized))
	ys := make([]float64, len(stabilized))
	for i, p := range stabilized {
		xs[i] = p.X
		ys[i] = p.Y
	}

	coeffs, err := curvefit.Fit(xs, ys, l.cfg.PolyDegree)
	if err != nil {
		l.logger.Warnf("polyfit failed, applying safe-stop: %v", err)
		l.setLastDelta(0)
		l.publishSafeStop(ctx)
		return
	}

	cte := curvefit.Eval(coeffs, 0)
	ePsi := -math.Atan(curvefit.EvalDeriv(coeffs, 0))

	newRefV := attenuatedRefV(l.cfg.RefV, l.cfg.RefVAlpha, fractionStepsOK)

	state := kinematic.State{X: 0, Y: 0, Psi: 0, V: speed, CTE: cte, EPsi: ePsi}
	result, err := l.solver.Solve(state, coeffs, newRefV)
	if err != nil {
		l.logger.Warnf("mpc solve failed, applying safe-stop: %v", err)
		l.setLastDelta(0)
		l.publishSafeStop(ctx)
		return
	}

	steerRaw := Center - result.Steer
	steerCmd, clipped := clampSteer(steerRaw)
	if clipped {
		l.logger.Warn(&ClippedCommand{Channel: transport.ChannelServoPosition, Raw: steerRaw, Clipped: steerCmd})
	}
	rpmCmd := result.SpeedCmd / (2 * math.Pi * l.cfg.WheelRadius) * 60 * l.cfg.RPMGain
	if rpmCmd < 0 {
		l.logger.Warn(&ClippedCommand{Channel: transport.ChannelMotorSpeed, Raw: rpmCmd, Clipped: 0})
		rpmCmd = 0
	}

	goFlag := l.snapshotGoFlag()
	if !goFlag {
		steerCmd = Center
		rpmCmd = 0
	}

	if err := l.transport.Publish(ctx, transport.ChannelServoPosition, steerCmd); err != nil {
		l.logger.Warnf("publish servo_position: %v", err)
	}
	if err := l.transport.Publish(ctx, transport.ChannelMotorSpeed, rpmCmd); err != nil {
		l.logger.Warnf("publish motor_speed: %v", err)
	}

	l.setLastDelta(result.Steer)
	l.publishDiagnostics(ctx, result.Trajectory, stabilized, coeffs)
}

// attenuatedRefV blends the configured reference speed with the
// stabilizer-degraded one: new_ref_v = α·ref_v + (1−α)·(fraction·ref_v).
// With α=1 degradation is ignored; with α=0 the target tracks the
// trusted fraction of the window directly.
func attenuatedRefV(refV, alpha, fractionStepsOK float64) float64 {
	return alpha*refV + (1-alpha)*(fractionStepsOK*refV)
}

func clampSteer(v float64) (clamped float64, wasClipped bool) {
	if v < 0 {
		return 0, true
	}
	if v > 1 {
		return 1, true
	}
	return v, false
}

func (l *Loop) snapshotCenterline() ([]r3.Vector, bool) {
	l.centerlineMu.Lock()
	defer l.centerlineMu.Unlock()
	return l.centerline, l.centerlineOK
}

func (l *Loop) snapshotPose() (PoseSample, bool, bool) {
	l.poseMu.Lock()
	defer l.poseMu.Unlock()
	return l.pose, l.poseOK, l.headingOK
}

func (l *Loop) snapshotSpeed() (float64, bool) {
	l.speedMu.Lock()
	defer l.speedMu.Unlock()
	return l.speed, l.speedOK
}

func (l *Loop) snapshotGoFlag() bool {
	l.goMu.Lock()
	defer l.goMu.Unlock()
	return l.goFlag
}

func (l *Loop) snapshotLastDelta() float64 {
	l.lastMu.Lock()
	defer l.lastMu.Unlock()
	return l.lastDelta
}

func (l *Loop) setLastDelta(delta float64) {
	l.lastMu.Lock()
	l.lastDelta = delta
	l.lastMu.Unlock()
}

// publishDiagnostics emits the three car-frame debug polylines: the
// solver's predicted trajectory, the stabilized fit window the
// polynomial was fit to, and a sampling of the fit polynomial itself.
func (l *Loop) publishDiagnostics(ctx context.Context, trajectory []kinematic.State, fitWindow []r3.Vector, coeffs []float64) {
	if !l.cfg.Debug {
		return
	}
	traj := make([]r3.Vector, len(trajectory))
	for i, s := range trajectory {
		traj[i] = r3.Vector{X: s.X, Y: s.Y}
	}
	if err := l.transport.Publish(ctx, transport.ChannelDiagTrajectory, traj); err != nil {
		l.logger.Debugf("publish diag trajectory: %v", err)
	}
	if err := l.transport.Publish(ctx, transport.ChannelDiagWindow, fitWindow); err != nil {
		l.logger.Debugf("publish diag window: %v", err)
	}
	sampled := make([]r3.Vector, 0, 11)
	for x := 0.0; x < 2.1; x += 0.2 {
		sampled = append(sampled, r3.Vector{X: x, Y: curvefit.Eval(coeffs, x)})
	}
	if err := l.transport.Publish(ctx, transport.ChannelDiagPolynomial, sampled); err != nil {
		l.logger.Debugf("publish diag polynomial: %v", err)
	}
}
