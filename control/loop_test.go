//go:build !windows && !no_cgo

package control

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"

	"github.com/SiChiTong/mpc/logging"
	"github.com/SiChiTong/mpc/transport"
)

// fakeTransport is an in-memory transport.PubSub: Publish records the last
// value seen per channel, Subscribe stores the handler and lets tests
// drive it directly via deliver.
type fakeTransport struct {
	mu        sync.Mutex
	handlers  map[string]func(ctx context.Context, v interface{})
	published map[string]interface{}
	counts    map[string]int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		handlers:  map[string]func(ctx context.Context, v interface{}){},
		published: map[string]interface{}{},
		counts:    map[string]int{},
	}
}

func (f *fakeTransport) Subscribe(ctx context.Context, channel string, handler func(ctx context.Context, v interface{})) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[channel] = handler
	return nil
}

func (f *fakeTransport) Publish(ctx context.Context, channel string, value interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[channel] = value
	f.counts[channel]++
	return nil
}

func (f *fakeTransport) deliver(ctx context.Context, channel string, value interface{}) {
	f.mu.Lock()
	h := f.handlers[channel]
	f.mu.Unlock()
	if h != nil {
		h(ctx, value)
	}
}

func (f *fakeTransport) get(channel string) (interface{}, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.published[channel]
	return v, ok
}

func (f *fakeTransport) countOf(channel string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[channel]
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.StepsAhead = 6
	cfg.DT = 0.1
	cfg.RefV = 1.0
	cfg.RefVAlpha = 0.5
	cfg.Latency = 0.0
	cfg.CTECoeff = 1
	cfg.EPsiCoeff = 1
	cfg.SpeedCoeff = 1
	cfg.SteerCoeff = 1
	cfg.ConsecSteerCoeff = 1
	cfg.ConsecSpeedCoeff = 1
	cfg.PolyDegree = 3
	cfg.NumStepsPoly = 8
	cfg.NumStepsBack = 2
	cfg.StepPoly = 1
	cfg.TickHz = 100
	return cfg
}

func straightCenterline(n int) []r3.Vector {
	pts := make([]r3.Vector, n)
	for i := range pts {
		pts[i] = r3.Vector{X: float64(i), Y: 0}
	}
	return pts
}

func identityQuat() quat.Number {
	return quat.Number{Real: 1}
}

func TestNewLoopRejectsInvalidConfig(t *testing.T) {
	cfg := Config{}
	tp := newFakeTransport()
	logger := logging.NewLogger("test")
	_, err := NewLoop(cfg, tp, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, ErrConfig), test.ShouldBeTrue)
}

func TestLoopDoesNotPublishBeforeAllInputsArrive(t *testing.T) {
	cfg := testConfig()
	tp := newFakeTransport()
	logger := logging.NewLogger("test")
	loop, err := NewLoop(cfg, tp, logger)
	test.That(t, err, test.ShouldBeNil)

	ctx := context.Background()
	loop.HandleCenterline(ctx, straightCenterline(20))
	loop.HandlePose(ctx, PoseSample{X: 0, Y: 0, Orientation: identityQuat()})
	// speed never arrives.
	loop.tick(ctx)

	_, ok := tp.get(transport.ChannelServoPosition)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestLoopStraightLineNoLatencyHoldsCenter(t *testing.T) {
	cfg := testConfig()
	tp := newFakeTransport()
	logger := logging.NewLogger("test")
	loop, err := NewLoop(cfg, tp, logger)
	test.That(t, err, test.ShouldBeNil)

	ctx := context.Background()
	loop.HandleCenterline(ctx, straightCenterline(20))
	loop.HandlePose(ctx, PoseSample{X: 0, Y: 0, Orientation: identityQuat()})
	loop.HandleSpeed(ctx, 1.0)
	loop.HandleGoSignal(ctx, GoSignalGo)

	loop.tick(ctx)

	steer, ok := tp.get(transport.ChannelServoPosition)
	test.That(t, ok, test.ShouldBeTrue)
	s := steer.(float64)
	test.That(t, s >= 0 && s <= 1, test.ShouldBeTrue)
	test.That(t, s, test.ShouldAlmostEqual, Center)

	rpm, ok := tp.get(transport.ChannelMotorSpeed)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, rpm.(float64) >= 0, test.ShouldBeTrue)
}

func TestLoopGoFlagGatesCommands(t *testing.T) {
	cfg := testConfig()
	tp := newFakeTransport()
	logger := logging.NewLogger("test")
	loop, err := NewLoop(cfg, tp, logger)
	test.That(t, err, test.ShouldBeNil)

	ctx := context.Background()
	loop.HandleCenterline(ctx, straightCenterline(20))
	loop.HandlePose(ctx, PoseSample{X: 0, Y: 2, Orientation: identityQuat()})
	loop.HandleSpeed(ctx, 1.0)
	// go flag defaults false.

	loop.tick(ctx)

	steer, ok := tp.get(transport.ChannelServoPosition)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, steer.(float64), test.ShouldAlmostEqual, Center)

	rpm, ok := tp.get(transport.ChannelMotorSpeed)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, rpm.(float64), test.ShouldAlmostEqual, 0.0)
}

func TestLoopLateralOffsetSteersTowardLine(t *testing.T) {
	cfg := testConfig()
	tp := newFakeTransport()
	logger := logging.NewLogger("test")
	loop, err := NewLoop(cfg, tp, logger)
	test.That(t, err, test.ShouldBeNil)

	ctx := context.Background()
	// Car sits 0.3m left of a straight line along +X; cte = p(0) = -0.3,
	// delta comes out negative and steer_cmd = Center - delta > Center.
	loop.HandleCenterline(ctx, straightCenterline(20))
	loop.HandlePose(ctx, PoseSample{X: 5, Y: 0.3, Orientation: identityQuat()})
	loop.HandleSpeed(ctx, 1.0)
	loop.HandleGoSignal(ctx, GoSignalGo)

	loop.tick(ctx)

	steer, ok := tp.get(transport.ChannelServoPosition)
	test.That(t, ok, test.ShouldBeTrue)
	s := steer.(float64)
	test.That(t, s >= 0 && s <= 1, test.ShouldBeTrue)
	test.That(t, s > Center, test.ShouldBeTrue)
}

func TestLoopHeadingOffsetCorrects(t *testing.T) {
	cfg := testConfig()
	tp := newFakeTransport()
	logger := logging.NewLogger("test")
	loop, err := NewLoop(cfg, tp, logger)
	test.That(t, err, test.ShouldBeNil)

	ctx := context.Background()
	// On the line but yawed 0.2 rad left of it; the command must not stay
	// at dead center.
	loop.HandleCenterline(ctx, straightCenterline(20))
	loop.HandlePose(ctx, PoseSample{X: 5, Y: 0, Orientation: quaternionFromYaw(0.2)})
	loop.HandleSpeed(ctx, 1.0)
	loop.HandleGoSignal(ctx, GoSignalGo)

	loop.tick(ctx)

	steer, ok := tp.get(transport.ChannelServoPosition)
	test.That(t, ok, test.ShouldBeTrue)
	s := steer.(float64)
	test.That(t, s >= 0 && s <= 1, test.ShouldBeTrue)
	test.That(t, s, test.ShouldNotAlmostEqual, Center, 1e-3)
}

func TestLoopEmergencyStopTakesEffectNextTick(t *testing.T) {
	cfg := testConfig()
	tp := newFakeTransport()
	logger := logging.NewLogger("test")
	loop, err := NewLoop(cfg, tp, logger)
	test.That(t, err, test.ShouldBeNil)

	ctx := context.Background()
	loop.HandleCenterline(ctx, straightCenterline(20))
	loop.HandlePose(ctx, PoseSample{X: 5, Y: 0, Orientation: identityQuat()})
	loop.HandleSpeed(ctx, 1.0)
	loop.HandleGoSignal(ctx, GoSignalGo)

	loop.tick(ctx)
	rpm, ok := tp.get(transport.ChannelMotorSpeed)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, rpm.(float64) > 0, test.ShouldBeTrue)

	loop.HandleGoSignal(ctx, GoSignalStop)
	test.That(t, loop.snapshotGoFlag(), test.ShouldBeFalse)

	loop.tick(ctx)
	steer, _ := tp.get(transport.ChannelServoPosition)
	test.That(t, steer.(float64), test.ShouldAlmostEqual, Center)
	rpm, _ = tp.get(transport.ChannelMotorSpeed)
	test.That(t, rpm.(float64), test.ShouldAlmostEqual, 0.0)
}

func TestLoopIgnoresUnknownGoSignalCodes(t *testing.T) {
	cfg := testConfig()
	tp := newFakeTransport()
	logger := logging.NewLogger("test")
	loop, err := NewLoop(cfg, tp, logger)
	test.That(t, err, test.ShouldBeNil)

	ctx := context.Background()
	loop.HandleGoSignal(ctx, GoSignalGo)
	loop.HandleGoSignal(ctx, 42)
	test.That(t, loop.snapshotGoFlag(), test.ShouldBeTrue)
}

func TestAttenuatedRefVNeverExceedsRefV(t *testing.T) {
	test.That(t, attenuatedRefV(2.0, 0.5, 1.0), test.ShouldAlmostEqual, 2.0)
	for _, alpha := range []float64{0, 0.25, 0.5, 0.75, 1} {
		for _, frac := range []float64{0.1, 0.5, 0.9} {
			v := attenuatedRefV(2.0, alpha, frac)
			test.That(t, v <= 2.0, test.ShouldBeTrue)
			if alpha < 1 {
				test.That(t, v < 2.0, test.ShouldBeTrue)
			}
		}
	}
	// alpha = 0 tracks the degraded fraction directly.
	test.That(t, attenuatedRefV(2.0, 0, 0.5), test.ShouldAlmostEqual, 1.0)
}

func TestLoopCenterlineWrapAroundFindClosest(t *testing.T) {
	cfg := testConfig()
	tp := newFakeTransport()
	logger := logging.NewLogger("test")
	loop, err := NewLoop(cfg, tp, logger)
	test.That(t, err, test.ShouldBeNil)

	ctx := context.Background()
	// A short loop; pose sits near the wrap boundary (last point).
	pts := straightCenterline(12)
	loop.HandleCenterline(ctx, pts)
	loop.HandlePose(ctx, PoseSample{X: 11, Y: 0, Orientation: identityQuat()})
	loop.HandleSpeed(ctx, 1.0)
	loop.HandleGoSignal(ctx, GoSignalGo)

	// Must not panic despite the window wrapping past index 0.
	loop.tick(ctx)
	_, ok := tp.get(transport.ChannelServoPosition)
	test.That(t, ok, test.ShouldBeTrue)
}

func TestStartAndStopPublishesFinalSafeStop(t *testing.T) {
	cfg := testConfig()
	cfg.TickHz = 1000
	tp := newFakeTransport()
	logger := logging.NewLogger("test")
	loop, err := NewLoop(cfg, tp, logger)
	test.That(t, err, test.ShouldBeNil)

	ctx := context.Background()
	err = loop.Start(ctx)
	test.That(t, err, test.ShouldBeNil)

	tp.deliver(ctx, transport.ChannelCenterline, straightCenterline(20))
	tp.deliver(ctx, transport.ChannelPose, PoseSample{X: 0, Y: 0, Orientation: identityQuat()})
	tp.deliver(ctx, transport.ChannelOdom, 1.0)
	tp.deliver(ctx, transport.ChannelGoSignal, GoSignalGo)

	time.Sleep(20 * time.Millisecond)
	loop.Stop(ctx)

	steer, ok := tp.get(transport.ChannelServoPosition)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, steer.(float64), test.ShouldAlmostEqual, Center)
	rpm, ok := tp.get(transport.ChannelMotorSpeed)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, rpm.(float64), test.ShouldAlmostEqual, 0.0)
	test.That(t, tp.countOf(transport.ChannelServoPosition) >= 1, test.ShouldBeTrue)
}
