// Package transport declares the minimal pub/sub capability set the
// control loop depends on. It is deliberately thin: this module's core
// does not know or care whether messages arrive over ROS topics, gRPC
// streams, or a direct in-process call — any implementation of these two
// interfaces is a valid collaborator.
package transport

import "context"

// Channel names for the fixed set of inputs, outputs, and diagnostics
// this module produces and consumes.
const (
	ChannelCenterline = "centerline"
	ChannelPose       = "pose"
	ChannelOdom       = "odom"
	ChannelGoSignal   = "go_signal"

	ChannelServoPosition = "servo_position"
	ChannelMotorSpeed    = "motor_speed"

	ChannelDiagTrajectory = "diag/trajectory"
	ChannelDiagWindow     = "diag/window"
	ChannelDiagPolynomial = "diag/polynomial"
)

// Subscriber registers a handler to be invoked for every message
// delivered on channel, in arrival order, each handled to completion
// before the next.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler func(ctx context.Context, value interface{})) error
}

// Publisher emits value on channel. Implementations must not block the
// caller on slow downstream consumers indefinitely; the control loop
// must never stall a tick waiting on a publish.
type Publisher interface {
	Publish(ctx context.Context, channel string, value interface{}) error
}

// PubSub is the full capability set a transport must provide.
type PubSub interface {
	Subscriber
	Publisher
}
