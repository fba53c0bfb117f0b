package control

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNotReady is logged (never returned across a tick boundary) when one
// or more of the four input channels has never delivered.
var ErrNotReady = errors.New("control: input channel not ready")

// ErrConfig is the sentinel every configuration-validation failure
// wraps; errors.Is(err, ErrConfig) detects a config-kind failure from
// Config.Validate or NewLoop.
var ErrConfig = errors.New("control: invalid config")

// errConfigf builds one named violation wrapping ErrConfig.
func errConfigf(msg string) error {
	return errors.Wrap(ErrConfig, msg)
}

// ClippedCommand records an actuator command that fell outside its
// valid range and was clipped before publishing. It is logged, never
// returned: a clipped command still publishes.
type ClippedCommand struct {
	Channel      string
	Raw, Clipped float64
}

func (c *ClippedCommand) Error() string {
	return fmt.Sprintf("control: %s command %.3f clipped to %.3f", c.Channel, c.Raw, c.Clipped)
}
