package platform

import (
	"context"

	"github.com/pkg/errors"
)

// Rebooter restarts the host once the reboot scripts ran.
type Rebooter interface {
	// Reboot asks the host to restart. A nil return means the request was
	// accepted, the process should expect to be terminated.
	Reboot(ctx context.Context) error
}

// Checker is implemented by rebooters that can tell ahead of time whether a
// later Reboot can be carried out.
type Checker interface {
	Check(ctx context.Context) error
}

// None is the Rebooter for hosts whose reboot scripts restart the host
// themselves.
type None struct{}

func (None) Reboot(context.Context) error { return nil }

// Ping verifies the rebooter is usable. Rebooter consumers should call this
// at startup, most runs never get to reboot so a failure is a warning.
func Ping(ctx context.Context, r Rebooter) error {
	c, ok := r.(Checker)
	if !ok {
		return nil
	}
	if err := c.Check(ctx); err != nil {
		return errors.WithMessage(err, "platform cannot reboot this host")
	}
	return nil
}
