// Package systemd reboots the host by starting reboot.target through the
// systemd manager's D-Bus interface.
package systemd

import (
	"context"
	"os"
	"strconv"

	systemd "github.com/coreos/go-systemd/v22/dbus"
	dbus "github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	"github.com/schlitzered/DLMEngineUpdater/pkg/logging"
	"github.com/schlitzered/DLMEngineUpdater/pkg/platform"
)

const (
	// DefaultSocket is systemd's private manager socket.
	DefaultSocket = "/run/systemd/private"

	rebootTarget = "reboot.target"
	// rebootMode matches what systemctl reboot queues the job with.
	rebootMode = "replace-irreversibly"
)

var _ platform.Checker = (*Rebooter)(nil)

type conn interface {
	StartUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error)
	Close()
}

// Rebooter implements platform.Rebooter.
type Rebooter struct {
	log    logging.Logger
	socket string

	connect func(socket string) (conn, error)
}

// New creates a Rebooter talking to the manager at socket, DefaultSocket if
// empty.
func New(log logging.Logger, socket string) *Rebooter {
	if socket == "" {
		socket = DefaultSocket
	}
	return &Rebooter{
		log:     log,
		socket:  socket,
		connect: dial,
	}
}

// Check verifies the manager socket is present and accepts a connection.
func (r *Rebooter) Check(ctx context.Context) error {
	stat, err := os.Stat(r.socket)
	if err != nil {
		return errors.Wrap(err, "requires systemd socket")
	}
	if stat.Mode()&os.ModeSocket != os.ModeSocket {
		return errors.Errorf("%s is not a unix socket", r.socket)
	}
	c, err := r.connect(r.socket)
	if err != nil {
		return err
	}
	c.Close()
	r.log.WithField("socket", r.socket).Debug("systemd reachable")
	return nil
}

// Reboot queues reboot.target.
func (r *Rebooter) Reboot(ctx context.Context) error {
	c, err := r.connect(r.socket)
	if err != nil {
		return err
	}
	defer c.Close()

	r.log.WithField("unit", rebootTarget).Info("requesting reboot")
	// Nobody would be left to read the job result.
	id, err := c.StartUnitContext(ctx, rebootTarget, rebootMode, nil)
	if err != nil {
		return errors.Wrapf(err, "unable to start %s", rebootTarget)
	}
	r.log.WithField("job", id).Debug("reboot job queued")
	return nil
}

func dial(socket string) (conn, error) {
	dialer := func() (*dbus.Conn, error) {
		conn, err := dbus.Dial("unix:path=" + socket)
		if err != nil {
			return nil, errors.Wrap(err, "unable to connect to systemd socket")
		}
		// Authenticate with the user's authority.
		methods := []dbus.Auth{dbus.AuthExternal(strconv.Itoa(os.Getuid()))}
		err = conn.Auth(methods)
		if err != nil {
			conn.Close()
			return nil, errors.Wrap(err, "unable to authenticate with systemd")
		}
		return conn, nil
	}
	c, err := systemd.NewConnection(dialer)
	if err != nil {
		return nil, err
	}
	return c, nil
}
