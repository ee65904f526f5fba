// Package biometric reports whether a lightweight biometric challenge can be
// offered: hardware must be present and the user must have enrolled.
package biometric

import (
	"context"
	"errors"
	"fmt"
	"os/user"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"gestureguard/internal/logging"
)

// Prober answers whether biometrics are available for the current user.
type Prober interface {
	Available(ctx context.Context) bool
}

// Static is a fixed answer, used in tests and when probing is disabled.
type Static bool

// Available implements Prober.
func (s Static) Available(context.Context) bool { return bool(s) }

const (
	fprintDest        = "net.reactivated.Fprint"
	fprintManagerPath = dbus.ObjectPath("/net/reactivated/Fprint/Manager")

	methodGetDefaultDevice = "net.reactivated.Fprint.Manager.GetDefaultDevice"
	methodListEnrolled     = "net.reactivated.Fprint.Device.ListEnrolledFingers"

	errNoSuchDevice    = "net.reactivated.Fprint.Error.NoSuchDevice"
	errNoEnrolledPrint = "net.reactivated.Fprint.Error.NoEnrolledPrints"
)

// Bus is the part of a D-Bus connection Fprintd uses.
type Bus interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
}

// Fprintd probes the fprintd daemon on the system bus.
type Fprintd struct {
	bus      Bus
	username string
	ttl      time.Duration
	log      *logging.Logger
	now      func() time.Time

	mu        sync.Mutex
	cached    bool
	checkedAt time.Time
}

// NewFprintd connects to the system bus. An empty username means the
// account running the process.
func NewFprintd(username string, ttl time.Duration, log *logging.Logger) (*Fprintd, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	return NewFprintdWithBus(conn, username, ttl, log)
}

// NewFprintdWithBus uses an existing connection.
func NewFprintdWithBus(bus Bus, username string, ttl time.Duration, log *logging.Logger) (*Fprintd, error) {
	if username == "" {
		u, err := user.Current()
		if err != nil {
			return nil, fmt.Errorf("resolve current user: %w", err)
		}
		username = u.Username
	}
	if log == nil {
		log = logging.Default()
	}
	return &Fprintd{
		bus:      bus,
		username: username,
		ttl:      ttl,
		log:      log.WithComponent("biometric"),
		now:      time.Now,
	}, nil
}

// Available reports whether a fingerprint reader exists and the user has at
// least one enrolled finger. Results are cached for the configured TTL.
func (f *Fprintd) Available(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	if !f.checkedAt.IsZero() && now.Sub(f.checkedAt) < f.ttl {
		return f.cached
	}

	ok, err := f.probe(ctx)
	if err != nil {
		f.log.Warn("fprintd probe failed", "error", err)
	}
	f.cached = ok
	f.checkedAt = now
	return ok
}

func (f *Fprintd) probe(ctx context.Context) (bool, error) {
	var device dbus.ObjectPath
	err := f.bus.Object(fprintDest, fprintManagerPath).
		CallWithContext(ctx, methodGetDefaultDevice, 0).Store(&device)
	if isDBusError(err, errNoSuchDevice) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get default device: %w", err)
	}

	var fingers []string
	err = f.bus.Object(fprintDest, device).
		CallWithContext(ctx, methodListEnrolled, 0, f.username).Store(&fingers)
	if isDBusError(err, errNoEnrolledPrint) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("list enrolled fingers: %w", err)
	}
	return len(fingers) > 0, nil
}

func isDBusError(err error, name string) bool {
	if err == nil {
		return false
	}
	var de dbus.Error
	if errors.As(err, &de) {
		return de.Name == name
	}
	var dep *dbus.Error
	if errors.As(err, &dep) {
		return dep.Name == name
	}
	return false
}
