package biometric

import (
	"context"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gestureguard/internal/logging"
)

type fakeObject struct {
	dbus.BusObject
	bus  *fakeBus
	path dbus.ObjectPath
}

func (o *fakeObject) CallWithContext(_ context.Context, method string, _ dbus.Flags, args ...interface{}) *dbus.Call {
	o.bus.calls++
	switch method {
	case methodGetDefaultDevice:
		if o.bus.noDevice {
			return &dbus.Call{Err: dbus.Error{Name: errNoSuchDevice}}
		}
		return &dbus.Call{Body: []interface{}{dbus.ObjectPath("/net/reactivated/Fprint/Device/0")}}
	case methodListEnrolled:
		o.bus.lastUser = args[0].(string)
		if len(o.bus.fingers) == 0 {
			return &dbus.Call{Err: dbus.Error{Name: errNoEnrolledPrint}}
		}
		return &dbus.Call{Body: []interface{}{o.bus.fingers}}
	}
	return &dbus.Call{Err: dbus.Error{Name: "org.freedesktop.DBus.Error.UnknownMethod"}}
}

type fakeBus struct {
	noDevice bool
	fingers  []string
	calls    int
	lastUser string
}

func (b *fakeBus) Object(_ string, path dbus.ObjectPath) dbus.BusObject {
	return &fakeObject{bus: b, path: path}
}

func TestStatic(t *testing.T) {
	assert.True(t, Static(true).Available(context.Background()))
	assert.False(t, Static(false).Available(context.Background()))
}

func TestFprintdEnrolled(t *testing.T) {
	bus := &fakeBus{fingers: []string{"right-index-finger"}}
	f, err := NewFprintdWithBus(bus, "alice", time.Minute, logging.Discard())
	require.NoError(t, err)

	assert.True(t, f.Available(context.Background()))
	assert.Equal(t, "alice", bus.lastUser)
}

func TestFprintdNoDevice(t *testing.T) {
	f, err := NewFprintdWithBus(&fakeBus{noDevice: true}, "alice", time.Minute, logging.Discard())
	require.NoError(t, err)
	assert.False(t, f.Available(context.Background()))
}

func TestFprintdNotEnrolled(t *testing.T) {
	f, err := NewFprintdWithBus(&fakeBus{}, "alice", time.Minute, logging.Discard())
	require.NoError(t, err)
	assert.False(t, f.Available(context.Background()))
}

func TestFprintdCachesResult(t *testing.T) {
	bus := &fakeBus{fingers: []string{"left-thumb"}}
	f, err := NewFprintdWithBus(bus, "alice", time.Minute, logging.Discard())
	require.NoError(t, err)

	now := time.Unix(1000, 0)
	f.now = func() time.Time { return now }

	assert.True(t, f.Available(context.Background()))
	assert.Equal(t, 2, bus.calls)

	bus.fingers = nil
	assert.True(t, f.Available(context.Background()), "served from cache")
	assert.Equal(t, 2, bus.calls)

	now = now.Add(2 * time.Minute)
	assert.False(t, f.Available(context.Background()))
}

var (
	_ Prober = Static(false)
	_ Prober = (*Fprintd)(nil)
)
