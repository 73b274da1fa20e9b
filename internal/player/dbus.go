package player

import (
	"context"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	mprisObjectPath   = dbus.ObjectPath("/org/mpris/MediaPlayer2")
	mprisPlayerIface  = "org.mpris.MediaPlayer2.Player"
	dbusPropertiesGet = "org.freedesktop.DBus.Properties.Get"
	dbusNameHasOwner  = "org.freedesktop.DBus.NameHasOwner"
	dbusDaemonName    = "org.freedesktop.DBus"
	dbusDaemonPath    = dbus.ObjectPath("/org/freedesktop/DBus")
)

// SessionBus is the production Bus backed by the user's D-Bus session bus.
type SessionBus struct {
	conn    *dbus.Conn
	busName string
}

// ConnectSession opens a connection to the session bus for the given MPRIS
// well-known name.
func ConnectSession(busName string) (*SessionBus, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return &SessionBus{conn: conn, busName: busName}, nil
}

// Close releases the bus connection.
func (b *SessionBus) Close() error {
	return b.conn.Close()
}

func (b *SessionBus) player() dbus.BusObject {
	return b.conn.Object(b.busName, mprisObjectPath)
}

func (b *SessionBus) NameHasOwner(ctx context.Context) (bool, error) {
	var has bool
	obj := b.conn.Object(dbusDaemonName, dbusDaemonPath)
	err := obj.CallWithContext(ctx, dbusNameHasOwner, 0, b.busName).Store(&has)
	if err != nil {
		return false, fmt.Errorf("NameHasOwner %s: %w", b.busName, err)
	}
	return has, nil
}

func (b *SessionBus) Play(ctx context.Context) error {
	return b.player().CallWithContext(ctx, mprisPlayerIface+".Play", 0).Err
}

func (b *SessionBus) Pause(ctx context.Context) error {
	return b.player().CallWithContext(ctx, mprisPlayerIface+".Pause", 0).Err
}

func (b *SessionBus) OpenURI(ctx context.Context, uri string) error {
	return b.player().CallWithContext(ctx, mprisPlayerIface+".OpenUri", 0, uri).Err
}

func (b *SessionBus) SetPosition(ctx context.Context, trackID string, position time.Duration) error {
	return b.player().CallWithContext(ctx, mprisPlayerIface+".SetPosition", 0,
		dbus.ObjectPath(trackID), position.Microseconds()).Err
}

func (b *SessionBus) PlaybackStatus(ctx context.Context) (string, error) {
	var v dbus.Variant
	err := b.player().CallWithContext(ctx, dbusPropertiesGet, 0, mprisPlayerIface, "PlaybackStatus").Store(&v)
	if err != nil {
		return "", fmt.Errorf("read PlaybackStatus: %w", err)
	}
	s, ok := v.Value().(string)
	if !ok {
		return "", fmt.Errorf("PlaybackStatus has unexpected type %T", v.Value())
	}
	return s, nil
}

func (b *SessionBus) Position(ctx context.Context) (time.Duration, error) {
	var v dbus.Variant
	err := b.player().CallWithContext(ctx, dbusPropertiesGet, 0, mprisPlayerIface, "Position").Store(&v)
	if err != nil {
		return 0, fmt.Errorf("read Position: %w", err)
	}
	us, ok := v.Value().(int64)
	if !ok {
		return 0, fmt.Errorf("Position has unexpected type %T", v.Value())
	}
	return time.Duration(us) * time.Microsecond, nil
}

func (b *SessionBus) TrackID(ctx context.Context) (string, error) {
	var v dbus.Variant
	err := b.player().CallWithContext(ctx, dbusPropertiesGet, 0, mprisPlayerIface, "Metadata").Store(&v)
	if err != nil {
		return "", fmt.Errorf("read Metadata: %w", err)
	}
	meta, ok := v.Value().(map[string]dbus.Variant)
	if !ok {
		return "", fmt.Errorf("Metadata has unexpected type %T", v.Value())
	}
	switch id := meta["mpris:trackid"].Value().(type) {
	case dbus.ObjectPath:
		return string(id), nil
	case string:
		return id, nil
	default:
		return "", nil
	}
}
