package bus

import (
	"github.com/godbus/dbus/v5"
)

// Client defines the bus operations the service consumes.
// This abstraction allows us to mock D-Bus interactions in tests.
//
//go:generate mockgen -destination=mocks/client_mock.go -package=mocks github.com/genricoloni/mpriswatch/internal/bus Client
type Client interface {
	// Close closes the bus connection
	Close() error

	// AddMatchSignal adds a signal match rule
	AddMatchSignal(options ...dbus.MatchOption) error

	// RemoveMatchSignal removes a previously added match rule
	RemoveMatchSignal(options ...dbus.MatchOption) error

	// Signal registers a channel to receive bus signals
	Signal(ch chan<- *dbus.Signal)

	// RemoveSignal unregisters a signal channel
	RemoveSignal(ch chan<- *dbus.Signal)

	// ListNames returns all names currently present on the bus
	ListNames() ([]string, error)

	// GetNameOwner returns the unique name owning the given well-known name
	GetNameOwner(name string) (string, error)

	// GetAll fetches every property of iface on the object at dest/path
	GetAll(dest, path, iface string) (map[string]dbus.Variant, error)

	// GetProperty retrieves a single fully-qualified property
	// (e.g. "org.mpris.MediaPlayer2.Player.Position")
	GetProperty(dest, path, prop string) (dbus.Variant, error)

	// SetProperty writes a single fully-qualified property
	SetProperty(dest, path, prop string, value any) error

	// Call invokes method (fully qualified, e.g.
	// "org.mpris.MediaPlayer2.Player.Next") on the object at dest/path
	// and waits for the reply, discarding any return values
	Call(dest, path, method string, args ...any) error
}

// StdClient is the real implementation backed by godbus
type StdClient struct {
	conn *dbus.Conn
}

// NewStdClient connects to the session bus
func NewStdClient() (*StdClient, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, err
	}
	return &StdClient{conn: conn}, nil
}

// Close closes the bus connection
func (c *StdClient) Close() error {
	return c.conn.Close()
}

// AddMatchSignal adds a signal match rule
func (c *StdClient) AddMatchSignal(options ...dbus.MatchOption) error {
	return c.conn.AddMatchSignal(options...)
}

// RemoveMatchSignal removes a previously added match rule
func (c *StdClient) RemoveMatchSignal(options ...dbus.MatchOption) error {
	return c.conn.RemoveMatchSignal(options...)
}

// Signal registers a channel to receive bus signals
func (c *StdClient) Signal(ch chan<- *dbus.Signal) {
	c.conn.Signal(ch)
}

// RemoveSignal unregisters a signal channel
func (c *StdClient) RemoveSignal(ch chan<- *dbus.Signal) {
	c.conn.RemoveSignal(ch)
}

// ListNames returns all names currently present on the bus
func (c *StdClient) ListNames() ([]string, error) {
	var names []string
	err := c.conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names)
	return names, err
}

// GetNameOwner returns the unique name owning the given well-known name
func (c *StdClient) GetNameOwner(name string) (string, error) {
	var owner string
	err := c.conn.BusObject().Call("org.freedesktop.DBus.GetNameOwner", 0, name).Store(&owner)
	return owner, err
}

// GetAll fetches every property of iface on the object at dest/path
func (c *StdClient) GetAll(dest, path, iface string) (map[string]dbus.Variant, error) {
	obj := c.conn.Object(dest, dbus.ObjectPath(path))
	var props map[string]dbus.Variant
	err := obj.Call("org.freedesktop.DBus.Properties.GetAll", 0, iface).Store(&props)
	return props, err
}

// GetProperty retrieves a single fully-qualified property
func (c *StdClient) GetProperty(dest, path, prop string) (dbus.Variant, error) {
	obj := c.conn.Object(dest, dbus.ObjectPath(path))
	return obj.GetProperty(prop)
}

// SetProperty writes a single fully-qualified property
func (c *StdClient) SetProperty(dest, path, prop string, value any) error {
	obj := c.conn.Object(dest, dbus.ObjectPath(path))
	return obj.SetProperty(prop, dbus.MakeVariant(value))
}

// Call invokes a fully-qualified method and discards the reply body
func (c *StdClient) Call(dest, path, method string, args ...any) error {
	obj := c.conn.Object(dest, dbus.ObjectPath(path))
	return obj.Call(method, 0, args...).Err
}
