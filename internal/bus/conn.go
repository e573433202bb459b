package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
)

// signalBuffer bounds how many unread signals godbus may queue per subscriber.
const signalBuffer = 64

// Conn owns one system bus connection. It is not shared across workers.
type Conn struct {
	conn *dbus.Conn
	dest string
}

// ConnectSystem opens a private system bus connection for dest.
func ConnectSystem(dest string) (*Conn, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, &Error{Kind: KindUnavailable, Op: "connect system bus", Err: err}
	}
	return &Conn{conn: conn, dest: dest}, nil
}

// Client returns a property client bound to this connection.
func (c *Conn) Client(timeout time.Duration) *Client {
	return NewClient(dbusTransport{conn: c.conn}, c.dest, timeout)
}

// Match selects one signal by interface and member.
type Match struct {
	Interface string
	Member    string
}

// Subscribe installs a match rule per entry and returns the single channel
// signals are delivered on. godbus closes the channel when the connection ends.
func (c *Conn) Subscribe(matches ...Match) (<-chan *dbus.Signal, error) {
	for _, m := range matches {
		if err := c.conn.AddMatchSignal(
			dbus.WithMatchInterface(m.Interface),
			dbus.WithMatchMember(m.Member),
		); err != nil {
			return nil, classify(fmt.Sprintf("add match %s.%s", m.Interface, m.Member), err)
		}
	}

	ch := make(chan *dbus.Signal, signalBuffer)
	c.conn.Signal(ch)
	return ch, nil
}

// Connected reports whether the underlying connection is still usable.
func (c *Conn) Connected() bool {
	return c.conn.Connected()
}

// Close terminates the connection and every signal channel.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// dbusTransport adapts a godbus connection to Transport.
type dbusTransport struct {
	conn *dbus.Conn
}

func (t dbusTransport) Call(ctx context.Context, dest string, path dbus.ObjectPath, method string, args ...any) ([]any, error) {
	call := t.conn.Object(dest, path).CallWithContext(ctx, method, 0, args...)
	if call.Err != nil {
		return nil, call.Err
	}
	return call.Body, nil
}
