// Package bus wraps the D-Bus system bus for property access, method calls,
// and signal subscription against one destination service.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	PropertiesInterface = "org.freedesktop.DBus.Properties"

	defaultCallTimeout = 5 * time.Second
)

// Transport issues one method call and returns the reply body.
type Transport interface {
	Call(ctx context.Context, dest string, path dbus.ObjectPath, method string, args ...any) ([]any, error)
}

// Client issues property and method requests to a single destination.
// Every request is one call awaiting one reply; nothing is retried here.
type Client struct {
	transport Transport
	dest      string
	timeout   time.Duration
}

// NewClient builds a client for dest; timeout <= 0 selects the default.
func NewClient(transport Transport, dest string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &Client{transport: transport, dest: dest, timeout: timeout}
}

// Get reads one property and returns its variant.
func (c *Client) Get(ctx context.Context, path dbus.ObjectPath, iface, property string) (dbus.Variant, error) {
	op := "get " + iface + "." + property
	body, err := c.call(ctx, path, PropertiesInterface+".Get", iface, property)
	if err != nil {
		return dbus.Variant{}, classify(op, err)
	}
	if len(body) != 1 {
		return dbus.Variant{}, &Error{Kind: KindMalformedReply, Op: op, Err: fmt.Errorf("reply has %d values, want 1", len(body))}
	}
	variant, ok := body[0].(dbus.Variant)
	if !ok {
		return dbus.Variant{}, &Error{Kind: KindMalformedReply, Op: op, Err: fmt.Errorf("reply value is %T, want variant", body[0])}
	}
	return variant, nil
}

// GetBool reads a boolean property.
func (c *Client) GetBool(ctx context.Context, path dbus.ObjectPath, iface, property string) (bool, error) {
	variant, err := c.Get(ctx, path, iface, property)
	if err != nil {
		return false, err
	}
	value, ok := variant.Value().(bool)
	if !ok {
		return false, &Error{
			Kind: KindMalformedReply,
			Op:   "get " + iface + "." + property,
			Err:  fmt.Errorf("variant signature %s, want b", variant.Signature()),
		}
	}
	return value, nil
}

// Set writes one property.
func (c *Client) Set(ctx context.Context, path dbus.ObjectPath, iface, property string, value any) error {
	_, err := c.call(ctx, path, PropertiesInterface+".Set", iface, property, dbus.MakeVariant(value))
	if err != nil {
		return classify("set "+iface+"."+property, err)
	}
	return nil
}

// Call invokes a fully qualified method and discards its reply body.
func (c *Client) Call(ctx context.Context, path dbus.ObjectPath, method string, args ...any) error {
	if _, err := c.call(ctx, path, method, args...); err != nil {
		return classify("call "+method, err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, path dbus.ObjectPath, method string, args ...any) ([]any, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.transport.Call(callCtx, c.dest, path, method, args...)
}
