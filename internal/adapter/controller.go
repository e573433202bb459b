// Package adapter drives the BlueZ adapter power and discovery lifecycle.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/om131/Capstone-Pi-5-OS/internal/bus"
	"github.com/om131/Capstone-Pi-5-OS/internal/fsm"
)

const (
	Interface = "org.bluez.Adapter1"

	propertyPowered = "Powered"
	errInProgress   = "org.bluez.Error.InProgress"
	errNotReady     = "org.bluez.Error.NotReady"
)

// Kind classifies adapter failures.
type Kind string

const (
	KindNotPowered Kind = "not_powered"
	KindRejected   Kind = "rejected_by_peer"
	KindBus        Kind = "bus"
)

// Error reports an adapter operation failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("adapter %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("adapter %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Bus is the subset of bus.Client the controller needs.
type Bus interface {
	GetBool(ctx context.Context, path dbus.ObjectPath, iface, property string) (bool, error)
	Set(ctx context.Context, path dbus.ObjectPath, iface, property string, value any) error
	Call(ctx context.Context, path dbus.ObjectPath, method string, args ...any) error
}

// Option customizes a Controller.
type Option func(*Controller)

// WithPowerSettle waits d after a successful power-on before reporting it.
func WithPowerSettle(d time.Duration) Option {
	return func(c *Controller) { c.settle = d }
}

// Controller owns the adapter state. Transitions happen only through its
// methods, and only after the matching bus call succeeded.
type Controller struct {
	bus    Bus
	path   dbus.ObjectPath
	logger *slog.Logger
	settle time.Duration

	mu    sync.Mutex
	state fsm.State
}

// NewController starts in the unpowered state; nothing is sent on the bus.
func NewController(b Bus, path dbus.ObjectPath, logger *slog.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Controller{bus: b, path: path, logger: logger, state: fsm.StateUnpowered}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the controller's view of the adapter.
func (c *Controller) State() fsm.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// EnsurePoweredOn powers the adapter unless it is already known to be on.
func (c *Controller) EnsurePoweredOn(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Powered() {
		return nil
	}

	powered, err := c.bus.GetBool(ctx, c.path, Interface, propertyPowered)
	if err != nil {
		return &Error{Kind: KindBus, Op: "read power state", Err: err}
	}
	if powered {
		c.logger.Info("adapter already powered", "adapter", string(c.path))
		return c.apply(fsm.EventPowerConfirmed)
	}

	if err := c.apply(fsm.EventPowerOn); err != nil {
		return err
	}
	c.logger.Info("powering on adapter", "adapter", string(c.path))

	if err := c.bus.Set(ctx, c.path, Interface, propertyPowered, true); err != nil {
		_ = c.apply(fsm.EventPowerFailed)
		return &Error{Kind: kindFor(err), Op: "power on", Err: err}
	}

	if c.settle > 0 {
		select {
		case <-ctx.Done():
			_ = c.apply(fsm.EventPowerFailed)
			return ctx.Err()
		case <-time.After(c.settle):
		}
	}

	return c.apply(fsm.EventPowerConfirmed)
}

// StartDiscovery begins a discovery session. It never powers the adapter as
// a side effect; calling it while unpowered is a caller error.
func (c *Controller) StartDiscovery(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case fsm.StateDiscovering:
		return nil
	case fsm.StatePowered:
	default:
		return &Error{Kind: KindNotPowered, Op: "start discovery", Err: fmt.Errorf("adapter is %s", c.state)}
	}

	err := c.bus.Call(ctx, c.path, Interface+".StartDiscovery")
	switch {
	case err == nil, bus.ErrorName(err) == errInProgress:
	case bus.ErrorName(err) == errNotReady:
		// Powered off by another bus client since we powered it on.
		c.logger.Warn("adapter lost power", "adapter", string(c.path))
		_ = c.apply(fsm.EventPowerLost)
		return &Error{Kind: KindNotPowered, Op: "start discovery", Err: err}
	default:
		return &Error{Kind: kindFor(err), Op: "start discovery", Err: err}
	}

	c.logger.Info("discovery started", "adapter", string(c.path))
	return c.apply(fsm.EventDiscover)
}

// StopDiscovery ends an active discovery session. It is a no-op otherwise.
func (c *Controller) StopDiscovery(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != fsm.StateDiscovering {
		return nil
	}
	if err := c.bus.Call(ctx, c.path, Interface+".StopDiscovery"); err != nil {
		return &Error{Kind: kindFor(err), Op: "stop discovery", Err: err}
	}
	return c.apply(fsm.EventDiscoveryEnded)
}

// IsPoweredOn asks the bus for the current power state. Other bus clients
// may toggle power at any time, so the cached state is never consulted.
func (c *Controller) IsPoweredOn(ctx context.Context) (bool, error) {
	powered, err := c.bus.GetBool(ctx, c.path, Interface, propertyPowered)
	if err != nil {
		return false, &Error{Kind: KindBus, Op: "read power state", Err: err}
	}
	return powered, nil
}

// apply must be called with mu held.
func (c *Controller) apply(event fsm.Event) error {
	next, err := fsm.Transition(c.state, event)
	if err != nil {
		return err
	}
	c.state = next
	return nil
}

func kindFor(err error) Kind {
	if bus.IsKind(err, bus.KindRejected) {
		return KindRejected
	}
	return KindBus
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var adapterErr *Error
	return errors.As(err, &adapterErr) && adapterErr.Kind == kind
}
