package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// Kind classifies a failed bus request.
type Kind string

const (
	KindUnavailable    Kind = "unavailable"
	KindTimeout        Kind = "timeout"
	KindMalformedReply Kind = "malformed_reply"
	KindRejected       Kind = "rejected_by_peer"
)

// Error reports one failed property or method request.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("bus %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("bus %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var busErr *Error
	return errors.As(err, &busErr) && busErr.Kind == kind
}

// ErrorName returns the D-Bus error name carried by err, if any.
func ErrorName(err error) string {
	var dbusErr dbus.Error
	if errors.As(err, &dbusErr) {
		return dbusErr.Name
	}
	var dbusErrPtr *dbus.Error
	if errors.As(err, &dbusErrPtr) && dbusErrPtr != nil {
		return dbusErrPtr.Name
	}
	return ""
}

// classify maps a transport failure onto the bus error taxonomy.
func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Op: op, Err: err}
	}
	if errors.Is(err, dbus.ErrClosed) || errors.Is(err, context.Canceled) {
		return &Error{Kind: KindUnavailable, Op: op, Err: err}
	}

	switch ErrorName(err) {
	case "":
		return &Error{Kind: KindUnavailable, Op: op, Err: err}
	case "org.freedesktop.DBus.Error.NoReply",
		"org.freedesktop.DBus.Error.Timeout",
		"org.freedesktop.DBus.Error.TimedOut":
		return &Error{Kind: KindTimeout, Op: op, Err: err}
	case "org.freedesktop.DBus.Error.ServiceUnknown",
		"org.freedesktop.DBus.Error.NameHasNoOwner",
		"org.freedesktop.DBus.Error.Disconnected",
		"org.freedesktop.DBus.Error.UnknownObject":
		return &Error{Kind: KindUnavailable, Op: op, Err: err}
	default:
		return &Error{Kind: KindRejected, Op: op, Err: err}
	}
}
