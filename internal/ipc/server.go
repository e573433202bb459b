package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var errUnexpectedHello = errors.New("unexpected hello frame")

type sequenceError struct {
	want uint64
	got  uint64
}

func (e sequenceError) Error() string {
	return fmt.Sprintf("frame sequence %d, want %d", e.got, e.want)
}

// Listener is a bound relay address waiting for its single client.
type Listener struct {
	ln net.Listener
}

// Listen binds and listens on addr. Once it returns, a client Dial succeeds.
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &Error{Kind: KindBindFailed, Op: "listen " + addr, Err: err}
	}
	return &Listener{ln: ln}, nil
}

// Addr returns the bound address, useful when listening on port 0.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Accept blocks for exactly one client, greets it, and stops listening.
func (l *Listener) Accept(ctx context.Context) (*Endpoint, error) {
	stop := context.AfterFunc(ctx, func() { _ = l.ln.Close() })
	defer stop()
	defer l.ln.Close()

	conn, err := l.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, &Error{Kind: KindClosed, Op: "accept", Err: err}
		}
		return nil, &Error{Kind: KindIO, Op: "accept", Err: err}
	}

	if err := writeFrame(conn, Message{Kind: KindHello, Version: ProtocolVersion}); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return newEndpoint(conn, RoleServer), nil
}

// Close stops listening without accepting.
func (l *Listener) Close() error {
	err := l.ln.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
