package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

const defaultHandshakeTimeout = time.Second

// Dial connects once to a listening relay and waits for its hello. It
// never retries: a refused connection means the server was started late.
func Dial(ctx context.Context, addr string, handshakeTimeout time.Duration) (*Endpoint, error) {
	if handshakeTimeout <= 0 {
		handshakeTimeout = defaultHandshakeTimeout
	}

	dialer := net.Dialer{Timeout: handshakeTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if isConnectionRefused(err) {
			err = fmt.Errorf("no listener on %s: %w", addr, err)
		}
		return nil, &Error{Kind: KindConnectFailed, Op: "dial " + addr, Err: err}
	}

	if err := conn.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		_ = conn.Close()
		return nil, &Error{Kind: KindConnectFailed, Op: "handshake", Err: err}
	}
	hello, err := readFrame(conn)
	if err != nil {
		_ = conn.Close()
		return nil, &Error{Kind: KindConnectFailed, Op: "handshake", Err: err}
	}
	if hello.Kind != KindHello || hello.Version != ProtocolVersion {
		_ = conn.Close()
		return nil, &Error{
			Kind: KindConnectFailed,
			Op:   "handshake",
			Err:  fmt.Errorf("unexpected greeting kind=%s version=%d", hello.Kind, hello.Version),
		}
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		_ = conn.Close()
		return nil, &Error{Kind: KindConnectFailed, Op: "handshake", Err: err}
	}

	return newEndpoint(conn, RoleClient), nil
}

// isConnectionRefused reports no-listener failures.
func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
