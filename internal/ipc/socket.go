package ipc

import (
	"context"
	"net"
	"sync"
	"time"
)

// Role names which side of the rendezvous an endpoint is.
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

// Endpoint is one side of an established relay connection. It owns its
// socket. Send is safe for concurrent use; Receive is meant for a single
// goroutine.
type Endpoint struct {
	conn net.Conn
	role Role

	sendMu  sync.Mutex
	sendSeq uint64
	recvSeq uint64
}

func newEndpoint(conn net.Conn, role Role) *Endpoint {
	return &Endpoint{conn: conn, role: role}
}

// Role returns the endpoint side.
func (e *Endpoint) Role() Role {
	return e.role
}

// Send writes msg as one complete frame and blocks until it is written.
func (e *Endpoint) Send(ctx context.Context, msg Message) error {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = e.conn.SetWriteDeadline(time.Now()) })
	defer stop()

	msg.Seq = e.sendSeq + 1
	if err := writeFrame(e.conn, msg); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	e.sendSeq = msg.Seq
	return nil
}

// Receive blocks until one complete frame has been read.
func (e *Endpoint) Receive(ctx context.Context) (Message, error) {
	stop := context.AfterFunc(ctx, func() { _ = e.conn.SetReadDeadline(time.Now()) })
	defer stop()

	msg, err := readFrame(e.conn)
	if err != nil {
		if ctx.Err() != nil {
			return Message{}, ctx.Err()
		}
		return Message{}, err
	}
	if msg.Kind == KindHello {
		return Message{}, &Error{Kind: KindIO, Op: "receive", Err: errUnexpectedHello}
	}
	if msg.Seq != e.recvSeq+1 {
		return Message{}, &Error{Kind: KindIO, Op: "receive", Err: sequenceError{want: e.recvSeq + 1, got: msg.Seq}}
	}
	e.recvSeq = msg.Seq
	return msg, nil
}

// Close releases the socket.
func (e *Endpoint) Close() error {
	return e.conn.Close()
}
