package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/om131/Capstone-Pi-5-OS/internal/telemetry"
)

const (
	// ProtocolVersion is announced in the hello frame.
	ProtocolVersion = 1

	headerSize   = 4
	MaxFrameSize = 64 << 10
)

// MessageKind identifies the payload a frame carries.
type MessageKind string

const (
	KindHello   MessageKind = "hello"
	KindRecord  MessageKind = "record"
	KindReading MessageKind = "reading"
)

// Message is one relay frame body. Data messages carry exactly one of
// Record or Reading.
type Message struct {
	Kind    MessageKind             `cbor:"1,keyasint"`
	Seq     uint64                  `cbor:"2,keyasint"`
	Version uint16                  `cbor:"3,keyasint,omitempty"`
	Record  *telemetry.DeviceRecord `cbor:"4,keyasint,omitempty"`
	Reading *telemetry.Reading      `cbor:"5,keyasint,omitempty"`
}

// RecordMessage wraps a discovered device.
func RecordMessage(record telemetry.DeviceRecord) Message {
	return Message{Kind: KindRecord, Record: &record}
}

// ReadingMessage wraps a ready-made reading.
func ReadingMessage(reading telemetry.Reading) Message {
	return Message{Kind: KindReading, Reading: &reading}
}

func (m Message) validate() error {
	switch m.Kind {
	case KindHello:
		return nil
	case KindRecord:
		if m.Record == nil || m.Reading != nil {
			return errors.New("record message must carry only a record")
		}
		if m.Record.ID == "" {
			return errors.New("record message has empty id")
		}
		return nil
	case KindReading:
		if m.Reading == nil || m.Record != nil {
			return errors.New("reading message must carry only a reading")
		}
		return nil
	default:
		return fmt.Errorf("unknown message kind %q", m.Kind)
	}
}

// Kind classifies relay failures.
type Kind string

const (
	KindBindFailed    Kind = "bind_failed"
	KindConnectFailed Kind = "connect_failed"
	KindClosed        Kind = "closed"
	KindIO            Kind = "io"
)

// Error reports a relay failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("relay %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("relay %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var relayErr *Error
	return errors.As(err, &relayErr) && relayErr.Kind == kind
}

// writeFrame writes the whole frame or reports an I/O failure.
func writeFrame(w io.Writer, msg Message) error {
	if err := msg.validate(); err != nil {
		return &Error{Kind: KindIO, Op: "encode", Err: err}
	}
	payload, err := telemetry.Marshal(msg)
	if err != nil {
		return &Error{Kind: KindIO, Op: "encode", Err: err}
	}
	if len(payload) > MaxFrameSize {
		return &Error{Kind: KindIO, Op: "encode", Err: fmt.Errorf("frame of %d bytes exceeds %d", len(payload), MaxFrameSize)}
	}

	frame := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[headerSize:], payload)

	n, err := w.Write(frame)
	if err != nil {
		return classifyIO("send", err, false)
	}
	if n != len(frame) {
		return &Error{Kind: KindIO, Op: "send", Err: fmt.Errorf("short write: %d of %d bytes", n, len(frame))}
	}
	return nil
}

// readFrame fills one complete frame. EOF before the first header byte is
// a clean close; EOF anywhere later is a truncated frame.
func readFrame(r io.Reader) (Message, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Message{}, classifyIO("receive", err, true)
	}

	size := binary.BigEndian.Uint32(header[:])
	if size == 0 || size > MaxFrameSize {
		return Message{}, &Error{Kind: KindIO, Op: "receive", Err: fmt.Errorf("invalid frame length %d", size)}
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Message{}, classifyIO("receive", err, false)
	}

	var msg Message
	if err := telemetry.Unmarshal(payload, &msg); err != nil {
		return Message{}, &Error{Kind: KindIO, Op: "decode", Err: err}
	}
	if err := msg.validate(); err != nil {
		return Message{}, &Error{Kind: KindIO, Op: "decode", Err: err}
	}
	return msg, nil
}

func classifyIO(op string, err error, atBoundary bool) error {
	switch {
	case atBoundary && errors.Is(err, io.EOF):
		return &Error{Kind: KindClosed, Op: op, Err: err}
	case errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return &Error{Kind: KindClosed, Op: op, Err: err}
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return &Error{Kind: KindIO, Op: op, Err: fmt.Errorf("truncated frame: %w", err)}
	default:
		return &Error{Kind: KindIO, Op: op, Err: err}
	}
}
