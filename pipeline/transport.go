// Length-prefixed message framing over stream connections. Every frame is a
// 4-byte big-endian unsigned payload length followed by the UTF-8 JSON
// encoding of a Message envelope. Framing preserves message boundaries
// regardless of how the underlying stream chunks reads and writes.

package pipeline

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"
)

// MaxFrameSize bounds a single frame's payload. A length prefix above this is
// treated as a malformed frame rather than an allocation request.
const MaxFrameSize = 1 << 20

const (
	// DialTimeout bounds connection establishment for outbound sends.
	DialTimeout = 5 * time.Second
	// FrameIOTimeout bounds a single frame read or write.
	FrameIOTimeout = 5 * time.Second
)

// TransportError wraps any framing or connection-level fault. It is always
// recoverable by dropping the single connection; callers decide whether to
// retry.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// WriteFrame serializes msg and writes it as a single length-prefixed frame.
// The prefix and payload are written in one call so a frame is never
// interleaved with another writer's bytes on the same connection.
func WriteFrame(conn net.Conn, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return &TransportError{Op: "encode", Err: err}
	}
	if len(payload) > MaxFrameSize {
		return &TransportError{Op: "encode", Err: fmt.Errorf("payload %d bytes exceeds max frame size", len(payload))}
	}
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(payload)))
	copy(frame[4:], payload)
	if _, err := conn.Write(frame); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

// ReadFrame reads exactly one length-prefixed frame and decodes the Message
// envelope. Fails with a TransportError on a malformed length, truncated
// payload, or decode failure.
func ReadFrame(conn net.Conn) (Message, error) {
	var header [4]byte
	if _, err := io.ReadFull(conn, header[:]); err != nil {
		return Message{}, &TransportError{Op: "read length", Err: err}
	}
	length := binary.BigEndian.Uint32(header[:])
	if length == 0 || length > MaxFrameSize {
		return Message{}, &TransportError{Op: "read length", Err: fmt.Errorf("invalid frame length %d", length)}
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return Message{}, &TransportError{Op: "read payload", Err: err}
	}
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, &TransportError{Op: "decode", Err: err}
	}
	return msg, nil
}

// Send opens a short-lived connection to addr, writes one frame, and closes.
// Connections carry a single message; there is no pooling.
func Send(addr string, msg Message) error {
	conn, err := net.DialTimeout("tcp", addr, DialTimeout)
	if err != nil {
		return &TransportError{Op: "dial " + addr, Err: err}
	}
	defer conn.Close()
	conn.SetWriteDeadline(time.Now().Add(FrameIOTimeout))
	return WriteFrame(conn, msg)
}

// Call opens a short-lived connection, writes one frame, and reads a single
// reply frame before closing. Used by the scaling controller's heartbeat
// probes and REGISTER handshake.
func Call(addr string, msg Message) (Message, error) {
	conn, err := net.DialTimeout("tcp", addr, DialTimeout)
	if err != nil {
		return Message{}, &TransportError{Op: "dial " + addr, Err: err}
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(FrameIOTimeout))
	if err := WriteFrame(conn, msg); err != nil {
		return Message{}, err
	}
	return ReadFrame(conn)
}
