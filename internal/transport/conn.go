// Package transport carries protocol records over a single connection.
//
// Two implementations share the Conn interface: LineConn frames records
// as newline-terminated lines over a TCP socket, and WSConn carries one
// record per WebSocket text frame. The session engine is written against
// Conn and does not care which one it is driving.
package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync/atomic"

	"github.com/Tyrowin/relaychat/internal/protocol"
	"github.com/gorilla/websocket"
)

// Status is the outcome of the most recent operation on a Conn. It is
// informational only; callers must act on the returned error.
type Status int32

// Operation outcomes.
const (
	Success Status = iota
	EndOfStreamOrError
	InvalidMessage
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case EndOfStreamOrError:
		return "end of stream or error"
	case InvalidMessage:
		return "invalid message"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

var (
	// ErrEndOfStream is returned when the peer closed the stream or the
	// underlying read or write failed. It is always terminal.
	ErrEndOfStream = errors.New("end of stream or transport error")
	// ErrClosed is returned by operations on a locally closed Conn.
	ErrClosed = fmt.Errorf("%w: connection closed", ErrEndOfStream)
	// ErrRecordTooLong is returned when an incoming record has no newline
	// within protocol.MaxLen bytes.
	ErrRecordTooLong = fmt.Errorf("%w: incoming record exceeds %d bytes", ErrEndOfStream, protocol.MaxLen)
)

// Conn sends and receives protocol records over one connection.
//
// A Conn is owned by a single session. At most one goroutine may call
// Receive and at most one may call Send at any time; the two may run
// concurrently. Close is idempotent and safe from any goroutine.
type Conn interface {
	Send(msg protocol.Message) error
	Receive() (protocol.Message, error)
	Close() error
	LastResult() Status
	RemoteAddr() string
}

// StatusOf classifies an error returned by Send or Receive.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, protocol.ErrInvalidMessage):
		return InvalidMessage
	default:
		return EndOfStreamOrError
	}
}

// IsExpectedClose reports whether err is the ordinary result of a peer
// hanging up or of the connection being closed locally.
func IsExpectedClose(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, ErrClosed) {
		return true
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "connection reset by peer") ||
		strings.Contains(errStr, "broken pipe")
}

type lastResult struct {
	v atomic.Int32
}

func (l *lastResult) record(err error) {
	l.v.Store(int32(StatusOf(err)))
}

func (l *lastResult) load() Status {
	return Status(l.v.Load())
}
