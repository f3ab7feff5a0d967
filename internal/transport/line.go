package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/Tyrowin/relaychat/internal/protocol"
)

// LineConn frames records as newline-terminated lines over a stream
// socket.
type LineConn struct {
	conn   net.Conn
	reader *bufio.Reader
	last   lastResult

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ Conn = (*LineConn)(nil)

// NewLineConn wraps an established stream connection. The LineConn takes
// ownership of conn and closes it on Close.
func NewLineConn(conn net.Conn) *LineConn {
	return &LineConn{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, protocol.MaxLen),
	}
}

// Dial connects to a relay server over TCP.
func Dial(ctx context.Context, host, port string) (*LineConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, fmt.Errorf("dial %s:%s: %w", host, port, err)
	}
	return NewLineConn(conn), nil
}

// Send writes one encoded record. Records that fail protocol validation,
// including those longer than protocol.MaxLen, are rejected before any
// byte is written.
func (c *LineConn) Send(msg protocol.Message) error {
	err := c.send(msg)
	c.last.record(err)
	return err
}

func (c *LineConn) send(msg protocol.Message) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	if _, err := c.conn.Write(msg.Encode()); err != nil {
		return fmt.Errorf("%w: %w", ErrEndOfStream, err)
	}
	return nil
}

// Receive reads exactly one record.
func (c *LineConn) Receive() (protocol.Message, error) {
	msg, err := c.receive()
	c.last.record(err)
	return msg, err
}

func (c *LineConn) receive() (protocol.Message, error) {
	if c.closed.Load() {
		return protocol.Message{}, ErrClosed
	}
	line, err := c.reader.ReadSlice('\n')
	if err != nil {
		if errors.Is(err, bufio.ErrBufferFull) {
			return protocol.Message{}, ErrRecordTooLong
		}
		return protocol.Message{}, fmt.Errorf("%w: %w", ErrEndOfStream, err)
	}
	return protocol.Decode(string(line))
}

// Close releases the socket. Only the first call has any effect.
func (c *LineConn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// LastResult reports the outcome of the most recent Send or Receive.
func (c *LineConn) LastResult() Status {
	return c.last.load()
}

// RemoteAddr returns the peer address.
func (c *LineConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
