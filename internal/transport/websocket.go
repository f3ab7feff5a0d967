package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tyrowin/relaychat/internal/protocol"
	"github.com/gorilla/websocket"
)

const closeWriteWait = time.Second

// ErrBinaryFrame is returned when a peer sends a non-text frame.
var ErrBinaryFrame = fmt.Errorf("%w: binary frames are not supported", protocol.ErrInvalidMessage)

// errMultipleRecords is returned when one frame holds more than a record.
var errMultipleRecords = fmt.Errorf("%w: frame carries more than one record", protocol.ErrInvalidMessage)

// WSConn carries one record per WebSocket text frame.
type WSConn struct {
	conn *websocket.Conn
	addr string
	last lastResult

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ Conn = (*WSConn)(nil)

// NewWSConn wraps an upgraded WebSocket connection. addr overrides the
// reported peer address when non-empty (for example the HTTP request's
// RemoteAddr behind a proxy).
func NewWSConn(conn *websocket.Conn, addr string) *WSConn {
	conn.SetReadLimit(protocol.MaxLen)
	if addr == "" {
		addr = conn.RemoteAddr().String()
	}
	return &WSConn{conn: conn, addr: addr}
}

// DialWebSocket connects to a relay WebSocket gateway. origin is sent as
// the Origin header when non-empty.
func DialWebSocket(ctx context.Context, url, origin string) (*WSConn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.DialContext(ctx, url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewWSConn(conn, ""), nil
}

// Send writes one record as a single text frame.
func (c *WSConn) Send(msg protocol.Message) error {
	err := c.send(msg)
	c.last.record(err)
	return err
}

func (c *WSConn) send(msg protocol.Message) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, msg.Encode()); err != nil {
		return fmt.Errorf("%w: %w", ErrEndOfStream, err)
	}
	return nil
}

// Receive reads one text frame and decodes it. The trailing newline is
// optional on this transport.
func (c *WSConn) Receive() (protocol.Message, error) {
	msg, err := c.receive()
	c.last.record(err)
	return msg, err
}

func (c *WSConn) receive() (protocol.Message, error) {
	if c.closed.Load() {
		return protocol.Message{}, ErrClosed
	}
	messageType, data, err := c.conn.ReadMessage()
	if err != nil {
		return protocol.Message{}, fmt.Errorf("%w: %w", ErrEndOfStream, err)
	}
	if messageType != websocket.TextMessage {
		return protocol.Message{}, ErrBinaryFrame
	}
	line := string(data)
	if strings.ContainsAny(strings.TrimRight(line, "\r\n"), "\r\n") {
		return protocol.Message{}, errMultipleRecords
	}
	return protocol.Decode(line)
}

// Close sends a best-effort close frame and releases the connection.
func (c *WSConn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWriteWait))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// LastResult reports the outcome of the most recent Send or Receive.
func (c *WSConn) LastResult() Status {
	return c.last.load()
}

// RemoteAddr returns the peer address.
func (c *WSConn) RemoteAddr() string {
	return c.addr
}
