// Package client is a small relay chat client used by the command line
// tools. It speaks the request/reply half of the protocol and decodes
// delivery records for receivers.
package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/Tyrowin/relaychat/internal/protocol"
	"github.com/Tyrowin/relaychat/internal/transport"
)

var (
	// ErrRejected is matched by every *RejectedError.
	ErrRejected = errors.New("request rejected")
	// ErrUnexpectedReply is returned when the server answers with a tag
	// other than ok or err.
	ErrUnexpectedReply = errors.New("unexpected reply")
)

// RejectedError carries the reason from an err reply.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrRejected, e.Reason)
}

// Is makes errors.Is(err, ErrRejected) true for every RejectedError.
func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// Client wraps one server connection.
type Client struct {
	conn transport.Conn
}

// New wraps an established connection.
func New(conn transport.Conn) *Client {
	return &Client{conn: conn}
}

// Dial connects to a relay server over TCP.
func Dial(ctx context.Context, host, port string) (*Client, error) {
	conn, err := transport.Dial(ctx, host, port)
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}

// DialWebSocket connects to a relay server's WebSocket gateway.
func DialWebSocket(ctx context.Context, url, origin string) (*Client, error) {
	conn, err := transport.DialWebSocket(ctx, url, origin)
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}

// LoginSender logs in as a sender.
func (c *Client) LoginSender(username string) error {
	_, err := c.request(protocol.TagSLogin, username)
	return err
}

// LoginReceiver logs in as a receiver and joins room. After it returns
// successfully the client may only call NextDelivery, Quit and Close.
func (c *Client) LoginReceiver(username, room string) error {
	if _, err := c.request(protocol.TagRLogin, username); err != nil {
		return err
	}
	_, err := c.request(protocol.TagJoin, room)
	return err
}

// Join moves a sender into room.
func (c *Client) Join(room string) error {
	_, err := c.request(protocol.TagJoin, room)
	return err
}

// Leave takes a sender out of its current room.
func (c *Client) Leave() error {
	_, err := c.request(protocol.TagLeave, "")
	return err
}

// SendAll broadcasts text to the sender's current room.
func (c *Client) SendAll(text string) error {
	_, err := c.request(protocol.TagSendAll, text)
	return err
}

// Quit ends a sender session. Receivers should send quit with QuitAsync
// since deliveries may arrive ahead of the acknowledgement.
func (c *Client) Quit() error {
	_, err := c.request(protocol.TagQuit, "")
	return err
}

// QuitAsync sends quit without waiting for the acknowledgement. The
// server ends the stream after it, which NextDelivery reports as an
// error.
func (c *Client) QuitAsync() error {
	return c.conn.Send(protocol.New(protocol.TagQuit, ""))
}

// NextDelivery blocks until the next delivery arrives. err replies from
// the server are returned as *RejectedError; the stream stays usable.
func (c *Client) NextDelivery() (protocol.Delivery, error) {
	for {
		msg, err := c.conn.Receive()
		if err != nil {
			return protocol.Delivery{}, err
		}

		switch msg.Tag {
		case protocol.TagDelivery:
			return protocol.ParseDelivery(msg.Data)
		case protocol.TagErr:
			return protocol.Delivery{}, &RejectedError{Reason: msg.Data}
		case protocol.TagOK:
			// quit acknowledgement; the close follows.
			continue
		default:
			return protocol.Delivery{}, fmt.Errorf("%w: %s", ErrUnexpectedReply, msg)
		}
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) request(tag, data string) (string, error) {
	if err := c.conn.Send(protocol.New(tag, data)); err != nil {
		return "", fmt.Errorf("send %s: %w", tag, err)
	}

	reply, err := c.conn.Receive()
	if err != nil {
		return "", fmt.Errorf("await %s reply: %w", tag, err)
	}

	switch reply.Tag {
	case protocol.TagOK:
		return reply.Data, nil
	case protocol.TagErr:
		return "", &RejectedError{Reason: reply.Data}
	default:
		return "", fmt.Errorf("%w to %s: %s", ErrUnexpectedReply, tag, reply)
	}
}
