package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/Tyrowin/relaychat/internal/protocol"
	"github.com/Tyrowin/relaychat/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOrigin = "http://allowed.example"

func testConfig() Config {
	return Config{
		Addr:           "127.0.0.1:0",
		HTTPAddr:       "127.0.0.1:0",
		AllowedOrigins: []string{testOrigin},
	}
}

// startServer runs a server on loopback ports and shuts it down when the
// test ends.
func startServer(t *testing.T, cfg Config, opts ...Option) *Server {
	t.Helper()

	opts = append([]Option{WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	s := New(cfg, opts...)
	require.NoError(t, s.Listen())

	errc := make(chan error, 1)
	go func() { errc <- s.Start(context.Background()) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, s.Shutdown(ctx))
		select {
		case err := <-errc:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("Start did not return after Shutdown")
		}
	})
	return s
}

func dial(t *testing.T, s *Server) *transport.LineConn {
	t.Helper()

	host, port, err := net.SplitHostPort(s.Addr().String())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := transport.Dial(ctx, host, port)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func dialWS(t *testing.T, s *Server, origin string) (*transport.WSConn, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := transport.DialWebSocket(ctx, fmt.Sprintf("ws://%s/ws", s.HTTPAddr()), origin)
	if err == nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, err
}

// receiveWithin fails the test if no record arrives before the timeout.
func receiveWithin(t *testing.T, conn transport.Conn, timeout time.Duration) protocol.Message {
	t.Helper()

	type result struct {
		msg protocol.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := conn.Receive()
		done <- result{msg, err}
	}()

	select {
	case r := <-done:
		require.NoError(t, r.err)
		return r.msg
	case <-time.After(timeout):
		t.Fatal("timed out waiting for record")
		return protocol.Message{}
	}
}

// request sends one record and returns the reply.
func request(t *testing.T, conn transport.Conn, tag, data string) protocol.Message {
	t.Helper()
	require.NoError(t, conn.Send(protocol.New(tag, data)))
	return receiveWithin(t, conn, 2*time.Second)
}

func expectReply(t *testing.T, conn transport.Conn, tag, data, wantTag, wantData string) {
	t.Helper()
	assert.Equal(t, protocol.New(wantTag, wantData), request(t, conn, tag, data))
}

// expectClosed asserts the server ends the stream.
func expectClosed(t *testing.T, conn transport.Conn) {
	t.Helper()

	done := make(chan error, 1)
	go func() {
		_, err := conn.Receive()
		done <- err
	}()

	select {
	case err := <-done:
		assert.Equal(t, transport.EndOfStreamOrError, transport.StatusOf(err))
	case <-time.After(2 * time.Second):
		t.Fatal("connection was not closed")
	}
}

func loginSender(t *testing.T, conn transport.Conn, name string) {
	t.Helper()
	expectReply(t, conn, protocol.TagSLogin, name, protocol.TagOK, "ok")
}

func loginReceiver(t *testing.T, conn transport.Conn, name, room string) {
	t.Helper()
	expectReply(t, conn, protocol.TagRLogin, name, protocol.TagOK, "ok")
	expectReply(t, conn, protocol.TagJoin, room, protocol.TagOK, room)
}

func roomMembers(s *Server, name string) int {
	for _, r := range s.Rooms().Stats() {
		if r.Name == name {
			return r.Members
		}
	}
	return 0
}
