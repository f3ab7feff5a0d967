package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/relaychat/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsPair starts an httptest server that upgrades one connection and hands
// the server side to the test.
func wsPair(t *testing.T) (*WSConn, *WSConn) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	serverSide := make(chan *WSConn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverSide <- NewWSConn(conn, r.RemoteAddr)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := DialWebSocket(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), "")
	require.NoError(t, err)

	var server *WSConn
	select {
	case server = <-serverSide:
	case <-time.After(2 * time.Second):
		t.Fatal("upgrade did not complete")
	}

	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return client, server
}

// TestWSConnSendReceive verifies one record per text frame in both
// directions.
func TestWSConnSendReceive(t *testing.T) {
	client, server := wsPair(t)

	require.NoError(t, client.Send(protocol.New(protocol.TagRLogin, "bob")))
	got, err := server.Receive()
	require.NoError(t, err)
	assert.Equal(t, protocol.New(protocol.TagRLogin, "bob"), got)

	require.NoError(t, server.Send(protocol.NewDelivery("general", "alice", "hi")))
	got, err = client.Receive()
	require.NoError(t, err)
	assert.Equal(t, protocol.TagDelivery, got.Tag)
	assert.Equal(t, "general:alice:hi", got.Data)
	assert.NotEmpty(t, server.RemoteAddr())
}

// TestWSConnRejectsOversized verifies the size cap on both paths.
func TestWSConnRejectsOversized(t *testing.T) {
	client, server := wsPair(t)

	err := client.Send(protocol.New(protocol.TagSendAll, strings.Repeat("x", protocol.MaxLen)))
	require.ErrorIs(t, err, protocol.ErrTooLong)
	assert.Equal(t, InvalidMessage, client.LastResult())

	// A raw oversized frame trips the read limit and ends the stream.
	require.NoError(t, client.conn.WriteMessage(websocket.TextMessage,
		[]byte("sendall:"+strings.Repeat("x", protocol.MaxLen))))
	_, err = server.Receive()
	require.ErrorIs(t, err, ErrEndOfStream)
	assert.Equal(t, EndOfStreamOrError, server.LastResult())
}

// TestWSConnRejectsBinaryAndMultiRecordFrames verifies framing rules.
func TestWSConnRejectsBinaryAndMultiRecordFrames(t *testing.T) {
	client, server := wsPair(t)

	require.NoError(t, client.conn.WriteMessage(websocket.BinaryMessage, []byte("join:general\n")))
	_, err := server.Receive()
	require.ErrorIs(t, err, ErrBinaryFrame)
	assert.Equal(t, InvalidMessage, server.LastResult())

	require.NoError(t, client.conn.WriteMessage(websocket.TextMessage, []byte("join:a\njoin:b\n")))
	_, err = server.Receive()
	require.ErrorIs(t, err, protocol.ErrInvalidMessage)

	// Newline is optional on this transport.
	require.NoError(t, client.conn.WriteMessage(websocket.TextMessage, []byte("join:general")))
	got, err := server.Receive()
	require.NoError(t, err)
	assert.Equal(t, protocol.New(protocol.TagJoin, "general"), got)
}

// TestWSConnClose verifies that closing is idempotent and observed by the
// peer as an expected close.
func TestWSConnClose(t *testing.T) {
	client, server := wsPair(t)

	require.NoError(t, client.Close())
	_ = client.Close()

	_, err := server.Receive()
	require.ErrorIs(t, err, ErrEndOfStream)
	assert.True(t, IsExpectedClose(err))

	assert.ErrorIs(t, client.Send(protocol.New(protocol.TagQuit, "")), ErrClosed)
}
