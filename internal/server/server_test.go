package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/Tyrowin/relaychat/internal/bridge"
	"github.com/Tyrowin/relaychat/internal/protocol"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHealthEndpoint verifies the plain text health check.
func TestHealthEndpoint(t *testing.T) {
	s := startServer(t, testConfig())

	resp, err := http.Get(fmt.Sprintf("http://%s/", s.HTTPAddr()))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "RelayChat server is running!", string(body))

	missing, err := http.Get(fmt.Sprintf("http://%s/nope", s.HTTPAddr()))
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

// TestStatsEndpoint verifies the JSON snapshot of sessions and rooms.
func TestStatsEndpoint(t *testing.T) {
	s := startServer(t, testConfig())
	x := dial(t, s)
	loginSender(t, x, "alice")
	expectReply(t, x, protocol.TagJoin, "general", protocol.TagOK, "general")

	resp, err := http.Get(fmt.Sprintf("http://%s/stats", s.HTTPAddr()))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var stats Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.Sessions)
	assert.Equal(t, 1, stats.Users)
	require.Len(t, stats.Rooms, 1)
	assert.Equal(t, "general", stats.Rooms[0].Name)
	assert.Equal(t, 1, stats.Rooms[0].Members)

	post, err := http.Post(fmt.Sprintf("http://%s/stats", s.HTTPAddr()), "text/plain", nil)
	require.NoError(t, err)
	defer post.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, post.StatusCode)
}

// TestWebSocketGateway verifies WebSocket sessions speak the same
// protocol and share rooms with TCP sessions.
func TestWebSocketGateway(t *testing.T) {
	s := startServer(t, testConfig())

	ws, err := dialWS(t, s, testOrigin)
	require.NoError(t, err)
	loginReceiver(t, ws, "bob", "general")

	x := dial(t, s)
	loginSender(t, x, "alice")
	expectReply(t, x, protocol.TagJoin, "general", protocol.TagOK, "general")
	expectReply(t, x, protocol.TagSendAll, "over tcp", protocol.TagOK, "over tcp")

	assert.Equal(t, "general:alice:over tcp", receiveWithin(t, ws, 2*time.Second).Data)
}

// TestWebSocketOriginRejected verifies the origin allow-list guards the
// gateway.
func TestWebSocketOriginRejected(t *testing.T) {
	s := startServer(t, testConfig())

	_, err := dialWS(t, s, "http://evil.example")
	assert.Error(t, err)

	_, err = dialWS(t, s, "")
	assert.Error(t, err)
}

// TestWebSocketAllowAllOrigins verifies the wildcard origin.
func TestWebSocketAllowAllOrigins(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"*"}
	s := startServer(t, cfg)

	ws, err := dialWS(t, s, "http://anything.example")
	require.NoError(t, err)
	expectReply(t, ws, protocol.TagSLogin, "alice", protocol.TagOK, "ok")
}

// TestHTTPDisabled verifies an empty HTTP address serves relay traffic
// only.
func TestHTTPDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.HTTPAddr = ""
	s := startServer(t, cfg)

	assert.Nil(t, s.HTTPAddr())
	loginSender(t, dial(t, s), "alice")
}

// TestShutdownClosesSessions verifies shutdown ends idle receivers and
// refuses further work.
func TestShutdownClosesSessions(t *testing.T) {
	s := New(testConfig(), WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, s.Listen())

	errc := make(chan error, 1)
	go func() { errc <- s.Start(context.Background()) }()

	y := dial(t, s)
	loginReceiver(t, y, "bob", "general")
	ws, err := dialWS(t, s, testOrigin)
	require.NoError(t, err)
	loginReceiver(t, ws, "carol", "general")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	expectClosed(t, y)
	expectClosed(t, ws)
	assert.Equal(t, 0, s.Stats().Sessions)

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
	}
	assert.ErrorIs(t, s.Listen(), ErrServerClosed)
}

// TestStartStopsOnContextCancel verifies Start returns once its context
// is cancelled.
func TestStartStopsOnContextCancel(t *testing.T) {
	s := New(testConfig(), WithLogger(slog.New(slog.DiscardHandler)))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return s.Addr() != nil }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()
	assert.NoError(t, s.Shutdown(shutdownCtx))
}

// TestRelayAcrossInstances verifies a broadcast on one instance reaches a
// receiver connected to another through NATS.
func TestRelayAcrossInstances(t *testing.T) {
	ns := natsserver.RunRandClientPortServer()
	t.Cleanup(ns.Shutdown)

	relays := make([]*bridge.NATS, 2)
	for i := range relays {
		r, err := bridge.Connect(ns.ClientURL(), "test.relay", slog.New(slog.DiscardHandler))
		require.NoError(t, err)
		t.Cleanup(func() { _ = r.Close() })
		relays[i] = r
	}

	a := startServer(t, testConfig(), WithRelay(relays[0]))
	b := startServer(t, testConfig(), WithRelay(relays[1]))

	y := dial(t, b)
	loginReceiver(t, y, "bob", "general")

	local := dial(t, a)
	loginReceiver(t, local, "dave", "general")

	x := dial(t, a)
	loginSender(t, x, "alice")
	expectReply(t, x, protocol.TagJoin, "general", protocol.TagOK, "general")
	expectReply(t, x, protocol.TagSendAll, "across", protocol.TagOK, "across")

	assert.Equal(t, "general:alice:across", receiveWithin(t, y, 3*time.Second).Data)
	assert.Equal(t, "general:alice:across", receiveWithin(t, local, 2*time.Second).Data)

	// The origin instance must not replay its own event.
	expectReply(t, x, protocol.TagSendAll, "second", protocol.TagOK, "second")
	assert.Equal(t, "general:alice:second", receiveWithin(t, local, 2*time.Second).Data)
}

// TestReplayDropsInvalidEvents verifies relay events that could not have
// come from a valid session are not delivered.
func TestReplayDropsInvalidEvents(t *testing.T) {
	s := New(testConfig(), WithLogger(slog.New(slog.DiscardHandler)))

	s.replay(bridge.Event{Room: "bad:room", Sender: "alice", Text: "hi"})
	s.replay(bridge.Event{Room: "general", Sender: "", Text: "hi"})
	s.replay(bridge.Event{Room: "general", Sender: "alice", Text: "line\nbreak"})
	assert.Empty(t, s.Rooms().Stats())

	s.replay(bridge.Event{Room: "general", Sender: "alice", Text: "hi"})
	assert.Len(t, s.Rooms().Stats(), 1)
}
