package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tyrowin/relaychat/internal/bridge"
	"github.com/Tyrowin/relaychat/internal/room"
	"github.com/Tyrowin/relaychat/internal/transport"
	"github.com/Tyrowin/relaychat/internal/users"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// ErrServerClosed is returned by Listen and Start after Shutdown.
var ErrServerClosed = errors.New("server: closed")

const acceptRetryDelay = 10 * time.Millisecond

// Server accepts relay connections and runs one session per connection.
// It owns the user directory and the room registry shared by all
// sessions.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	relay   bridge.Relay
	users   *users.Directory
	rooms   *room.Registry
	origins *originPolicy
	hub     *hub

	upgrader websocket.Upgrader

	mu           sync.Mutex
	listener     net.Listener
	httpListener net.Listener
	httpServer   *http.Server
	closing      atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. A nil logger leaves slog.Default in place.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRelay mirrors broadcasts to and from peer instances through relay.
func WithRelay(relay bridge.Relay) Option {
	return func(s *Server) {
		s.relay = relay
	}
}

// New creates a Server. Nothing is bound until Listen or Start.
func New(cfg Config, opts ...Option) *Server {
	s := &Server{
		logger: slog.Default(),
		users:  users.NewDirectory(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.origins = newOriginPolicy(cfg.AllowedOrigins, s.logger)
	s.cfg = cfg.Sanitize()
	s.rooms = room.NewRegistry(s.users)
	s.hub = newHub(s.logger)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}
	return s
}

// Config returns the sanitized configuration in use.
func (s *Server) Config() Config {
	return s.cfg
}

// Rooms returns the room registry.
func (s *Server) Rooms() *room.Registry {
	return s.rooms
}

// Listen binds the relay listener and, when configured, the HTTP
// listener. It is a no-op for listeners already bound.
func (s *Server) Listen() error {
	if s.closing.Load() {
		return ErrServerClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		ln, err := net.Listen("tcp", s.cfg.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
		}
		s.listener = ln
		s.logger.Info("relay listening", "addr", ln.Addr().String())
	}

	if s.cfg.HTTPAddr != "" && s.httpListener == nil {
		ln, err := net.Listen("tcp", s.cfg.HTTPAddr)
		if err != nil {
			_ = s.listener.Close()
			s.listener = nil
			return fmt.Errorf("failed to listen on %s: %w", s.cfg.HTTPAddr, err)
		}
		s.httpListener = ln
		s.httpServer = createHTTPServer(s.cfg.HTTPAddr, s.routes())
		s.logger.Info("http listening", "addr", ln.Addr().String())
	}

	return nil
}

// Addr returns the bound relay address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// HTTPAddr returns the bound HTTP address, or nil when HTTP is disabled
// or not yet bound.
func (s *Server) HTTPAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpListener == nil {
		return nil
	}
	return s.httpListener.Addr()
}

// Start binds the listeners if needed and serves until they are closed by
// Shutdown or ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	if s.relay != nil {
		if err := s.relay.Subscribe(s.replay); err != nil {
			return fmt.Errorf("failed to subscribe to relay: %w", err)
		}
	}

	s.mu.Lock()
	ln, httpLn, httpServer := s.listener, s.httpListener, s.httpServer
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		s.closeListeners()
		if httpServer != nil {
			_ = httpServer.Close()
		}
	})
	defer stop()

	g := new(errgroup.Group)
	g.Go(func() error {
		return s.acceptLoop(ln)
	})
	if httpServer != nil {
		g.Go(func() error {
			if err := httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Server) acceptLoop(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closing.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("accept failed", "error", err)
			time.Sleep(acceptRetryDelay)
			continue
		}

		go s.ServeConn(transport.NewLineConn(conn))
	}
}

// ServeConn runs one session over conn and returns when it ends. The
// connection is always closed on return.
func (s *Server) ServeConn(conn transport.Conn) {
	sess := newSession(s, conn)
	if !s.hub.register(sess) {
		_ = conn.Close()
		return
	}
	defer s.hub.unregister(sess)

	sess.run()
}

// replay delivers a broadcast made on a peer instance into the local room.
func (s *Server) replay(ev bridge.Event) {
	if err := validateRelayEvent(ev); err != nil {
		s.logger.Warn("dropping relay event", "room", ev.Room, "sender", ev.Sender, "error", err)
		return
	}
	n := s.rooms.FindOrCreate(ev.Room).Broadcast(ev.Sender, ev.Text)
	s.logger.Debug("relayed broadcast", "room", ev.Room, "sender", ev.Sender, "origin", ev.Origin, "recipients", n)
}

// Stats returns a snapshot of live sessions and rooms.
func (s *Server) Stats() Stats {
	return Stats{
		Sessions: s.hub.count(),
		Users:    s.users.Len(),
		Pending:  s.users.Pending(),
		Rooms:    s.rooms.Stats(),
	}
}

func (s *Server) closeListeners() {
	s.closing.Store(true)

	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	if ln != nil {
		if err := ln.Close(); err != nil && !transport.IsExpectedClose(err) {
			s.logger.Warn("error closing relay listener", "error", err)
		}
	}
}

// Shutdown stops accepting connections, shuts the HTTP server down,
// closes every live session and waits for their workers. It returns
// ctx.Err() if the deadline passes first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating server shutdown")
	s.closeListeners()

	s.mu.Lock()
	httpLn, httpServer := s.httpListener, s.httpServer
	s.mu.Unlock()

	var errs []error
	if httpServer != nil {
		if err := httpServer.Shutdown(ctx); err != nil {
			s.logger.Warn("http server shutdown error", "error", err)
			errs = append(errs, err)
		}
		// Serve may never have run.
		_ = httpLn.Close()
	}

	s.hub.shutdownSessions()
	if err := s.hub.wait(ctx); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.logger.Info("server shutdown completed")
	return nil
}
