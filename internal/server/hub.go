package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Tyrowin/relaychat/internal/transport"
)

// hub tracks live sessions so shutdown can close their connections and
// wait for their workers to return.
type hub struct {
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[*session]struct{}
	closed   bool
	wg       sync.WaitGroup
}

func newHub(logger *slog.Logger) *hub {
	return &hub{
		logger:   logger,
		sessions: make(map[*session]struct{}),
	}
}

// register adds s to the hub. It reports false once shutdown has begun,
// in which case the caller must not run the session.
func (h *hub) register(s *session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	h.sessions[s] = struct{}{}
	h.wg.Add(1)
	h.logger.Debug("session registered", "session", s.id, "addr", s.conn.RemoteAddr(), "total", len(h.sessions))
	return true
}

func (h *hub) unregister(s *session) {
	h.mu.Lock()
	_, ok := h.sessions[s]
	delete(h.sessions, s)
	total := len(h.sessions)
	h.mu.Unlock()

	if ok {
		h.logger.Debug("session unregistered", "session", s.id, "addr", s.conn.RemoteAddr(), "total", total)
		h.wg.Done()
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// shutdownSessions stops new registrations and closes every live session
// connection, which unblocks their workers. It returns how many sessions
// were closed.
func (h *hub) shutdownSessions() int {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		if err := s.conn.Close(); err != nil && !transport.IsExpectedClose(err) {
			h.logger.Warn("error closing session connection", "session", s.id, "addr", s.conn.RemoteAddr(), "error", err)
		}
	}

	h.logger.Info("closed session connections", "count", len(sessions))
	return len(sessions)
}

// wait blocks until every registered session has returned or ctx ends.
func (h *hub) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		h.logger.Warn("shutdown deadline reached, some sessions may still be running")
		return ctx.Err()
	}
}
