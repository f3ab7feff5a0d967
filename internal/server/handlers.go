package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Tyrowin/relaychat/internal/transport"
)

// handleWebSocket upgrades the request and runs a relay session over the
// socket, one record per text frame. The handler returns when the session
// ends.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	if s.closing.Load() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	s.ServeConn(transport.NewWSConn(conn, r.RemoteAddr))
}

// handleHealth responds with a plain text liveness message.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "RelayChat server is running!")
}

// handleStats reports live sessions and per-room membership as JSON.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Stats()); err != nil {
		s.logger.Warn("error writing stats response", "error", err)
	}
}
