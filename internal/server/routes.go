package server

import "net/http"

// routes returns the ServeMux for the HTTP side of the server.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}
