package server

import (
	"net/http"
	"time"
)

// createHTTPServer builds the HTTP server with production timeouts. The
// WebSocket gateway hijacks its connections, so the timeouts only bound
// plain requests and the upgrade handshake.
func createHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
