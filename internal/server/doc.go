// Package server implements the relay chat session engine.
//
// A Server accepts TCP connections speaking newline-delimited tag:data
// records and, when HTTP is enabled, the same records over WebSocket at
// /ws. Each connection runs one session: it logs in as a sender, which
// joins rooms and broadcasts into them, or as a receiver, which joins one
// room and is forwarded every delivery made to it.
//
// The implementation is split into configuration, origin checks, session
// tracking (hub), the per-connection state machine and the HTTP handlers.
package server
