package server

import "github.com/Tyrowin/relaychat/internal/room"

// Stats is the snapshot served by GET /stats.
type Stats struct {
	Sessions int          `json:"sessions"`
	Users    int          `json:"users"`
	Pending  int          `json:"pending"`
	Rooms    []room.Stats `json:"rooms"`
}
