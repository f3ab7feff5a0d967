// Package bridge mirrors room broadcasts between relay server instances.
// Each instance publishes the sendall commands it accepts and replays the
// ones published by its peers into its own rooms.
package bridge

import (
	"errors"
)

// ErrClosed is returned when publishing on a closed relay.
var ErrClosed = errors.New("bridge: relay closed")

// Event is one broadcast as it travels between instances.
type Event struct {
	Origin string `json:"origin"`
	Room   string `json:"room"`
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// Relay carries broadcasts to and from peer instances.
type Relay interface {
	// Publish announces a local broadcast to peers.
	Publish(room, sender, text string) error
	// Subscribe registers fn for broadcasts made on other instances. Events
	// published by this instance are never passed to fn.
	Subscribe(fn func(Event)) error
	Close() error
}
