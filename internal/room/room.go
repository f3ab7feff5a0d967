// Package room implements named broadcast groups and the registry that
// owns them.
package room

import (
	"sort"
	"sync"

	"github.com/Tyrowin/relaychat/internal/inbox"
	"github.com/Tyrowin/relaychat/internal/protocol"
	"github.com/Tyrowin/relaychat/internal/users"
	"github.com/google/uuid"
)

// Resolver looks up the inbox behind a user ID. users.Directory is the
// production implementation.
type Resolver interface {
	Inbox(id uuid.UUID) (*inbox.Inbox, bool)
}

// Room is a named set of member users. Membership is by user ID only; the
// room never owns the users it lists.
type Room struct {
	name     string
	resolver Resolver

	mu      sync.Mutex
	members map[uuid.UUID]string
}

// New creates an empty room.
func New(name string, resolver Resolver) *Room {
	return &Room{
		name:     name,
		resolver: resolver,
		members:  make(map[uuid.UUID]string),
	}
}

// Name returns the room's registry key.
func (r *Room) Name() string {
	return r.name
}

// AddMember inserts the user. Adding a current member is a no-op.
func (r *Room) AddMember(u *users.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[u.ID] = u.Username
}

// RemoveMember erases the user. Removing a non-member is a no-op.
func (r *Room) RemoveMember(u *users.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, u.ID)
}

// HasMember reports whether the user is currently in the room.
func (r *Room) HasMember(u *users.User) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[u.ID]
	return ok
}

// Broadcast enqueues one delivery record into the inbox of every current
// member, the sender included if it is a member, and returns how many
// inboxes were reached. Members whose handle no longer resolves are
// skipped.
func (r *Room) Broadcast(sender, text string) int {
	msg := protocol.NewDelivery(r.name, sender, text)

	r.mu.Lock()
	defer r.mu.Unlock()

	delivered := 0
	for id := range r.members {
		box, ok := r.resolver.Inbox(id)
		if !ok {
			continue
		}
		box.Enqueue(msg)
		delivered++
	}
	return delivered
}

// Len returns the current member count.
func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Members returns a sorted snapshot of member usernames.
func (r *Room) Members() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.members))
	for _, name := range r.members {
		names = append(names, name)
	}
	r.mu.Unlock()

	sort.Strings(names)
	return names
}
