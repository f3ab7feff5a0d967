// Package users tracks the users of live sessions. Rooms refer to users
// only by ID and resolve their inboxes through the Directory, so a room
// never keeps a torn-down user reachable.
package users

import (
	"sync"

	"github.com/Tyrowin/relaychat/internal/inbox"
	"github.com/google/uuid"
)

// User is the identity behind one logged-in session.
type User struct {
	ID       uuid.UUID
	Username string
	Inbox    *inbox.Inbox
}

// Directory maps user IDs to live users.
type Directory struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*User
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{users: make(map[uuid.UUID]*User)}
}

// Register creates a user with a fresh ID and inbox. Usernames are not
// unique.
func (d *Directory) Register(username string) *User {
	u := &User{
		ID:       uuid.New(),
		Username: username,
		Inbox:    inbox.New(),
	}

	d.mu.Lock()
	d.users[u.ID] = u
	d.mu.Unlock()
	return u
}

// Unregister removes the user and shuts its inbox down. Unknown IDs are
// ignored.
func (d *Directory) Unregister(id uuid.UUID) {
	d.mu.Lock()
	u, ok := d.users[id]
	delete(d.users, id)
	d.mu.Unlock()

	if ok {
		u.Inbox.Shutdown()
	}
}

// Inbox resolves a user ID to its inbox.
func (d *Directory) Inbox(id uuid.UUID) (*inbox.Inbox, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return nil, false
	}
	return u.Inbox, true
}

// Pending returns the number of deliveries queued across all inboxes.
func (d *Directory) Pending() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, u := range d.users {
		n += u.Inbox.Len()
	}
	return n
}

// Len returns the number of registered users.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users)
}
