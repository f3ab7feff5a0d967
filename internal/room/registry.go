package room

import (
	"sort"
	"sync"
)

// Stats is a point-in-time view of one room.
type Stats struct {
	Name    string `json:"name"`
	Members int    `json:"members"`
}

// Registry maps room names to rooms. Rooms are created on first use and
// live as long as the registry.
type Registry struct {
	resolver Resolver

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewRegistry creates an empty registry whose rooms resolve members
// through resolver.
func NewRegistry(resolver Resolver) *Registry {
	return &Registry{
		resolver: resolver,
		rooms:    make(map[string]*Room),
	}
}

// FindOrCreate returns the room called name, creating it if needed.
func (g *Registry) FindOrCreate(name string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r, ok := g.rooms[name]; ok {
		return r
	}
	r := New(name, g.resolver)
	g.rooms[name] = r
	return r
}

// Len returns the number of rooms created so far.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// Stats returns per-room member counts sorted by room name.
func (g *Registry) Stats() []Stats {
	g.mu.Lock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.Unlock()

	stats := make([]Stats, 0, len(rooms))
	for _, r := range rooms {
		stats = append(stats, Stats{Name: r.Name(), Members: r.Len()})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}
