package room

import (
	"sync"
	"testing"

	"github.com/Tyrowin/relaychat/internal/users"
	"github.com/stretchr/testify/assert"
)

// TestRegistryFindOrCreate verifies a name always maps to the same room.
func TestRegistryFindOrCreate(t *testing.T) {
	g := NewRegistry(users.NewDirectory())

	a := g.FindOrCreate("general")
	b := g.FindOrCreate("general")
	c := g.FindOrCreate("random")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, g.Len())
}

// TestRegistryConcurrentFindOrCreate verifies concurrent callers for the
// same name converge on one room.
func TestRegistryConcurrentFindOrCreate(t *testing.T) {
	g := NewRegistry(users.NewDirectory())

	const workers = 32
	results := make([]*Room, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = g.FindOrCreate("general")
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Same(t, results[0], r)
	}
	assert.Equal(t, 1, g.Len())
}

// TestRegistryStats verifies the sorted per-room snapshot, including
// rooms that have emptied out.
func TestRegistryStats(t *testing.T) {
	dir := users.NewDirectory()
	g := NewRegistry(dir)

	general := g.FindOrCreate("general")
	general.AddMember(dir.Register("alice"))
	general.AddMember(dir.Register("bob"))
	g.FindOrCreate("empty")

	assert.Equal(t, []Stats{
		{Name: "empty", Members: 0},
		{Name: "general", Members: 2},
	}, g.Stats())
}
