package server

import (
	"fmt"
	"sync"
	"testing"

	"github.com/npezzotti/go-chathub/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBareClient(id string, userId int) *Client {
	return &Client{
		id:     id,
		user:   types.User{Id: userId},
		send:   make(chan *ServerMessage, 8),
		stop:   make(chan struct{}),
		joined: make(map[string]struct{}),
	}
}

func connIds(clients []*Client) []string {
	ids := make([]string, len(clients))
	for i, c := range clients {
		ids[i] = c.id
	}
	return ids
}

func TestPresenceRegistry_Register(t *testing.T) {
	p := NewPresenceRegistry()
	tab1 := newBareClient("tab1", 1)
	tab2 := newBareClient("tab2", 1)

	assert.True(t, p.Register(tab1), "expected first connection to bring the user online")
	assert.False(t, p.Register(tab2), "expected second connection not to change presence")
	assert.False(t, p.Register(tab1), "expected registering the same connection twice to be a no-op")

	assert.ElementsMatch(t, []string{"tab1", "tab2"}, connIds(p.ConnectionsOf(1)))
	assert.Equal(t, 2, p.Len())
	assert.True(t, p.IsOnline(1))

	c, ok := p.Lookup("tab2")
	require.True(t, ok)
	assert.Same(t, tab2, c)
}

func TestPresenceRegistry_Unregister(t *testing.T) {
	p := NewPresenceRegistry()
	tab1 := newBareClient("tab1", 1)
	tab2 := newBareClient("tab2", 1)
	p.Register(tab1)
	p.Register(tab2)

	assert.False(t, p.Unregister("tab1"), "expected user to stay online with one connection left")
	assert.Equal(t, []string{"tab2"}, connIds(p.ConnectionsOf(1)))

	_, ok := p.Lookup("tab1")
	assert.False(t, ok, "expected unregistered connection to be gone")

	assert.True(t, p.Unregister("tab2"), "expected last connection to take the user offline")
	assert.False(t, p.IsOnline(1))
	assert.Empty(t, p.ConnectionsOf(1))

	assert.False(t, p.Unregister("tab2"), "expected second unregister to be a no-op")
	assert.False(t, p.Unregister("unknown"))

	// a user coming back gets a fresh entry
	assert.True(t, p.Register(newBareClient("tab3", 1)))
	assert.Equal(t, []string{"tab3"}, connIds(p.ConnectionsOf(1)))
}

func TestPresenceRegistry_UnknownUser(t *testing.T) {
	p := NewPresenceRegistry()
	assert.Empty(t, p.ConnectionsOf(42), "expected unknown user to have no connections")
	assert.False(t, p.IsOnline(42))
}

func TestPresenceRegistry_SnapshotIsStable(t *testing.T) {
	p := NewPresenceRegistry()
	p.Register(newBareClient("tab1", 1))
	p.Register(newBareClient("tab2", 1))

	snapshot := p.ConnectionsOf(1)
	p.Unregister("tab1")

	assert.Len(t, snapshot, 2, "expected snapshot to be unaffected by later removals")
	assert.Len(t, p.ConnectionsOf(1), 1)
}

func TestPresenceRegistry_Concurrent(t *testing.T) {
	p := NewPresenceRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("conn%d", i)
			p.Register(newBareClient(id, i%3))
			p.ConnectionsOf(i % 3)
			if i%2 == 0 {
				p.Unregister(id)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 25, p.Len(), "expected odd connections to remain registered")
	total := 0
	for userId := 0; userId < 3; userId++ {
		total += len(p.ConnectionsOf(userId))
	}
	assert.Equal(t, 25, total, "expected per-user sets to agree with the connection index")
	assert.Len(t, p.All(), 25)
}
