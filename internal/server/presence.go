package server

import (
	"sync"

	"github.com/samber/lo"
)

// PresenceRegistry maps each user to the set of its live connections.
// A user may hold several connections at once (tabs, devices).
type PresenceRegistry struct {
	users sync.Map // user id -> *presenceEntry
	conns sync.Map // connection id -> *Client
}

type presenceEntry struct {
	mu    sync.Mutex
	conns map[string]*Client
	// dead is set once the entry has been removed from users; a
	// registration that loaded it must retry with a fresh entry.
	dead bool
}

func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{}
}

// Register adds c to its user's connection set and reports whether the
// user came online. Registering the same connection twice is a no-op.
func (p *PresenceRegistry) Register(c *Client) bool {
	for {
		v, _ := p.users.LoadOrStore(c.user.Id, &presenceEntry{conns: make(map[string]*Client)})
		e := v.(*presenceEntry)

		e.mu.Lock()
		if e.dead {
			e.mu.Unlock()
			continue
		}

		if _, ok := e.conns[c.id]; ok {
			e.mu.Unlock()
			return false
		}

		online := len(e.conns) == 0
		e.conns[c.id] = c
		p.conns.Store(c.id, c)
		e.mu.Unlock()

		return online
	}
}

// Unregister removes the connection and reports whether its user went
// offline. Unknown or already removed connections are ignored.
func (p *PresenceRegistry) Unregister(connId string) bool {
	v, ok := p.conns.Load(connId)
	if !ok {
		return false
	}
	userId := v.(*Client).user.Id

	ev, ok := p.users.Load(userId)
	if !ok {
		return false
	}
	e := ev.(*presenceEntry)

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.conns[connId]; !ok {
		return false
	}

	p.conns.Delete(connId)
	delete(e.conns, connId)

	if len(e.conns) == 0 {
		e.dead = true
		p.users.CompareAndDelete(userId, e)
		return true
	}

	return false
}

// ConnectionsOf returns a snapshot of the user's live connections. An
// unknown user has none.
func (p *PresenceRegistry) ConnectionsOf(userId int) []*Client {
	v, ok := p.users.Load(userId)
	if !ok {
		return nil
	}
	e := v.(*presenceEntry)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dead {
		return nil
	}
	return lo.Values(e.conns)
}

// Lookup resolves a connection id to its live connection.
func (p *PresenceRegistry) Lookup(connId string) (*Client, bool) {
	v, ok := p.conns.Load(connId)
	if !ok {
		return nil, false
	}
	return v.(*Client), true
}

func (p *PresenceRegistry) IsOnline(userId int) bool {
	return len(p.ConnectionsOf(userId)) > 0
}

// All returns every live connection.
func (p *PresenceRegistry) All() []*Client {
	var clients []*Client
	p.conns.Range(func(_, v any) bool {
		clients = append(clients, v.(*Client))
		return true
	})
	return clients
}

// Len returns the number of live connections.
func (p *PresenceRegistry) Len() int {
	n := 0
	p.conns.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
