package server

import (
	"errors"
	"sync"

	"github.com/npezzotti/go-chathub/internal/stats"
)

var ErrConnectionClosed = errors.New("connection closed")

// RoomMultiplexer tracks which connections have joined which chats. It
// stores connection ids only and resolves them through the presence
// registry, so a connection removed from presence disappears from every
// room at the same instant. It does not authorize joins.
type RoomMultiplexer struct {
	presence *PresenceRegistry
	stats    stats.StatsProvider
	rooms    sync.Map // chat id -> *chatRoom
}

type chatRoom struct {
	mu    sync.Mutex
	conns map[string]struct{}
	dead  bool
}

func NewRoomMultiplexer(presence *PresenceRegistry, su stats.StatsProvider) *RoomMultiplexer {
	return &RoomMultiplexer{
		presence: presence,
		stats:    su,
	}
}

func (rm *RoomMultiplexer) loadOrCreate(chatId string) *chatRoom {
	v, loaded := rm.rooms.LoadOrStore(chatId, &chatRoom{conns: make(map[string]struct{})})
	if !loaded {
		rm.stats.Incr(statActiveRooms)
	}
	return v.(*chatRoom)
}

// retire drops an empty room. Must hold r.mu.
func (rm *RoomMultiplexer) retire(chatId string, r *chatRoom) {
	r.dead = true
	if rm.rooms.CompareAndDelete(chatId, r) {
		rm.stats.Decr(statActiveRooms)
	}
}

// Join subscribes c to chatId, creating the room on first join. Joining
// twice is a no-op. A closed connection is refused with ErrConnectionClosed.
func (rm *RoomMultiplexer) Join(chatId string, c *Client) error {
	for {
		r := rm.loadOrCreate(chatId)

		r.mu.Lock()
		if r.dead {
			r.mu.Unlock()
			continue
		}

		// lock order: room, then client
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			if len(r.conns) == 0 {
				rm.retire(chatId, r)
			}
			r.mu.Unlock()
			return ErrConnectionClosed
		}

		r.conns[c.id] = struct{}{}
		c.joined[chatId] = struct{}{}
		c.mu.Unlock()
		r.mu.Unlock()

		return nil
	}
}

// Leave unsubscribes c from chatId and reports whether it was joined.
func (rm *RoomMultiplexer) Leave(chatId string, c *Client) bool {
	v, ok := rm.rooms.Load(chatId)
	if !ok {
		c.forget(chatId)
		return false
	}
	r := v.(*chatRoom)

	r.mu.Lock()
	defer r.mu.Unlock()

	c.forget(chatId)

	if r.dead {
		return false
	}

	if _, ok := r.conns[c.id]; !ok {
		return false
	}

	delete(r.conns, c.id)
	if len(r.conns) == 0 {
		rm.retire(chatId, r)
	}

	return true
}

// LeaveAll unsubscribes c from every chat it joined.
func (rm *RoomMultiplexer) LeaveAll(c *Client) {
	for _, chatId := range c.joinedChats() {
		rm.Leave(chatId, c)
	}
}

// Drop removes the room for chatId together with every subscription to it.
func (rm *RoomMultiplexer) Drop(chatId string) {
	v, ok := rm.rooms.Load(chatId)
	if !ok {
		return
	}
	r := v.(*chatRoom)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dead {
		return
	}

	for connId := range r.conns {
		if c, ok := rm.presence.Lookup(connId); ok {
			c.forget(chatId)
		}
	}

	r.conns = make(map[string]struct{})
	rm.retire(chatId, r)
}

// MembersOf returns a snapshot of the live connections joined to chatId.
func (rm *RoomMultiplexer) MembersOf(chatId string) []*Client {
	v, ok := rm.rooms.Load(chatId)
	if !ok {
		return nil
	}
	r := v.(*chatRoom)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dead {
		return nil
	}

	members := make([]*Client, 0, len(r.conns))
	for connId := range r.conns {
		if c, ok := rm.presence.Lookup(connId); ok {
			members = append(members, c)
		}
	}

	return members
}

func (rm *RoomMultiplexer) IsJoined(chatId, connId string) bool {
	v, ok := rm.rooms.Load(chatId)
	if !ok {
		return false
	}
	r := v.(*chatRoom)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dead {
		return false
	}

	if _, ok := r.conns[connId]; !ok {
		return false
	}

	_, live := rm.presence.Lookup(connId)
	return live
}

// Len returns the number of rooms with at least one subscriber.
func (rm *RoomMultiplexer) Len() int {
	n := 0
	rm.rooms.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
