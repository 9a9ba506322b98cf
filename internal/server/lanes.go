package server

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const laneShards = 64

// chatLanes is a mutex keyed by chat id. Work for one chat runs in
// order; work for different chats never waits on each other. The lane
// table is sharded by chat id hash so bookkeeping for unrelated chats
// does not contend on one lock.
type chatLanes struct {
	shards [laneShards]laneShard
}

type laneShard struct {
	mu    sync.Mutex
	lanes map[string]*lane
}

type lane struct {
	mu   sync.Mutex
	refs int
}

func newChatLanes() *chatLanes {
	l := &chatLanes{}
	for i := range l.shards {
		l.shards[i].lanes = make(map[string]*lane)
	}
	return l
}

func (l *chatLanes) shard(chatId string) *laneShard {
	return &l.shards[xxhash.Sum64String(chatId)%laneShards]
}

// lock acquires the lane for chatId and returns its release func.
func (l *chatLanes) lock(chatId string) func() {
	sh := l.shard(chatId)

	sh.mu.Lock()
	ln, ok := sh.lanes[chatId]
	if !ok {
		ln = &lane{}
		sh.lanes[chatId] = ln
	}
	ln.refs++
	sh.mu.Unlock()

	ln.mu.Lock()

	return func() {
		ln.mu.Unlock()

		sh.mu.Lock()
		ln.refs--
		if ln.refs == 0 {
			delete(sh.lanes, chatId)
		}
		sh.mu.Unlock()
	}
}

func (l *chatLanes) do(chatId string, fn func()) {
	unlock := l.lock(chatId)
	defer unlock()
	fn()
}

func (l *chatLanes) len() int {
	n := 0
	for i := range l.shards {
		sh := &l.shards[i]
		sh.mu.Lock()
		n += len(sh.lanes)
		sh.mu.Unlock()
	}
	return n
}
