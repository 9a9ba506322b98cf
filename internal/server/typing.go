package server

import (
	"sync"
	"time"
)

const defaultTypingTimeout = 3 * time.Second

type typingKey struct {
	chatId string
	userId int
}

type typingEntry struct {
	mu     sync.Mutex
	timer  *time.Timer
	gen    uint64
	connId string
	dead   bool
}

// TypingCoordinator holds per (chat, user) typing state. Each pair has at
// most one pending expiry timer; a new Start replaces it.
type TypingCoordinator struct {
	timeout time.Duration
	states  sync.Map // typingKey -> *typingEntry
	// serialize runs expiry work for a chat; the dispatcher passes its
	// lane so expiries are ordered with other events of the chat.
	serialize func(chatId string, fn func())
	onExpire  func(chatId string, userId int, connId string)
}

func NewTypingCoordinator(timeout time.Duration, serialize func(chatId string, fn func()), onExpire func(chatId string, userId int, connId string)) *TypingCoordinator {
	if timeout <= 0 {
		timeout = defaultTypingTimeout
	}
	if serialize == nil {
		serialize = func(_ string, fn func()) { fn() }
	}

	return &TypingCoordinator{
		timeout:   timeout,
		serialize: serialize,
		onExpire:  onExpire,
	}
}

// Start marks userId as typing in chatId from connection connId and
// (re)arms the expiry timer. It reports whether the pair was idle.
func (tc *TypingCoordinator) Start(chatId string, userId int, connId string) bool {
	key := typingKey{chatId: chatId, userId: userId}

	for {
		v, _ := tc.states.LoadOrStore(key, &typingEntry{})
		e := v.(*typingEntry)

		e.mu.Lock()
		if e.dead {
			e.mu.Unlock()
			continue
		}

		idle := e.timer == nil
		if e.timer != nil {
			e.timer.Stop()
		}

		e.gen++
		gen := e.gen
		e.connId = connId
		e.timer = time.AfterFunc(tc.timeout, func() {
			tc.expire(key, e, gen)
		})
		e.mu.Unlock()

		return idle
	}
}

// Stop cancels the pair's timer. It returns the connection that last
// signalled typing and whether the pair was typing at all.
func (tc *TypingCoordinator) Stop(chatId string, userId int) (string, bool) {
	key := typingKey{chatId: chatId, userId: userId}

	v, ok := tc.states.Load(key)
	if !ok {
		return "", false
	}
	e := v.(*typingEntry)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dead {
		return "", false
	}

	connId := e.connId
	tc.retire(key, e)
	return connId, true
}

func (tc *TypingCoordinator) IsTyping(chatId string, userId int) bool {
	v, ok := tc.states.Load(typingKey{chatId: chatId, userId: userId})
	if !ok {
		return false
	}
	e := v.(*typingEntry)

	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.dead
}

// StopAll cancels every pending timer without firing callbacks.
func (tc *TypingCoordinator) StopAll() {
	tc.states.Range(func(k, v any) bool {
		e := v.(*typingEntry)
		e.mu.Lock()
		if !e.dead {
			tc.retire(k.(typingKey), e)
		}
		e.mu.Unlock()
		return true
	})
}

func (tc *TypingCoordinator) expire(key typingKey, e *typingEntry, gen uint64) {
	tc.serialize(key.chatId, func() {
		e.mu.Lock()
		if e.dead || e.gen != gen {
			e.mu.Unlock()
			return
		}
		connId := e.connId
		tc.retire(key, e)
		e.mu.Unlock()

		if tc.onExpire != nil {
			tc.onExpire(key.chatId, key.userId, connId)
		}
	})
}

// retire stops the timer and removes the entry. Must hold e.mu.
func (tc *TypingCoordinator) retire(key typingKey, e *typingEntry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.dead = true
	tc.states.CompareAndDelete(key, e)
}
