package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chathub/internal/auth"
	"github.com/npezzotti/go-chathub/internal/database"
	"github.com/npezzotti/go-chathub/internal/stats"
	"github.com/npezzotti/go-chathub/internal/types"
	"golang.org/x/time/rate"
)

const (
	statActiveClients    = "NumActiveClients"
	statOnlineUsers      = "NumOnlineUsers"
	statActiveRooms      = "NumActiveRooms"
	statDeliveryFailures = "NumDeliveryFailures"
)

var ErrServerClosed = errors.New("chat server closed")

// Verifier turns a connection credential into a user id.
type Verifier interface {
	Verify(credential string) (int, error)
}

type Options struct {
	TypingTimeout  time.Duration
	SendTimeout    time.Duration
	SendBufferSize int
	SignalRate     rate.Limit
	SignalBurst    int
}

func DefaultOptions() Options {
	return Options{
		TypingTimeout:  defaultTypingTimeout,
		SendTimeout:    time.Second,
		SendBufferSize: 256,
		SignalRate:     20,
		SignalBurst:    40,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.TypingTimeout <= 0 {
		o.TypingTimeout = def.TypingTimeout
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = def.SendTimeout
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = def.SendBufferSize
	}
	if o.SignalRate <= 0 {
		o.SignalRate = def.SignalRate
	}
	if o.SignalBurst <= 0 {
		o.SignalBurst = def.SignalBurst
	}
	return o
}

// ChatServer owns the live connections and routes their signals and the
// committed domain events through the dispatcher.
type ChatServer struct {
	log        *log.Logger
	db         database.ChatRepository
	verifier   Verifier
	stats      stats.StatsProvider
	opts       Options
	presence   *PresenceRegistry
	rooms      *RoomMultiplexer
	dispatcher *Dispatcher

	mu      sync.Mutex
	closing bool
	pumps   sync.WaitGroup
}

func NewChatServer(logger *log.Logger, db database.ChatRepository, verifier Verifier, su stats.StatsProvider, opts Options) (*ChatServer, error) {
	if db == nil {
		return nil, errors.New("nil chat repository")
	}
	if verifier == nil {
		return nil, errors.New("nil verifier")
	}

	for _, name := range []string{statActiveClients, statOnlineUsers, statActiveRooms, statDeliveryFailures} {
		su.RegisterMetric(name)
	}

	opts = opts.withDefaults()
	presence := NewPresenceRegistry()
	rooms := NewRoomMultiplexer(presence, su)

	return &ChatServer{
		log:        logger,
		db:         db,
		verifier:   verifier,
		stats:      su,
		opts:       opts,
		presence:   presence,
		rooms:      rooms,
		dispatcher: NewDispatcher(logger, db, presence, rooms, su, opts.TypingTimeout, opts.SendTimeout),
	}, nil
}

// Authenticate resolves a credential to its user. Bad credentials and
// unknown users fail with auth.ErrAuthenticationRejected.
func (cs *ChatServer) Authenticate(credential string) (types.User, error) {
	userId, err := cs.verifier.Verify(credential)
	if err != nil {
		return types.User{}, err
	}

	user, err := cs.db.GetAccountById(userId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return types.User{}, fmt.Errorf("%w: unknown user %d", auth.ErrAuthenticationRejected, userId)
		}
		return types.User{}, fmt.Errorf("get account: %w", err)
	}

	return types.User{
		Id:           user.Id,
		Username:     user.Username,
		EmailAddress: user.EmailAddress,
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	}, nil
}

// Serve registers an upgraded connection for user and starts its pumps.
func (cs *ChatServer) Serve(user types.User, conn *websocket.Conn) error {
	cs.mu.Lock()
	if cs.closing {
		cs.mu.Unlock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return ErrServerClosed
	}

	c := NewClient(user, conn, cs)
	cs.register(c)
	cs.pumps.Add(2)
	cs.mu.Unlock()

	c.queueMessage(NewEvent(EventConnected, Connected{ConnectionId: c.id, User: user}))

	go func() {
		defer cs.pumps.Done()
		c.Write()
	}()
	go func() {
		defer cs.pumps.Done()
		c.Read()
	}()

	return nil
}

func (cs *ChatServer) register(c *Client) {
	if cs.presence.Register(c) {
		cs.stats.Incr(statOnlineUsers)
	}
	cs.stats.Incr(statActiveClients)
	cs.log.Printf("connection %s opened for %q", c.id, c.user.Username)
}

// disconnect removes c from presence, which hides it from every room at
// once, and then clears its subscriptions.
func (cs *ChatServer) disconnect(c *Client) {
	if cs.presence.Unregister(c.id) {
		cs.stats.Decr(statOnlineUsers)
	}
	cs.rooms.LeaveAll(c)
	cs.stats.Decr(statActiveClients)
	cs.log.Printf("connection %s closed for %q", c.id, c.user.Username)
}

// Commit runs a store write on the chat's lane and dispatches the event it
// returns. A failed write dispatches nothing.
func (cs *ChatServer) Commit(chatId string, write func() (DomainEvent, error)) error {
	return cs.dispatcher.Commit(chatId, write)
}

// Publish dispatches an event whose write has already committed.
func (cs *ChatServer) Publish(evt DomainEvent) {
	cs.dispatcher.Publish(evt)
}

func (cs *ChatServer) IsOnline(userId int) bool {
	return cs.presence.IsOnline(userId)
}

// Shutdown tells every connection to disconnect, closes it and waits for
// its pumps to exit or for ctx to end.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")

	cs.mu.Lock()
	cs.closing = true
	cs.mu.Unlock()

	cs.dispatcher.typing.StopAll()

	for _, c := range cs.presence.All() {
		c.queueMessage(NewEvent(EventDisconnect, nil))
		c.close(true)
	}

	done := make(chan struct{})
	go func() {
		cs.pumps.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
