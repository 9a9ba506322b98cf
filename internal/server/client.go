package server

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chathub/internal/types"
	"github.com/samber/lo"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 1024
)

var errSendTimeout = errors.New("send timed out")

// Client is one live websocket connection of a user.
type Client struct {
	id         string
	user       types.User
	createdAt  time.Time
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	send       chan *ServerMessage
	stop       chan struct{}
	limiter    *rate.Limiter

	mu       sync.Mutex
	joined   map[string]struct{}
	closed   bool
	graceful bool
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer) *Client {
	return &Client{
		id:         uuid.NewString(),
		user:       user,
		createdAt:  time.Now(),
		conn:       conn,
		chatServer: cs,
		log:        cs.log,
		send:       make(chan *ServerMessage, cs.opts.SendBufferSize),
		stop:       make(chan struct{}),
		limiter:    rate.NewLimiter(cs.opts.SignalRate, cs.opts.SignalBurst),
		joined:     make(map[string]struct{}),
	}
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) User() types.User {
	return c.user
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.close(false)
	}()

	for {
		select {
		case msg := <-c.send:
			if !c.writeMessage(msg) {
				return
			}
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		case <-c.stop:
			if c.isGraceful() {
				c.flush()
			}
			c.sendMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.close(false)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		if !c.limiter.Allow() {
			c.queueMessage(ErrTooManyRequests(msg.Id))
			continue
		}

		c.chatServer.dispatcher.HandleSignal(c, &msg)
	}
}

// queueMessage enqueues a reply without blocking.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Printf("failed to send message to connection %s, channel is full", c.id)
		return false
	}

	return true
}

// deliver enqueues msg, waiting at most timeout for room in the queue.
func (c *Client) deliver(msg *ServerMessage, timeout time.Duration) error {
	if c.isClosed() {
		return ErrConnectionClosed
	}

	select {
	case c.send <- msg:
		return nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c.send <- msg:
		return nil
	case <-c.stop:
		return ErrConnectionClosed
	case <-timer.C:
		return errSendTimeout
	}
}

// flush writes whatever is already queued.
func (c *Client) flush() {
	for {
		select {
		case msg := <-c.send:
			if !c.writeMessage(msg) {
				return
			}
		default:
			return
		}
	}
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) writeMessage(msg *ServerMessage) bool {
	bytes, err := serializeMessage(msg)
	if err != nil {
		c.log.Println("failed to serialize message:", err)
		return true
	}

	return c.sendMessage(websocket.TextMessage, bytes)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

// close tears the connection down: it leaves presence and every room,
// then stops the pumps. When graceful, queued messages are flushed first.
// Calling it more than once is safe.
func (c *Client) close(graceful bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.graceful = graceful
	c.mu.Unlock()

	if c.chatServer != nil {
		c.chatServer.disconnect(c)
	}
	close(c.stop)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) isGraceful() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.graceful
}

func (c *Client) forget(chatId string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.joined, chatId)
}

func (c *Client) joinedChats() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return lo.Keys(c.joined)
}
