package server

import (
	"errors"
	"log"
	"time"

	"github.com/npezzotti/go-chathub/internal/database"
	"github.com/npezzotti/go-chathub/internal/stats"
	"github.com/samber/lo"
)

// Dispatcher turns connection signals and committed domain events into
// deliveries. All work for one chat runs on that chat's lane, so every
// connection sees a chat's events in commit order.
type Dispatcher struct {
	log         *log.Logger
	db          database.ChatRepository
	presence    *PresenceRegistry
	rooms       *RoomMultiplexer
	typing      *TypingCoordinator
	lanes       *chatLanes
	stats       stats.StatsProvider
	sendTimeout time.Duration
}

func NewDispatcher(logger *log.Logger, db database.ChatRepository, presence *PresenceRegistry, rooms *RoomMultiplexer, su stats.StatsProvider, typingTimeout, sendTimeout time.Duration) *Dispatcher {
	d := &Dispatcher{
		log:         logger,
		db:          db,
		presence:    presence,
		rooms:       rooms,
		lanes:       newChatLanes(),
		stats:       su,
		sendTimeout: sendTimeout,
	}
	d.typing = NewTypingCoordinator(typingTimeout, d.lanes.do, d.typingExpired)

	return d
}

// HandleSignal routes a signal read from c.
func (d *Dispatcher) HandleSignal(c *Client, msg *ClientMessage) {
	if msg.ChatId == "" {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	switch msg.Event {
	case EventJoinChat:
		d.JoinChat(c, msg)
	case EventLeaveChat:
		d.LeaveChat(c, msg)
	case EventTyping:
		d.Typing(c, msg)
	case EventStopTyping:
		d.StopTyping(c, msg)
	default:
		c.queueMessage(ErrUnknownEvent(msg.Id))
	}
}

// JoinChat subscribes c to the chat if its user is a participant. The
// check and the join share the chat's lane with removals, so a removed
// user cannot slip back in.
func (d *Dispatcher) JoinChat(c *Client, msg *ClientMessage) {
	var resp *ServerMessage

	d.lanes.do(msg.ChatId, func() {
		ok, err := d.db.IsParticipant(msg.ChatId, c.user.Id)
		if err != nil {
			d.log.Printf("is participant %q: %v", msg.ChatId, err)
			resp = ErrInternalError(msg.Id)
			return
		}

		if !ok {
			d.log.Printf("user %d is not a participant of chat %q", c.user.Id, msg.ChatId)
			resp = ErrForbidden(msg.Id)
			return
		}

		if err := d.rooms.Join(msg.ChatId, c); err != nil {
			return
		}

		resp = NoErrOK(msg.Id, map[string]any{"chat_id": msg.ChatId})
	})

	if resp != nil {
		c.queueMessage(resp)
	}
}

func (d *Dispatcher) LeaveChat(c *Client, msg *ClientMessage) {
	d.rooms.Leave(msg.ChatId, c)
	c.queueMessage(NoErrOK(msg.Id, map[string]any{"chat_id": msg.ChatId}))
}

func (d *Dispatcher) Typing(c *Client, msg *ClientMessage) {
	d.lanes.do(msg.ChatId, func() {
		if !d.rooms.IsJoined(msg.ChatId, c.id) {
			c.queueMessage(ErrNotJoined(msg.Id))
			return
		}

		d.typing.Start(msg.ChatId, c.user.Id, c.id)
		d.broadcast(msg.ChatId, c.id, NewEvent(EventTyping, TypingNotice{ChatId: msg.ChatId, UserId: c.user.Id}))
	})
}

func (d *Dispatcher) StopTyping(c *Client, msg *ClientMessage) {
	d.lanes.do(msg.ChatId, func() {
		if _, ok := d.typing.Stop(msg.ChatId, c.user.Id); ok {
			d.broadcast(msg.ChatId, c.id, NewEvent(EventStopTyping, TypingNotice{ChatId: msg.ChatId, UserId: c.user.Id}))
		}
	})
}

// typingExpired runs on the chat's lane.
func (d *Dispatcher) typingExpired(chatId string, userId int, connId string) {
	d.broadcast(chatId, connId, NewEvent(EventStopTyping, TypingNotice{ChatId: chatId, UserId: userId}))
}

// Publish fans out an event whose write is already committed.
func (d *Dispatcher) Publish(evt DomainEvent) {
	d.lanes.do(evt.ChatId(), func() {
		d.fanOut(evt)
	})
}

// Commit runs write on the chat's lane and fans out the event it returns.
// Nothing is dispatched when write fails; its error is returned as is.
func (d *Dispatcher) Commit(chatId string, write func() (DomainEvent, error)) error {
	unlock := d.lanes.lock(chatId)
	defer unlock()

	evt, err := write()
	if err != nil {
		return err
	}

	if evt != nil {
		d.fanOut(evt)
	}

	return nil
}

// fanOut must run on the event's lane.
func (d *Dispatcher) fanOut(evt DomainEvent) {
	chatId := evt.ChatId()

	switch e := evt.(type) {
	case MessageSent:
		d.stopTyping(chatId, e.Message.Sender.Id)
		d.notifyChat(chatId, e.Participants, NewEvent(EventMessageReceived, e.Message))
	case MessageDeleted:
		d.notifyChat(chatId, e.Participants, NewEvent(EventMessageDeleted, e.Message))
	case ChatCreated:
		d.notifyUsers(lo.Without(e.Chat.ParticipantIds(), e.CreatorId), NewEvent(EventNewChat, e.Chat))
	case ChatRenamed:
		d.notifyUsers(e.Chat.ParticipantIds(), NewEvent(EventUpdateGroupName, e.Chat))
	case ParticipantAdded:
		d.notifyUsers([]int{e.UserId}, NewEvent(EventNewChat, e.Chat))
		d.notifyUsers(lo.Without(e.Chat.ParticipantIds(), e.UserId), NewEvent(EventUpdateGroupName, e.Chat))
	case ParticipantRemoved:
		for _, c := range d.presence.ConnectionsOf(e.UserId) {
			d.rooms.Leave(chatId, c)
		}
		d.stopTyping(chatId, e.UserId)
		d.notifyUsers([]int{e.UserId}, NewEvent(EventLeaveChat, e.Chat))
		d.notifyUsers(lo.Without(e.Chat.ParticipantIds(), e.UserId), NewEvent(EventUpdateGroupName, e.Chat))
	case ChatDeleted:
		participants := e.Chat.ParticipantIds()
		d.rooms.Drop(chatId)
		for _, userId := range participants {
			d.typing.Stop(chatId, userId)
		}
		d.notifyUsers(participants, NewEvent(EventLeaveChat, e.Chat))
	default:
		d.log.Printf("unhandled domain event %T for chat %q", evt, chatId)
	}
}

// stopTyping clears the user's typing state and tells the room.
func (d *Dispatcher) stopTyping(chatId string, userId int) {
	if connId, ok := d.typing.Stop(chatId, userId); ok {
		d.broadcast(chatId, connId, NewEvent(EventStopTyping, TypingNotice{ChatId: chatId, UserId: userId}))
	}
}

// broadcast delivers msg to the chat's joined connections except exceptConnId.
func (d *Dispatcher) broadcast(chatId, exceptConnId string, msg *ServerMessage) {
	targets := lo.Reject(d.rooms.MembersOf(chatId), func(c *Client, _ int) bool {
		return c.id == exceptConnId
	})
	d.deliverAll(targets, msg)
}

// notifyChat delivers a message event to the chat's joined connections,
// tagged active, and to every other connection of its participants,
// tagged inactive.
func (d *Dispatcher) notifyChat(chatId string, participants []int, msg *ServerMessage) {
	members := d.rooms.MembersOf(chatId)
	joined := lo.KeyBy(members, func(c *Client) string {
		return c.id
	})

	elsewhere := lo.Reject(d.connectionsOf(participants), func(c *Client, _ int) bool {
		_, ok := joined[c.id]
		return ok
	})

	d.deliverAll(members, msg.withActive(true))
	d.deliverAll(elsewhere, msg.withActive(false))
}

func (d *Dispatcher) notifyUsers(userIds []int, msg *ServerMessage) {
	d.deliverAll(d.connectionsOf(userIds), msg)
}

func (d *Dispatcher) connectionsOf(userIds []int) []*Client {
	return lo.FlatMap(lo.Uniq(userIds), func(userId int, _ int) []*Client {
		return d.presence.ConnectionsOf(userId)
	})
}

// deliverAll sends msg to every target. A target that cannot take it in
// time is torn down; the others still receive it.
func (d *Dispatcher) deliverAll(targets []*Client, msg *ServerMessage) {
	for _, c := range targets {
		err := c.deliver(msg, d.sendTimeout)
		if err == nil || errors.Is(err, ErrConnectionClosed) {
			continue
		}

		d.log.Printf("deliver %s to connection %s: %v", msg.Event, c.id, err)
		d.stats.Incr(statDeliveryFailures)
		c.close(false)
	}
}
