package server

import (
	"net/http"
	"time"

	"github.com/npezzotti/go-chathub/internal/types"
)

// Event names carried in the "event" field of every envelope.
const (
	EventConnected       = "connected"
	EventDisconnect      = "disconnect"
	EventJoinChat        = "joinChat"
	EventLeaveChat       = "leaveChat"
	EventNewChat         = "newChat"
	EventTyping          = "typing"
	EventStopTyping      = "stopTyping"
	EventMessageReceived = "messageReceived"
	EventMessageDeleted  = "messageDeleted"
	EventUpdateGroupName = "updateGroupName"
	EventResponse        = "response"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is a signal read from a connection, e.g.
// {"id":1,"event":"joinChat","chat_id":"x1y2"}.
type ClientMessage struct {
	Id     int    `json:"id,omitempty"`
	Event  string `json:"event"`
	ChatId string `json:"chat_id"`
}

type ServerMessage struct {
	BaseMessage
	Event string `json:"event"`
	// Active is set on message events only: true when the receiving
	// connection has joined the chat, false for an unread notification.
	Active   *bool     `json:"active,omitempty"`
	Response *Response `json:"response,omitempty"`
	Data     any       `json:"data,omitempty"`
}

type Response struct {
	ResponseCode int            `json:"response_code"`
	Error        string         `json:"error,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

type Connected struct {
	ConnectionId string     `json:"connection_id"`
	User         types.User `json:"user"`
}

type TypingNotice struct {
	ChatId string `json:"chat_id"`
	UserId int    `json:"user_id"`
}

func NewEvent(event string, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Event: event,
		Data:  data,
	}
}

// withActive returns a copy of msg tagged for a joined or unjoined receiver.
func (msg *ServerMessage) withActive(active bool) *ServerMessage {
	cp := *msg
	cp.Active = &active
	return &cp
}

func newResponse(id, code int, errMsg string, data map[string]any) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Event: EventResponse,
		Response: &Response{
			ResponseCode: code,
			Error:        errMsg,
			Data:         data,
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func NoErrOK(id int, data map[string]any) *ServerMessage {
	return newResponse(id, http.StatusOK, "", data)
}

func ErrInvalidMessage(id int) *ServerMessage {
	return newResponse(id, http.StatusBadRequest, "invalid message format", nil)
}

func ErrUnknownEvent(id int) *ServerMessage {
	return newResponse(id, http.StatusBadRequest, "unknown event", nil)
}

func ErrForbidden(id int) *ServerMessage {
	return newResponse(id, http.StatusForbidden, "not a participant of this chat", nil)
}

func ErrNotJoined(id int) *ServerMessage {
	return newResponse(id, http.StatusConflict, "chat not joined", nil)
}

func ErrTooManyRequests(id int) *ServerMessage {
	return newResponse(id, http.StatusTooManyRequests, "too many requests", nil)
}

func ErrInternalError(id int) *ServerMessage {
	return newResponse(id, http.StatusInternalServerError, "internal server error", nil)
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
