package server

import "github.com/npezzotti/go-chathub/internal/types"

// DomainEvent is a committed change to a chat that must be fanned out to
// connected participants.
type DomainEvent interface {
	ChatId() string
}

// ChatCreated carries a new group or one-on-one chat. The creator learns
// about it from its own request, so it is not notified.
type ChatCreated struct {
	Chat      types.Chat
	CreatorId int
}

type ChatRenamed struct {
	Chat types.Chat
}

// ChatDeleted carries the chat as it was before deletion.
type ChatDeleted struct {
	Chat types.Chat
}

// ParticipantAdded carries the chat after UserId was added.
type ParticipantAdded struct {
	Chat   types.Chat
	UserId int
}

// ParticipantRemoved carries the chat after UserId was removed by the
// admin, or left on its own when Left is set.
type ParticipantRemoved struct {
	Chat   types.Chat
	UserId int
	Left   bool
}

type MessageSent struct {
	Message      types.Message
	Participants []int
}

type MessageDeleted struct {
	Message      types.Message
	Participants []int
}

func (e ChatCreated) ChatId() string        { return e.Chat.Id }
func (e ChatRenamed) ChatId() string        { return e.Chat.Id }
func (e ChatDeleted) ChatId() string        { return e.Chat.Id }
func (e ParticipantAdded) ChatId() string   { return e.Chat.Id }
func (e ParticipantRemoved) ChatId() string { return e.Chat.Id }
func (e MessageSent) ChatId() string        { return e.Message.ChatId }
func (e MessageDeleted) ChatId() string     { return e.Message.ChatId }
