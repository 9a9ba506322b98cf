package api

import (
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chathub/internal/server"
	"github.com/npezzotti/go-chathub/internal/types"
)

// ChatService is the part of the chat server the HTTP layer drives:
// socket admission and write-then-notify fan-out.
type ChatService interface {
	Authenticate(credential string) (types.User, error)
	Serve(user types.User, conn *websocket.Conn) error
	Commit(chatId string, write func() (server.DomainEvent, error)) error
	Publish(evt server.DomainEvent)
}

var _ ChatService = (*server.ChatServer)(nil)
