package api

import (
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chathub/internal/server"
	"github.com/npezzotti/go-chathub/internal/types"
	"github.com/stretchr/testify/mock"
)

// MockChatService runs Commit writes itself and records the resulting
// event, so a failed write never reaches the mock.
type MockChatService struct {
	mock.Mock
}

func (m *MockChatService) Authenticate(credential string) (types.User, error) {
	args := m.Called(credential)
	return args.Get(0).(types.User), args.Error(1)
}
func (m *MockChatService) Serve(user types.User, conn *websocket.Conn) error {
	args := m.Called(user, conn)
	return args.Error(0)
}
func (m *MockChatService) Commit(chatId string, write func() (server.DomainEvent, error)) error {
	evt, err := write()
	if err != nil {
		return err
	}
	m.Called(chatId, evt)
	return nil
}
func (m *MockChatService) Publish(evt server.DomainEvent) {
	m.Called(evt)
}
