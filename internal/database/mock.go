package database

import (
	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetAccountById(accountId int) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) SearchAccounts(excludeId int) ([]User, error) {
	args := m.Called(excludeId)
	return args.Get(0).([]User), args.Error(1)
}
func (m *MockChatRepository) CreateGroupChat(params CreateGroupChatParams) (Chat, error) {
	args := m.Called(params)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockChatRepository) CreateOrGetOneOnOneChat(userId, receiverId int) (Chat, bool, error) {
	args := m.Called(userId, receiverId)
	return args.Get(0).(Chat), args.Bool(1), args.Error(2)
}
func (m *MockChatRepository) GetChat(chatId string) (Chat, error) {
	args := m.Called(chatId)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockChatRepository) ListChats(accountId int) ([]Chat, error) {
	args := m.Called(accountId)
	return args.Get(0).([]Chat), args.Error(1)
}
func (m *MockChatRepository) RenameChat(chatId string, actorId int, name string) (Chat, error) {
	args := m.Called(chatId, actorId, name)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockChatRepository) AddParticipant(chatId string, actorId, accountId int) (Chat, error) {
	args := m.Called(chatId, actorId, accountId)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockChatRepository) RemoveParticipant(chatId string, actorId, accountId int) (Chat, error) {
	args := m.Called(chatId, actorId, accountId)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockChatRepository) LeaveChat(chatId string, accountId int) (Chat, error) {
	args := m.Called(chatId, accountId)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockChatRepository) DeleteChat(chatId string, actorId int) (Chat, error) {
	args := m.Called(chatId, actorId)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockChatRepository) IsParticipant(chatId string, accountId int) (bool, error) {
	args := m.Called(chatId, accountId)
	return args.Bool(0), args.Error(1)
}
func (m *MockChatRepository) SendMessage(params SendMessageParams) (Message, []int, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Get(1).([]int), args.Error(2)
}
func (m *MockChatRepository) DeleteMessage(chatId string, messageId, actorId int) (Message, []int, error) {
	args := m.Called(chatId, messageId, actorId)
	return args.Get(0).(Message), args.Get(1).([]int), args.Error(2)
}
func (m *MockChatRepository) ListMessages(chatId string, before, limit int) ([]Message, error) {
	args := m.Called(chatId, before, limit)
	return args.Get(0).([]Message), args.Error(1)
}
