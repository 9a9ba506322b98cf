package database

// ChatRepository is the durable store of accounts, chats, participants and
// messages. Mutations check authorization themselves and fail with
// ErrNotFound, ErrForbidden, ErrConflict or ErrInvalid.
type ChatRepository interface {
	Ping() error

	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByEmail(email string) (User, error)
	SearchAccounts(excludeId int) ([]User, error)

	CreateGroupChat(params CreateGroupChatParams) (Chat, error)
	// CreateOrGetOneOnOneChat returns the existing chat between the two users
	// or creates it. The boolean is true when the chat was created.
	CreateOrGetOneOnOneChat(userId, receiverId int) (Chat, bool, error)
	GetChat(chatId string) (Chat, error)
	ListChats(accountId int) ([]Chat, error)
	RenameChat(chatId string, actorId int, name string) (Chat, error)
	AddParticipant(chatId string, actorId, accountId int) (Chat, error)
	// RemoveParticipant and LeaveChat return the chat after the mutation.
	RemoveParticipant(chatId string, actorId, accountId int) (Chat, error)
	LeaveChat(chatId string, accountId int) (Chat, error)
	// DeleteChat returns the chat as it was before deletion.
	DeleteChat(chatId string, actorId int) (Chat, error)
	IsParticipant(chatId string, accountId int) (bool, error)

	// SendMessage and DeleteMessage also return the chat's participant ids,
	// read in the same transaction as the write.
	SendMessage(params SendMessageParams) (Message, []int, error)
	DeleteMessage(chatId string, messageId, actorId int) (Message, []int, error)
	ListMessages(chatId string, before, limit int) ([]Message, error)
}
