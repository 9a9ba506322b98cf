package database

import "time"

type User struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Chat struct {
	Id           string
	Name         string
	IsGroupChat  bool
	AdminId      int
	SeqId        int
	Participants []User
	LastMessage  *Message
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasParticipant reports whether userId is a participant of the chat.
func (c Chat) HasParticipant(userId int) bool {
	for _, p := range c.Participants {
		if p.Id == userId {
			return true
		}
	}
	return false
}

type Message struct {
	Id          int
	SeqId       int
	ChatId      string
	Sender      User
	Content     string
	Attachments []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateGroupChatParams struct {
	Name           string
	AdminId        int
	ParticipantIds []int
}

type SendMessageParams struct {
	ChatId      string
	SenderId    int
	Content     string
	Attachments []string
}
