package types

import (
	"time"
)

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	Password     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

type Chat struct {
	Id           string    `json:"id"`
	Name         string    `json:"name"`
	IsGroupChat  bool      `json:"is_group_chat"`
	AdminId      int       `json:"admin_id"`
	SeqId        int       `json:"seq_id"`
	Participants []User    `json:"participants"`
	LastMessage  *Message  `json:"last_message,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// ParticipantIds returns the user ids of every participant of the chat.
func (c Chat) ParticipantIds() []int {
	ids := make([]int, len(c.Participants))
	for i, p := range c.Participants {
		ids[i] = p.Id
	}
	return ids
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

type Attachment struct {
	Url string `json:"url"`
}

type Message struct {
	Id          int          `json:"id"`
	ChatId      string       `json:"chat"`
	SeqId       int          `json:"seq_id"`
	Sender      User         `json:"sender"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments"`
	Timestamp   time.Time    `json:"timestamp"`
}
