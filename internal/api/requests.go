package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/npezzotti/go-chathub/internal/database"
	"github.com/npezzotti/go-chathub/internal/types"
	"github.com/samber/lo"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
	maxRequestBody  = 1 << 20
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"required,min=3,max=32"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	User  types.User `json:"user"`
	Token string     `json:"token"`
}

type CreateGroupChatRequest struct {
	Name         string `json:"name" validate:"required,max=64"`
	Participants []int  `json:"participants" validate:"required,min=2,dive,gt=0"`
}

type RenameGroupChatRequest struct {
	Name string `json:"name" validate:"required,max=64"`
}

type SendMessageRequest struct {
	Content     string   `json:"content" validate:"required_without=Attachments,max=4096"`
	Attachments []string `json:"attachments" validate:"max=10,dive,url"`
}

// decodeRequest reads a JSON body into v and validates it.
func decodeRequest(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}

	return validate.Struct(v)
}

var errInvalidId = errors.New("invalid id")

func intParam(r *http.Request, name string) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || id <= 0 {
		return 0, errInvalidId
	}

	return id, nil
}

// pageParams reads the "before" and "limit" query parameters.
func pageParams(r *http.Request) (before, limit int, err error) {
	q := r.URL.Query()
	limit = defaultPageSize

	if s := q.Get("before"); s != "" {
		if before, err = strconv.Atoi(s); err != nil || before < 0 {
			return 0, 0, errors.New("invalid before")
		}
	}

	if s := q.Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
	}

	return before, min(limit, maxPageSize), nil
}

func toUser(u database.User) types.User {
	return types.User{
		Id:           u.Id,
		Username:     u.Username,
		EmailAddress: u.EmailAddress,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func toUsers(users []database.User) []types.User {
	return lo.Map(users, func(u database.User, _ int) types.User {
		return toUser(u)
	})
}

func toMessage(m database.Message) types.Message {
	return types.Message{
		Id:      m.Id,
		ChatId:  m.ChatId,
		SeqId:   m.SeqId,
		Sender:  toUser(m.Sender),
		Content: m.Content,
		Attachments: lo.Map(m.Attachments, func(url string, _ int) types.Attachment {
			return types.Attachment{Url: url}
		}),
		Timestamp: m.CreatedAt,
	}
}

func toChat(c database.Chat) types.Chat {
	chat := types.Chat{
		Id:           c.Id,
		Name:         c.Name,
		IsGroupChat:  c.IsGroupChat,
		AdminId:      c.AdminId,
		SeqId:        c.SeqId,
		Participants: toUsers(c.Participants),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
	if c.LastMessage != nil {
		msg := toMessage(*c.LastMessage)
		chat.LastMessage = &msg
	}

	return chat
}
