package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/npezzotti/go-chathub/internal/database"
	"github.com/npezzotti/go-chathub/internal/server"
	"github.com/npezzotti/go-chathub/internal/types"
	"github.com/samber/lo"
)

// listMessages pages backwards through a chat's history, newest first.
func (s *GoChatApp) listMessages(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())
	chatId := chi.URLParam(r, "chatId")

	before, limit, err := pageParams(r)
	if err != nil {
		s.writeError(w, NewValidationError(err))
		return
	}

	ok, err := s.db.IsParticipant(chatId, userId)
	if err != nil {
		s.writeError(w, storeError(err))
		return
	}
	if !ok {
		s.writeError(w, NewForbiddenError())
		return
	}

	messages, err := s.db.ListMessages(chatId, before, limit)
	if err != nil {
		s.writeError(w, storeError(err))
		return
	}

	s.writeJson(w, http.StatusOK, lo.Map(messages, func(m database.Message, _ int) types.Message {
		return toMessage(m)
	}))
}

func (s *GoChatApp) sendMessage(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())
	chatId := chi.URLParam(r, "chatId")

	var req SendMessageRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeError(w, NewValidationError(err))
		return
	}

	var msg database.Message
	err := s.cs.Commit(chatId, func() (server.DomainEvent, error) {
		var (
			recipients []int
			err        error
		)
		msg, recipients, err = s.db.SendMessage(database.SendMessageParams{
			ChatId:      chatId,
			SenderId:    userId,
			Content:     req.Content,
			Attachments: req.Attachments,
		})
		if err != nil {
			return nil, err
		}

		return server.MessageSent{Message: toMessage(msg), Participants: recipients}, nil
	})
	if err != nil {
		s.writeError(w, storeError(err))
		return
	}

	s.writeJson(w, http.StatusCreated, toMessage(msg))
}

func (s *GoChatApp) deleteMessage(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())
	chatId := chi.URLParam(r, "chatId")
	messageId, err := intParam(r, "messageId")
	if err != nil {
		s.writeError(w, NewValidationError(err))
		return
	}

	var msg database.Message
	err = s.cs.Commit(chatId, func() (server.DomainEvent, error) {
		var (
			recipients []int
			err        error
		)
		if msg, recipients, err = s.db.DeleteMessage(chatId, messageId, userId); err != nil {
			return nil, err
		}

		return server.MessageDeleted{Message: toMessage(msg), Participants: recipients}, nil
	})
	if err != nil {
		s.writeError(w, storeError(err))
		return
	}

	s.writeJson(w, http.StatusOK, toMessage(msg))
}
