package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/npezzotti/go-chathub/internal/database"
	"github.com/npezzotti/go-chathub/internal/server"
	"github.com/npezzotti/go-chathub/internal/types"
	"github.com/samber/lo"
)

func (s *GoChatApp) listChats(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	chats, err := s.db.ListChats(userId)
	if err != nil {
		s.writeError(w, storeError(err))
		return
	}

	s.writeJson(w, http.StatusOK, lo.Map(chats, func(c database.Chat, _ int) types.Chat {
		return toChat(c)
	}))
}

func (s *GoChatApp) createOrGetOneOnOneChat(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())
	receiverId, err := intParam(r, "receiverId")
	if err != nil {
		s.writeError(w, NewValidationError(err))
		return
	}

	chat, created, err := s.db.CreateOrGetOneOnOneChat(userId, receiverId)
	if err != nil {
		s.writeError(w, storeError(err))
		return
	}

	if !created {
		s.writeJson(w, http.StatusOK, toChat(chat))
		return
	}

	s.cs.Publish(server.ChatCreated{Chat: toChat(chat), CreatorId: userId})
	s.writeJson(w, http.StatusCreated, toChat(chat))
}

func (s *GoChatApp) createGroupChat(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	var req CreateGroupChatRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeError(w, NewValidationError(err))
		return
	}

	chat, err := s.db.CreateGroupChat(database.CreateGroupChatParams{
		Name:           req.Name,
		AdminId:        userId,
		ParticipantIds: req.Participants,
	})
	if err != nil {
		s.writeError(w, storeError(err))
		return
	}

	s.cs.Publish(server.ChatCreated{Chat: toChat(chat), CreatorId: userId})
	s.writeJson(w, http.StatusCreated, toChat(chat))
}

func (s *GoChatApp) getGroupChat(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	chat, err := s.db.GetChat(chi.URLParam(r, "chatId"))
	if err != nil {
		s.writeError(w, storeError(err))
		return
	}

	if !chat.IsGroupChat {
		s.writeError(w, NewNotFoundError())
		return
	}

	if !chat.HasParticipant(userId) {
		s.writeError(w, NewForbiddenError())
		return
	}

	s.writeJson(w, http.StatusOK, toChat(chat))
}

func (s *GoChatApp) renameGroupChat(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())
	chatId := chi.URLParam(r, "chatId")

	var req RenameGroupChatRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeError(w, NewValidationError(err))
		return
	}

	var chat database.Chat
	err := s.cs.Commit(chatId, func() (server.DomainEvent, error) {
		var err error
		if chat, err = s.db.RenameChat(chatId, userId, req.Name); err != nil {
			return nil, err
		}
		return server.ChatRenamed{Chat: toChat(chat)}, nil
	})
	if err != nil {
		s.writeError(w, storeError(err))
		return
	}

	s.writeJson(w, http.StatusOK, toChat(chat))
}

func (s *GoChatApp) addParticipant(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())
	chatId := chi.URLParam(r, "chatId")
	participantId, err := intParam(r, "participantId")
	if err != nil {
		s.writeError(w, NewValidationError(err))
		return
	}

	var chat database.Chat
	err = s.cs.Commit(chatId, func() (server.DomainEvent, error) {
		var err error
		if chat, err = s.db.AddParticipant(chatId, userId, participantId); err != nil {
			return nil, err
		}
		return server.ParticipantAdded{Chat: toChat(chat), UserId: participantId}, nil
	})
	if err != nil {
		s.writeError(w, storeError(err))
		return
	}

	s.writeJson(w, http.StatusOK, toChat(chat))
}

func (s *GoChatApp) removeParticipant(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())
	chatId := chi.URLParam(r, "chatId")
	participantId, err := intParam(r, "participantId")
	if err != nil {
		s.writeError(w, NewValidationError(err))
		return
	}

	var chat database.Chat
	err = s.cs.Commit(chatId, func() (server.DomainEvent, error) {
		var err error
		if chat, err = s.db.RemoveParticipant(chatId, userId, participantId); err != nil {
			return nil, err
		}
		return server.ParticipantRemoved{Chat: toChat(chat), UserId: participantId}, nil
	})
	if err != nil {
		s.writeError(w, storeError(err))
		return
	}

	s.writeJson(w, http.StatusOK, toChat(chat))
}

func (s *GoChatApp) leaveGroupChat(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())
	chatId := chi.URLParam(r, "chatId")

	var chat database.Chat
	err := s.cs.Commit(chatId, func() (server.DomainEvent, error) {
		var err error
		if chat, err = s.db.LeaveChat(chatId, userId); err != nil {
			return nil, err
		}
		return server.ParticipantRemoved{Chat: toChat(chat), UserId: userId, Left: true}, nil
	})
	if err != nil {
		s.writeError(w, storeError(err))
		return
	}

	s.writeJson(w, http.StatusOK, toChat(chat))
}

func (s *GoChatApp) deleteGroupChat(w http.ResponseWriter, r *http.Request) {
	s.deleteChat(w, r)
}

// removeOneOnOneChat lets either participant delete a one-on-one chat.
func (s *GoChatApp) removeOneOnOneChat(w http.ResponseWriter, r *http.Request) {
	s.deleteChat(w, r)
}

func (s *GoChatApp) deleteChat(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())
	chatId := chi.URLParam(r, "chatId")

	err := s.cs.Commit(chatId, func() (server.DomainEvent, error) {
		chat, err := s.db.DeleteChat(chatId, userId)
		if err != nil {
			return nil, err
		}
		return server.ChatDeleted{Chat: toChat(chat)}, nil
	})
	if err != nil {
		s.writeError(w, storeError(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
