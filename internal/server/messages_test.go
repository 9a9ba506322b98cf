package server

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/npezzotti/go-chathub/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoErrOk(t *testing.T) {
	result := NoErrOK(1, map[string]any{
		"testkey": "testvalue",
	})

	assert.NotNil(t, result, "expected result to be non-nil")
	assert.NotNil(t, result.Response, "expected response to be non-nil")
	assert.Equal(t, 1, result.Id, "expected Id to match")
	assert.Equal(t, EventResponse, result.Event, "expected response event")
	assert.WithinDuration(t, Now(), result.Timestamp, time.Second, "expected Timestamp to be within 1 second")
	assert.Equal(t, http.StatusOK, result.Response.ResponseCode, "expected ResponseCode to match")
	assert.Equal(t, map[string]any{"testkey": "testvalue"}, result.Response.Data, "expected Data to match")
}

func TestErrorResponses(t *testing.T) {
	tcases := []struct {
		name     string
		msg      *ServerMessage
		code     int
		errorMsg string
	}{
		{"invalid message", ErrInvalidMessage(1), http.StatusBadRequest, "invalid message format"},
		{"unknown event", ErrUnknownEvent(1), http.StatusBadRequest, "unknown event"},
		{"forbidden", ErrForbidden(1), http.StatusForbidden, "not a participant of this chat"},
		{"not joined", ErrNotJoined(1), http.StatusConflict, "chat not joined"},
		{"too many requests", ErrTooManyRequests(1), http.StatusTooManyRequests, "too many requests"},
		{"internal error", ErrInternalError(1), http.StatusInternalServerError, "internal server error"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, 1, tc.msg.Id, "expected Id to match")
			assert.Equal(t, EventResponse, tc.msg.Event)
			assert.Equal(t, tc.code, tc.msg.Response.ResponseCode, "expected ResponseCode to match")
			assert.Equal(t, tc.errorMsg, tc.msg.Response.Error, "expected Error to match")
		})
	}
}

func TestErrInvalidMessage_NegativeId(t *testing.T) {
	msg := ErrInvalidMessage(-1)
	assert.Zero(t, msg.Id, "expected negative id to be omitted")
}

func TestServerMessage_withActive(t *testing.T) {
	msg := NewEvent(EventMessageReceived, types.Message{Id: 1})

	active := msg.withActive(true)
	inactive := msg.withActive(false)

	assert.Nil(t, msg.Active, "expected original message to stay untagged")
	require.NotNil(t, active.Active)
	require.NotNil(t, inactive.Active)
	assert.True(t, *active.Active)
	assert.False(t, *inactive.Active)
	assert.Equal(t, msg.Data, active.Data, "expected tagged copy to share the payload")
}

func TestServerMessage_JSON(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("event", func(t *testing.T) {
		msg := &ServerMessage{
			BaseMessage: BaseMessage{Timestamp: ts},
			Event:       EventTyping,
			Data:        TypingNotice{ChatId: "abc", UserId: 7},
		}

		raw, err := json.Marshal(msg)
		require.NoError(t, err)
		assert.JSONEq(t, `{"timestamp":"2024-01-02T03:04:05Z","event":"typing","data":{"chat_id":"abc","user_id":7}}`, string(raw))
	})

	t.Run("tagged message", func(t *testing.T) {
		msg := (&ServerMessage{
			BaseMessage: BaseMessage{Timestamp: ts},
			Event:       EventMessageReceived,
			Data:        map[string]any{"content": "hello"},
		}).withActive(false)

		raw, err := json.Marshal(msg)
		require.NoError(t, err)
		assert.JSONEq(t, `{"timestamp":"2024-01-02T03:04:05Z","event":"messageReceived","active":false,"data":{"content":"hello"}}`, string(raw))
	})

	t.Run("response", func(t *testing.T) {
		msg := NoErrOK(3, nil)
		msg.Timestamp = ts

		raw, err := json.Marshal(msg)
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":3,"timestamp":"2024-01-02T03:04:05Z","event":"response","response":{"response_code":200}}`, string(raw))
	})
}

func TestClientMessage_JSON(t *testing.T) {
	var msg ClientMessage
	err := json.Unmarshal([]byte(`{"id":4,"event":"joinChat","chat_id":"x1y2"}`), &msg)
	require.NoError(t, err)
	assert.Equal(t, ClientMessage{Id: 4, Event: EventJoinChat, ChatId: "x1y2"}, msg)
}
