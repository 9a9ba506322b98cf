package server

import (
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/go-chathub/internal/database"
	"github.com/npezzotti/go-chathub/internal/testutil"
	"github.com/npezzotti/go-chathub/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func groupChat(id string, users ...types.User) types.Chat {
	return types.Chat{
		Id:           id,
		Name:         "group " + id,
		IsGroupChat:  true,
		AdminId:      users[0].Id,
		Participants: users,
	}
}

func joinAll(t *testing.T, cs *ChatServer, chatId string, clients ...*Client) {
	t.Helper()
	for _, c := range clients {
		require.NoError(t, cs.rooms.Join(chatId, c))
	}
}

func TestDispatcher_JoinChat(t *testing.T) {
	users := testutil.Users(1)

	tcases := []struct {
		name   string
		setup  func(db *database.MockChatRepository)
		code   int
		joined bool
	}{
		{
			name: "participant joins",
			setup: func(db *database.MockChatRepository) {
				db.On("IsParticipant", "chat1", users[0].Id).Return(true, nil)
			},
			code:   http.StatusOK,
			joined: true,
		},
		{
			name: "non participant is denied",
			setup: func(db *database.MockChatRepository) {
				db.On("IsParticipant", "chat1", users[0].Id).Return(false, nil)
			},
			code: http.StatusForbidden,
		},
		{
			name: "store failure",
			setup: func(db *database.MockChatRepository) {
				db.On("IsParticipant", "chat1", users[0].Id).Return(false, errors.New("connection refused"))
			},
			code: http.StatusInternalServerError,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockChatRepository{}
			tc.setup(db)
			defer db.AssertExpectations(t)

			cs := newTestChatServer(t, db, testOptions())
			c := connect(t, cs, users[0])

			cs.dispatcher.HandleSignal(c, &ClientMessage{Id: 7, Event: EventJoinChat, ChatId: "chat1"})

			resp := recv(t, c)
			require.NotNil(t, resp.Response)
			assert.Equal(t, 7, resp.Id)
			assert.Equal(t, tc.code, resp.Response.ResponseCode)
			assert.Equal(t, tc.joined, cs.rooms.IsJoined("chat1", c.id))
			assert.False(t, c.isClosed(), "expected connection to stay open")
		})
	}
}

func TestDispatcher_JoinChatIsIdempotent(t *testing.T) {
	users := testutil.Users(1)
	db := &database.MockChatRepository{}
	db.On("IsParticipant", "chat1", users[0].Id).Return(true, nil).Twice()
	defer db.AssertExpectations(t)

	cs := newTestChatServer(t, db, testOptions())
	c := connect(t, cs, users[0])

	cs.dispatcher.JoinChat(c, &ClientMessage{Id: 1, Event: EventJoinChat, ChatId: "chat1"})
	cs.dispatcher.JoinChat(c, &ClientMessage{Id: 2, Event: EventJoinChat, ChatId: "chat1"})
	recv(t, c)
	recv(t, c)

	assert.Len(t, cs.rooms.MembersOf("chat1"), 1)
}

func TestDispatcher_HandleSignal_Invalid(t *testing.T) {
	cs := newTestChatServer(t, &database.MockChatRepository{}, testOptions())
	c := connect(t, cs, testutil.Users(1)[0])

	cs.dispatcher.HandleSignal(c, &ClientMessage{Id: 1, Event: EventJoinChat})
	resp := recv(t, c)
	assert.Equal(t, http.StatusBadRequest, resp.Response.ResponseCode, "expected missing chat id to be rejected")

	cs.dispatcher.HandleSignal(c, &ClientMessage{Id: 2, Event: "dance", ChatId: "chat1"})
	resp = recv(t, c)
	assert.Equal(t, http.StatusBadRequest, resp.Response.ResponseCode)
	assert.Equal(t, "unknown event", resp.Response.Error)
}

func TestDispatcher_LeaveChat(t *testing.T) {
	cs := newTestChatServer(t, &database.MockChatRepository{}, testOptions())
	users := testutil.Users(1)
	tab1 := connect(t, cs, users[0])
	tab2 := connect(t, cs, users[0])
	joinAll(t, cs, "chat1", tab1, tab2)

	cs.dispatcher.HandleSignal(tab1, &ClientMessage{Id: 3, Event: EventLeaveChat, ChatId: "chat1"})

	resp := recv(t, tab1)
	assert.Equal(t, http.StatusOK, resp.Response.ResponseCode)
	assert.False(t, cs.rooms.IsJoined("chat1", tab1.id))
	assert.True(t, cs.rooms.IsJoined("chat1", tab2.id), "expected leave to affect only the signalling connection")
}

func TestDispatcher_Typing(t *testing.T) {
	users := testutil.Users(3)
	opts := testOptions()
	opts.TypingTimeout = time.Minute

	cs := newTestChatServer(t, &database.MockChatRepository{}, opts)
	alice := connect(t, cs, users[0])
	aliceTab := connect(t, cs, users[0])
	bob := connect(t, cs, users[1])
	carol := connect(t, cs, users[2])
	joinAll(t, cs, "chat1", alice, aliceTab, bob)

	t.Run("requires join", func(t *testing.T) {
		cs.dispatcher.HandleSignal(carol, &ClientMessage{Id: 1, Event: EventTyping, ChatId: "chat1"})
		resp := recv(t, carol)
		assert.Equal(t, http.StatusConflict, resp.Response.ResponseCode)
		assertNoMessage(t, bob)
	})

	t.Run("typing twice then stop", func(t *testing.T) {
		signal := &ClientMessage{Event: EventTyping, ChatId: "chat1"}
		cs.dispatcher.HandleSignal(alice, signal)
		cs.dispatcher.HandleSignal(alice, signal)

		for _, c := range []*Client{bob, aliceTab} {
			for i := 0; i < 2; i++ {
				msg := recv(t, c)
				assert.Equal(t, EventTyping, msg.Event, "expected every typing signal to be broadcast")
				assert.Equal(t, TypingNotice{ChatId: "chat1", UserId: users[0].Id}, msg.Data)
			}
		}
		assertNoMessage(t, alice)

		stop := &ClientMessage{Event: EventStopTyping, ChatId: "chat1"}
		cs.dispatcher.HandleSignal(alice, stop)
		cs.dispatcher.HandleSignal(alice, stop)

		msg := recv(t, bob)
		assert.Equal(t, EventStopTyping, msg.Event)
		assertNoMessage(t, bob)
		assert.Equal(t, EventStopTyping, recv(t, aliceTab).Event)
		assertNoMessage(t, aliceTab)
		assertNoMessage(t, alice)
	})
}

func TestDispatcher_TypingExpires(t *testing.T) {
	users := testutil.Users(2)
	cs := newTestChatServer(t, &database.MockChatRepository{}, testOptions())
	alice := connect(t, cs, users[0])
	bob := connect(t, cs, users[1])
	joinAll(t, cs, "chat1", alice, bob)

	cs.dispatcher.HandleSignal(alice, &ClientMessage{Event: EventTyping, ChatId: "chat1"})
	assert.Equal(t, EventTyping, recv(t, bob).Event)

	msg := recv(t, bob)
	assert.Equal(t, EventStopTyping, msg.Event, "expected expiry to broadcast stop typing")
	assert.Equal(t, TypingNotice{ChatId: "chat1", UserId: users[0].Id}, msg.Data)
	assertNoMessage(t, alice)

	time.Sleep(2 * testOptions().TypingTimeout)
	assertNoMessage(t, bob)
}

func TestDispatcher_MessageSent(t *testing.T) {
	users := testutil.Users(4)
	cs := newTestChatServer(t, &database.MockChatRepository{}, testOptions())

	alice := connect(t, cs, users[0])
	bob := connect(t, cs, users[1])
	bobOtherTab := connect(t, cs, users[1])
	carol := connect(t, cs, users[2])
	outsider := connect(t, cs, users[3])
	joinAll(t, cs, "chat1", alice, bob)

	// dave is a participant with no connections
	participants := []int{users[0].Id, users[1].Id, users[2].Id, 99}
	message := types.Message{Id: 1, ChatId: "chat1", Sender: users[0], Content: "hello"}

	err := cs.Commit("chat1", func() (DomainEvent, error) {
		return MessageSent{Message: message, Participants: participants}, nil
	})
	require.NoError(t, err)

	for _, c := range []*Client{alice, bob} {
		msg := recv(t, c)
		assert.Equal(t, EventMessageReceived, msg.Event)
		assert.Equal(t, message, msg.Data)
		require.NotNil(t, msg.Active)
		assert.True(t, *msg.Active, "expected joined connection to receive an active message")
	}

	for _, c := range []*Client{bobOtherTab, carol} {
		msg := recv(t, c)
		assert.Equal(t, EventMessageReceived, msg.Event)
		require.NotNil(t, msg.Active)
		assert.False(t, *msg.Active, "expected connection outside the chat to receive an unread notice")
	}

	assertNoMessage(t, outsider)
	assertNoMessage(t, alice)
	assertNoMessage(t, bob)
}

func TestDispatcher_MessageSentStopsSenderTyping(t *testing.T) {
	users := testutil.Users(2)
	opts := testOptions()
	opts.TypingTimeout = time.Minute
	cs := newTestChatServer(t, &database.MockChatRepository{}, opts)

	alice := connect(t, cs, users[0])
	bob := connect(t, cs, users[1])
	joinAll(t, cs, "chat1", alice, bob)

	cs.dispatcher.HandleSignal(alice, &ClientMessage{Event: EventTyping, ChatId: "chat1"})
	recv(t, bob)

	cs.Publish(MessageSent{
		Message:      types.Message{Id: 1, ChatId: "chat1", Sender: users[0], Content: "done"},
		Participants: []int{users[0].Id, users[1].Id},
	})

	assert.Equal(t, EventStopTyping, recv(t, bob).Event)
	assert.Equal(t, EventMessageReceived, recv(t, bob).Event)
	assert.False(t, cs.dispatcher.typing.IsTyping("chat1", users[0].Id))
}

func TestDispatcher_MessageDeleted(t *testing.T) {
	users := testutil.Users(2)
	cs := newTestChatServer(t, &database.MockChatRepository{}, testOptions())
	alice := connect(t, cs, users[0])
	bob := connect(t, cs, users[1])
	joinAll(t, cs, "chat1", alice)

	cs.Publish(MessageDeleted{
		Message:      types.Message{Id: 5, ChatId: "chat1", Sender: users[0]},
		Participants: []int{users[0].Id, users[1].Id},
	})

	msg := recv(t, alice)
	assert.Equal(t, EventMessageDeleted, msg.Event)
	assert.True(t, *msg.Active)

	msg = recv(t, bob)
	assert.Equal(t, EventMessageDeleted, msg.Event)
	assert.False(t, *msg.Active)
}

func TestDispatcher_CommitFailureDispatchesNothing(t *testing.T) {
	users := testutil.Users(2)
	cs := newTestChatServer(t, &database.MockChatRepository{}, testOptions())
	alice := connect(t, cs, users[0])
	bob := connect(t, cs, users[1])
	joinAll(t, cs, "chat1", alice, bob)

	err := cs.Commit("chat1", func() (DomainEvent, error) {
		return nil, database.ErrForbidden
	})

	assert.ErrorIs(t, err, database.ErrForbidden, "expected store error to reach the caller")
	assertNoMessage(t, alice)
	assertNoMessage(t, bob)
}

func TestDispatcher_CommitOrder(t *testing.T) {
	users := testutil.Users(2)
	cs := newTestChatServer(t, &database.MockChatRepository{}, testOptions())
	bob := connect(t, cs, users[1])
	joinAll(t, cs, "chat1", bob)

	const sends = 40
	seq := 0

	var wg sync.WaitGroup
	for i := 0; i < sends; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := cs.Commit("chat1", func() (DomainEvent, error) {
				// runs on the chat's lane, like a store write
				seq++
				return MessageSent{
					Message:      types.Message{ChatId: "chat1", SeqId: seq, Sender: users[0]},
					Participants: []int{users[0].Id, users[1].Id},
				}, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	for want := 1; want <= sends; want++ {
		msg := recv(t, bob)
		assert.Equal(t, want, msg.Data.(types.Message).SeqId, "expected delivery in commit order")
	}
}

func TestDispatcher_ChatsDoNotBlockEachOther(t *testing.T) {
	users := testutil.Users(2)
	cs := newTestChatServer(t, &database.MockChatRepository{}, testOptions())
	bob := connect(t, cs, users[1])
	joinAll(t, cs, "chat2", bob)

	release := make(chan struct{})
	started := make(chan struct{})
	go cs.Commit("chat1", func() (DomainEvent, error) {
		close(started)
		<-release
		return nil, nil
	})
	<-started
	defer close(release)

	done := make(chan struct{})
	go func() {
		cs.Publish(MessageSent{
			Message:      types.Message{ChatId: "chat2", Sender: users[0]},
			Participants: []int{users[0].Id, users[1].Id},
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected chat2 delivery not to wait for chat1")
	}
	assert.Equal(t, EventMessageReceived, recv(t, bob).Event)
}

func TestDispatcher_ChatCreated(t *testing.T) {
	users := testutil.Users(3)
	cs := newTestChatServer(t, &database.MockChatRepository{}, testOptions())
	alice := connect(t, cs, users[0])
	bob := connect(t, cs, users[1])
	carol1 := connect(t, cs, users[2])
	carol2 := connect(t, cs, users[2])

	chat := groupChat("chat1", users...)
	cs.Publish(ChatCreated{Chat: chat, CreatorId: users[0].Id})

	for _, c := range []*Client{bob, carol1, carol2} {
		msg := recv(t, c)
		assert.Equal(t, EventNewChat, msg.Event)
		assert.Equal(t, chat, msg.Data)
	}
	assertNoMessage(t, alice)
}

func TestDispatcher_ChatRenamed(t *testing.T) {
	users := testutil.Users(3)
	cs := newTestChatServer(t, &database.MockChatRepository{}, testOptions())
	clients := []*Client{connect(t, cs, users[0]), connect(t, cs, users[1]), connect(t, cs, users[2])}

	chat := groupChat("chat1", users...)
	chat.Name = "renamed"
	cs.Publish(ChatRenamed{Chat: chat})

	for _, c := range clients {
		msg := recv(t, c)
		assert.Equal(t, EventUpdateGroupName, msg.Event)
		assert.Equal(t, "renamed", msg.Data.(types.Chat).Name)
	}
}

func TestDispatcher_ParticipantAdded(t *testing.T) {
	users := testutil.Users(4)
	cs := newTestChatServer(t, &database.MockChatRepository{}, testOptions())
	existing := []*Client{connect(t, cs, users[0]), connect(t, cs, users[1]), connect(t, cs, users[2])}
	added := connect(t, cs, users[3])

	chat := groupChat("chat1", users...)
	cs.Publish(ParticipantAdded{Chat: chat, UserId: users[3].Id})

	assert.Equal(t, EventNewChat, recv(t, added).Event)
	assertNoMessage(t, added)
	for _, c := range existing {
		assert.Equal(t, EventUpdateGroupName, recv(t, c).Event)
	}
}

func TestDispatcher_ParticipantRemoved(t *testing.T) {
	users := testutil.Users(4)
	opts := testOptions()
	opts.TypingTimeout = time.Minute
	cs := newTestChatServer(t, &database.MockChatRepository{}, opts)

	alice := connect(t, cs, users[0])
	bob := connect(t, cs, users[1])
	carol := connect(t, cs, users[2])
	dave1 := connect(t, cs, users[3])
	dave2 := connect(t, cs, users[3])
	joinAll(t, cs, "chat1", alice, dave1, dave2)

	cs.dispatcher.HandleSignal(dave1, &ClientMessage{Event: EventTyping, ChatId: "chat1"})
	assert.Equal(t, EventTyping, recv(t, alice).Event)
	assert.Equal(t, EventTyping, recv(t, dave2).Event)

	after := groupChat("chat1", users[0], users[1], users[2])
	cs.Publish(ParticipantRemoved{Chat: after, UserId: users[3].Id})

	assert.Equal(t, EventStopTyping, recv(t, alice).Event, "expected removed user's typing to be cleared")
	for _, c := range []*Client{dave1, dave2} {
		msg := recv(t, c)
		assert.Equal(t, EventLeaveChat, msg.Event, "expected every connection of the removed user to be told")
		assert.Equal(t, after, msg.Data)
		assert.False(t, cs.rooms.IsJoined("chat1", c.id), "expected removed user to be evicted from the room")
	}
	for _, c := range []*Client{alice, bob, carol} {
		assert.Equal(t, EventUpdateGroupName, recv(t, c).Event)
	}

	cs.dispatcher.HandleSignal(dave1, &ClientMessage{Id: 9, Event: EventTyping, ChatId: "chat1"})
	assert.Equal(t, http.StatusConflict, recv(t, dave1).Response.ResponseCode, "expected stale join to be gone")
}

func TestDispatcher_ChatDeleted(t *testing.T) {
	users := testutil.Users(3)
	cs := newTestChatServer(t, &database.MockChatRepository{}, testOptions())
	clients := []*Client{connect(t, cs, users[0]), connect(t, cs, users[1]), connect(t, cs, users[2])}
	joinAll(t, cs, "chat1", clients...)

	chat := groupChat("chat1", users...)
	cs.Publish(ChatDeleted{Chat: chat})

	for _, c := range clients {
		msg := recv(t, c)
		assert.Equal(t, EventLeaveChat, msg.Event)
		assert.Empty(t, c.joinedChats())
	}
	assert.Equal(t, 0, cs.rooms.Len(), "expected deleted chat's room to be dropped")
}

func TestDispatcher_SlowConsumerIsTornDown(t *testing.T) {
	users := testutil.Users(3)
	opts := testOptions()
	opts.SendBufferSize = 1
	cs := newTestChatServer(t, &database.MockChatRepository{}, opts)

	slow := connect(t, cs, users[0])
	fast := connect(t, cs, users[1])
	joinAll(t, cs, "chat1", slow, fast)
	slow.send <- NewEvent(EventConnected, nil)

	start := time.Now()
	cs.Publish(MessageSent{
		Message:      types.Message{ChatId: "chat1", Sender: users[2], Content: "hi"},
		Participants: []int{users[0].Id, users[1].Id, users[2].Id},
	})

	assert.Less(t, time.Since(start), time.Second, "expected delivery to be bounded by the send timeout")
	assert.Equal(t, EventMessageReceived, recv(t, fast).Event, "expected other members to still receive the message")
	assert.True(t, slow.isClosed(), "expected slow connection to be torn down")
	assert.False(t, cs.IsOnline(users[0].Id))
	assert.Equal(t, []string{fast.id}, connIds(cs.rooms.MembersOf("chat1")))
}
