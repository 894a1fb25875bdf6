package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/chatterstack/chatterhub/internal/persistence"
	"github.com/chatterstack/chatterhub/internal/relay"
	"github.com/chatterstack/chatterhub/internal/stats"
	"github.com/chatterstack/chatterhub/internal/testutil"
	"github.com/chatterstack/chatterhub/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// newTestHub creates a Hub for tests without starting any pumps.
func newTestHub(t *testing.T, store persistence.Store, rel relay.Relay, su *stats.MockStatsUpdater) *Hub {
	su.On("RegisterMetric", mock.Anything).Return().Times(7)

	return New("node-test", rel, store, testutil.TestLogger(t), su, 16, time.Second)
}

// attachTestSession registers a pre-built session without a network
// connection so routed frames can be observed on its send channel.
func attachTestSession(h *Hub, id string, user types.User, roomIds ...string) *Session {
	s := &Session{
		id:     id,
		user:   user,
		hub:    h,
		log:    h.log,
		send:   make(chan *ServerFrame, 16),
		stop:   make(chan struct{}),
		typing: newTypingLimiter(h.typingMinInterval),
	}
	h.registry.Register(s)
	for _, roomId := range roomIds {
		h.directory.Subscribe(roomId, s.id)
	}

	return s
}

func clientFrame(t *testing.T, event string, data any) *ClientFrame {
	payload, err := json.Marshal(data)
	require.NoError(t, err, "expected payload to marshal")

	return &ClientFrame{Event: event, Data: payload}
}

func recvFrame(t *testing.T, s *Session) *ServerFrame {
	select {
	case frame := <-s.send:
		return frame
	default:
		t.Fatalf("expected a frame on session %s's queue", s.id)
		return nil
	}
}

func decodeData[T any](t *testing.T, frame *ServerFrame) T {
	var v T
	raw, ok := frame.Data.(json.RawMessage)
	require.True(t, ok, "expected frame data to be raw JSON")
	require.NoError(t, json.Unmarshal(raw, &v), "expected frame data to decode")
	return v
}

func errData(t *testing.T, frame *ServerFrame) *ErrorData {
	require.Equal(t, EventError, frame.Event, "expected an error frame")
	data, ok := frame.Data.(*ErrorData)
	require.True(t, ok, "expected error data")
	return data
}

func TestRouterSendMessage(t *testing.T) {
	db := &persistence.MockStore{}
	defer db.AssertExpectations(t)
	rel := &relay.MockRelay{}
	defer rel.AssertExpectations(t)
	su := &stats.MockStatsUpdater{}

	su.On("Incr", stats.EventsRouted).Return()

	h := newTestHub(t, db, rel, su)
	sender := attachTestSession(h, "sess1", types.User{Id: "u1", Username: "alice"}, "room1")
	member := attachTestSession(h, "sess2", types.User{Id: "u2", Username: "bob"}, "room1")
	outsider := attachTestSession(h, "sess3", types.User{Id: "u3", Username: "carol"}, "room2")

	created := time.Now().UTC().Round(time.Millisecond)
	db.On("CreateMessage", mock.Anything, "room1", "u1", "hello").Return(types.Message{
		Id:        "m1",
		RoomId:    "room1",
		Content:   "hello",
		Sequence:  42,
		CreatedAt: created,
	}, nil)

	rel.On("Publish", mock.Anything, mock.MatchedBy(func(env *relay.Envelope) bool {
		return env.Event == EventReceiveMessage && env.RoomId == "room1" &&
			env.OriginNode == "node-test" && env.Sequence == 42
	})).Return(nil)

	h.router.Route(sender, clientFrame(t, EventSendMessage, &SendMessageData{RoomId: "room1", Content: "hello"}))

	for _, s := range []*Session{sender, member} {
		frame := recvFrame(t, s)
		assert.Equal(t, EventReceiveMessage, frame.Event, "expected receive_message frame on session %s", s.id)

		data := decodeData[MessageData](t, frame)
		assert.Equal(t, "m1", data.Id, "expected canonical message id")
		assert.Equal(t, int64(42), data.Sequence, "expected persistence-assigned sequence")
		assert.Equal(t, "hello", data.Content, "expected message content")
		assert.Equal(t, "u1", data.SenderId, "expected sender id")
		assert.Equal(t, "alice", data.SenderUsername, "expected sender username")
	}

	assert.Empty(t, outsider.send, "expected no delivery to sessions outside the room")
}

func TestRouterSendMessageValidation(t *testing.T) {
	t.Run("empty content", func(t *testing.T) {
		db := &persistence.MockStore{}
		defer db.AssertExpectations(t)
		rel := &relay.MockRelay{}
		su := &stats.MockStatsUpdater{}
		su.On("Incr", stats.EventsRouted).Return()

		h := newTestHub(t, db, rel, su)
		sender := attachTestSession(h, "sess1", types.User{Id: "u1", Username: "alice"}, "room1")

		h.router.Route(sender, clientFrame(t, EventSendMessage, &SendMessageData{RoomId: "room1", Content: "   "}))

		data := errData(t, recvFrame(t, sender))
		assert.Equal(t, http.StatusBadRequest, data.Code, "expected bad request for empty content")
		db.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("not a room member", func(t *testing.T) {
		db := &persistence.MockStore{}
		defer db.AssertExpectations(t)
		rel := &relay.MockRelay{}
		su := &stats.MockStatsUpdater{}
		su.On("Incr", stats.EventsRouted).Return()

		h := newTestHub(t, db, rel, su)
		sender := attachTestSession(h, "sess1", types.User{Id: "u1", Username: "alice"}, "room1")

		h.router.Route(sender, clientFrame(t, EventSendMessage, &SendMessageData{RoomId: "room2", Content: "hi"}))

		data := errData(t, recvFrame(t, sender))
		assert.Equal(t, http.StatusForbidden, data.Code, "expected forbidden for non-member send")
		db.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("invalid payload", func(t *testing.T) {
		db := &persistence.MockStore{}
		rel := &relay.MockRelay{}
		su := &stats.MockStatsUpdater{}
		su.On("Incr", stats.EventsRouted).Return()

		h := newTestHub(t, db, rel, su)
		sender := attachTestSession(h, "sess1", types.User{Id: "u1", Username: "alice"}, "room1")

		h.router.Route(sender, &ClientFrame{Event: EventSendMessage, Data: json.RawMessage(`"nope"`)})

		data := errData(t, recvFrame(t, sender))
		assert.Equal(t, http.StatusBadRequest, data.Code, "expected bad request for undecodable payload")
	})

	t.Run("unknown event", func(t *testing.T) {
		db := &persistence.MockStore{}
		rel := &relay.MockRelay{}
		su := &stats.MockStatsUpdater{}
		su.On("Incr", stats.EventsRouted).Return()

		h := newTestHub(t, db, rel, su)
		sender := attachTestSession(h, "sess1", types.User{Id: "u1", Username: "alice"})

		h.router.Route(sender, &ClientFrame{Event: "bogus", Data: json.RawMessage(`{}`)})

		data := errData(t, recvFrame(t, sender))
		assert.Equal(t, http.StatusBadRequest, data.Code, "expected bad request for unknown event")
		assert.Equal(t, "bogus", data.Ref, "expected offending event name in the error")
	})
}

func TestRouterSendMessagePersistenceFailure(t *testing.T) {
	db := &persistence.MockStore{}
	defer db.AssertExpectations(t)
	rel := &relay.MockRelay{}
	defer rel.AssertExpectations(t)
	su := &stats.MockStatsUpdater{}
	su.On("Incr", stats.EventsRouted).Return()

	h := newTestHub(t, db, rel, su)
	sender := attachTestSession(h, "sess1", types.User{Id: "u1", Username: "alice"}, "room1")
	member := attachTestSession(h, "sess2", types.User{Id: "u2", Username: "bob"}, "room1")

	db.On("CreateMessage", mock.Anything, "room1", "u1", "hello").Return(types.Message{}, errors.New("store down"))

	h.router.Route(sender, clientFrame(t, EventSendMessage, &SendMessageData{RoomId: "room1", Content: "hello"}))

	data := errData(t, recvFrame(t, sender))
	assert.Equal(t, http.StatusServiceUnavailable, data.Code, "expected persistence failure surfaced to sender")
	assert.Empty(t, member.send, "expected no broadcast on persistence failure")
	rel.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestRouterSendMessageDeliveryDegraded(t *testing.T) {
	db := &persistence.MockStore{}
	defer db.AssertExpectations(t)
	rel := &relay.MockRelay{}
	defer rel.AssertExpectations(t)
	su := &stats.MockStatsUpdater{}
	su.On("Incr", stats.EventsRouted).Return()

	h := newTestHub(t, db, rel, su)
	sender := attachTestSession(h, "sess1", types.User{Id: "u1", Username: "alice"}, "room1")

	db.On("CreateMessage", mock.Anything, "room1", "u1", "hello").Return(types.Message{
		Id: "m1", RoomId: "room1", Content: "hello", Sequence: 1, CreatedAt: time.Now(),
	}, nil)
	rel.On("Publish", mock.Anything, mock.Anything).Return(errors.New("bus unreachable"))

	h.router.Route(sender, clientFrame(t, EventSendMessage, &SendMessageData{RoomId: "room1", Content: "hello"}))

	// local delivery still happened
	frame := recvFrame(t, sender)
	assert.Equal(t, EventReceiveMessage, frame.Event, "expected local delivery despite bus failure")

	data := errData(t, recvFrame(t, sender))
	assert.Equal(t, http.StatusAccepted, data.Code, "expected delivery degraded warning, not an error")
	assert.Equal(t, "delivery degraded", data.Message, "expected delivery degraded message")
}

func TestRouterEditMessage(t *testing.T) {
	db := &persistence.MockStore{}
	defer db.AssertExpectations(t)
	rel := &relay.MockRelay{}
	defer rel.AssertExpectations(t)
	su := &stats.MockStatsUpdater{}
	su.On("Incr", stats.EventsRouted).Return()

	h := newTestHub(t, db, rel, su)
	sender := attachTestSession(h, "sess1", types.User{Id: "u1", Username: "alice"}, "room1")

	updated := time.Now().UTC().Round(time.Millisecond)
	db.On("UpdateMessage", mock.Anything, "room1", "m1", "u1", "hi again").Return(types.Message{
		Id: "m1", RoomId: "room1", Content: "hi again", Sequence: 7, UpdatedAt: updated,
	}, nil)
	rel.On("Publish", mock.Anything, mock.MatchedBy(func(env *relay.Envelope) bool {
		return env.Event == EventMessageUpdated && env.RoomId == "room1"
	})).Return(nil)

	h.router.Route(sender, clientFrame(t, EventEditMessage, &EditMessageData{Id: "m1", RoomId: "room1", Content: "hi again"}))

	frame := recvFrame(t, sender)
	assert.Equal(t, EventMessageUpdated, frame.Event, "expected message.updated frame")

	data := decodeData[MessageData](t, frame)
	assert.Equal(t, "m1", data.Id, "expected edited message id")
	assert.Equal(t, "hi again", data.Content, "expected updated content")
}

func TestRouterDeleteMessage(t *testing.T) {
	t.Run("author delete propagates", func(t *testing.T) {
		db := &persistence.MockStore{}
		defer db.AssertExpectations(t)
		rel := &relay.MockRelay{}
		defer rel.AssertExpectations(t)
		su := &stats.MockStatsUpdater{}
		su.On("Incr", stats.EventsRouted).Return()

		h := newTestHub(t, db, rel, su)
		sender := attachTestSession(h, "sess1", types.User{Id: "u1", Username: "alice"}, "room1")
		member := attachTestSession(h, "sess2", types.User{Id: "u2", Username: "bob"}, "room1")

		db.On("DeleteMessage", mock.Anything, "room1", "m1", "u1").Return(nil)
		rel.On("Publish", mock.Anything, mock.MatchedBy(func(env *relay.Envelope) bool {
			return env.Event == EventMessageDeleted && env.RoomId == "room1"
		})).Return(nil)

		h.router.Route(sender, clientFrame(t, EventDeleteMessage, &DeleteMessageData{Id: "m1", RoomId: "room1"}))

		frame := recvFrame(t, member)
		assert.Equal(t, EventMessageDeleted, frame.Event, "expected message.deleted frame")

		data := decodeData[MessageDeletedData](t, frame)
		assert.Equal(t, "m1", data.Id, "expected deleted message id")
		assert.Equal(t, "room1", data.RoomId, "expected room id on deletion")
	})

	t.Run("non-author delete rejected", func(t *testing.T) {
		db := &persistence.MockStore{}
		defer db.AssertExpectations(t)
		rel := &relay.MockRelay{}
		defer rel.AssertExpectations(t)
		su := &stats.MockStatsUpdater{}
		su.On("Incr", stats.EventsRouted).Return()

		h := newTestHub(t, db, rel, su)
		sender := attachTestSession(h, "sess1", types.User{Id: "u2", Username: "bob"}, "room1")
		member := attachTestSession(h, "sess2", types.User{Id: "u1", Username: "alice"}, "room1")

		db.On("DeleteMessage", mock.Anything, "room1", "m1", "u2").Return(persistence.ErrForbidden)

		h.router.Route(sender, clientFrame(t, EventDeleteMessage, &DeleteMessageData{Id: "m1", RoomId: "room1"}))

		data := errData(t, recvFrame(t, sender))
		assert.Equal(t, http.StatusForbidden, data.Code, "expected authorization failure to sender")
		assert.Equal(t, "m1", data.Ref, "expected message id in the error")
		assert.Empty(t, member.send, "expected no deletion observed by other clients")
		rel.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	})
}

func TestRouterTyping(t *testing.T) {
	db := &persistence.MockStore{}
	rel := &relay.MockRelay{}
	defer rel.AssertExpectations(t)
	su := &stats.MockStatsUpdater{}
	su.On("Incr", stats.EventsRouted).Return()
	su.On("Incr", stats.TypingSuppressed).Return().Once()

	h := newTestHub(t, db, rel, su)
	sender := attachTestSession(h, "sess1", types.User{Id: "u1", Username: "alice"}, "room1")
	member := attachTestSession(h, "sess2", types.User{Id: "u2", Username: "bob"}, "room1")

	rel.On("Publish", mock.Anything, mock.MatchedBy(func(env *relay.Envelope) bool {
		return env.Event == EventTypingStart && env.RoomId == "room1"
	})).Return(nil).Once()

	h.router.Route(sender, clientFrame(t, EventTypingStart, &TypingData{RoomId: "room1"}))
	// immediate stop inside the rate-limit window is coalesced away
	h.router.Route(sender, clientFrame(t, EventTypingStop, &TypingData{RoomId: "room1"}))

	frame := recvFrame(t, member)
	assert.Equal(t, EventTypingStart, frame.Event, "expected typing_start delivered to room member")

	data := decodeData[TypingData](t, frame)
	assert.Equal(t, "alice", data.Username, "expected typing event to carry the sender's username")
	assert.Equal(t, "u1", data.UserId, "expected typing event to carry the sender's user id")

	assert.Empty(t, member.send, "expected coalesced typing_stop not to be delivered")
	su.AssertExpectations(t)
}

func TestRouterNotifyMemberAdded(t *testing.T) {
	db := &persistence.MockStore{}
	rel := &relay.MockRelay{}
	defer rel.AssertExpectations(t)
	su := &stats.MockStatsUpdater{}

	h := newTestHub(t, db, rel, su)
	added := attachTestSession(h, "sess1", types.User{Id: "u2", Username: "bob"})
	bystander := attachTestSession(h, "sess2", types.User{Id: "u3", Username: "carol"}, "room1")

	rel.On("Publish", mock.Anything, mock.MatchedBy(func(env *relay.Envelope) bool {
		return env.Event == EventRoomAdded && env.RoomId == "room1" && env.TargetUser == "u2"
	})).Return(nil)

	err := h.NotifyMemberAdded(context.Background(), "room1", "u2")
	assert.NoError(t, err, "expected notify to succeed")

	frame := recvFrame(t, added)
	assert.Equal(t, EventRoomAdded, frame.Event, "expected room_added frame on the added user's session")

	data := decodeData[RoomAddedData](t, frame)
	assert.Equal(t, "room1", data.RoomId, "expected room id")
	assert.Equal(t, "u2", data.UserId, "expected added user id")

	assert.True(t, h.directory.IsSubscribed("room1", added.id), "expected added user's session subscribed without reconnect")
	assert.Empty(t, bystander.send, "expected targeted event not delivered to other users")
}
