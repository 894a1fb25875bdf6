package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/chatterstack/chatterhub/internal/persistence"
	"github.com/chatterstack/chatterhub/internal/relay"
	"github.com/chatterstack/chatterhub/internal/stats"
)

const persistTimeout = 10 * time.Second

// Router validates and dispatches inbound client events. Persistence
// failures go back to the originating session only; nothing is
// broadcast unless the store has committed.
type Router struct {
	hub   *Hub
	store persistence.Store
	relay relay.Relay
	log   *log.Logger
	stats stats.StatsProvider
}

func NewRouter(h *Hub, store persistence.Store, rel relay.Relay, logger *log.Logger, st stats.StatsProvider) *Router {
	return &Router{
		hub:   h,
		store: store,
		relay: rel,
		log:   logger,
		stats: st,
	}
}

func (rt *Router) Route(s *Session, frame *ClientFrame) {
	rt.stats.Incr(stats.EventsRouted)

	switch frame.Event {
	case EventSendMessage:
		rt.handleSend(s, frame.Data)
	case EventEditMessage:
		rt.handleEdit(s, frame.Data)
	case EventDeleteMessage:
		rt.handleDelete(s, frame.Data)
	case EventTypingStart, EventTypingStop:
		rt.handleTyping(s, frame.Event, frame.Data)
	default:
		s.Enqueue(ErrUnknownEvent(frame.Event))
	}
}

func (rt *Router) handleSend(s *Session, data json.RawMessage) {
	var req SendMessageData
	if err := json.Unmarshal(data, &req); err != nil {
		s.Enqueue(ErrInvalidPayload(EventSendMessage))
		return
	}

	if strings.TrimSpace(req.Content) == "" {
		s.Enqueue(ErrEmptyContent(req.RoomId))
		return
	}

	if !rt.hub.directory.IsSubscribed(req.RoomId, s.id) {
		s.Enqueue(ErrNotRoomMember(req.RoomId))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	msg, err := rt.store.CreateMessage(ctx, req.RoomId, s.user.Id, req.Content)
	if err != nil {
		rt.log.Printf("router: create message in room %q: %v", req.RoomId, err)
		s.Enqueue(ErrPersistenceUnavailable(req.RoomId))
		return
	}

	rt.publish(s, EventReceiveMessage, req.RoomId, msg.Sequence, "", &MessageData{
		Id:             msg.Id,
		Content:        msg.Content,
		RoomId:         msg.RoomId,
		SenderId:       s.user.Id,
		SenderUsername: s.user.Username,
		Sequence:       msg.Sequence,
		CreatedAt:      msg.CreatedAt,
	})
}

func (rt *Router) handleEdit(s *Session, data json.RawMessage) {
	var req EditMessageData
	if err := json.Unmarshal(data, &req); err != nil {
		s.Enqueue(ErrInvalidPayload(EventEditMessage))
		return
	}

	if strings.TrimSpace(req.Content) == "" {
		s.Enqueue(ErrEmptyContent(req.RoomId))
		return
	}

	if !rt.hub.directory.IsSubscribed(req.RoomId, s.id) {
		s.Enqueue(ErrNotRoomMember(req.RoomId))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	msg, err := rt.store.UpdateMessage(ctx, req.RoomId, req.Id, s.user.Id, req.Content)
	if err != nil {
		s.Enqueue(rt.persistErrFrame(err, req.RoomId, req.Id))
		return
	}

	rt.publish(s, EventMessageUpdated, req.RoomId, msg.Sequence, "", &MessageData{
		Id:             msg.Id,
		Content:        msg.Content,
		RoomId:         msg.RoomId,
		SenderId:       s.user.Id,
		SenderUsername: s.user.Username,
		Sequence:       msg.Sequence,
		CreatedAt:      msg.CreatedAt,
		UpdatedAt:      msg.UpdatedAt,
	})
}

func (rt *Router) handleDelete(s *Session, data json.RawMessage) {
	var req DeleteMessageData
	if err := json.Unmarshal(data, &req); err != nil {
		s.Enqueue(ErrInvalidPayload(EventDeleteMessage))
		return
	}

	if !rt.hub.directory.IsSubscribed(req.RoomId, s.id) {
		s.Enqueue(ErrNotRoomMember(req.RoomId))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := rt.store.DeleteMessage(ctx, req.RoomId, req.Id, s.user.Id); err != nil {
		s.Enqueue(rt.persistErrFrame(err, req.RoomId, req.Id))
		return
	}

	rt.publish(s, EventMessageDeleted, req.RoomId, 0, "", &MessageDeletedData{
		Id:     req.Id,
		RoomId: req.RoomId,
	})
}

func (rt *Router) handleTyping(s *Session, event string, data json.RawMessage) {
	var req TypingData
	if err := json.Unmarshal(data, &req); err != nil {
		s.Enqueue(ErrInvalidPayload(event))
		return
	}

	if !rt.hub.directory.IsSubscribed(req.RoomId, s.id) {
		s.Enqueue(ErrNotRoomMember(req.RoomId))
		return
	}

	if !s.typing.allow(req.RoomId) {
		rt.stats.Incr(stats.TypingSuppressed)
		return
	}

	payload := &TypingData{
		RoomId:   req.RoomId,
		UserId:   s.user.Id,
		Username: s.user.Username,
	}

	env, err := newEnvelope(event, req.RoomId, rt.hub.nodeId, 0, "", payload)
	if err != nil {
		rt.log.Printf("router: encode typing envelope: %v", err)
		return
	}

	rt.hub.Dispatch(env)

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	// Typing is best-effort; a failed publish is logged, not surfaced.
	if err := rt.relay.Publish(ctx, env); err != nil {
		rt.log.Printf("router: publish typing to room %q: %v", req.RoomId, err)
	}
}

// NotifyMemberAdded publishes a room_added event targeting the user's
// live sessions on every node. Triggered by the REST service through
// the hub's internal publish API, not by a client frame.
func (rt *Router) NotifyMemberAdded(ctx context.Context, roomId, userId string) error {
	env, err := newEnvelope(EventRoomAdded, roomId, rt.hub.nodeId, 0, userId, &RoomAddedData{
		RoomId: roomId,
		UserId: userId,
	})
	if err != nil {
		return err
	}

	rt.hub.Dispatch(env)

	if err := rt.relay.Publish(ctx, env); err != nil {
		return err
	}

	return nil
}

// publish delivers the event to local members immediately, then to
// the bus for remote nodes. A failed bus publish after retries leaves
// the committed persistence result standing; the sender gets a
// degraded-delivery warning instead of an error.
func (rt *Router) publish(s *Session, event, roomId string, sequence int64, targetUser string, payload any) {
	env, err := newEnvelope(event, roomId, rt.hub.nodeId, sequence, targetUser, payload)
	if err != nil {
		rt.log.Printf("router: encode envelope for %q: %v", event, err)
		s.Enqueue(ErrPersistenceUnavailable(roomId))
		return
	}

	rt.hub.Dispatch(env)

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := rt.relay.Publish(ctx, env); err != nil {
		rt.log.Printf("router: publish %q to room %q: %v", event, roomId, err)
		s.Enqueue(WarnDeliveryDegraded(roomId))
	}
}

func (rt *Router) persistErrFrame(err error, roomId, messageId string) *ServerFrame {
	switch {
	case errors.Is(err, persistence.ErrForbidden):
		return ErrNotAuthor(roomId, messageId)
	case errors.Is(err, persistence.ErrNotFound):
		return ErrMessageNotFound(roomId, messageId)
	default:
		rt.log.Printf("router: persistence error for message %q in room %q: %v", messageId, roomId, err)
		return ErrPersistenceUnavailable(roomId)
	}
}

func newEnvelope(event, roomId, originNode string, sequence int64, targetUser string, payload any) (*relay.Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &relay.Envelope{
		Event:      event,
		RoomId:     roomId,
		OriginNode: originNode,
		Sequence:   sequence,
		TargetUser: targetUser,
		Data:       data,
	}, nil
}
