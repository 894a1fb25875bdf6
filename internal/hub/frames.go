package hub

import (
	"encoding/json"
	"net/http"
	"time"
)

// Inbound event names accepted from clients.
const (
	EventSendMessage   = "send_message"
	EventEditMessage   = "edit_message"
	EventDeleteMessage = "delete_message"
	EventTypingStart   = "typing_start"
	EventTypingStop    = "typing_stop"
)

// Outbound event names delivered to clients.
const (
	EventReceiveMessage = "receive_message"
	EventMessageUpdated = "message.updated"
	EventMessageDeleted = "message.deleted"
	EventRoomAdded      = "room_added"
	EventError          = "error"
)

type ClientFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type ServerFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type SendMessageData struct {
	RoomId  string `json:"room_id"`
	Content string `json:"content"`
}

type EditMessageData struct {
	Id      string `json:"id"`
	RoomId  string `json:"room_id"`
	Content string `json:"content"`
}

type DeleteMessageData struct {
	Id     string `json:"id"`
	RoomId string `json:"room_id"`
}

type TypingData struct {
	RoomId   string `json:"room_id"`
	UserId   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
}

// MessageData is the outbound message payload. Field names sender_id
// and sender_username are the server-side convention clients map from.
type MessageData struct {
	Id             string    `json:"id"`
	Content        string    `json:"content"`
	RoomId         string    `json:"room_id"`
	SenderId       string    `json:"sender_id"`
	SenderUsername string    `json:"sender_username"`
	Sequence       int64     `json:"sequence"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at,omitempty"`
}

type MessageDeletedData struct {
	Id     string `json:"id"`
	RoomId string `json:"room_id"`
}

type RoomAddedData struct {
	RoomId string `json:"room_id"`
	UserId string `json:"user_id"`
}

type ErrorData struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	RoomId  string `json:"room_id,omitempty"`
	Ref     string `json:"ref,omitempty"`
}

func errFrame(code int, message, roomId, ref string) *ServerFrame {
	return &ServerFrame{
		Event: EventError,
		Data: &ErrorData{
			Code:    code,
			Message: message,
			RoomId:  roomId,
			Ref:     ref,
		},
	}
}

func ErrUnknownEvent(event string) *ServerFrame {
	return errFrame(http.StatusBadRequest, "unknown event", "", event)
}

func ErrInvalidPayload(event string) *ServerFrame {
	return errFrame(http.StatusBadRequest, "invalid payload", "", event)
}

func ErrEmptyContent(roomId string) *ServerFrame {
	return errFrame(http.StatusBadRequest, "content cannot be empty", roomId, "")
}

func ErrNotRoomMember(roomId string) *ServerFrame {
	return errFrame(http.StatusForbidden, "not a member of room", roomId, "")
}

func ErrNotAuthor(roomId, messageId string) *ServerFrame {
	return errFrame(http.StatusForbidden, "not the author of message", roomId, messageId)
}

func ErrMessageNotFound(roomId, messageId string) *ServerFrame {
	return errFrame(http.StatusNotFound, "message not found", roomId, messageId)
}

func ErrPersistenceUnavailable(roomId string) *ServerFrame {
	return errFrame(http.StatusServiceUnavailable, "message could not be saved", roomId, "")
}

// ErrSubscriptionUnavailable tells a connecting client that a
// requested room could not be subscribed because its membership could
// not be verified; reconnecting retries it.
func ErrSubscriptionUnavailable(roomId string) *ServerFrame {
	return errFrame(http.StatusServiceUnavailable, "room subscription unavailable", roomId, "")
}

// WarnDeliveryDegraded tells the sender their message was persisted
// but could not be published to remote hub nodes.
func WarnDeliveryDegraded(roomId string) *ServerFrame {
	return errFrame(http.StatusAccepted, "delivery degraded", roomId, "")
}
