package types

import (
	"time"
)

type User struct {
	Id       string `json:"id"`
	Username string `json:"username"`
}

// Message is the canonical persisted message as returned by the
// persistence service. Sequence is assigned at commit time and is the
// sole display-ordering authority across hub nodes.
type Message struct {
	Id             string    `json:"id"`
	RoomId         string    `json:"room_id"`
	SenderId       string    `json:"sender_id"`
	SenderUsername string    `json:"sender_username"`
	Content        string    `json:"content"`
	Sequence       int64     `json:"sequence"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at,omitempty"`
}
