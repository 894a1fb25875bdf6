// Package relay carries room events between hub nodes over Redis
// pub/sub. Per-room publish order from a single node is preserved;
// cross-node ordering is not, so consumers order by the sequence
// number carried in the envelope payload.
package relay

import (
	"context"
	"encoding/json"
)

// Envelope is the wire unit published on the bus. Data is the
// ready-to-send frame payload; TargetUser, when set, narrows delivery
// to that user's sessions instead of the room's members.
type Envelope struct {
	Event      string          `json:"event"`
	RoomId     string          `json:"room_id"`
	OriginNode string          `json:"origin_node"`
	Sequence   int64           `json:"sequence,omitempty"`
	TargetUser string          `json:"target_user,omitempty"`
	Data       json.RawMessage `json:"data"`
}

type Handler func(env *Envelope)

type Relay interface {
	// Publish sends the envelope to the bus. Implementations retry
	// transient failures before returning an error; a returned error
	// means the envelope was not delivered to the bus.
	Publish(ctx context.Context, env *Envelope) error
	// Run consumes all room traffic and invokes handler for every
	// envelope not originated by this node. It blocks until ctx is
	// cancelled.
	Run(ctx context.Context, handler Handler) error
	Close() error
}
