// Package hub implements the realtime messaging core: session
// registry, room directory, per-connection pumps, event routing, and
// fan-out of events arriving locally or from other nodes via the
// relay.
package hub

import (
	"context"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/chatterstack/chatterhub/internal/persistence"
	"github.com/chatterstack/chatterhub/internal/relay"
	"github.com/chatterstack/chatterhub/internal/stats"
	"github.com/chatterstack/chatterhub/internal/types"
	"github.com/gorilla/websocket"
)

const attachTimeout = 10 * time.Second

type Hub struct {
	log       *log.Logger
	stats     stats.StatsProvider
	nodeId    string
	directory *Directory
	registry  *Registry
	relay     relay.Relay
	store     persistence.Store
	router    *Router

	sendQueueSize     int
	typingMinInterval time.Duration

	wg sync.WaitGroup
}

func New(nodeId string, rel relay.Relay, store persistence.Store, logger *log.Logger, st stats.StatsProvider,
	sendQueueSize int, typingMinInterval time.Duration) *Hub {
	directory := NewDirectory()

	h := &Hub{
		log:               logger,
		stats:             st,
		nodeId:            nodeId,
		directory:         directory,
		registry:          NewRegistry(directory, logger),
		relay:             rel,
		store:             store,
		sendQueueSize:     sendQueueSize,
		typingMinInterval: typingMinInterval,
	}
	h.router = NewRouter(h, store, rel, logger, st)

	for _, name := range []string{
		stats.ActiveSessions,
		stats.EventsRouted,
		stats.RelayPublished,
		stats.RelayReceived,
		stats.RelayRetries,
		stats.DroppedSessions,
		stats.TypingSuppressed,
	} {
		st.RegisterMetric(name)
	}

	return h
}

func (h *Hub) NodeId() string {
	return h.nodeId
}

// Run consumes the relay until ctx is cancelled, delivering every
// remote envelope to the sessions subscribed on this node.
func (h *Hub) Run(ctx context.Context) error {
	return h.relay.Run(ctx, h.Dispatch)
}

// AttachSession registers a new connection with its full room list
// established before either pump starts, so no event delivered after
// attach can miss the subscription set. Requested rooms the user is
// not a member of are dropped.
func (h *Hub) AttachSession(user types.User, conn *websocket.Conn, roomIds []string) *Session {
	s := NewSession(user, conn, h, h.log, h.stats)

	ctx, cancel := context.WithTimeout(context.Background(), attachTimeout)
	defer cancel()

	var subscribed, unavailable []string
	for _, roomId := range roomIds {
		members, err := h.store.GetRoomMembers(ctx, roomId)
		if err != nil {
			h.log.Printf("hub: membership check for room %q: %v", roomId, err)
			unavailable = append(unavailable, roomId)
			continue
		}
		if !slices.Contains(members, user.Id) {
			h.log.Printf("hub: user %q is not a member of room %q, skipping", user.Username, roomId)
			continue
		}
		subscribed = append(subscribed, roomId)
	}

	h.registry.Register(s)
	h.directory.ReplaceAll(s.id, subscribed)
	h.stats.Incr(stats.ActiveSessions)

	// a room dropped because its membership could not be checked is
	// reported; one dropped for non-membership is silently skipped
	for _, roomId := range unavailable {
		s.Enqueue(ErrSubscriptionUnavailable(roomId))
	}

	h.wg.Add(2)
	go s.Write()
	go s.Read()

	return s
}

func (h *Hub) detach(s *Session) {
	h.registry.Unregister(s.id)
	h.stats.Decr(stats.ActiveSessions)
}

func (h *Hub) pumpDone() {
	h.wg.Done()
}

// Dispatch delivers an envelope to the sessions on this node. A
// targeted envelope goes to the named user's sessions and subscribes
// them to the room; everything else fans out to the room's members as
// of the snapshot taken at dispatch start.
func (h *Hub) Dispatch(env *relay.Envelope) {
	frame := &ServerFrame{
		Event: env.Event,
		Data:  env.Data,
	}

	if env.TargetUser != "" {
		for _, s := range h.registry.SessionsForUser(env.TargetUser) {
			if !h.registry.SubscribeIfRegistered(env.RoomId, s.id) {
				continue
			}
			s.Enqueue(frame)
		}
		return
	}

	for _, sessionId := range h.directory.Members(env.RoomId) {
		if s, ok := h.registry.Lookup(sessionId); ok {
			s.Enqueue(frame)
		}
	}
}

// NotifyMemberAdded is the hub's publish API for the REST service.
func (h *Hub) NotifyMemberAdded(ctx context.Context, roomId, userId string) error {
	return h.router.NotifyMemberAdded(ctx, roomId, userId)
}

// Shutdown closes every session and waits for the pump loops to exit
// or the context to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.log.Println("hub: closing sessions")
	for _, s := range h.registry.All() {
		s.closeWithCode(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
