package hub

import (
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chatterstack/chatterhub/internal/stats"
	"github.com/chatterstack/chatterhub/internal/types"
	"github.com/gorilla/websocket"
	"github.com/teris-io/shortid"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
	maxFrameSize = 4096
)

// Session is one authenticated WebSocket connection. Its read and
// write loops share no mutable state except the bounded send channel;
// closing either side tears the whole session down exactly once.
type Session struct {
	id         string
	user       types.User
	conn       *websocket.Conn
	hub        *Hub
	log        *log.Logger
	stats      stats.StatsProvider
	send       chan *ServerFrame
	stop       chan struct{}
	closeOnce  sync.Once
	typing     *typingLimiter
	lastActive atomic.Int64
}

func NewSession(user types.User, conn *websocket.Conn, h *Hub, logger *log.Logger, st stats.StatsProvider) *Session {
	s := &Session{
		id:     shortid.MustGenerate(),
		user:   user,
		conn:   conn,
		hub:    h,
		log:    logger,
		stats:  st,
		send:   make(chan *ServerFrame, h.sendQueueSize),
		stop:   make(chan struct{}),
		typing: newTypingLimiter(h.typingMinInterval),
	}
	s.touch()

	return s
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

func (s *Session) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
		s.log.Printf("session %s: write exiting", s.id)
		s.hub.pumpDone()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			if !ok {
				return
			}

			payload, err := json.Marshal(frame)
			if err != nil {
				s.log.Printf("session %s: serialize frame: %v", s.id, err)
				continue
			}

			if !s.writeMessage(websocket.TextMessage, payload) {
				return
			}
		case <-s.stop:
			return
		case <-ticker.C:
			if !s.writeMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (s *Session) Read() {
	defer func() {
		s.teardown()
		s.log.Printf("session %s: read exiting", s.id)
		s.hub.pumpDone()
	}()

	s.conn.SetReadLimit(maxFrameSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(appData string) error {
		s.touch()
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				s.log.Printf("session %s: read: %v", s.id, err)
			}
			return
		}

		s.touch()

		var frame ClientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.log.Printf("session %s: malformed frame, closing: %v", s.id, err)
			s.closeWithCode(websocket.ClosePolicyViolation, "malformed frame")
			return
		}

		s.hub.router.Route(s, &frame)
	}
}

// Enqueue puts a frame on the session's outbound queue. A full queue
// means the consumer cannot keep up; the session is disconnected
// rather than buffered without bound, and other sessions are
// unaffected.
func (s *Session) Enqueue(frame *ServerFrame) bool {
	select {
	case <-s.stop:
		return false
	default:
	}

	select {
	case s.send <- frame:
		return true
	default:
		s.stats.Incr(stats.DroppedSessions)
		s.log.Printf("session %s: send queue full, disconnecting slow consumer", s.id)
		s.closeWithCode(websocket.CloseGoingAway, "send queue overflow")
		return false
	}
}

func (s *Session) writeMessage(msgType int, payload []byte) bool {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := s.conn.WriteMessage(msgType, payload); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			s.log.Printf("session %s: write: %v", s.id, err)
		}
		return false
	}

	return true
}

func (s *Session) closeWithCode(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		s.log.Printf("session %s: write close: %v", s.id, err)
	}
	s.teardown()
}

// teardown stops both pump loops and unregisters the session. Safe to
// call from either loop or from the hub; runs once.
func (s *Session) teardown() {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.conn.Close()
		s.hub.detach(s)
	})
}
