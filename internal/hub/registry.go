package hub

import (
	"log"
	"sync"
)

// Registry tracks every live session on this node. It is the only
// path from a session ID or user ID to a *Session, and unregistering
// removes the session's room subscriptions in the same critical
// section so a dead session never remains a fan-out target.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	byUser    map[string]map[string]*Session
	directory *Directory
	log       *log.Logger
}

func NewRegistry(directory *Directory, logger *log.Logger) *Registry {
	return &Registry{
		sessions:  make(map[string]*Session),
		byUser:    make(map[string]map[string]*Session),
		directory: directory,
		log:       logger,
	}
}

func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[s.id] = s
	if r.byUser[s.user.Id] == nil {
		r.byUser[s.user.Id] = make(map[string]*Session)
	}
	r.byUser[s.user.Id][s.id] = s

	r.log.Printf("registered session %s for user %q", s.id, s.user.Username)
}

// Unregister is idempotent; a double disconnect is a no-op.
func (r *Registry) Unregister(sessionId string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionId]
	if !ok {
		return
	}

	r.directory.DropSession(sessionId)
	delete(r.sessions, sessionId)

	if userSessions, ok := r.byUser[s.user.Id]; ok {
		delete(userSessions, sessionId)
		if len(userSessions) == 0 {
			delete(r.byUser, s.user.Id)
		}
	}

	r.log.Printf("unregistered session %s for user %q", sessionId, s.user.Username)
}

// SubscribeIfRegistered adds a room subscription only while the
// session is still registered, in the same critical section that
// Unregister uses to drop subscriptions. A subscription can therefore
// never be re-inserted for a session that already tore down.
func (r *Registry) SubscribeIfRegistered(roomId, sessionId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sessionId]; !ok {
		return false
	}

	r.directory.Subscribe(roomId, sessionId)
	return true
}

func (r *Registry) Lookup(sessionId string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionId]
	return s, ok
}

func (r *Registry) SessionsForUser(userId string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.byUser[userId]))
	for _, s := range r.byUser[userId] {
		sessions = append(sessions, s)
	}

	return sessions
}

func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}

	return sessions
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}
