package hub

import (
	"sync"
)

// Directory maps room IDs to the sessions on this node subscribed to
// them. Rooms are long-lived; an entry with no members stays as a
// cheap empty set rather than being evicted.
type Directory struct {
	mu        sync.RWMutex
	rooms     map[string]map[string]struct{}
	bySession map[string]map[string]struct{}
}

func NewDirectory() *Directory {
	return &Directory{
		rooms:     make(map[string]map[string]struct{}),
		bySession: make(map[string]map[string]struct{}),
	}
}

func (d *Directory) Subscribe(roomId, sessionId string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.subscribeLocked(roomId, sessionId)
}

func (d *Directory) subscribeLocked(roomId, sessionId string) {
	if d.rooms[roomId] == nil {
		d.rooms[roomId] = make(map[string]struct{})
	}
	d.rooms[roomId][sessionId] = struct{}{}

	if d.bySession[sessionId] == nil {
		d.bySession[sessionId] = make(map[string]struct{})
	}
	d.bySession[sessionId][roomId] = struct{}{}
}

func (d *Directory) Unsubscribe(roomId, sessionId string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if members, ok := d.rooms[roomId]; ok {
		delete(members, sessionId)
	}
	if rooms, ok := d.bySession[sessionId]; ok {
		delete(rooms, roomId)
		if len(rooms) == 0 {
			delete(d.bySession, sessionId)
		}
	}
}

// ReplaceAll replaces the session's subscription set wholesale. Each
// connection carries its full room list, so a reconnect is
// authoritative and no incremental diffing is needed.
func (d *Directory) ReplaceAll(sessionId string, roomIds []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dropSessionLocked(sessionId)
	for _, roomId := range roomIds {
		d.subscribeLocked(roomId, sessionId)
	}
}

// Members returns a snapshot of the session IDs subscribed to the
// room. Callers fan out over the copy, so sessions added or removed
// mid-iteration are neither duplicated nor a crash hazard.
func (d *Directory) Members(roomId string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	members := d.rooms[roomId]
	snapshot := make([]string, 0, len(members))
	for sessionId := range members {
		snapshot = append(snapshot, sessionId)
	}

	return snapshot
}

func (d *Directory) IsSubscribed(roomId, sessionId string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, ok := d.rooms[roomId][sessionId]
	return ok
}

func (d *Directory) Rooms(sessionId string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rooms := d.bySession[sessionId]
	snapshot := make([]string, 0, len(rooms))
	for roomId := range rooms {
		snapshot = append(snapshot, roomId)
	}

	return snapshot
}

// DropSession removes every subscription held by the session.
func (d *Directory) DropSession(sessionId string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dropSessionLocked(sessionId)
}

func (d *Directory) dropSessionLocked(sessionId string) {
	for roomId := range d.bySession[sessionId] {
		delete(d.rooms[roomId], sessionId)
	}
	delete(d.bySession, sessionId)
}
