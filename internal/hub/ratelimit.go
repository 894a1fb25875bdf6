package hub

import (
	"sync"
	"time"
)

// typingLimiter enforces a minimum interval between typing events from
// one session per room. Clients debounce typing themselves; this keeps
// a misbehaving client from amplifying rapid-fire toggles onto the bus.
type typingLimiter struct {
	mu          sync.Mutex
	minInterval time.Duration
	last        map[string]time.Time
	now         func() time.Time
}

func newTypingLimiter(minInterval time.Duration) *typingLimiter {
	if minInterval <= 0 {
		minInterval = time.Second
	}

	return &typingLimiter{
		minInterval: minInterval,
		last:        make(map[string]time.Time),
		now:         time.Now,
	}
}

func (l *typingLimiter) allow(roomId string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if last, ok := l.last[roomId]; ok && now.Sub(last) < l.minInterval {
		return false
	}

	l.last[roomId] = now
	return true
}
