package app

import (
	"sync"
	"time"

	"github.com/demirkiran/cafe/internal/domain"
)

// ChatLimiter is a sliding-window rate limiter keyed by peer, applied to
// chat fan-out.
type ChatLimiter struct {
	mu       sync.Mutex
	history  map[domain.PeerID][]time.Time
	limit    int
	interval time.Duration
}

func NewChatLimiter(limit int, interval time.Duration) *ChatLimiter {
	return &ChatLimiter{
		history:  make(map[domain.PeerID][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *ChatLimiter) Allow(id domain.PeerID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[id]
	fresh := make([]time.Time, 0, len(attempts))
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[id] = fresh
		return false
	}

	fresh = append(fresh, now)
	rl.history[id] = fresh
	return true
}

// Forget drops a peer's window, called on disconnect.
func (rl *ChatLimiter) Forget(id domain.PeerID) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.history, id)
}
