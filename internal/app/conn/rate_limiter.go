package conn

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"

	"github.com/dkeye/VoiceMesh/internal/domain"
)

// PeerRateLimiter is a sliding-window limiter per remote participant.
// It is owned by the control loop.
type PeerRateLimiter struct {
	clock    clock.Clock
	history  map[domain.ParticipantID][]time.Time
	limit    int
	interval time.Duration
}

func NewPeerRateLimiter(clk clock.Clock, limit int, interval time.Duration) *PeerRateLimiter {
	return &PeerRateLimiter{
		clock:    clk,
		history:  make(map[domain.ParticipantID][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *PeerRateLimiter) Allow(id domain.ParticipantID) bool {
	now := rl.clock.Now()
	windowStart := now.Add(-rl.interval)

	fresh := lo.Filter(rl.history[id], func(t time.Time, _ int) bool {
		return t.After(windowStart)
	})
	if len(fresh) >= rl.limit {
		rl.history[id] = fresh
		return false
	}
	rl.history[id] = append(fresh, now)
	return true
}

func (rl *PeerRateLimiter) Forget(id domain.ParticipantID) {
	delete(rl.history, id)
}
