// Package timers is the single place where the orchestrator schedules delayed work.
// Timers are keyed by (peer, purpose); a fired timer only counts if it is still
// the one registered under its key.
package timers

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dkeye/VoiceMesh/internal/domain"
)

type Purpose int

const (
	// Stagger delays an outbound offer.
	Stagger Purpose = iota
	// Negotiation bounds how long a session may stay negotiating.
	Negotiation
	// Degraded bounds how long a session may stay degraded.
	Degraded
)

func (p Purpose) String() string {
	switch p {
	case Stagger:
		return "stagger"
	case Negotiation:
		return "negotiation"
	case Degraded:
		return "degraded"
	default:
		return "unknown"
	}
}

type Key struct {
	Peer    domain.ParticipantID
	Purpose Purpose
}

type entry struct {
	timer *clock.Timer
	gen   uint64
}

// Registry is owned by the control loop and is not safe for concurrent use.
// Only the fire callbacks run elsewhere, and they never touch the registry.
type Registry struct {
	clock   clock.Clock
	seq     uint64
	entries map[Key]entry
}

func NewRegistry(clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{
		clock:   clk,
		entries: make(map[Key]entry),
	}
}

// Schedule registers fire to run after d, replacing any timer under key.
// fire receives the timer generation, which must be passed back to Claim.
func (r *Registry) Schedule(key Key, d time.Duration, fire func(gen uint64)) uint64 {
	r.Cancel(key)
	r.seq++
	gen := r.seq
	t := r.clock.AfterFunc(d, func() { fire(gen) })
	r.entries[key] = entry{timer: t, gen: gen}
	return gen
}

// Claim consumes the timer under key if gen is still current.
// A false result means the timer was cancelled or replaced after it fired.
func (r *Registry) Claim(key Key, gen uint64) bool {
	e, ok := r.entries[key]
	if !ok || e.gen != gen {
		return false
	}
	delete(r.entries, key)
	return true
}

func (r *Registry) Cancel(key Key) bool {
	e, ok := r.entries[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(r.entries, key)
	return true
}

// CancelPeer drops every timer of peer and returns how many were pending.
func (r *Registry) CancelPeer(peer domain.ParticipantID) int {
	n := 0
	for key := range r.entries {
		if key.Peer == peer && r.Cancel(key) {
			n++
		}
	}
	return n
}

func (r *Registry) CancelAll() {
	for key := range r.entries {
		r.Cancel(key)
	}
}

func (r *Registry) Pending(peer domain.ParticipantID) []Purpose {
	var out []Purpose
	for key := range r.entries {
		if key.Peer == peer {
			out = append(out, key.Purpose)
		}
	}
	return out
}

func (r *Registry) Len() int { return len(r.entries) }
