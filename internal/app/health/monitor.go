// Package health periodically audits the expected peer sessions and asks for
// rate-limited reconnections of the dead ones.
package health

import (
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/dkeye/VoiceMesh/internal/domain"
)

// Connections is the part of the connection manager the monitor drives.
type Connections interface {
	Session(id domain.ParticipantID) (domain.SessionInfo, bool)
	EnsureConnections(targets []domain.ParticipantID)
	Reconnect(id domain.ParticipantID)
}

type Class int

const (
	Absent Class = iota
	Established
	Dead
)

func (c Class) String() string {
	switch c {
	case Absent:
		return "absent"
	case Established:
		return "established"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

func (c Class) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

type Config struct {
	ReconnectCooldown  time.Duration
	NegotiationTimeout time.Duration
	DegradedGrace      time.Duration
	// PersistentAfter consecutive reconnect attempts flag the peer as persistently degraded.
	PersistentAfter int
}

// PeerHealth is the bookkeeping of one expected peer.
type PeerHealth struct {
	ID          domain.ParticipantID `json:"id"`
	Class       Class                `json:"class"`
	State       string               `json:"state,omitempty"`
	Attempts    int                  `json:"attempts"`
	Skipped     int                  `json:"skipped"`
	Persistent  bool                 `json:"persistentlyDegraded"`
	LastAttempt time.Time            `json:"lastAttempt,omitzero"`
	CheckedAt   time.Time            `json:"checkedAt"`
}

// Monitor is owned by the control loop.
type Monitor struct {
	cfg   Config
	conns Connections
	clock clock.Clock
	log   zerolog.Logger
	peers map[domain.ParticipantID]*PeerHealth
}

func NewMonitor(cfg Config, conns Connections, clk clock.Clock, log zerolog.Logger) *Monitor {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.PersistentAfter <= 0 {
		cfg.PersistentAfter = 3
	}
	return &Monitor{
		cfg:   cfg,
		conns: conns,
		clock: clk,
		log:   log,
		peers: make(map[domain.ParticipantID]*PeerHealth),
	}
}

// Classify sorts a session into absent, established or dead at now.
func (m *Monitor) Classify(info domain.SessionInfo, ok bool, now time.Time) Class {
	if !ok {
		return Absent
	}
	age := now.Sub(info.StateChangedAt)
	switch {
	case info.State.Terminal():
		return Dead
	case info.State.Negotiating() && age > m.cfg.NegotiationTimeout:
		return Dead
	case info.State == domain.StateDegraded && age > m.cfg.DegradedGrace:
		return Dead
	default:
		return Established
	}
}

// Tick audits every expected peer once.
func (m *Monitor) Tick(expected []domain.ParticipantID) {
	now := m.clock.Now()
	var absent []domain.ParticipantID

	for _, id := range expected {
		info, ok := m.conns.Session(id)
		class := m.Classify(info, ok, now)
		rec := m.record(id)
		rec.Class = class
		rec.CheckedAt = now
		rec.State = ""
		if ok {
			rec.State = info.State.String()
		}

		switch class {
		case Absent:
			absent = append(absent, id)
		case Established:
			if info.State == domain.StateConnected {
				m.recovered(rec)
			}
		case Dead:
			m.reconnect(rec, info, now)
		}
	}

	if len(absent) > 0 {
		m.log.Debug().Int("peers", len(absent)).Msg("absent sessions ensured")
		m.conns.EnsureConnections(absent)
	}
}

func (m *Monitor) reconnect(rec *PeerHealth, info domain.SessionInfo, now time.Time) {
	if !rec.LastAttempt.IsZero() && now.Sub(rec.LastAttempt) < m.cfg.ReconnectCooldown {
		rec.Skipped++
		m.log.Info().
			Str("peer", string(rec.ID)).
			Str("state", info.State.String()).
			Dur("since", now.Sub(rec.LastAttempt)).
			Msg("reconnect skipped, cooling down")
		return
	}
	rec.LastAttempt = now
	rec.Attempts++
	if !rec.Persistent && rec.Attempts >= m.cfg.PersistentAfter {
		rec.Persistent = true
		m.log.Warn().Str("peer", string(rec.ID)).Int("attempts", rec.Attempts).Msg("connection persistently degraded")
	}
	m.log.Info().
		Str("peer", string(rec.ID)).
		Str("state", info.State.String()).
		Int("attempt", rec.Attempts).
		Msg("reconnecting dead session")
	m.conns.Reconnect(rec.ID)
}

func (m *Monitor) recovered(rec *PeerHealth) {
	if rec.Attempts == 0 && !rec.Persistent {
		return
	}
	if rec.Persistent {
		m.log.Info().Str("peer", string(rec.ID)).Msg("connection recovered")
	}
	rec.Attempts = 0
	rec.Persistent = false
}

func (m *Monitor) record(id domain.ParticipantID) *PeerHealth {
	rec, ok := m.peers[id]
	if !ok {
		rec = &PeerHealth{ID: id}
		m.peers[id] = rec
	}
	return rec
}

func (m *Monitor) Forget(id domain.ParticipantID) {
	delete(m.peers, id)
}

func (m *Monitor) Degraded(id domain.ParticipantID) bool {
	rec, ok := m.peers[id]
	return ok && rec.Persistent
}

func (m *Monitor) Snapshot() []PeerHealth {
	out := lo.MapToSlice(m.peers, func(_ domain.ParticipantID, rec *PeerHealth) PeerHealth {
		return *rec
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
