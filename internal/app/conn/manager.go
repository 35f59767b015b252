// Package conn owns the peer sessions of the local participant: who connects
// to whom, negotiation, teardown and the session state machine.
package conn

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/dkeye/VoiceMesh/internal/app/event"
	"github.com/dkeye/VoiceMesh/internal/app/streams"
	"github.com/dkeye/VoiceMesh/internal/app/timers"
	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/dkeye/VoiceMesh/internal/protocol"
)

var ErrProtocolViolation = errors.New("signaling protocol violation")

type Config struct {
	// FanOut caps sessions negotiating at once.
	FanOut             int
	StaggerStep        time.Duration
	NegotiationTimeout time.Duration
	DegradedGrace      time.Duration
	// ForceConnectLimit inbound force-connect requests per peer are honoured per ForceConnectWindow.
	ForceConnectLimit  int
	ForceConnectWindow time.Duration
}

type Deps struct {
	Self      domain.ParticipantID
	Signaler  core.Signaler
	Factory   core.TransportFactory
	Timers    *timers.Registry
	Streams   *streams.Registry
	Clock     clock.Clock
	Post      event.Poster
	Log       zerolog.Logger
	Connected func(id domain.ParticipantID)
}

type Manager struct {
	cfg       Config
	self      domain.ParticipantID
	signaler  core.Signaler
	factory   core.TransportFactory
	timers    *timers.Registry
	streams   *streams.Registry
	clock     clock.Clock
	post      event.Poster
	log       zerolog.Logger
	connected func(id domain.ParticipantID)

	table    *Table
	deferred []domain.ParticipantID
	limiter  *PeerRateLimiter
	// ended holds the last remote round torn down per peer.
	ended map[domain.ParticipantID]string
}

func NewManager(cfg Config, deps Deps) *Manager {
	if cfg.FanOut <= 0 {
		cfg.FanOut = 1
	}
	if cfg.ForceConnectLimit <= 0 {
		cfg.ForceConnectLimit = 3
	}
	if cfg.ForceConnectWindow <= 0 {
		cfg.ForceConnectWindow = 10 * time.Second
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Manager{
		cfg:       cfg,
		self:      deps.Self,
		signaler:  deps.Signaler,
		factory:   deps.Factory,
		timers:    deps.Timers,
		streams:   deps.Streams,
		clock:     clk,
		post:      deps.Post,
		log:       deps.Log,
		connected: deps.Connected,
		table:     NewTable(),
		limiter:   NewPeerRateLimiter(clk, cfg.ForceConnectLimit, cfg.ForceConnectWindow),
		ended:     make(map[domain.ParticipantID]string),
	}
}

func (m *Manager) Session(id domain.ParticipantID) (domain.SessionInfo, bool) {
	s, ok := m.table.Get(id)
	if !ok {
		return domain.SessionInfo{}, false
	}
	return s.Info(), true
}

// Current reports whether gen is still the generation of the session with id.
func (m *Manager) Current(id domain.ParticipantID, gen uint64) bool {
	_, ok := m.table.Current(id, gen)
	return ok
}

func (m *Manager) Sessions() []domain.SessionInfo { return m.table.Snapshot() }

func (m *Manager) Deferred() []domain.ParticipantID {
	return append([]domain.ParticipantID(nil), m.deferred...)
}

// EnsureConnections starts sessions toward every target this side initiates
// and that has no session yet. Targets beyond the fan-out cap are queued.
// Ended sessions are left in place: only Reconnect replaces them, so the
// health monitor's cooldown applies.
func (m *Manager) EnsureConnections(targets []domain.ParticipantID) {
	ordinal := 0
	for _, id := range targets {
		if id == "" || id == m.self {
			continue
		}
		if !domain.IsInitiator(m.self, id) {
			m.log.Debug().Str("peer", string(id)).Msg("responder side, waiting for offer")
			continue
		}
		if _, ok := m.table.Get(id); ok {
			continue
		}
		if lo.Contains(m.deferred, id) {
			continue
		}
		if m.table.Negotiating() >= m.cfg.FanOut {
			m.deferred = append(m.deferred, id)
			m.log.Debug().Str("peer", string(id)).Int("queued", len(m.deferred)).Msg("fan-out reached, deferred")
			continue
		}
		m.startInitiator(id, ordinal)
		ordinal++
	}
}

// Teardown removes every trace of the session with id and tells the remote
// when the session was live. Calling it for an unknown id is a no-op.
func (m *Manager) Teardown(id domain.ParticipantID) bool {
	return m.teardown(id, true)
}

func (m *Manager) teardown(id domain.ParticipantID, notify bool) bool {
	removed := m.discard(id, notify)
	m.promote()
	return removed
}

// Retain tears down every session and deferred target not in expected.
func (m *Manager) Retain(expected []domain.ParticipantID) int {
	keep := lo.Keyify(expected)
	n := 0
	for _, id := range m.deferred {
		if _, ok := keep[id]; !ok {
			m.dropDeferred(id)
			n++
		}
	}
	for _, id := range m.table.IDs() {
		if _, ok := keep[id]; ok {
			continue
		}
		if m.Teardown(id) {
			m.log.Info().Str("peer", string(id)).Msg("session for unexpected peer removed")
			n++
		}
	}
	return n
}

func (m *Manager) discard(id domain.ParticipantID, notify bool) bool {
	m.timers.CancelPeer(id)
	wasDeferred := m.dropDeferred(id)
	s, ok := m.table.remove(id)
	if !ok {
		return wasDeferred
	}
	if notify && s.state != domain.StateNew && !s.state.Terminal() {
		m.sendControl(s, controlClose)
	}
	if s.remoteSession != "" {
		m.ended[id] = s.remoteSession
	}
	if err := s.closeTransport(); err != nil {
		m.log.Warn().Err(err).Str("peer", string(id)).Msg("transport close failed")
	}
	m.streams.Remove(id)
	m.log.Info().
		Str("peer", string(id)).
		Uint64("gen", s.gen).
		Str("state", s.state.String()).
		Msg("session torn down")
	return true
}

// Reconnect tears the session down and starts over. The responder side cannot
// offer, so it asks the remote to.
func (m *Manager) Reconnect(id domain.ParticipantID) {
	m.Teardown(id)
	if domain.IsInitiator(m.self, id) {
		m.EnsureConnections([]domain.ParticipantID{id})
		return
	}
	m.requestConnect(id)
}

// HandleForceConnect serves a remote request to rebuild the session.
func (m *Manager) HandleForceConnect(from domain.ParticipantID) {
	if from == "" || from == m.self {
		return
	}
	if !m.limiter.Allow(from) {
		m.log.Warn().Str("peer", string(from)).Msg("force-connect rate limited")
		return
	}
	m.log.Info().Str("peer", string(from)).Msg("force-connect received")
	if domain.IsInitiator(m.self, from) {
		m.Reconnect(from)
		return
	}
	// The initiator re-offers; the new round replaces ours anyway.
	m.Teardown(from)
}

// Forget drops per-peer bookkeeping kept outside the table.
func (m *Manager) Forget(id domain.ParticipantID) {
	m.limiter.Forget(id)
	delete(m.ended, id)
}

// Close tells every remote the sessions are over and tears them all down.
func (m *Manager) Close() {
	m.deferred = nil
	for _, id := range m.table.IDs() {
		m.Teardown(id)
	}
	m.timers.CancelAll()
}

// OnTransportState applies a connectivity change reported by a transport.
func (m *Manager) OnTransportState(ev event.TransportState) {
	s, ok := m.table.Current(ev.Peer, ev.Gen)
	if !ok {
		m.log.Debug().Str("peer", string(ev.Peer)).Uint64("gen", ev.Gen).Msg("stale transport state dropped")
		return
	}
	switch ev.State {
	case core.TransportConnecting:
		if s.state == domain.StateSignaling {
			m.setState(s, domain.StateConnecting)
		}
	case core.TransportConnected:
		if s.state == domain.StateConnected {
			return
		}
		if !m.setState(s, domain.StateConnected) {
			return
		}
		m.timers.Cancel(timers.Key{Peer: s.remote, Purpose: timers.Negotiation})
		m.timers.Cancel(timers.Key{Peer: s.remote, Purpose: timers.Degraded})
		m.promote()
		if m.connected != nil {
			m.connected(s.remote)
		}
	case core.TransportDisconnected:
		if s.state == domain.StateConnected && m.setState(s, domain.StateDegraded) {
			m.schedule(s, timers.Degraded, m.cfg.DegradedGrace)
		}
	case core.TransportFailed:
		m.fail(s, domain.StateFailed, "transport failed")
	case core.TransportClosed:
		m.fail(s, domain.StateClosed, "transport closed")
	}
}

// OnLocalCandidate forwards a gathered ICE candidate to the remote.
func (m *Manager) OnLocalCandidate(ev event.LocalCandidate) {
	s, ok := m.table.Current(ev.Peer, ev.Gen)
	if !ok || s.state.Terminal() {
		return
	}
	m.send(s, domain.SignalCandidate, ev.Payload)
}

// OnTimer handles a fired timer if it is still the registered one and its
// session still exists.
func (m *Manager) OnTimer(ev event.TimerFired) {
	if !m.timers.Claim(ev.Key, ev.TimerGen) {
		return
	}
	s, ok := m.table.Current(ev.Key.Peer, ev.SessionGen)
	if !ok {
		return
	}
	switch ev.Key.Purpose {
	case timers.Stagger:
		if s.state == domain.StateNew {
			m.offer(s)
		}
	case timers.Negotiation:
		if s.state.Negotiating() {
			m.fail(s, domain.StateFailed, "negotiation timed out")
		}
	case timers.Degraded:
		if s.state == domain.StateDegraded {
			m.fail(s, domain.StateFailed, "degraded grace expired")
		}
	}
}

func (m *Manager) startInitiator(id domain.ParticipantID, ordinal int) {
	s := newPeerSession(id, domain.Initiator, m.clock.Now())
	m.table.put(s)
	delay := time.Duration(ordinal) * m.cfg.StaggerStep
	m.schedule(s, timers.Stagger, delay)
	m.log.Info().
		Str("peer", string(id)).
		Uint64("gen", s.gen).
		Dur("delay", delay).
		Msg("session created as initiator")
}

func (m *Manager) offer(s *PeerSession) {
	if err := m.attachTransport(s); err != nil {
		m.log.Error().Err(err).Str("peer", string(s.remote)).Msg("transport setup failed")
		m.fail(s, domain.StateFailed, "transport setup failed")
		return
	}
	sdp, err := s.transport.CreateOffer()
	if err != nil {
		m.log.Error().Err(err).Str("peer", string(s.remote)).Msg("create offer failed")
		m.fail(s, domain.StateFailed, "create offer failed")
		return
	}
	m.setState(s, domain.StateSignaling)
	m.schedule(s, timers.Negotiation, m.cfg.NegotiationTimeout)
	m.send(s, domain.SignalOffer, sdp)
}

func (m *Manager) attachTransport(s *PeerSession) error {
	peer, gen := s.remote, s.gen
	post := m.post
	t, err := m.factory.NewTransport(peer, core.TransportHooks{
		OnState: func(st core.TransportState) {
			post(event.TransportState{Peer: peer, Gen: gen, State: st})
		},
		OnCandidate: func(c json.RawMessage) {
			post(event.LocalCandidate{Peer: peer, Gen: gen, Payload: c})
		},
		OnBundle: func(b domain.StreamBundle) {
			post(event.BundleReceived{Peer: peer, Gen: gen, Bundle: b})
		},
	})
	if err != nil {
		return err
	}
	s.setTransport(t)
	return nil
}

func (m *Manager) schedule(s *PeerSession, purpose timers.Purpose, d time.Duration) {
	key := timers.Key{Peer: s.remote, Purpose: purpose}
	sessionGen := s.gen
	post := m.post
	m.timers.Schedule(key, d, func(gen uint64) {
		post(event.TimerFired{Key: key, TimerGen: gen, SessionGen: sessionGen})
	})
}

func (m *Manager) setState(s *PeerSession, to domain.SessionState) bool {
	from := s.state
	if !s.transition(to, m.clock.Now()) {
		m.log.Debug().
			Str("peer", string(s.remote)).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("transition refused")
		return false
	}
	m.log.Info().
		Str("peer", string(s.remote)).
		Uint64("gen", s.gen).
		Str("from", from.String()).
		Str("state", to.String()).
		Msg("session state")
	return true
}

// fail moves s to a terminal state and releases its transport. The entry stays
// in the table until the health monitor or a new round replaces it.
func (m *Manager) fail(s *PeerSession, to domain.SessionState, reason string) {
	if s.state.Terminal() {
		return
	}
	m.log.Warn().Str("peer", string(s.remote)).Uint64("gen", s.gen).Str("reason", reason).Msg("session ended")
	m.setState(s, to)
	m.timers.CancelPeer(s.remote)
	if err := s.closeTransport(); err != nil {
		m.log.Warn().Err(err).Str("peer", string(s.remote)).Msg("transport close failed")
	}
	m.promote()
}

// promote starts deferred targets while there is fan-out room.
func (m *Manager) promote() {
	ordinal := 0
	for len(m.deferred) > 0 && m.table.Negotiating() < m.cfg.FanOut {
		id := m.deferred[0]
		m.deferred = m.deferred[1:]
		if _, ok := m.table.Get(id); ok {
			continue
		}
		m.startInitiator(id, ordinal)
		ordinal++
	}
}

func (m *Manager) dropDeferred(id domain.ParticipantID) bool {
	before := len(m.deferred)
	m.deferred = lo.Without(m.deferred, id)
	return len(m.deferred) != before
}

func (m *Manager) requestConnect(id domain.ParticipantID) {
	if err := m.signaler.Send(protocol.ForceConnect{To: id, From: m.self}); err != nil {
		m.log.Warn().Err(err).Str("peer", string(id)).Msg("force-connect not sent")
	}
}

func (m *Manager) send(s *PeerSession, kind domain.SignalKind, payload json.RawMessage) {
	env := s.envelope(m.self, kind, payload, m.clock.Now())
	if err := m.signaler.Send(protocol.SignalFromEnvelope(env)); err != nil {
		m.log.Warn().
			Err(err).
			Str("peer", string(s.remote)).
			Str("kind", string(kind)).
			Msg("signal not sent")
	}
}
