package conn

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/VoiceMesh/internal/app/timers"
	"github.com/dkeye/VoiceMesh/internal/domain"
)

type control struct {
	Action string `json:"action"`
}

const actionClose = "close"

var controlClose = control{Action: actionClose}

// HandleIncomingSignal applies one envelope from the relay. Envelopes from the
// same peer must be passed in arrival order.
func (m *Manager) HandleIncomingSignal(env domain.SignalEnvelope) {
	peer := env.From
	logger := m.log.With().Str("peer", string(peer)).Str("kind", string(env.Kind)).Uint64("seq", env.Seq).Logger()

	if peer == "" || peer == m.self || (env.To != "" && env.To != m.self) {
		logger.Debug().Str("to", string(env.To)).Msg("misaddressed signal dropped")
		return
	}

	s, ok := m.table.Get(peer)

	// Addressed to a round of ours that no longer exists.
	if env.PeerSession != "" && (!ok || env.PeerSession != s.id) {
		logger.Debug().Msg("signal for an old local round dropped")
		return
	}

	if ok && s.remoteSession != "" && env.Session != s.remoteSession {
		if env.Kind != domain.SignalOffer {
			logger.Debug().Msg("signal from an old remote round dropped")
			return
		}
		logger.Info().Msg("new remote round replaces session")
		m.discard(peer, false)
		s, ok = nil, false
	}

	if ok && s.state.Terminal() {
		if env.Kind != domain.SignalOffer {
			logger.Debug().Str("state", s.state.String()).Msg("signal for ended session dropped")
			return
		}
		m.discard(peer, false)
		s, ok = nil, false
	}

	if env.Kind == domain.SignalControl {
		if ok {
			m.applyControl(s, env)
		}
		return
	}

	if !ok {
		if env.Kind == domain.SignalCandidate && !domain.IsInitiator(m.self, peer) && env.Session != m.ended[peer] {
			// The round's offer has not been applied: an ordering violation.
			logger.Warn().Str("session", env.Session).Msg("candidate before offer, asking for a new round")
			m.ended[peer] = env.Session
			m.requestConnect(peer)
			return
		}
		if env.Kind != domain.SignalOffer {
			logger.Debug().Msg("signal without session dropped")
			return
		}
		if domain.IsInitiator(m.self, peer) {
			logger.Warn().Msg("offer from the responder side dropped")
			return
		}
		s = newPeerSession(peer, domain.Responder, m.clock.Now())
		m.table.put(s)
		logger.Info().Uint64("gen", s.gen).Msg("session created as responder")
	}

	if !s.expects(env.Seq) {
		m.violation(s, fmt.Errorf("%w: seq %d after %d", ErrProtocolViolation, env.Seq, s.lastRecvSeq))
		return
	}
	if s.remoteSession == "" {
		s.remoteSession = env.Session
	}
	s.received(env.Seq, m.clock.Now())

	switch env.Kind {
	case domain.SignalOffer:
		m.applyOffer(s, env.Payload)
	case domain.SignalAnswer:
		m.applyAnswer(s, env.Payload)
	case domain.SignalCandidate:
		m.applyCandidate(s, env.Payload)
	default:
		logger.Warn().Msg("unknown signal kind dropped")
	}
}

func (m *Manager) applyOffer(s *PeerSession, sdp json.RawMessage) {
	if s.role != domain.Responder || s.state != domain.StateNew {
		m.violation(s, fmt.Errorf("%w: offer in %s as %s", ErrProtocolViolation, s.state, s.role))
		return
	}
	if err := m.attachTransport(s); err != nil {
		m.log.Error().Err(err).Str("peer", string(s.remote)).Msg("transport setup failed")
		m.fail(s, domain.StateFailed, "transport setup failed")
		return
	}
	answer, err := s.transport.AcceptOffer(sdp)
	if err != nil {
		m.log.Error().Err(err).Str("peer", string(s.remote)).Msg("accept offer failed")
		m.fail(s, domain.StateFailed, "accept offer failed")
		return
	}
	m.setState(s, domain.StateSignaling)
	m.schedule(s, timers.Negotiation, m.cfg.NegotiationTimeout)
	m.send(s, domain.SignalAnswer, answer)
}

func (m *Manager) applyAnswer(s *PeerSession, sdp json.RawMessage) {
	if s.role != domain.Initiator || s.state != domain.StateSignaling || s.transport == nil {
		m.violation(s, fmt.Errorf("%w: answer in %s as %s", ErrProtocolViolation, s.state, s.role))
		return
	}
	if err := s.transport.ApplyAnswer(sdp); err != nil {
		m.log.Error().Err(err).Str("peer", string(s.remote)).Msg("apply answer failed")
		m.fail(s, domain.StateFailed, "apply answer failed")
		return
	}
	m.setState(s, domain.StateConnecting)
}

func (m *Manager) applyCandidate(s *PeerSession, c json.RawMessage) {
	if s.transport == nil {
		m.log.Debug().Str("peer", string(s.remote)).Msg("candidate before transport dropped")
		return
	}
	if err := s.transport.AddICECandidate(c); err != nil {
		m.log.Warn().Err(err).Str("peer", string(s.remote)).Msg("add candidate failed")
	}
}

func (m *Manager) applyControl(s *PeerSession, env domain.SignalEnvelope) {
	var c control
	if err := json.Unmarshal(env.Payload, &c); err != nil {
		m.log.Warn().Err(err).Str("peer", string(s.remote)).Msg("bad control payload")
		return
	}
	if c.Action == actionClose {
		m.log.Info().Str("peer", string(s.remote)).Msg("remote closed session")
		m.teardown(s.remote, false)
	}
}

// violation ends only the affected session and starts a fresh round.
func (m *Manager) violation(s *PeerSession, err error) {
	m.log.Warn().Err(err).Str("peer", string(s.remote)).Uint64("gen", s.gen).Msg("session reset")
	m.Reconnect(s.remote)
}

func (m *Manager) sendControl(s *PeerSession, c control) {
	payload, err := json.Marshal(c)
	if err != nil {
		return
	}
	m.send(s, domain.SignalControl, payload)
}
