package conn

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
)

// generations is process-wide so that events from a session of an ended
// meeting can never match a session of the next one.
var generations atomic.Uint64

var transitions = map[domain.SessionState][]domain.SessionState{
	domain.StateNew:        {domain.StateSignaling, domain.StateFailed, domain.StateClosed},
	domain.StateSignaling:  {domain.StateConnecting, domain.StateConnected, domain.StateFailed, domain.StateClosed},
	domain.StateConnecting: {domain.StateConnected, domain.StateFailed, domain.StateClosed},
	domain.StateConnected:  {domain.StateDegraded, domain.StateFailed, domain.StateClosed},
	domain.StateDegraded:   {domain.StateConnected, domain.StateFailed, domain.StateClosed},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to domain.SessionState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// PeerSession is the point-to-point session with one remote participant.
type PeerSession struct {
	remote    domain.ParticipantID
	role      domain.NegotiationRole
	state     domain.SessionState
	transport core.Transport

	gen           uint64
	id            string
	remoteSession string
	nextSendSeq   uint64
	lastRecvSeq   uint64

	createdAt      time.Time
	lastSignalAt   time.Time
	stateChangedAt time.Time
}

func newPeerSession(remote domain.ParticipantID, role domain.NegotiationRole, now time.Time) *PeerSession {
	return &PeerSession{
		remote:         remote,
		role:           role,
		state:          domain.StateNew,
		gen:            generations.Add(1),
		id:             uuid.NewString(),
		nextSendSeq:    1,
		createdAt:      now,
		stateChangedAt: now,
	}
}

func (s *PeerSession) setTransport(t core.Transport) { s.transport = t }

func (s *PeerSession) expects(seq uint64) bool { return seq == s.lastRecvSeq+1 }

func (s *PeerSession) received(seq uint64, at time.Time) {
	s.lastRecvSeq = seq
	s.lastSignalAt = at
}

func (s *PeerSession) transition(to domain.SessionState, now time.Time) bool {
	if !CanTransition(s.state, to) {
		return false
	}
	s.state = to
	s.stateChangedAt = now
	return true
}

// envelope stamps the next outbound sequence number.
func (s *PeerSession) envelope(self domain.ParticipantID, kind domain.SignalKind, payload []byte, now time.Time) domain.SignalEnvelope {
	env := domain.SignalEnvelope{
		From:        self,
		To:          s.remote,
		Kind:        kind,
		Payload:     payload,
		Session:     s.id,
		PeerSession: s.remoteSession,
		Seq:         s.nextSendSeq,
		SentAt:      now,
	}
	s.nextSendSeq++
	s.lastSignalAt = now
	return env
}

func (s *PeerSession) closeTransport() error {
	if s.transport == nil {
		return nil
	}
	t := s.transport
	s.transport = nil
	return t.Close()
}

func (s *PeerSession) Info() domain.SessionInfo {
	return domain.SessionInfo{
		RemoteID:       s.remote,
		Role:           s.role,
		State:          s.state,
		Generation:     s.gen,
		SessionID:      s.id,
		CreatedAt:      s.createdAt,
		LastSignalAt:   s.lastSignalAt,
		StateChangedAt: s.stateChangedAt,
	}
}
