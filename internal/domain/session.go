package domain

import "time"

// NegotiationRole says which side of a pair proposes the session.
type NegotiationRole int

const (
	Initiator NegotiationRole = iota
	Responder
)

func (r NegotiationRole) String() string {
	switch r {
	case Initiator:
		return "initiator"
	case Responder:
		return "responder"
	default:
		return "unknown"
	}
}

// IsInitiator reports whether self proposes the session with remote.
// The smaller id initiates, so both sides agree without talking.
func IsInitiator(self, remote ParticipantID) bool {
	return self < remote
}

func RoleFor(self, remote ParticipantID) NegotiationRole {
	if IsInitiator(self, remote) {
		return Initiator
	}
	return Responder
}

func (r NegotiationRole) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

type SessionState int

const (
	StateNew SessionState = iota
	StateSignaling
	StateConnecting
	StateConnected
	StateDegraded
	StateClosed
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSignaling:
		return "SIGNALING"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDegraded:
		return "DEGRADED"
	case StateClosed:
		return "CLOSED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

func (s SessionState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal states are only left by removing the session and creating a fresh one.
func (s SessionState) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// Negotiating states count against the fan-out limit.
func (s SessionState) Negotiating() bool {
	return s == StateNew || s == StateSignaling || s == StateConnecting
}

// SessionInfo is a read-only view of a peer session (no transport fields).
type SessionInfo struct {
	RemoteID       ParticipantID   `json:"remoteId"`
	Role           NegotiationRole `json:"role"`
	State          SessionState    `json:"state"`
	Generation     uint64          `json:"generation"`
	SessionID      string          `json:"sessionId"`
	CreatedAt      time.Time       `json:"createdAt"`
	LastSignalAt   time.Time       `json:"lastSignalAt"`
	StateChangedAt time.Time       `json:"stateChangedAt"`
}
