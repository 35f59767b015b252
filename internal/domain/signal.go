package domain

import (
	"encoding/json"
	"time"
)

type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
	SignalControl   SignalKind = "control"
)

// SignalEnvelope is one negotiation message between two participants.
// Session is the sender's negotiation round and PeerSession the receiver's round
// as the sender knows it (empty until learned). Seq starts at 1 per round and direction.
type SignalEnvelope struct {
	From        ParticipantID
	To          ParticipantID
	Kind        SignalKind
	Payload     json.RawMessage
	Session     string
	PeerSession string
	Seq         uint64
	SentAt      time.Time
}
