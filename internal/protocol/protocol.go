// Package protocol is the JSON wire format spoken with the signaling relay.
// Every frame is one object discriminated by its "type" field.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/VoiceMesh/internal/domain"
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrMissingType = errors.New("message type missing")
)

type Type string

const (
	TypeJoin               Type = "join"
	TypeLeave              Type = "leave"
	TypeApprove            Type = "approve"
	TypeSignal             Type = "signal"
	TypeMediaState         Type = "media-state"
	TypeForceConnect       Type = "force-connect"
	TypeRosterJoined       Type = "roster-joined"
	TypeRosterUpdate       Type = "roster-update"
	TypeParticipantRemoved Type = "participant-removed"
	TypeError              Type = "error"
)

// Message is any frame exchanged with the relay.
type Message interface {
	MessageType() Type
}

type Join struct {
	MeetingID   domain.MeetingID `json:"meetingId"`
	DisplayName string           `json:"displayName"`
	Host        bool             `json:"host"`
}

type Leave struct {
	MeetingID domain.MeetingID `json:"meetingId"`
}

type Approve struct {
	MeetingID domain.MeetingID     `json:"meetingId"`
	TargetID  domain.ParticipantID `json:"targetId"`
	Approved  bool                 `json:"approved"`
}

type Signal struct {
	To          domain.ParticipantID `json:"to"`
	From        domain.ParticipantID `json:"from"`
	Kind        domain.SignalKind    `json:"kind"`
	Payload     json.RawMessage      `json:"payload,omitempty"`
	Session     string               `json:"session,omitempty"`
	PeerSession string               `json:"peerSession,omitempty"`
	Seq         uint64               `json:"seq,omitempty"`
	SentAt      int64                `json:"sentAt,omitempty"`
}

type MediaState struct {
	OwnerID      domain.ParticipantID `json:"ownerId"`
	AudioEnabled bool                 `json:"audioEnabled"`
	VideoEnabled bool                 `json:"videoEnabled"`
	UpdatedAt    int64                `json:"updatedAt"`
}

type ForceConnect struct {
	To   domain.ParticipantID `json:"to"`
	From domain.ParticipantID `json:"from"`
}

type RosterJoined struct {
	SelfID domain.ParticipantID `json:"selfId"`
	Role   domain.Role          `json:"role"`
	Roster []domain.Participant `json:"roster"`
}

type RosterUpdate struct {
	Participants []domain.Participant `json:"participants"`
}

type ParticipantRemoved struct {
	Reason string `json:"reason"`
}

type Error struct {
	Error string `json:"error"`
}

func (Join) MessageType() Type               { return TypeJoin }
func (Leave) MessageType() Type              { return TypeLeave }
func (Approve) MessageType() Type            { return TypeApprove }
func (Signal) MessageType() Type             { return TypeSignal }
func (MediaState) MessageType() Type         { return TypeMediaState }
func (ForceConnect) MessageType() Type       { return TypeForceConnect }
func (RosterJoined) MessageType() Type       { return TypeRosterJoined }
func (RosterUpdate) MessageType() Type       { return TypeRosterUpdate }
func (ParticipantRemoved) MessageType() Type { return TypeParticipantRemoved }
func (Error) MessageType() Type              { return TypeError }

// Encode marshals m and stamps its "type" field.
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.MessageType(), err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.MessageType(), err)
	}
	typ, err := json.Marshal(m.MessageType())
	if err != nil {
		return nil, err
	}
	fields["type"] = typ
	return json.Marshal(fields)
}

// Decode parses one relay frame into its concrete message type.
func Decode(data []byte) (Message, error) {
	var env struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}

	switch env.Type {
	case TypeJoin:
		return decodeAs[Join](data)
	case TypeLeave:
		return decodeAs[Leave](data)
	case TypeApprove:
		return decodeAs[Approve](data)
	case TypeSignal:
		return decodeAs[Signal](data)
	case TypeMediaState:
		return decodeAs[MediaState](data)
	case TypeForceConnect:
		return decodeAs[ForceConnect](data)
	case TypeRosterJoined:
		return decodeAs[RosterJoined](data)
	case TypeRosterUpdate:
		return decodeAs[RosterUpdate](data)
	case TypeParticipantRemoved:
		return decodeAs[ParticipantRemoved](data)
	case TypeError:
		return decodeAs[Error](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func decodeAs[T Message](data []byte) (Message, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", m.MessageType(), err)
	}
	return m, nil
}

// Envelope converts a wire signal into the domain envelope.
func (s Signal) Envelope() domain.SignalEnvelope {
	env := domain.SignalEnvelope{
		From:        s.From,
		To:          s.To,
		Kind:        s.Kind,
		Payload:     s.Payload,
		Session:     s.Session,
		PeerSession: s.PeerSession,
		Seq:         s.Seq,
	}
	if s.SentAt > 0 {
		env.SentAt = time.UnixMilli(s.SentAt)
	}
	return env
}

func SignalFromEnvelope(env domain.SignalEnvelope) Signal {
	s := Signal{
		To:          env.To,
		From:        env.From,
		Kind:        env.Kind,
		Payload:     env.Payload,
		Session:     env.Session,
		PeerSession: env.PeerSession,
		Seq:         env.Seq,
	}
	if !env.SentAt.IsZero() {
		s.SentAt = env.SentAt.UnixMilli()
	}
	return s
}

func (m MediaState) State() domain.MediaState {
	return domain.MediaState{
		OwnerID:      m.OwnerID,
		AudioEnabled: m.AudioEnabled,
		VideoEnabled: m.VideoEnabled,
		UpdatedAt:    time.UnixMilli(m.UpdatedAt),
	}
}

func MediaStateFrom(s domain.MediaState) MediaState {
	return MediaState{
		OwnerID:      s.OwnerID,
		AudioEnabled: s.AudioEnabled,
		VideoEnabled: s.VideoEnabled,
		UpdatedAt:    s.UpdatedAt.UnixMilli(),
	}
}
