// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"time"
)

const (
	MaxParticipantIDLen = 64
	MaxDisplayNameLen   = 36
)

var (
	ErrDisplayNameTooLong   = errors.New("display name too long")
	ErrDisplayNameEmpty     = errors.New("display name empty")
	ErrParticipantIDEmpty   = errors.New("participant id empty")
	ErrParticipantIDTooLong = errors.New("participant id too long")
)

type ParticipantID string

type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

type ApprovalState string

const (
	ApprovalPending  ApprovalState = "pending"
	ApprovalApproved ApprovalState = "approved"
	ApprovalRejected ApprovalState = "rejected"
)

// Participant is one member of the meeting as seen by the local roster.
type Participant struct {
	ID           ParticipantID `json:"id"`
	DisplayName  string        `json:"displayName"`
	Role         Role          `json:"role"`
	Approval     ApprovalState `json:"approvalState"`
	AudioEnabled bool          `json:"audioEnabled"`
	VideoEnabled bool          `json:"videoEnabled"`
	JoinedAt     time.Time     `json:"joinedAt"`
}

func (p Participant) Approved() bool { return p.Approval == ApprovalApproved }

// ValidateDisplayName mirrors the relay-side limits so a bad name fails fast at startup.
func ValidateDisplayName(name string) error {
	if len(name) == 0 {
		return ErrDisplayNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	return nil
}

func ValidateParticipantID(id ParticipantID) error {
	if id == "" {
		return ErrParticipantIDEmpty
	}
	if len(id) > MaxParticipantIDLen {
		return ErrParticipantIDTooLong
	}
	return nil
}
