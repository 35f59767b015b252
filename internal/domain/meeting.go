package domain

import "time"

type MeetingID string

// MeetingSession is the process-wide context of one joined meeting.
// Everything else the orchestrator tracks lives and dies with it.
type MeetingSession struct {
	MeetingID MeetingID     `json:"meetingId"`
	SelfID    ParticipantID `json:"selfId"`
	SelfRole  Role          `json:"selfRole"`
	JoinedAt  time.Time     `json:"joinedAt"`
}

func (m *MeetingSession) IsHost() bool { return m != nil && m.SelfRole == RoleHost }
