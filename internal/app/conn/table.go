package conn

import (
	"sort"

	"github.com/samber/lo"

	"github.com/dkeye/VoiceMesh/internal/domain"
)

// Table holds at most one PeerSession per remote participant.
// It is owned by the control loop.
type Table struct {
	sessions map[domain.ParticipantID]*PeerSession
}

func NewTable() *Table {
	return &Table{sessions: make(map[domain.ParticipantID]*PeerSession)}
}

func (t *Table) Get(id domain.ParticipantID) (*PeerSession, bool) {
	s, ok := t.sessions[id]
	return s, ok
}

// Current returns the session of id only if it still has generation gen.
func (t *Table) Current(id domain.ParticipantID, gen uint64) (*PeerSession, bool) {
	s, ok := t.sessions[id]
	if !ok || s.gen != gen {
		return nil, false
	}
	return s, true
}

func (t *Table) put(s *PeerSession) { t.sessions[s.remote] = s }

func (t *Table) remove(id domain.ParticipantID) (*PeerSession, bool) {
	s, ok := t.sessions[id]
	if ok {
		delete(t.sessions, id)
	}
	return s, ok
}

func (t *Table) Len() int { return len(t.sessions) }

// Negotiating counts sessions in NEW, SIGNALING or CONNECTING.
func (t *Table) Negotiating() int {
	return lo.CountBy(lo.Values(t.sessions), func(s *PeerSession) bool {
		return s.state.Negotiating()
	})
}

func (t *Table) IDs() []domain.ParticipantID {
	ids := lo.Keys(t.sessions)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (t *Table) Snapshot() []domain.SessionInfo {
	return lo.Map(t.IDs(), func(id domain.ParticipantID, _ int) domain.SessionInfo {
		return t.sessions[id].Info()
	})
}
