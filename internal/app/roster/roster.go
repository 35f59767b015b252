// Package roster keeps the local view of meeting membership.
package roster

import (
	"sort"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/dkeye/VoiceMesh/internal/domain"
)

// Listener is told about every participant that leaves the roster so it can
// purge state keyed by that id.
type Listener interface {
	ParticipantLeft(id domain.ParticipantID)
}

type ListenerFunc func(id domain.ParticipantID)

func (f ListenerFunc) ParticipantLeft(id domain.ParticipantID) { f(id) }

// Diff is what a full roster update changed.
type Diff struct {
	Joined   []domain.ParticipantID
	Left     []domain.ParticipantID
	Approved []domain.ParticipantID
	Rejected []domain.ParticipantID
}

func (d Diff) Empty() bool {
	return len(d.Joined) == 0 && len(d.Left) == 0 && len(d.Approved) == 0 && len(d.Rejected) == 0
}

// Roster is owned by the control loop; it is not safe for concurrent use.
type Roster struct {
	members   map[domain.ParticipantID]*domain.Participant
	listeners []Listener
	log       zerolog.Logger
}

func New(log zerolog.Logger) *Roster {
	return &Roster{
		members: make(map[domain.ParticipantID]*domain.Participant),
		log:     log,
	}
}

func (r *Roster) Subscribe(l Listener) {
	r.listeners = append(r.listeners, l)
}

// ApplyJoin adds p or refreshes the known entry. It reports whether p was new.
func (r *Roster) ApplyJoin(p domain.Participant) bool {
	if err := domain.ValidateParticipantID(p.ID); err != nil {
		r.log.Warn().Err(err).Msg("participant ignored")
		return false
	}
	if cur, ok := r.members[p.ID]; ok {
		if p.JoinedAt.IsZero() {
			p.JoinedAt = cur.JoinedAt
		}
		*cur = p
		r.log.Debug().Str("participant", string(p.ID)).Msg("participant refreshed")
		return false
	}
	cp := p
	r.members[p.ID] = &cp
	r.log.Info().Str("participant", string(p.ID)).Str("name", p.DisplayName).Str("approval", string(p.Approval)).Msg("participant joined")
	return true
}

// ApplyLeave removes id and notifies listeners. Unknown ids are a no-op.
func (r *Roster) ApplyLeave(id domain.ParticipantID) bool {
	if _, ok := r.members[id]; !ok {
		return false
	}
	delete(r.members, id)
	r.log.Info().Str("participant", string(id)).Msg("participant left")
	for _, l := range r.listeners {
		l.ParticipantLeft(id)
	}
	return true
}

// ApplyApproval reports whether the approval state changed.
func (r *Roster) ApplyApproval(id domain.ParticipantID, approved bool) bool {
	p, ok := r.members[id]
	if !ok {
		return false
	}
	next := domain.ApprovalRejected
	if approved {
		next = domain.ApprovalApproved
	}
	if p.Approval == next {
		return false
	}
	p.Approval = next
	r.log.Info().Str("participant", string(id)).Str("approval", string(next)).Msg("approval changed")
	return true
}

func (r *Roster) ApplyMediaFlags(id domain.ParticipantID, audio, video bool) bool {
	p, ok := r.members[id]
	if !ok {
		return false
	}
	p.AudioEnabled = audio
	p.VideoEnabled = video
	return true
}

// Reconcile applies a full membership list: unknown ids join, missing ids leave.
func (r *Roster) Reconcile(list []domain.Participant) Diff {
	var diff Diff
	incoming := lo.SliceToMap(list, func(p domain.Participant) (domain.ParticipantID, domain.Participant) {
		return p.ID, p
	})

	for _, id := range r.sortedIDs() {
		if _, ok := incoming[id]; !ok && r.ApplyLeave(id) {
			diff.Left = append(diff.Left, id)
		}
	}

	for _, p := range list {
		if domain.ValidateParticipantID(p.ID) != nil {
			continue
		}
		prev, known := r.members[p.ID]
		var before domain.ApprovalState
		if known {
			before = prev.Approval
		}
		if r.ApplyJoin(p) {
			diff.Joined = append(diff.Joined, p.ID)
		}
		if known && before == p.Approval {
			continue
		}
		switch p.Approval {
		case domain.ApprovalApproved:
			diff.Approved = append(diff.Approved, p.ID)
		case domain.ApprovalRejected:
			diff.Rejected = append(diff.Rejected, p.ID)
		}
	}
	return diff
}

// Clear drops every member without notifying listeners; used when the meeting ends.
func (r *Roster) Clear() {
	r.members = make(map[domain.ParticipantID]*domain.Participant)
}

func (r *Roster) Get(id domain.ParticipantID) (domain.Participant, bool) {
	p, ok := r.members[id]
	if !ok {
		return domain.Participant{}, false
	}
	return *p, true
}

func (r *Roster) Size() int { return len(r.members) }

// Snapshot returns members ordered by join time.
func (r *Roster) Snapshot() []domain.Participant {
	out := lo.MapToSlice(r.members, func(_ domain.ParticipantID, p *domain.Participant) domain.Participant {
		return *p
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Expected lists the approved members other than self, most recently joined first.
func (r *Roster) Expected(self domain.ParticipantID) []domain.ParticipantID {
	approved := lo.Filter(r.Snapshot(), func(p domain.Participant, _ int) bool {
		return p.ID != self && p.Approved()
	})
	return lo.Reverse(lo.Map(approved, func(p domain.Participant, _ int) domain.ParticipantID {
		return p.ID
	}))
}

func (r *Roster) sortedIDs() []domain.ParticipantID {
	ids := lo.Keys(r.members)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
