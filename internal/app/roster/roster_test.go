package roster

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/VoiceMesh/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func member(id string, approval domain.ApprovalState, joinedAfter time.Duration) domain.Participant {
	return domain.Participant{
		ID:          domain.ParticipantID(id),
		DisplayName: id,
		Role:        domain.RoleGuest,
		Approval:    approval,
		JoinedAt:    t0.Add(joinedAfter),
	}
}

func TestRoster_ApplyJoinIsIdempotent(t *testing.T) {
	req := require.New(t)
	r := New(zerolog.Nop())

	req.True(r.ApplyJoin(member("b", domain.ApprovalPending, 0)))

	again := member("b", domain.ApprovalApproved, 0)
	again.DisplayName = "Bob"
	req.False(r.ApplyJoin(again))

	req.Equal(1, r.Size())
	got, ok := r.Get("b")
	req.True(ok)
	req.Equal("Bob", got.DisplayName)
	req.True(got.Approved())
}

func TestRoster_ApplyLeaveNotifies(t *testing.T) {
	req := require.New(t)
	r := New(zerolog.Nop())
	var left []domain.ParticipantID
	r.Subscribe(ListenerFunc(func(id domain.ParticipantID) { left = append(left, id) }))
	r.ApplyJoin(member("b", domain.ApprovalApproved, 0))

	req.True(r.ApplyLeave("b"))
	req.False(r.ApplyLeave("b"))

	req.Equal([]domain.ParticipantID{"b"}, left)
	req.Zero(r.Size())
}

func TestRoster_ApprovalAndMediaFlags(t *testing.T) {
	req := require.New(t)
	r := New(zerolog.Nop())
	r.ApplyJoin(member("b", domain.ApprovalPending, 0))

	req.True(r.ApplyApproval("b", true))
	req.False(r.ApplyApproval("b", true))
	req.False(r.ApplyApproval("zzz", true))

	req.True(r.ApplyMediaFlags("b", true, false))
	got, _ := r.Get("b")
	req.True(got.AudioEnabled)
	req.False(got.VideoEnabled)
}

func TestRoster_ExpectedMostRecentFirst(t *testing.T) {
	req := require.New(t)
	r := New(zerolog.Nop())
	r.ApplyJoin(member("a", domain.ApprovalApproved, 0))
	r.ApplyJoin(member("c", domain.ApprovalApproved, time.Second))
	r.ApplyJoin(member("d", domain.ApprovalPending, 2*time.Second))
	r.ApplyJoin(member("b", domain.ApprovalApproved, 3*time.Second))

	req.Equal([]domain.ParticipantID{"b", "c"}, r.Expected("a"))

	snap := r.Snapshot()
	req.Len(snap, 4)
	req.Equal(domain.ParticipantID("a"), snap[0].ID)
	req.Equal(domain.ParticipantID("b"), snap[3].ID)
}

func TestRoster_ReconcileDiff(t *testing.T) {
	req := require.New(t)
	r := New(zerolog.Nop())
	var left []domain.ParticipantID
	r.Subscribe(ListenerFunc(func(id domain.ParticipantID) { left = append(left, id) }))

	// Given a roster with a, b (pending) and c
	r.ApplyJoin(member("a", domain.ApprovalApproved, 0))
	r.ApplyJoin(member("b", domain.ApprovalPending, time.Second))
	r.ApplyJoin(member("c", domain.ApprovalApproved, 2*time.Second))

	// When an update approves b, drops c and adds d
	diff := r.Reconcile([]domain.Participant{
		member("a", domain.ApprovalApproved, 0),
		member("b", domain.ApprovalApproved, time.Second),
		member("d", domain.ApprovalRejected, 3*time.Second),
	})

	// Then
	req.Equal([]domain.ParticipantID{"d"}, diff.Joined)
	req.Equal([]domain.ParticipantID{"c"}, diff.Left)
	req.Equal([]domain.ParticipantID{"b"}, diff.Approved)
	req.Equal([]domain.ParticipantID{"d"}, diff.Rejected)
	req.Equal([]domain.ParticipantID{"c"}, left)
	req.Equal(3, r.Size())

	// And an identical update changes nothing
	req.True(r.Reconcile(r.Snapshot()).Empty())
}
