package orch

import (
	"context"

	"github.com/dkeye/VoiceMesh/internal/app/health"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/dkeye/VoiceMesh/internal/protocol"
)

// query runs read on the loop against the current meeting.
func query[T any](ctx context.Context, e *Engine, read func(m *meeting) (T, error)) (T, error) {
	var (
		out T
		err error
	)
	if doErr := e.Do(ctx, func() {
		if e.meeting == nil {
			err = ErrNotJoined
			return
		}
		out, err = read(e.meeting)
	}); doErr != nil {
		return out, doErr
	}
	return out, err
}

func (e *Engine) Meeting(ctx context.Context) (domain.MeetingSession, error) {
	return query(ctx, e, func(m *meeting) (domain.MeetingSession, error) {
		return m.session, nil
	})
}

func (e *Engine) Roster(ctx context.Context) ([]domain.Participant, error) {
	return query(ctx, e, func(m *meeting) ([]domain.Participant, error) {
		return m.roster.Snapshot(), nil
	})
}

func (e *Engine) Sessions(ctx context.Context) ([]domain.SessionInfo, error) {
	return query(ctx, e, func(m *meeting) ([]domain.SessionInfo, error) {
		return m.conns.Sessions(), nil
	})
}

func (e *Engine) Streams(ctx context.Context) ([]domain.StreamInfo, error) {
	return query(ctx, e, func(m *meeting) ([]domain.StreamInfo, error) {
		return m.streams.Snapshot(), nil
	})
}

func (e *Engine) Health(ctx context.Context) ([]health.PeerHealth, error) {
	return query(ctx, e, func(m *meeting) ([]health.PeerHealth, error) {
		return m.health.Snapshot(), nil
	})
}

// Media is the local state as last applied.
func (e *Engine) Media(ctx context.Context) (domain.MediaState, error) {
	return query(ctx, e, func(m *meeting) (domain.MediaState, error) {
		return m.media.Local(), nil
	})
}

// SetMedia changes the local audio/video flags. The returned state is what was
// actually applied, also when err reports an unavailable device.
func (e *Engine) SetMedia(ctx context.Context, audio, video bool) (domain.MediaState, error) {
	return query(ctx, e, func(m *meeting) (domain.MediaState, error) {
		return m.media.SetLocal(audio, video)
	})
}

// Approve asks the relay to admit or reject target. The relay decides.
func (e *Engine) Approve(ctx context.Context, target domain.ParticipantID, approved bool) error {
	_, err := query(ctx, e, func(m *meeting) (struct{}, error) {
		if !m.session.IsHost() {
			return struct{}{}, ErrNotHost
		}
		return struct{}{}, e.signaler.Send(protocol.Approve{
			MeetingID: m.session.MeetingID,
			TargetID:  target,
			Approved:  approved,
		})
	})
	return err
}

// Leave tells the relay and stops the engine.
func (e *Engine) Leave(ctx context.Context) error {
	_, err := query(ctx, e, func(m *meeting) (struct{}, error) {
		e.sendLeave()
		e.endMeeting("left")
		e.exit(nil)
		return struct{}{}, nil
	})
	return err
}
