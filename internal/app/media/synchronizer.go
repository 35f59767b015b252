// Package media keeps local and remote audio/video flags in agreement with
// the capture handle and the tracks already received.
package media

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/dkeye/VoiceMesh/internal/app/roster"
	"github.com/dkeye/VoiceMesh/internal/app/streams"
	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/dkeye/VoiceMesh/internal/protocol"
)

type Deps struct {
	Self     domain.ParticipantID
	Local    core.LocalMedia
	Signaler core.Signaler
	Roster   *roster.Roster
	Streams  *streams.Registry
	Clock    clock.Clock
	Log      zerolog.Logger
}

// Synchronizer is owned by the control loop.
type Synchronizer struct {
	self     domain.ParticipantID
	local    core.LocalMedia
	signaler core.Signaler
	roster   *roster.Roster
	streams  *streams.Registry
	clock    clock.Clock
	log      zerolog.Logger

	localState domain.MediaState
	remote     map[domain.ParticipantID]domain.MediaState
}

func NewSynchronizer(deps Deps) *Synchronizer {
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Synchronizer{
		self:       deps.Self,
		local:      deps.Local,
		signaler:   deps.Signaler,
		roster:     deps.Roster,
		streams:    deps.Streams,
		clock:      clk,
		log:        deps.Log,
		localState: domain.MediaState{OwnerID: deps.Self},
		remote:     make(map[domain.ParticipantID]domain.MediaState),
	}
}

// SetLocal toggles the capture handle, records the result on the self roster
// entry and broadcasts it. Kinds that cannot be captured end up disabled and
// are reported in the returned error.
func (s *Synchronizer) SetLocal(audio, video bool) (domain.MediaState, error) {
	var errs []error
	audio = s.toggle(domain.MediaAudio, audio, &errs)
	video = s.toggle(domain.MediaVideo, video, &errs)

	s.localState = domain.MediaState{
		OwnerID:      s.self,
		AudioEnabled: audio,
		VideoEnabled: video,
		UpdatedAt:    s.stamp(),
	}
	s.roster.ApplyMediaFlags(s.self, audio, video)
	s.log.Info().Bool("audio", audio).Bool("video", video).Msg("local media set")
	s.broadcast()
	return s.localState, errors.Join(errs...)
}

func (s *Synchronizer) toggle(kind domain.MediaKind, want bool, errs *[]error) bool {
	if want && !s.local.Available(kind) {
		*errs = append(*errs, fmt.Errorf("%s: %w", kind, core.ErrCaptureUnavailable))
		want = false
	}
	if err := s.local.SetEnabled(kind, want); err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", kind, err))
		if want {
			want = false
			_ = s.local.SetEnabled(kind, false)
		}
	}
	return want
}

// stamp returns a wire-representable time strictly after the previous local update.
func (s *Synchronizer) stamp() time.Time {
	now := s.clock.Now().Truncate(time.Millisecond)
	if !now.After(s.localState.UpdatedAt) {
		now = s.localState.UpdatedAt.Add(time.Millisecond)
	}
	return now
}

// ApplyRemote records a remote declaration if it is newer than the known one
// and toggles the owner's received camera tracks to match.
func (s *Synchronizer) ApplyRemote(state domain.MediaState) bool {
	if state.OwnerID == "" || state.OwnerID == s.self {
		return false
	}
	if cur, ok := s.remote[state.OwnerID]; ok && !state.NewerThan(cur) {
		s.log.Debug().
			Str("owner", string(state.OwnerID)).
			Time("updated_at", state.UpdatedAt).
			Msg("stale media state dropped")
		return false
	}
	s.remote[state.OwnerID] = state
	s.roster.ApplyMediaFlags(state.OwnerID, state.AudioEnabled, state.VideoEnabled)
	s.apply(state)
	s.log.Info().
		Str("owner", string(state.OwnerID)).
		Bool("audio", state.AudioEnabled).
		Bool("video", state.VideoEnabled).
		Msg("remote media state")
	return true
}

// Reconcile applies the declared state of owner to freshly received tracks.
func (s *Synchronizer) Reconcile(owner domain.ParticipantID) {
	if state, ok := s.remote[owner]; ok {
		s.apply(state)
	}
}

// Screen shares are not governed by the camera flags.
func (s *Synchronizer) apply(state domain.MediaState) {
	s.streams.SetEnabled(state.OwnerID, domain.StreamCamera, domain.MediaAudio, state.AudioEnabled)
	s.streams.SetEnabled(state.OwnerID, domain.StreamCamera, domain.MediaVideo, state.VideoEnabled)
}

// Announce re-broadcasts the local state, e.g. to a freshly connected peer.
func (s *Synchronizer) Announce() {
	if s.localState.UpdatedAt.IsZero() {
		return
	}
	s.broadcast()
}

func (s *Synchronizer) broadcast() {
	if err := s.signaler.Send(protocol.MediaStateFrom(s.localState)); err != nil {
		s.log.Warn().Err(err).Msg("media state not sent")
	}
}

func (s *Synchronizer) Forget(id domain.ParticipantID) {
	delete(s.remote, id)
}

func (s *Synchronizer) Local() domain.MediaState { return s.localState }

func (s *Synchronizer) Remote(id domain.ParticipantID) (domain.MediaState, bool) {
	st, ok := s.remote[id]
	return st, ok
}
