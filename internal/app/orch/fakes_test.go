package orch

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"go.uber.org/mock/gomock"

	"github.com/dkeye/VoiceMesh/internal/app/conn"
	"github.com/dkeye/VoiceMesh/internal/app/event"
	"github.com/dkeye/VoiceMesh/internal/app/health"
	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/dkeye/VoiceMesh/internal/mocks"
	"github.com/dkeye/VoiceMesh/internal/protocol"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type fakeTransport struct {
	hooks  core.TransportHooks
	closed bool
}

func (f *fakeTransport) CreateOffer() (json.RawMessage, error) {
	return json.RawMessage(`{"type":"offer","sdp":"o"}`), nil
}

func (f *fakeTransport) AcceptOffer(json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`{"type":"answer","sdp":"a"}`), nil
}

func (f *fakeTransport) ApplyAnswer(json.RawMessage) error     { return nil }
func (f *fakeTransport) AddICECandidate(json.RawMessage) error { return nil }

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

// fakeFactory is only touched from the control loop.
type fakeFactory struct {
	created map[domain.ParticipantID][]*fakeTransport
}

func (f *fakeFactory) NewTransport(remote domain.ParticipantID, hooks core.TransportHooks) (core.Transport, error) {
	t := &fakeTransport{hooks: hooks}
	f.created[remote] = append(f.created[remote], t)
	return t, nil
}

func (f *fakeFactory) last(id domain.ParticipantID) *fakeTransport {
	ts := f.created[id]
	if len(ts) == 0 {
		return nil
	}
	return ts[len(ts)-1]
}

type recordingSignaler struct {
	mu   sync.Mutex
	sent []protocol.Message
}

func (r *recordingSignaler) Send(m protocol.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, m)
	return nil
}

func (r *recordingSignaler) messages() []protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Message(nil), r.sent...)
}

func (r *recordingSignaler) signals(to domain.ParticipantID, kind domain.SignalKind) []protocol.Signal {
	var out []protocol.Signal
	for _, m := range r.messages() {
		if s, ok := m.(protocol.Signal); ok && s.To == to && s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

type fakeTrack struct {
	id      string
	kind    domain.MediaKind
	enabled bool
}

func (f *fakeTrack) ID() string              { return f.id }
func (f *fakeTrack) Kind() domain.MediaKind  { return f.kind }
func (f *fakeTrack) Enabled() bool           { return f.enabled }
func (f *fakeTrack) SetEnabled(enabled bool) { f.enabled = enabled }

func testConfig() Config {
	return Config{
		MeetingID:   "m1",
		DisplayName: "Ann",
		Host:        true,
		StartAudio:  true,
		StartVideo:  true,
		Conn: conn.Config{
			FanOut:             4,
			StaggerStep:        100 * time.Millisecond,
			NegotiationTimeout: 10 * time.Second,
			DegradedGrace:      5 * time.Second,
		},
		Health: health.Config{
			ReconnectCooldown:  30 * time.Second,
			NegotiationTimeout: 10 * time.Second,
			DegradedGrace:      5 * time.Second,
			PersistentAfter:    3,
		},
		HealthInterval: time.Hour,
	}
}

type rig struct {
	t       *testing.T
	e       *Engine
	clk     *clock.Mock
	sig     *recordingSignaler
	factory *fakeFactory
	local   *mocks.MockLocalMedia
}

// newRig builds an engine driven by the test goroutine. When expect is nil the
// local capture accepts everything.
func newRig(t *testing.T, cfg Config, expect func(local *mocks.MockLocalMedia)) *rig {
	ctrl := gomock.NewController(t)
	r := &rig{
		t:       t,
		clk:     clock.NewMock(),
		sig:     &recordingSignaler{},
		factory: &fakeFactory{created: make(map[domain.ParticipantID][]*fakeTransport)},
		local:   mocks.NewMockLocalMedia(ctrl),
	}
	r.clk.Set(t0)
	if expect != nil {
		expect(r.local)
	} else {
		r.local.EXPECT().Available(gomock.Any()).Return(true).AnyTimes()
		r.local.EXPECT().SetEnabled(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	}
	r.e = New(cfg, Deps{
		Signaler: r.sig,
		Factory:  r.factory,
		Local:    r.local,
		Clock:    r.clk,
		Log:      zerolog.Nop(),
	})
	return r
}

func (r *rig) settle() {
	for {
		select {
		case ev := <-r.e.events:
			r.e.handle(ev)
		case <-time.After(30 * time.Millisecond):
			return
		}
	}
}

func (r *rig) deliver(msg protocol.Message) {
	r.e.handle(event.Inbound{Msg: msg})
	r.settle()
}

func (r *rig) advance(d time.Duration) {
	r.clk.Add(d)
	r.settle()
}

func (r *rig) tick() {
	r.e.handle(event.HealthTick{})
	r.settle()
}

func (r *rig) report(id domain.ParticipantID, st core.TransportState) {
	r.factory.last(id).hooks.OnState(st)
	r.settle()
}

func (r *rig) session(id domain.ParticipantID) (domain.SessionInfo, bool) {
	return r.e.meeting.conns.Session(id)
}

func participant(id string, role domain.Role, approval domain.ApprovalState, joinedAfter time.Duration) domain.Participant {
	return domain.Participant{
		ID:          domain.ParticipantID(id),
		DisplayName: id,
		Role:        role,
		Approval:    approval,
		JoinedAt:    t0.Add(joinedAfter),
	}
}

func approved(id string, joinedAfter time.Duration) domain.Participant {
	return participant(id, domain.RoleGuest, domain.ApprovalApproved, joinedAfter)
}

func hostJoined(self string, others ...domain.Participant) protocol.RosterJoined {
	roster := append([]domain.Participant{participant(self, domain.RoleHost, domain.ApprovalApproved, 0)}, others...)
	return protocol.RosterJoined{SelfID: domain.ParticipantID(self), Role: domain.RoleHost, Roster: roster}
}
