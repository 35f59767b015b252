package conn

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/dkeye/VoiceMesh/internal/app/event"
	"github.com/dkeye/VoiceMesh/internal/app/streams"
	"github.com/dkeye/VoiceMesh/internal/app/timers"
	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/dkeye/VoiceMesh/internal/protocol"
)

type fakeTransport struct {
	peer       domain.ParticipantID
	hooks      core.TransportHooks
	answers    []json.RawMessage
	candidates []json.RawMessage
	closed     bool
}

func (f *fakeTransport) CreateOffer() (json.RawMessage, error) {
	return json.RawMessage(fmt.Sprintf(`{"type":"offer","sdp":"offer-%s"}`, f.peer)), nil
}

func (f *fakeTransport) AcceptOffer(json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(fmt.Sprintf(`{"type":"answer","sdp":"answer-%s"}`, f.peer)), nil
}

func (f *fakeTransport) ApplyAnswer(a json.RawMessage) error {
	f.answers = append(f.answers, a)
	return nil
}

func (f *fakeTransport) AddICECandidate(c json.RawMessage) error {
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

type fakeFactory struct {
	created map[domain.ParticipantID][]*fakeTransport
	err     error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{created: make(map[domain.ParticipantID][]*fakeTransport)}
}

func (f *fakeFactory) NewTransport(remote domain.ParticipantID, hooks core.TransportHooks) (core.Transport, error) {
	if f.err != nil {
		return nil, f.err
	}
	t := &fakeTransport{peer: remote, hooks: hooks}
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
	sent []protocol.Message
	err  error
}

func (r *recordingSignaler) Send(m protocol.Message) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, m)
	return nil
}

func (r *recordingSignaler) signals(to domain.ParticipantID, kind domain.SignalKind) []protocol.Signal {
	var out []protocol.Signal
	for _, m := range r.sent {
		if s, ok := m.(protocol.Signal); ok && s.To == to && s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

func (r *recordingSignaler) forceConnects() []protocol.ForceConnect {
	var out []protocol.ForceConnect
	for _, m := range r.sent {
		if fc, ok := m.(protocol.ForceConnect); ok {
			out = append(out, fc)
		}
	}
	return out
}

var errFactory = errors.New("no transport")

type harness struct {
	t         *testing.T
	m         *Manager
	clk       *clock.Mock
	sig       *recordingSignaler
	factory   *fakeFactory
	timers    *timers.Registry
	streams   *streams.Registry
	events    chan event.Event
	connected []domain.ParticipantID
}

func defaultConfig() Config {
	return Config{
		FanOut:             4,
		StaggerStep:        100 * time.Millisecond,
		NegotiationTimeout: 10 * time.Second,
		DegradedGrace:      5 * time.Second,
		ForceConnectLimit:  2,
		ForceConnectWindow: 10 * time.Second,
	}
}

func newHarness(t *testing.T, self domain.ParticipantID, cfg Config) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		clk:     clock.NewMock(),
		sig:     &recordingSignaler{},
		factory: newFakeFactory(),
		events:  make(chan event.Event, 256),
		streams: streams.NewRegistry(zerolog.Nop()),
	}
	h.timers = timers.NewRegistry(h.clk)
	h.m = NewManager(cfg, Deps{
		Self:      self,
		Signaler:  h.sig,
		Factory:   h.factory,
		Timers:    h.timers,
		Streams:   h.streams,
		Clock:     h.clk,
		Post:      func(ev event.Event) { h.events <- ev },
		Log:       zerolog.Nop(),
		Connected: func(id domain.ParticipantID) { h.connected = append(h.connected, id) },
	})
	return h
}

func (h *harness) dispatch(ev event.Event) {
	switch e := ev.(type) {
	case event.TimerFired:
		h.m.OnTimer(e)
	case event.TransportState:
		h.m.OnTransportState(e)
	case event.LocalCandidate:
		h.m.OnLocalCandidate(e)
	}
}

// settle dispatches posted events until the queue stays quiet.
func (h *harness) settle() {
	for {
		select {
		case ev := <-h.events:
			h.dispatch(ev)
		case <-time.After(30 * time.Millisecond):
			return
		}
	}
}

func (h *harness) advance(d time.Duration) {
	h.clk.Add(d)
	h.settle()
}

func (h *harness) state(id domain.ParticipantID) domain.SessionState {
	info, ok := h.m.Session(id)
	if !ok {
		h.t.Fatalf("no session for %s", id)
	}
	return info.State
}

// report delivers a transport state for the current session of id.
func (h *harness) report(id domain.ParticipantID, st core.TransportState) {
	h.factory.last(id).hooks.OnState(st)
	h.settle()
}

func ids(s ...string) []domain.ParticipantID {
	return lo.Map(s, func(v string, _ int) domain.ParticipantID { return domain.ParticipantID(v) })
}

func envelope(from, to domain.ParticipantID, kind domain.SignalKind, session, peerSession string, seq uint64, payload string) domain.SignalEnvelope {
	return domain.SignalEnvelope{
		From:        from,
		To:          to,
		Kind:        kind,
		Payload:     json.RawMessage(payload),
		Session:     session,
		PeerSession: peerSession,
		Seq:         seq,
	}
}
