// Package orch runs the single control loop that owns every piece of meeting
// state. Other goroutines only post events to it.
package orch

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/dkeye/VoiceMesh/internal/app/conn"
	"github.com/dkeye/VoiceMesh/internal/app/event"
	"github.com/dkeye/VoiceMesh/internal/app/health"
	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
)

var (
	ErrEvicted   = errors.New("removed from meeting")
	ErrClosed    = errors.New("engine closed")
	ErrNotJoined = errors.New("not in a meeting")
	ErrNotHost   = errors.New("only the host can approve participants")
)

type Config struct {
	MeetingID   domain.MeetingID
	DisplayName string
	Host        bool
	StartAudio  bool
	StartVideo  bool

	Conn           conn.Config
	Health         health.Config
	HealthInterval time.Duration
	EventBuffer    int
}

type Deps struct {
	Signaler core.Signaler
	Factory  core.TransportFactory
	Local    core.LocalMedia
	Clock    clock.Clock
	Log      zerolog.Logger
}

type Engine struct {
	cfg      Config
	signaler core.Signaler
	factory  core.TransportFactory
	local    core.LocalMedia
	clock    clock.Clock
	log      zerolog.Logger

	events chan event.Event
	done   chan struct{}

	meeting *meeting
	exiting bool
	exitErr error
}

func New(cfg Config, deps Deps) *Engine {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 5 * time.Second
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Engine{
		cfg:      cfg,
		signaler: deps.Signaler,
		factory:  deps.Factory,
		local:    deps.Local,
		clock:    clk,
		log:      deps.Log,
		events:   make(chan event.Event, cfg.EventBuffer),
		done:     make(chan struct{}),
	}
}

// Post hands ev to the loop. It blocks while the queue is full and drops ev
// once the loop has stopped.
func (e *Engine) Post(ev event.Event) {
	select {
	case e.events <- ev:
	case <-e.done:
	}
}

// Do runs fn on the loop and waits for it.
func (e *Engine) Do(ctx context.Context, fn func()) error {
	cmd := event.Command{Fn: fn, Done: make(chan struct{})}
	select {
	case e.events <- cmd:
	case <-e.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-cmd.Done:
		return nil
	case <-e.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes events until ctx ends, the local user leaves or the relay
// evicts this participant, in which case it returns ErrEvicted.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	ticker := e.clock.Ticker(e.cfg.HealthInterval)
	defer ticker.Stop()

	e.log.Info().Str("meeting", string(e.cfg.MeetingID)).Msg("engine started")
	for {
		select {
		case <-ctx.Done():
			e.shutdown(true)
			return nil
		case <-ticker.C:
			e.handle(event.HealthTick{})
		case ev := <-e.events:
			e.handle(ev)
		}
		if e.exiting {
			e.shutdown(false)
			return e.exitErr
		}
	}
}

func (e *Engine) handle(ev event.Event) {
	switch ev := ev.(type) {
	case event.Command:
		ev.Fn()
		close(ev.Done)
	case event.Inbound:
		e.onMessage(ev.Msg)
	case event.RelayConnected:
		e.onRelayConnected()
	case event.RelayDisconnected:
		e.log.Warn().Err(ev.Err).Msg("relay disconnected")
	case event.TransportState:
		if m := e.meeting; m != nil {
			m.conns.OnTransportState(ev)
		}
	case event.LocalCandidate:
		if m := e.meeting; m != nil {
			m.conns.OnLocalCandidate(ev)
		}
	case event.BundleReceived:
		e.onBundle(ev)
	case event.TimerFired:
		if m := e.meeting; m != nil {
			m.conns.OnTimer(ev)
		}
	case event.HealthTick:
		e.onHealthTick()
	default:
		e.log.Warn().Type("event", ev).Msg("unhandled event")
	}
}

func (e *Engine) onHealthTick() {
	m := e.meeting
	if m == nil {
		return
	}
	expected := m.roster.Expected(m.session.SelfID)
	m.conns.Retain(expected)
	if m.roster.Size() <= 1 || !m.selfApproved() {
		return
	}
	m.health.Tick(expected)
}

func (e *Engine) exit(err error) {
	e.exiting = true
	e.exitErr = err
}

// shutdown ends the meeting; a graceful shutdown also tells the relay.
func (e *Engine) shutdown(leave bool) {
	if e.meeting != nil && leave {
		e.sendLeave()
	}
	e.endMeeting("shutdown")
	e.log.Info().Msg("engine stopped")
}
