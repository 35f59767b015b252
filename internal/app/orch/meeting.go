package orch

import (
	"errors"

	"github.com/samber/lo"

	"github.com/dkeye/VoiceMesh/internal/app/conn"
	"github.com/dkeye/VoiceMesh/internal/app/event"
	"github.com/dkeye/VoiceMesh/internal/app/health"
	"github.com/dkeye/VoiceMesh/internal/app/media"
	"github.com/dkeye/VoiceMesh/internal/app/roster"
	"github.com/dkeye/VoiceMesh/internal/app/streams"
	"github.com/dkeye/VoiceMesh/internal/app/timers"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/dkeye/VoiceMesh/internal/protocol"
)

// meeting is everything scoped to one joined MeetingSession.
type meeting struct {
	session domain.MeetingSession
	roster  *roster.Roster
	timers  *timers.Registry
	streams *streams.Registry
	conns   *conn.Manager
	media   *media.Synchronizer
	health  *health.Monitor
}

func (m *meeting) selfApproved() bool {
	self, ok := m.roster.Get(m.session.SelfID)
	return ok && self.Approved()
}

// admits reports whether id is an approved member other than self. Peer
// traffic from anyone else is late or misrouted and must not recreate state.
func (m *meeting) admits(id domain.ParticipantID) bool {
	if id == m.session.SelfID {
		return false
	}
	p, ok := m.roster.Get(id)
	return ok && p.Approved()
}

func (e *Engine) onRelayConnected() {
	e.log.Info().Str("meeting", string(e.cfg.MeetingID)).Msg("relay connected, joining")
	join := protocol.Join{
		MeetingID:   e.cfg.MeetingID,
		DisplayName: e.cfg.DisplayName,
		Host:        e.cfg.Host,
	}
	if err := e.signaler.Send(join); err != nil {
		e.log.Error().Err(err).Msg("join not sent")
	}
}

func (e *Engine) onMessage(msg protocol.Message) {
	switch msg := msg.(type) {
	case protocol.RosterJoined:
		e.onRosterJoined(msg)
	case protocol.RosterUpdate:
		e.onRosterUpdate(msg)
	case protocol.Signal:
		if m := e.meeting; m != nil && e.fromMember(m, msg.From, msg.MessageType()) {
			m.conns.HandleIncomingSignal(msg.Envelope())
		}
	case protocol.MediaState:
		if m := e.meeting; m != nil && e.fromMember(m, msg.OwnerID, msg.MessageType()) {
			m.media.ApplyRemote(msg.State())
		}
	case protocol.ForceConnect:
		if m := e.meeting; m != nil && (msg.To == "" || msg.To == m.session.SelfID) && e.fromMember(m, msg.From, msg.MessageType()) {
			m.conns.HandleForceConnect(msg.From)
		}
	case protocol.ParticipantRemoved:
		e.log.Warn().Str("reason", msg.Reason).Msg("removed from meeting")
		e.endMeeting("removed")
		e.exit(ErrEvicted)
	case protocol.Error:
		e.log.Warn().Str("error", msg.Error).Msg("relay error")
	default:
		e.log.Debug().Str("type", string(msg.MessageType())).Msg("unexpected message ignored")
	}
}

func (e *Engine) onRosterJoined(msg protocol.RosterJoined) {
	if err := domain.ValidateParticipantID(msg.SelfID); err != nil {
		e.log.Error().Err(err).Msg("roster-joined rejected")
		return
	}
	if m := e.meeting; m != nil {
		if m.session.SelfID == msg.SelfID {
			// Re-join after a relay reconnect keeps the live sessions.
			e.applyRoster(m, msg.Roster)
			e.sweep(m)
			return
		}
		e.endMeeting("rejoined under a new id")
	}

	m := e.startMeeting(msg)
	e.applyRoster(m, msg.Roster)
	if _, ok := m.roster.Get(msg.SelfID); !ok {
		approval := domain.ApprovalPending
		if msg.Role == domain.RoleHost {
			approval = domain.ApprovalApproved
		}
		m.roster.ApplyJoin(domain.Participant{
			ID:          msg.SelfID,
			DisplayName: e.cfg.DisplayName,
			Role:        msg.Role,
			Approval:    approval,
			JoinedAt:    e.clock.Now(),
		})
	}

	if _, err := m.media.SetLocal(e.cfg.StartAudio, e.cfg.StartVideo); err != nil {
		e.log.Warn().Err(err).Msg("local media limited")
	}
	e.sweep(m)
}

func (e *Engine) startMeeting(msg protocol.RosterJoined) *meeting {
	session := domain.MeetingSession{
		MeetingID: e.cfg.MeetingID,
		SelfID:    msg.SelfID,
		SelfRole:  msg.Role,
		JoinedAt:  e.clock.Now(),
	}
	log := e.log.With().Str("self", string(msg.SelfID)).Logger()

	m := &meeting{session: session}
	m.roster = roster.New(log.With().Str("module", "roster").Logger())
	m.timers = timers.NewRegistry(e.clock)
	m.streams = streams.NewRegistry(log.With().Str("module", "streams").Logger())
	m.media = media.NewSynchronizer(media.Deps{
		Self:     msg.SelfID,
		Local:    e.local,
		Signaler: e.signaler,
		Roster:   m.roster,
		Streams:  m.streams,
		Clock:    e.clock,
		Log:      log.With().Str("module", "media").Logger(),
	})
	m.conns = conn.NewManager(e.cfg.Conn, conn.Deps{
		Self:      msg.SelfID,
		Signaler:  e.signaler,
		Factory:   e.factory,
		Timers:    m.timers,
		Streams:   m.streams,
		Clock:     e.clock,
		Post:      e.Post,
		Log:       log.With().Str("module", "conn").Logger(),
		Connected: func(domain.ParticipantID) { m.media.Announce() },
	})
	m.health = health.NewMonitor(e.cfg.Health, m.conns, e.clock, log.With().Str("module", "health").Logger())

	// Purge order: sessions (and their streams), media state, health bookkeeping.
	m.roster.Subscribe(roster.ListenerFunc(func(id domain.ParticipantID) {
		m.conns.Teardown(id)
		m.conns.Forget(id)
		m.media.Forget(id)
		m.health.Forget(id)
	}))

	e.meeting = m
	e.log.Info().
		Str("meeting", string(session.MeetingID)).
		Str("self", string(session.SelfID)).
		Str("role", string(session.SelfRole)).
		Msg("meeting joined")
	return m
}

func (e *Engine) onRosterUpdate(msg protocol.RosterUpdate) {
	m := e.meeting
	if m == nil {
		e.log.Debug().Msg("roster update before join ignored")
		return
	}
	e.applyRoster(m, msg.Participants)
	e.sweep(m)
}

func (e *Engine) applyRoster(m *meeting, list []domain.Participant) {
	self := m.session.SelfID
	_, listed := lo.Find(list, func(p domain.Participant) bool { return p.ID == self })
	if !listed {
		// The relay may omit self; keep our own entry.
		if cur, ok := m.roster.Get(self); ok {
			list = append(list, cur)
		}
	}
	diff := m.roster.Reconcile(list)
	for _, id := range diff.Rejected {
		if id == self {
			continue
		}
		m.conns.Teardown(id)
	}
	if !diff.Empty() {
		e.log.Info().
			Int("joined", len(diff.Joined)).
			Int("left", len(diff.Left)).
			Int("approved", len(diff.Approved)).
			Int("rejected", len(diff.Rejected)).
			Msg("roster reconciled")
	}
}

func (e *Engine) fromMember(m *meeting, from domain.ParticipantID, typ protocol.Type) bool {
	if m.admits(from) {
		return true
	}
	e.log.Debug().Str("from", string(from)).Str("type", string(typ)).Msg("message from non-member dropped")
	return false
}

// sweep drops sessions of peers no longer expected and, once self is admitted,
// starts the missing ones. Ended sessions are left to the health monitor.
func (e *Engine) sweep(m *meeting) {
	expected := m.roster.Expected(m.session.SelfID)
	m.conns.Retain(expected)
	if !m.selfApproved() {
		return
	}
	m.conns.EnsureConnections(expected)
}

func (e *Engine) onBundle(ev event.BundleReceived) {
	m := e.meeting
	if m == nil || !m.conns.Current(ev.Peer, ev.Gen) {
		return
	}
	if err := m.streams.Put(ev.Peer, ev.Bundle.Kind, ev.Bundle); err != nil {
		if !errors.Is(err, streams.ErrStaleVersion) {
			e.log.Warn().Err(err).Str("peer", string(ev.Peer)).Msg("bundle rejected")
		}
		return
	}
	m.media.Reconcile(ev.Peer)
}

func (e *Engine) endMeeting(reason string) {
	m := e.meeting
	if m == nil {
		return
	}
	m.conns.Close()
	m.timers.CancelAll()
	m.roster.Clear()
	e.meeting = nil
	e.log.Info().Str("meeting", string(m.session.MeetingID)).Str("reason", reason).Msg("meeting ended")
}

func (e *Engine) sendLeave() {
	if err := e.signaler.Send(protocol.Leave{MeetingID: e.cfg.MeetingID}); err != nil {
		e.log.Warn().Err(err).Msg("leave not sent")
	}
}
