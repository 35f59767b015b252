package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
)

const screenStreamPrefix = "screen"

// Connection implements core.Transport on top of a pion PeerConnection.
// Candidates are trickled, so offers and answers never wait for gathering.
type Connection struct {
	pc      *webrtc.PeerConnection
	remote  domain.ParticipantID
	hooks   core.TransportHooks
	version func() uint64
	clock   clock.Clock
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	tracks map[domain.StreamKind]map[string]*remoteTrack
}

func newConnection(pc *webrtc.PeerConnection, remote domain.ParticipantID, hooks core.TransportHooks, version func() uint64, clk clock.Clock, log zerolog.Logger) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		pc:      pc,
		remote:  remote,
		hooks:   hooks,
		version: version,
		clock:   clk,
		log:     log.With().Str("remote", string(remote)).Logger(),
		ctx:     ctx,
		cancel:  cancel,
		tracks:  make(map[domain.StreamKind]map[string]*remoteTrack),
	}
}

// attachLocal sends the shared capture tracks. Kinds with nothing to send
// still get a recvonly transceiver so the remote side can send them.
func (c *Connection) attachLocal(local core.LocalMedia) error {
	sending := map[webrtc.RTPCodecType]bool{}
	if local != nil {
		for _, t := range local.Tracks() {
			sender, err := c.pc.AddTrack(t)
			if err != nil {
				return fmt.Errorf("add track %s: %w", t.ID(), err)
			}
			sending[t.Kind()] = true
			go drainRTCP(sender)
		}
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if sending[kind] {
			continue
		}
		if _, err := c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}
	return nil
}

// drainRTCP keeps the interceptors fed; the reports themselves are not used.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (c *Connection) start() {
	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.log.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		if st, ok := transportState(s); ok && c.hooks.OnState != nil {
			c.hooks.OnState(st)
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || c.hooks.OnCandidate == nil {
			return
		}
		raw, err := json.Marshal(cand.ToJSON())
		if err != nil {
			c.log.Error().Err(err).Msg("marshal candidate")
			return
		}
		c.hooks.OnCandidate(raw)
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.log.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		c.addTrack(streamKind(track.StreamID()), newRemoteTrack(track.ID(), mediaKind(track.Kind()), track))
	})
}

func transportState(s webrtc.PeerConnectionState) (core.TransportState, bool) {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return core.TransportNew, true
	case webrtc.PeerConnectionStateConnecting:
		return core.TransportConnecting, true
	case webrtc.PeerConnectionStateConnected:
		return core.TransportConnected, true
	case webrtc.PeerConnectionStateDisconnected:
		return core.TransportDisconnected, true
	case webrtc.PeerConnectionStateFailed:
		return core.TransportFailed, true
	case webrtc.PeerConnectionStateClosed:
		return core.TransportClosed, true
	default:
		return 0, false
	}
}

func streamKind(streamID string) domain.StreamKind {
	if strings.HasPrefix(streamID, screenStreamPrefix) {
		return domain.StreamScreen
	}
	return domain.StreamCamera
}

func mediaKind(k webrtc.RTPCodecType) domain.MediaKind {
	if k == webrtc.RTPCodecTypeAudio {
		return domain.MediaAudio
	}
	return domain.MediaVideo
}

func (c *Connection) CreateOffer() (json.RawMessage, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local offer: %w", err)
	}
	return json.Marshal(offer)
}

func (c *Connection) AcceptOffer(raw json.RawMessage) (json.RawMessage, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &offer); err != nil {
		return nil, fmt.Errorf("decode offer: %w", err)
	}
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local answer: %w", err)
	}
	return json.Marshal(answer)
}

func (c *Connection) ApplyAnswer(raw json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &answer); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	return c.pc.SetRemoteDescription(answer)
}

func (c *Connection) AddICECandidate(raw json.RawMessage) error {
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &ci); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	return c.pc.AddICECandidate(ci)
}

// Close stops the read loops and the peer connection. Bundles are no longer
// reported afterwards.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	if err := c.pc.Close(); err != nil {
		c.log.Error().Err(err).Msg("close error")
		return err
	}
	c.log.Info().Msg("closed")
	return nil
}

func (c *Connection) addTrack(kind domain.StreamKind, t *remoteTrack) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	set, ok := c.tracks[kind]
	if !ok {
		set = make(map[string]*remoteTrack)
		c.tracks[kind] = set
	}
	set[t.id] = t
	b := c.bundleLocked(kind)
	c.mu.Unlock()

	c.emit(b)
	go func() {
		if err := t.run(c.ctx); err != nil {
			c.log.Debug().Err(err).Str("track_id", t.id).Msg("track ended")
		}
		c.removeTrack(kind, t.id)
	}()
}

func (c *Connection) removeTrack(kind domain.StreamKind, id string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	delete(c.tracks[kind], id)
	b := c.bundleLocked(kind)
	c.mu.Unlock()

	c.emit(b)
}

// bundleLocked snapshots the full current track set of kind. The version is
// taken under the lock so later snapshots always carry higher versions.
func (c *Connection) bundleLocked(kind domain.StreamKind) domain.StreamBundle {
	set := c.tracks[kind]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	tracks := make([]domain.Track, 0, len(ids))
	for _, id := range ids {
		tracks = append(tracks, set[id])
	}
	return domain.StreamBundle{
		OwnerID:    c.remote,
		Kind:       kind,
		Tracks:     tracks,
		ReceivedAt: c.clock.Now(),
		Version:    c.version(),
	}
}

func (c *Connection) emit(b domain.StreamBundle) {
	if c.hooks.OnBundle != nil {
		c.hooks.OnBundle(b)
	}
}
