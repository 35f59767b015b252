package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/VoiceMesh/internal/app/streams"
	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
)

// chanReader yields queued packets and then the close error.
type chanReader struct {
	pkts chan *rtp.Packet
	err  error
}

func newChanReader() *chanReader {
	return &chanReader{pkts: make(chan *rtp.Packet, 16), err: io.EOF}
}

func (r *chanReader) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	pkt, ok := <-r.pkts
	if !ok {
		return nil, nil, r.err
	}
	return pkt, nil, nil
}

type bundleLog struct {
	mu      sync.Mutex
	bundles []domain.StreamBundle
}

func (l *bundleLog) add(b domain.StreamBundle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bundles = append(l.bundles, b)
}

func (l *bundleLog) all() []domain.StreamBundle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.StreamBundle(nil), l.bundles...)
}

func trackIDs(b domain.StreamBundle) []string {
	ids := make([]string, 0, len(b.Tracks))
	for _, t := range b.Tracks {
		ids = append(ids, t.ID())
	}
	return ids
}

func newTestFactory(t *testing.T, versions *streams.Versions) *Factory {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ICEServers = nil
	f, err := NewFactory(cfg, nil, versions.Next, clock.NewMock(), zerolog.Nop())
	require.NoError(t, err)
	return f
}

func TestRemoteTrack_DisabledDropsPackets(t *testing.T) {
	r := require.New(t)

	// Given: a track reading from a source
	src := newChanReader()
	tr := newRemoteTrack("a1", domain.MediaAudio, src)
	r.True(tr.Enabled())

	// When: two packets arrive while enabled
	src.pkts <- &rtp.Packet{Payload: []byte{1, 2, 3}}
	src.pkts <- &rtp.Packet{Payload: []byte{4, 5}}
	close(src.pkts)

	done := make(chan error, 1)
	go func() { done <- tr.run(context.Background()) }()

	// Then: the source error ends the loop
	err := <-done
	r.ErrorIs(err, io.EOF)
	r.Equal(uint64(5), tr.delivered.Load())

	// And toggling does not need the source
	tr.SetEnabled(false)
	r.False(tr.Enabled())
	tr.count(&rtp.Packet{Payload: []byte{9}})
	r.Equal(uint64(1), tr.dropped.Load())
	r.Equal(uint64(5), tr.delivered.Load())
}

func TestRemoteTrack_CancelledContextIsNotAnError(t *testing.T) {
	r := require.New(t)

	src := newChanReader()
	src.err = errors.New("closed by peer connection")
	tr := newRemoteTrack("v1", domain.MediaVideo, src)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	close(src.pkts)

	r.NoError(tr.run(ctx))
}

func TestConnection_BundlesCarryTheFullTrackSet(t *testing.T) {
	r := require.New(t)

	// Given: a connection reporting bundles
	var versions streams.Versions
	f := newTestFactory(t, &versions)
	var log bundleLog
	tr, err := f.NewTransport("bob", core.TransportHooks{OnBundle: log.add})
	r.NoError(err)
	c := tr.(*Connection)
	defer func() { _ = c.Close() }()

	// When: a camera audio and video track arrive, then the audio track ends
	audio := newChanReader()
	video := newChanReader()
	c.addTrack(domain.StreamCamera, newRemoteTrack("audio", domain.MediaAudio, audio))
	c.addTrack(domain.StreamCamera, newRemoteTrack("video", domain.MediaVideo, video))
	close(audio.pkts)

	// Then: every bundle holds the whole current set with rising versions
	r.Eventually(func() bool { return len(log.all()) == 3 }, time.Second, 5*time.Millisecond)
	got := log.all()
	r.Equal([]string{"audio"}, trackIDs(got[0]))
	r.Equal([]string{"audio", "video"}, trackIDs(got[1]))
	r.Equal([]string{"video"}, trackIDs(got[2]))
	for i, b := range got {
		r.Equal(domain.ParticipantID("bob"), b.OwnerID)
		r.Equal(domain.StreamCamera, b.Kind)
		if i > 0 {
			r.Greater(b.Version, got[i-1].Version)
		}
	}
}

func TestConnection_NoBundlesAfterClose(t *testing.T) {
	r := require.New(t)

	var versions streams.Versions
	f := newTestFactory(t, &versions)
	var log bundleLog
	tr, err := f.NewTransport("bob", core.TransportHooks{OnBundle: log.add})
	r.NoError(err)
	c := tr.(*Connection)

	src := newChanReader()
	c.addTrack(domain.StreamScreen, newRemoteTrack("screen-v", domain.MediaVideo, src))
	r.Len(log.all(), 1)

	// When: the connection closes and then the track ends
	r.NoError(c.Close())
	r.NoError(c.Close())
	close(src.pkts)
	time.Sleep(20 * time.Millisecond)

	// Then: nothing more is reported
	r.Len(log.all(), 1)
}

func TestConnection_OfferAnswerExchange(t *testing.T) {
	r := require.New(t)

	// Given: two transports with recvonly media
	var versions streams.Versions
	f := newTestFactory(t, &versions)
	a, err := f.NewTransport("b", core.TransportHooks{})
	r.NoError(err)
	defer func() { _ = a.Close() }()
	b, err := f.NewTransport("a", core.TransportHooks{})
	r.NoError(err)
	defer func() { _ = b.Close() }()

	// When: the offer and answer are exchanged as opaque JSON
	offer, err := a.CreateOffer()
	r.NoError(err)
	answer, err := b.AcceptOffer(offer)
	r.NoError(err)
	r.NoError(a.ApplyAnswer(answer))

	// Then: both descriptions decode and carry audio and video
	var sd webrtc.SessionDescription
	r.NoError(json.Unmarshal(answer, &sd))
	r.Equal(webrtc.SDPTypeAnswer, sd.Type)
	r.Contains(sd.SDP, "m=audio")
	r.Contains(sd.SDP, "m=video")

	// And a trickled candidate is accepted once descriptions are set
	cand := json.RawMessage(`{"candidate":"candidate:1 1 udp 2130706431 192.0.2.1 54321 typ host","sdpMid":"0","sdpMLineIndex":0}`)
	r.NoError(b.AddICECandidate(cand))
}

func TestConnection_RejectsMalformedPayloads(t *testing.T) {
	r := require.New(t)

	var versions streams.Versions
	f := newTestFactory(t, &versions)
	tr, err := f.NewTransport("b", core.TransportHooks{})
	r.NoError(err)
	defer func() { _ = tr.Close() }()

	_, err = tr.AcceptOffer(json.RawMessage(`"nope"`))
	r.Error(err)
	r.Error(tr.ApplyAnswer(json.RawMessage(`[]`)))
	r.Error(tr.AddICECandidate(json.RawMessage(`{`)))
}

func TestMappings(t *testing.T) {
	r := require.New(t)

	r.Equal(domain.StreamScreen, streamKind("screen-alice"))
	r.Equal(domain.StreamCamera, streamKind("alice"))
	r.Equal(domain.MediaAudio, mediaKind(webrtc.RTPCodecTypeAudio))
	r.Equal(domain.MediaVideo, mediaKind(webrtc.RTPCodecTypeVideo))

	st, ok := transportState(webrtc.PeerConnectionStateDisconnected)
	r.True(ok)
	r.Equal(core.TransportDisconnected, st)
	_, ok = transportState(webrtc.PeerConnectionStateUnknown)
	r.False(ok)
}
