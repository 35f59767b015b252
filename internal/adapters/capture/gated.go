package capture

import (
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// gatedTrack wraps a local track so sending can be paused without touching
// the peer connections it is bound to.
type gatedTrack struct {
	webrtc.TrackLocal
	open atomic.Bool
}

func newGatedTrack(t webrtc.TrackLocal) *gatedTrack {
	return &gatedTrack{TrackLocal: t}
}

func (g *gatedTrack) Bind(ctx webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	return g.TrackLocal.Bind(gatedContext{TrackLocalContext: ctx, gate: &g.open})
}

func (g *gatedTrack) Unbind(ctx webrtc.TrackLocalContext) error {
	return g.TrackLocal.Unbind(gatedContext{TrackLocalContext: ctx, gate: &g.open})
}

func (g *gatedTrack) enabled() bool     { return g.open.Load() }
func (g *gatedTrack) setEnabled(v bool) { g.open.Store(v) }

type gatedContext struct {
	webrtc.TrackLocalContext
	gate *atomic.Bool
}

func (c gatedContext) WriteStream() webrtc.TrackLocalWriter {
	return gatedWriter{TrackLocalWriter: c.TrackLocalContext.WriteStream(), gate: c.gate}
}

// gatedWriter reports closed-gate writes as sent so the encoder keeps running.
type gatedWriter struct {
	webrtc.TrackLocalWriter
	gate *atomic.Bool
}

func (w gatedWriter) WriteRTP(header *rtp.Header, payload []byte) (int, error) {
	if !w.gate.Load() {
		return header.MarshalSize() + len(payload), nil
	}
	return w.TrackLocalWriter.WriteRTP(header, payload)
}

func (w gatedWriter) Write(b []byte) (int, error) {
	if !w.gate.Load() {
		return len(b), nil
	}
	return w.TrackLocalWriter.Write(b)
}
