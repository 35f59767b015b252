package rtc

import (
	"context"
	"sync/atomic"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"

	"github.com/dkeye/VoiceMesh/internal/domain"
)

type rtpReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// remoteTrack is a received track. A disabled track keeps reading so the
// transport stays healthy but its packets are dropped.
type remoteTrack struct {
	id   string
	kind domain.MediaKind
	src  rtpReader

	disabled  atomic.Bool   // zero value means enabled
	delivered atomic.Uint64 // payload bytes
	dropped   atomic.Uint64
}

func newRemoteTrack(id string, kind domain.MediaKind, src rtpReader) *remoteTrack {
	return &remoteTrack{id: id, kind: kind, src: src}
}

func (t *remoteTrack) ID() string              { return t.id }
func (t *remoteTrack) Kind() domain.MediaKind  { return t.kind }
func (t *remoteTrack) Enabled() bool           { return !t.disabled.Load() }
func (t *remoteTrack) SetEnabled(enabled bool) { t.disabled.Store(!enabled) }

// run reads until the source ends or ctx is done. The read error is returned
// unless ctx ended first.
func (t *remoteTrack) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		pkt, _, err := t.src.ReadRTP()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		t.count(pkt)
	}
}

func (t *remoteTrack) count(pkt *rtp.Packet) {
	if t.disabled.Load() {
		t.dropped.Add(uint64(len(pkt.Payload)))
		return
	}
	t.delivered.Add(uint64(len(pkt.Payload)))
}
