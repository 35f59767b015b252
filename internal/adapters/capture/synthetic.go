package capture

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// synthetic returns static tracks that negotiate like real capture but only
// carry what is written to them. Used for headless participants.
func synthetic(cfg Config) ([]webrtc.TrackLocal, error) {
	stream := cfg.StreamID
	if stream == "" {
		stream = uuid.NewString()
	}
	var tracks []webrtc.TrackLocal
	if cfg.Audio {
		t, err := webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", stream,
		)
		if err != nil {
			return nil, fmt.Errorf("synthetic audio: %w", err)
		}
		tracks = append(tracks, t)
	}
	if cfg.Video {
		t, err := webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", stream,
		)
		if err != nil {
			return nil, fmt.Errorf("synthetic video: %w", err)
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}
