//go:build capture

package capture

import (
	"fmt"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// openDevices tries both kinds together, then each alone, since
// GetUserMedia fails as a unit.
func openDevices(cfg Config, log zerolog.Logger) ([]webrtc.TrackLocal, func(), error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, nil, err
	}
	vpxParams.BitRate = 1_000_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, nil, err
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	for _, d := range mediadevices.EnumerateDevices() {
		log.Debug().Str("kind", fmt.Sprint(d.Kind)).Str("label", d.Label).Msg("media device")
	}

	type attempt struct {
		video, audio bool
		label        string
	}
	attempts := []attempt{
		{cfg.Video, cfg.Audio, "video+audio"},
		{cfg.Video, false, "video-only"},
		{false, cfg.Audio, "audio-only"},
	}
	for _, a := range attempts {
		if !a.video && !a.audio {
			continue
		}
		constraints := mediadevices.MediaStreamConstraints{Codec: selector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// MJPEG nodes on some cameras produce frames the encoder rejects.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				if cfg.Width > 0 {
					c.Width = prop.IntRanged{Max: cfg.Width}
				}
				if cfg.Height > 0 {
					c.Height = prop.IntRanged{Max: cfg.Height}
				}
			}
		}
		if a.audio {
			constraints.Audio = func(*mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			log.Warn().Err(err).Str("attempt", a.label).Msg("GetUserMedia failed")
			continue
		}

		tracks := stream.GetTracks()
		out := make([]webrtc.TrackLocal, 0, len(tracks))
		for _, t := range tracks {
			t.OnEnded(func(err error) {
				if err != nil {
					log.Error().Err(err).Str("track_id", t.ID()).Msg("local track ended")
				}
			})
			out = append(out, t)
		}
		log.Info().Str("attempt", a.label).Int("tracks", len(out)).Msg("local media captured")
		closeFn := func() {
			for _, t := range tracks {
				_ = t.Close()
			}
		}
		return out, closeFn, nil
	}
	return nil, nil, fmt.Errorf("all capture attempts failed: %w", ErrUnavailable)
}
