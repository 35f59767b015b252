// Package capture owns the local audio/video tracks shared by every peer
// connection. Disabling a kind gates its packets; tracks stay bound so no
// renegotiation is needed.
package capture

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
)

var ErrUnavailable = core.ErrCaptureUnavailable

type Mode string

const (
	ModeNone      Mode = "none"
	ModeSynthetic Mode = "synthetic"
	ModeDevice    Mode = "device"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeNone, ModeSynthetic, ModeDevice:
		return m, nil
	case "":
		return ModeNone, nil
	default:
		return "", fmt.Errorf("unknown capture mode %q", s)
	}
}

type Config struct {
	Mode     Mode
	Audio    bool
	Video    bool
	StreamID string
	Width    int
	Height   int
}

// Local implements core.LocalMedia. Every kind starts disabled.
type Local struct {
	mu      sync.Mutex
	tracks  map[domain.MediaKind]*gatedTrack
	release func()
	log     zerolog.Logger
}

// New wraps already opened tracks. release, if set, is called by Close.
func New(log zerolog.Logger, release func(), tracks ...webrtc.TrackLocal) *Local {
	l := &Local{
		tracks:  make(map[domain.MediaKind]*gatedTrack, len(tracks)),
		release: release,
		log:     log.With().Str("module", "capture").Logger(),
	}
	for _, t := range tracks {
		kind := domain.MediaVideo
		if t.Kind() == webrtc.RTPCodecTypeAudio {
			kind = domain.MediaAudio
		}
		if _, dup := l.tracks[kind]; dup {
			l.log.Warn().Str("kind", string(kind)).Str("track_id", t.ID()).Msg("extra track ignored")
			continue
		}
		l.tracks[kind] = newGatedTrack(t)
	}
	return l
}

// Open acquires the configured tracks. Kinds that cannot be opened are left
// out, so a Local is returned even when nothing could be captured.
func Open(cfg Config, log zerolog.Logger) (*Local, error) {
	switch cfg.Mode {
	case ModeNone, "":
		return New(log, nil), nil
	case ModeSynthetic:
		tracks, err := synthetic(cfg)
		if err != nil {
			return nil, err
		}
		return New(log, nil, tracks...), nil
	case ModeDevice:
		tracks, closeFn, err := openDevices(cfg, log)
		if err != nil {
			if !errors.Is(err, ErrUnavailable) {
				return nil, err
			}
			log.Warn().Err(err).Msg("no capture devices, proceeding receive-only")
		}
		return New(log, closeFn, tracks...), nil
	default:
		return nil, fmt.Errorf("unknown capture mode %q", cfg.Mode)
	}
}

func (l *Local) Available(kind domain.MediaKind) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.tracks[kind]
	return ok
}

// SetEnabled fails only when enabling a kind that has no track.
func (l *Local) SetEnabled(kind domain.MediaKind, enabled bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tracks[kind]
	if !ok {
		if enabled {
			return ErrUnavailable
		}
		return nil
	}
	t.setEnabled(enabled)
	l.log.Debug().Str("kind", string(kind)).Bool("enabled", enabled).Msg("capture gate")
	return nil
}

func (l *Local) Enabled(kind domain.MediaKind) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tracks[kind]
	return ok && t.enabled()
}

// Tracks returns audio first, then video.
func (l *Local) Tracks() []webrtc.TrackLocal {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]webrtc.TrackLocal, 0, len(l.tracks))
	for _, kind := range []domain.MediaKind{domain.MediaAudio, domain.MediaVideo} {
		if t, ok := l.tracks[kind]; ok {
			out = append(out, t)
		}
	}
	return out
}

func (l *Local) Close() {
	if l.release != nil {
		l.release()
	}
}
