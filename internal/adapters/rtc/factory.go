package rtc

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
)

type Config struct {
	ICEServers          []string
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration
}

func DefaultConfig() Config {
	return Config{
		ICEServers:          []string{"stun:stun.l.google.com:19302"},
		DisconnectedTimeout: 5 * time.Second,
		FailedTimeout:       25 * time.Second,
		KeepAliveInterval:   2 * time.Second,
	}
}

// Factory builds one peer connection per remote participant, all sharing the
// same local capture tracks.
type Factory struct {
	api     *webrtc.API
	pcCfg   webrtc.Configuration
	local   core.LocalMedia
	version func() uint64
	clock   clock.Clock
	log     zerolog.Logger
}

// NewFactory registers the default codecs and interceptors once. version
// stamps outgoing bundles and must be shared by every transport.
func NewFactory(cfg Config, local core.LocalMedia, version func() uint64, clk clock.Clock, log zerolog.Logger) (*Factory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(cfg.DisconnectedTimeout, cfg.FailedTimeout, cfg.KeepAliveInterval)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)

	pcCfg := webrtc.Configuration{}
	if len(cfg.ICEServers) > 0 {
		pcCfg.ICEServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}

	return &Factory{
		api:     api,
		pcCfg:   pcCfg,
		local:   local,
		version: version,
		clock:   clk,
		log:     log.With().Str("module", "webrtc").Logger(),
	}, nil
}

func (f *Factory) NewTransport(remote domain.ParticipantID, hooks core.TransportHooks) (core.Transport, error) {
	pc, err := f.api.NewPeerConnection(f.pcCfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	c := newConnection(pc, remote, hooks, f.version, f.clock, f.log)
	if err := c.attachLocal(f.local); err != nil {
		_ = pc.Close()
		return nil, err
	}
	c.start()
	return c, nil
}
