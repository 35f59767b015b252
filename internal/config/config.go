package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/dkeye/VoiceMesh/internal/adapters/capture"
	"github.com/dkeye/VoiceMesh/internal/adapters/relay"
	"github.com/dkeye/VoiceMesh/internal/adapters/rtc"
	"github.com/dkeye/VoiceMesh/internal/app/conn"
	"github.com/dkeye/VoiceMesh/internal/app/health"
	"github.com/dkeye/VoiceMesh/internal/app/orch"
	"github.com/dkeye/VoiceMesh/internal/domain"
)

const EnvPrefix = "VOICEMESH"

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Mode       string `mapstructure:"mode"`
	StatusPort int    `mapstructure:"status_port"`
	LogLevel   string `mapstructure:"log_level"`

	RelayURL          string        `mapstructure:"relay_url"`
	RelaySendBuffer   int           `mapstructure:"relay_send_buffer"`
	RelayPingPeriod   time.Duration `mapstructure:"relay_ping_period"`
	RelayPongWait     time.Duration `mapstructure:"relay_pong_wait"`
	RelayMinBackoff   time.Duration `mapstructure:"relay_min_backoff"`
	RelayMaxBackoff   time.Duration `mapstructure:"relay_max_backoff"`
	RelayBackpressure string        `mapstructure:"relay_backpressure"`

	MeetingID   string `mapstructure:"meeting_id"`
	DisplayName string `mapstructure:"display_name"`
	Host        bool   `mapstructure:"host"`
	StartAudio  bool   `mapstructure:"start_audio"`
	StartVideo  bool   `mapstructure:"start_video"`

	CaptureMode   string `mapstructure:"capture_mode"`
	CaptureWidth  int    `mapstructure:"capture_width"`
	CaptureHeight int    `mapstructure:"capture_height"`

	ICEServers             []string      `mapstructure:"ice_servers"`
	ICEDisconnectedTimeout time.Duration `mapstructure:"ice_disconnected_timeout"`
	ICEFailedTimeout       time.Duration `mapstructure:"ice_failed_timeout"`

	FanoutLimit        int           `mapstructure:"fanout_limit"`
	StaggerStep        time.Duration `mapstructure:"stagger_step"`
	HealthInterval     time.Duration `mapstructure:"health_interval"`
	ReconnectCooldown  time.Duration `mapstructure:"reconnect_cooldown"`
	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`
	DegradedGrace      time.Duration `mapstructure:"degraded_grace"`
	PersistentAfter    int           `mapstructure:"persistent_after"`
	ForceConnectLimit  int           `mapstructure:"force_connect_limit"`
	ForceConnectWindow time.Duration `mapstructure:"force_connect_window"`
	EventBuffer        int           `mapstructure:"event_buffer"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("status_port", 8090)
	v.SetDefault("log_level", "info")

	v.SetDefault("relay_url", "ws://localhost:8080/api/ws/relay")
	v.SetDefault("relay_send_buffer", 64)
	v.SetDefault("relay_ping_period", "54s")
	v.SetDefault("relay_pong_wait", "60s")
	v.SetDefault("relay_min_backoff", "500ms")
	v.SetDefault("relay_max_backoff", "30s")
	v.SetDefault("relay_backpressure", relay.DropFrame.String())

	// Keys without a default are invisible to AutomaticEnv on Unmarshal.
	v.SetDefault("meeting_id", "")
	v.SetDefault("display_name", "participant")
	v.SetDefault("host", false)
	v.SetDefault("start_audio", true)
	v.SetDefault("start_video", true)

	v.SetDefault("capture_mode", string(capture.ModeNone))
	v.SetDefault("capture_width", 640)
	v.SetDefault("capture_height", 480)

	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("ice_disconnected_timeout", "5s")
	v.SetDefault("ice_failed_timeout", "25s")

	v.SetDefault("fanout_limit", 5)
	v.SetDefault("stagger_step", "250ms")
	v.SetDefault("health_interval", "5s")
	v.SetDefault("reconnect_cooldown", "30s")
	v.SetDefault("negotiation_timeout", "15s")
	v.SetDefault("degraded_grace", "10s")
	v.SetDefault("persistent_after", 3)
	v.SetDefault("force_connect_limit", 3)
	v.SetDefault("force_connect_window", "10s")
	v.SetDefault("event_buffer", 256)
}

// Load reads .env, then config/config.<CONFIG_ENV>.yaml, then VOICEMESH_*
// variables, each overriding the previous one.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Info().Str("module", "config").Msg("loaded .env")
	}

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile is Load without .env handling. A missing file falls back to defaults.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Str("meeting", cfg.MeetingID).
		Str("relay", cfg.RelayURL).
		Int("status_port", cfg.StatusPort).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.MeetingID != "", "meeting_id is required")
	if err := domain.ValidateDisplayName(c.DisplayName); err != nil {
		errs = append(errs, fmt.Errorf("display_name: %w", err))
	}
	if u, err := url.Parse(c.RelayURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, fmt.Errorf("relay_url %q: want ws:// or wss://", c.RelayURL))
	}
	check(c.StatusPort >= 0 && c.StatusPort < 1<<16, "status_port %d out of range", c.StatusPort)
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if _, err := relay.ParseBackpressureAction(c.RelayBackpressure); err != nil {
		errs = append(errs, fmt.Errorf("relay_backpressure: %w", err))
	}
	if _, err := capture.ParseMode(c.CaptureMode); err != nil {
		errs = append(errs, fmt.Errorf("capture_mode: %w", err))
	}

	check(c.FanoutLimit >= 1, "fanout_limit must be at least 1")
	check(c.PersistentAfter >= 1, "persistent_after must be at least 1")
	check(c.ForceConnectLimit >= 1, "force_connect_limit must be at least 1")
	check(c.StaggerStep >= 0, "stagger_step must not be negative")
	for name, d := range map[string]time.Duration{
		"health_interval":      c.HealthInterval,
		"reconnect_cooldown":   c.ReconnectCooldown,
		"negotiation_timeout":  c.NegotiationTimeout,
		"degraded_grace":       c.DegradedGrace,
		"force_connect_window": c.ForceConnectWindow,
	} {
		check(d > 0, "%s must be positive", name)
	}
	check(c.RelayPongWait > c.RelayPingPeriod, "relay_pong_wait must exceed relay_ping_period")

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

func (c *Config) Relay() relay.Config {
	action, _ := relay.ParseBackpressureAction(c.RelayBackpressure)
	return relay.Config{
		URL:          c.RelayURL,
		SendBuffer:   c.RelaySendBuffer,
		PingPeriod:   c.RelayPingPeriod,
		PongWait:     c.RelayPongWait,
		MinBackoff:   c.RelayMinBackoff,
		MaxBackoff:   c.RelayMaxBackoff,
		Backpressure: action,
	}
}

func (c *Config) RTC() rtc.Config {
	cfg := rtc.DefaultConfig()
	cfg.ICEServers = c.ICEServers
	cfg.DisconnectedTimeout = c.ICEDisconnectedTimeout
	cfg.FailedTimeout = c.ICEFailedTimeout
	return cfg
}

func (c *Config) Capture() capture.Config {
	mode, _ := capture.ParseMode(c.CaptureMode)
	return capture.Config{
		Mode:     mode,
		Audio:    true,
		Video:    true,
		StreamID: "camera-" + c.DisplayName,
		Width:    c.CaptureWidth,
		Height:   c.CaptureHeight,
	}
}

func (c *Config) Engine() orch.Config {
	return orch.Config{
		MeetingID:   domain.MeetingID(c.MeetingID),
		DisplayName: c.DisplayName,
		Host:        c.Host,
		StartAudio:  c.StartAudio,
		StartVideo:  c.StartVideo,
		Conn: conn.Config{
			FanOut:             c.FanoutLimit,
			StaggerStep:        c.StaggerStep,
			NegotiationTimeout: c.NegotiationTimeout,
			DegradedGrace:      c.DegradedGrace,
			ForceConnectLimit:  c.ForceConnectLimit,
			ForceConnectWindow: c.ForceConnectWindow,
		},
		Health: health.Config{
			ReconnectCooldown:  c.ReconnectCooldown,
			NegotiationTimeout: c.NegotiationTimeout,
			DegradedGrace:      c.DegradedGrace,
			PersistentAfter:    c.PersistentAfter,
		},
		HealthInterval: c.HealthInterval,
		EventBuffer:    c.EventBuffer,
	}
}
