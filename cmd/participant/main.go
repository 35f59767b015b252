package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/dkeye/VoiceMesh/internal/adapters/capture"
	router "github.com/dkeye/VoiceMesh/internal/adapters/http"
	"github.com/dkeye/VoiceMesh/internal/adapters/relay"
	"github.com/dkeye/VoiceMesh/internal/adapters/rtc"
	"github.com/dkeye/VoiceMesh/internal/app/event"
	"github.com/dkeye/VoiceMesh/internal/app/orch"
	"github.com/dkeye/VoiceMesh/internal/app/streams"
	"github.com/dkeye/VoiceMesh/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	if err := run(ctx, cfg); err != nil {
		if errors.Is(err, orch.ErrEvicted) {
			log.Warn().Msg("removed from meeting")
			os.Exit(2)
		}
		log.Error().Err(err).Msg("participant stopped")
		os.Exit(1)
	}
	log.Info().Msg("participant exited gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	clk := clock.New()

	local, err := capture.Open(cfg.Capture(), log.Logger)
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	defer local.Close()

	var versions streams.Versions
	factory, err := rtc.NewFactory(cfg.RTC(), local, versions.Next, clk, log.Logger)
	if err != nil {
		return fmt.Errorf("webrtc: %w", err)
	}

	var engine *orch.Engine
	client := relay.NewClient(cfg.Relay(), func(ev event.Event) { engine.Post(ev) },
		log.With().Str("module", "relay").Logger())
	engine = orch.New(cfg.Engine(), orch.Deps{
		Signaler: client,
		Factory:  factory,
		Local:    local,
		Clock:    clk,
		Log:      log.With().Str("module", "orch").Logger(),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.StatusPort),
		Handler: router.SetupRouter(cfg.Mode, engine, log.Logger),
	}

	// The relay outlives the engine so the leave message can still go out.
	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()

	var wg conc.WaitGroup
	var engineErr, relayErr error
	wg.Go(func() {
		if err := client.Run(relayCtx); err != nil {
			relayErr = err
			cancel()
		}
	})
	wg.Go(func() {
		log.Info().Str("addr", srv.Addr).Msg("status API started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
		}
	})

	engineErr = engine.Run(ctx)

	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	// Give the write pump a moment to flush the leave message.
	select {
	case <-shutdownCtx.Done():
	case <-time.After(200 * time.Millisecond):
	}
	stopRelay()
	wg.Wait()

	if engineErr != nil {
		return engineErr
	}
	return relayErr
}
