package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/roadbook/go/internal/racetimer"
	"github.com/mcdev12/roadbook/go/internal/racetimer/gateway"
	"github.com/mcdev12/roadbook/go/internal/racetimer/natsbus"
	"github.com/mcdev12/roadbook/go/internal/racetimer/rpc"
	"github.com/mcdev12/roadbook/go/internal/timerconfig"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const version = "1.0.0"

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := timerconfig.LoadFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	setupLogLevel(cfg.LogLevel)

	instanceID := uuid.New().String()[:8]

	log.Info().
		Str("instance", instanceID).
		Str("port", cfg.Port).
		Dur("tick_interval", cfg.TickInterval()).
		Float64("correction_factor", cfg.InitialCorrectionFactor).
		Bool("nats", cfg.NATSEnabled()).
		Msg("starting race timer")

	engine := racetimer.NewEngine(clockwork.NewRealClock())
	if _, err := engine.SetCorrectionFactor(cfg.InitialCorrectionFactor); err != nil {
		log.Fatal().Err(err).Msg("failed to apply initial correction factor")
	}

	gatewayService := gateway.NewService(gateway.DefaultConfig(), engine)
	publishers := racetimer.MultiPublisher{gatewayService.Publisher()}

	var natsPublisher *natsbus.Publisher
	if cfg.NATSEnabled() {
		natsCfg := natsbus.DefaultConfig()
		natsCfg.URL = cfg.NATS.URL
		natsCfg.SubjectPrefix = cfg.NATS.SubjectPrefix

		natsPublisher, err = natsbus.NewPublisher(natsCfg, instanceID)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create NATS publisher")
		}
		publishers = append(publishers, natsPublisher)
	}

	ticker := racetimer.NewTicker(engine, publishers, cfg.TickInterval())
	server := setupServer(cfg.Addr(), gatewayService, rpc.NewService(engine))

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go gatewayService.Start(ctx)
	ticker.Start(ctx)

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	ticker.Stop()
	cancel()

	select {
	case <-ticker.Done():
	case <-shutdownCtx.Done():
		log.Warn().Msg("ticker did not stop before shutdown deadline")
	}

	if natsPublisher != nil {
		natsPublisher.Close()
	}

	log.Info().Msg("race timer shutdown complete")
}

func setupLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		log.Warn().Str("level", level).Msg("unknown log level, using info")
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
