package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/livepoll/go/internal/classroom/coordinator"
	"github.com/mcdev12/livepoll/go/internal/classroom/gateway"
	"github.com/mcdev12/livepoll/go/internal/classroom/relay"
	"github.com/mcdev12/livepoll/go/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	log.Info().
		Str("addr", cfg.Addr()).
		Strs("allowed_origins", cfg.Server.AllowedOrigins).
		Str("relay", cfg.Relay.Driver).
		Msg("starting livepoll classroom server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewRealClock()
	gatewayService := gateway.NewService(cfg.GatewayConfig(), clock)

	// The coordinator broadcasts through the connection manager, optionally
	// mirrored onto the relay bus.
	var broadcaster coordinator.Broadcaster = gatewayService.ConnectionManager()
	relayConfig := cfg.RelayConfig()
	publisher, err := relay.NewPublisher(ctx, relayConfig)
	if err != nil {
		log.Fatal().Err(err).Str("driver", relayConfig.Driver).Msg("failed to connect relay")
	}
	var mirror *relay.Mirror
	if publisher != nil {
		mirror = relay.NewMirror(broadcaster, publisher, relayConfig, clock)
		broadcaster = mirror
	}

	coord := coordinator.New(cfg.CoordinatorConfig(), broadcaster, clock)

	handler, err := gatewayService.Handler(coord, coord)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build HTTP handler")
	}

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := coord.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("coordinator failed")
		}
	}()
	go func() {
		defer wg.Done()
		gatewayService.Start(ctx)
	}()
	if mirror != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mirror.Run(ctx)
		}()
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancel()
	wg.Wait()

	log.Info().Msg("livepoll shutdown complete")
}
