package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/mobster/go/internal/mob/controller"
	"github.com/mcdev12/mobster/go/internal/mob/gateway"
	"github.com/mcdev12/mobster/go/internal/mob/replication"
	"github.com/mcdev12/mobster/go/internal/mob/session"
	"github.com/mcdev12/mobster/go/internal/mobconfig"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := mobconfig.Load(getEnv("MOB_CONFIG", ""))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	natsConfig := replication.NATSConfig{
		URL:            cfg.NATS.URL,
		ClientName:     "mobster-" + cfg.Session.ID,
		MaxReconnects:  cfg.NATS.MaxReconnects,
		ReconnectWait:  cfg.NATS.ReconnectWait,
		ProbeTimeout:   cfg.NATS.ProbeTimeout,
		RequestTimeout: cfg.NATS.RequestTimeout,
	}
	nc, err := replication.Connect(natsConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to NATS")
	}
	defer nc.Close()

	log.Info().
		Str("session_id", cfg.Session.ID).
		Str("role", string(cfg.Role())).
		Str("nats_url", cfg.NATS.URL).
		Str("port", cfg.Gateway.Port).
		Int("interval_sec", cfg.Mob.IntervalSec).
		Msg("starting mobster")

	clock := clockwork.NewRealClock()

	presence := session.NewPresence(nc, session.PresenceConfig{
		SessionID:         cfg.Session.ID,
		HeartbeatInterval: cfg.Presence.HeartbeatInterval,
		PeerTTL:           cfg.Presence.PeerTTL,
	}, cfg.Participant(), cfg.Role(), clock)

	gatewayConfig := gateway.Config{
		Port:             cfg.Gateway.Port,
		AllowedOrigins:   cfg.Gateway.AllowedOrigins,
		ConnectionConfig: gateway.DefaultConnectionConfig(),
	}
	gatewayService := gateway.NewService(gatewayConfig)

	mob := controller.New(controller.Config{
		IntervalSec:    cfg.Mob.IntervalSec,
		ServiceName:    cfg.Mob.ServiceName,
		ConfirmTimeout: cfg.Mob.ConfirmTimeout,
		BindRetry:      cfg.Mob.BindRetry,
	}, controller.Deps{
		Session:   presence,
		Transport: replication.NewNATSTransport(nc, cfg.Session.ID, natsConfig),
		Display:   gatewayService.Surface(),
		Prompter:  gatewayService.Surface(),
		Clock:     clock,
	})

	server := gateway.NewServer(gatewayConfig, gatewayService.Handler(mob, nc))

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	presenceCtx, cancelPresence := context.WithCancel(ctx)
	defer cancelPresence()

	go func() {
		if err := gatewayService.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	mobDone := make(chan struct{})
	go func() {
		defer close(mobDone)
		if err := mob.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("mob controller failed")
		}
	}()

	presenceDone := make(chan struct{})
	go func() {
		defer close(presenceDone)
		if err := presence.Run(presenceCtx); err != nil {
			log.Error().Err(err).Msg("presence failed")
		}
	}()

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

	// Leaving the session revokes access, which resets the controller.
	cancelPresence()
	waitFor(shutdownCtx, presenceDone, "presence")

	cancel()
	waitFor(shutdownCtx, mobDone, "mob controller")

	if err := nc.Drain(); err != nil {
		log.Warn().Err(err).Msg("failed to drain NATS connection")
	}

	log.Info().Msg("mobster shutdown complete")
}

func waitFor(ctx context.Context, done <-chan struct{}, name string) {
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Str("component", name).Msg("timed out waiting for shutdown")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
