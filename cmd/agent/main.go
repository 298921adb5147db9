package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hubnity/timer-agent/internal/api"
	"github.com/hubnity/timer-agent/internal/apiclient"
	"github.com/hubnity/timer-agent/internal/authholder"
	"github.com/hubnity/timer-agent/internal/clock"
	"github.com/hubnity/timer-agent/internal/config"
	"github.com/hubnity/timer-agent/internal/events"
	"github.com/hubnity/timer-agent/internal/logger"
	"github.com/hubnity/timer-agent/internal/store"
	"github.com/hubnity/timer-agent/internal/syncworker"
	"github.com/hubnity/timer-agent/internal/timerengine"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")
	log := logger.Get()
	log.Info().Msg("starting timer agent")

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open local store")
	}
	defer st.Close()

	var mirror events.Publisher
	if cfg.Events.RedisAddr != "" {
		mirror = events.NewRedisMirror(cfg.Events.RedisAddr, cfg.Events.RedisPassword, cfg.Events.RedisDB, cfg.Events.RedisChannel)
	}
	hub := events.NewHub(mirror)

	if st.RecoveredFromCorruption() {
		log.Warn().Msg("local store was recovered from a corrupt file on open")
		_ = hub.Publish(context.Background(), events.New(events.DBRecoveredFromCorruption, map[string]interface{}{
			"path": cfg.Store.Path,
		}))
	}

	engine, err := timerengine.New(clock.System{}, st, hub)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to restore timer engine state")
	}

	auth := authholder.New(cfg.Sync.APIBaseURL, cfg.Auth.RefreshTimeout)
	client := apiclient.New(cfg.Sync.APIBaseURL, cfg.Sync.RequestTimeout)
	worker := syncworker.New(st, client, auth, hub, cfg.Sync.MaxRetries, cfg.Sync.LockTimeout)

	server := api.NewServer(cfg, engine, st, auth, worker, hub)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server.Start(ctx)
	go worker.Run(ctx, cfg.Sync.DispatchInterval)

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("control-plane API listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down timer agent")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	cancel()
	server.Stop()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("timer agent stopped")
}
