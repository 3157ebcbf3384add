// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ottera/streamgate/internal/api"
	"github.com/ottera/streamgate/internal/config"
	sglog "github.com/ottera/streamgate/internal/log"
	"github.com/ottera/streamgate/internal/resolver"
	"github.com/ottera/streamgate/internal/store"
	"github.com/ottera/streamgate/internal/upstream"
)

var (
	version   = "v0.3.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Configure before config.Load: the env parsers log, and the first
	// logger touch pins the service metadata.
	sglog.Configure(sglog.Config{Level: "info", Service: "streamgate", Version: version})

	cfg, err := config.Load()
	if err != nil {
		fatalLogger := sglog.WithComponent("daemon")
		fatalLogger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Msg("failed to load configuration")
	}
	sglog.SetLevel(cfg.LogLevel)
	logger := sglog.WithComponent("daemon")
	logger.Info().
		Str("event", "config.loaded").
		Str("upstream", cfg.UpstreamBase).
		Str("store", cfg.StoreBackend).
		Dur("cache_ttl", cfg.CacheTTL).
		Msg("loaded configuration from environment")

	st, err := store.Open(store.Options{
		Backend: cfg.StoreBackend,
		Path:    filepath.Join(cfg.DataDir, "cache"),
		Redis:   store.RedisConfig{Addr: cfg.RedisAddr, DB: cfg.RedisDB},
	})
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("failed to open persistent store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn().Err(err).Msg("store close failed")
		}
	}()

	client := upstream.New(cfg.UpstreamBase, upstream.RetryConfig{
		MaxRetries:     cfg.MaxRetries,
		AttemptTimeout: cfg.AttemptTimeout,
		BaseDelay:      cfg.RetryBaseDelay,
		MaxDelay:       cfg.RetryMaxDelay,
	})

	res := resolver.New(client, st, resolver.Config{
		TTL:             cfg.CacheTTL,
		SessionInterval: cfg.SessionInterval,
		PreloadWorkers:  cfg.PreloadWorkers,
	})

	if err := res.LoadFromPersistent(ctx); err != nil {
		// Warm-start is an optimization; a cold cache is not fatal.
		logger.Warn().Err(err).Msg("cache warm-start failed, starting cold")
	}

	if len(cfg.PreloadChannels) > 0 {
		go func() {
			logger.Info().
				Int("channels", len(cfg.PreloadChannels)).
				Msg("starting boot preload")
			res.Preload(ctx, cfg.PreloadChannels)
		}()
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.New(res, api.Config{RateRPS: cfg.APIRateRPS}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("streamgate stopped")
}
