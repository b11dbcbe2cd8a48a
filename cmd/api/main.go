// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/screenshelf/internal/config"
	"github.com/briangreenhill/screenshelf/internal/http/routes"
	"github.com/briangreenhill/screenshelf/internal/logging"
	"github.com/briangreenhill/screenshelf/internal/servercache"
	"github.com/briangreenhill/screenshelf/tmdb"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("load config")
	}

	// Logger
	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stdout}).
		With().Str("service", "api").Logger()

	// A missing API key is not fatal: the gateway still serves health and
	// cache admin, and provider routes answer 503 until it is configured.
	if err := cfg.Validate(); err != nil {
		logger.Warn().Err(err).Msg("configuration incomplete")
	}

	// Cache
	store, err := servercache.OpenStore(cfg.Cache.Backend, servercache.RedisOptions{
		Addr:     cfg.Cache.RedisAddr,
		Password: cfg.Cache.RedisPassword,
		DB:       cfg.Cache.RedisDB,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("cache store")
	}
	sc := servercache.New(store,
		servercache.WithLogger(logger),
		servercache.WithNamespace(cfg.Cache.Namespace),
		servercache.WithConnectAttempts(cfg.Cache.ConnectAttempts),
	)
	defer func() { _ = sc.Close() }()

	connectCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if sc.Connect(connectCtx) {
		logger.Info().Str("backend", cfg.Cache.Backend).Msg("cache connected")
	}
	cancel()

	// Upstream client, built on first use
	lazy := tmdb.NewLazy(func() (*tmdb.Client, error) {
		return tmdb.New(cfg.TMDB.APIKey,
			tmdb.WithBaseURL(cfg.TMDB.BaseURL),
			tmdb.WithHTTPClient(&http.Client{Timeout: cfg.TMDB.Timeout}),
			tmdb.WithCache(sc),
			tmdb.WithNamespace(cfg.Cache.Namespace),
			tmdb.WithLanguage(cfg.TMDB.Language),
			tmdb.WithRetry(cfg.TMDB.Retries, 200*time.Millisecond),
			tmdb.WithLogger(logger),
		)
	})

	// Manual warming goes through the worker queue when Redis backs the cache
	var enqueuer routes.Enqueuer
	if cfg.Cache.Backend == servercache.BackendRedis {
		client := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Cache.RedisAddr, Password: cfg.Cache.RedisPassword, DB: cfg.Cache.RedisDB})
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("close asynq client")
			}
		}()
		enqueuer = client
	}

	// Router / server
	s := routes.New(routes.ServerOptions{
		Cache:    sc,
		TMDB:     lazy,
		Cfg:      *cfg,
		Logger:   logger,
		Enqueuer: enqueuer,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Str("env", cfg.AppEnv).Msg("starting api")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown")
	}
	logger.Info().Msg("api stopped")
}
