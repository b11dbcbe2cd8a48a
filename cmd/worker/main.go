package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/screenshelf/internal/config"
	"github.com/briangreenhill/screenshelf/internal/jobs"
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
	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stdout}).
		With().Str("service", "worker").Logger()

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.Cache.Backend != servercache.BackendRedis {
		logger.Fatal().Str("backend", cfg.Cache.Backend).Msg("the worker warms a shared cache and needs CACHE_BACKEND=redis")
	}

	redisOpt := asynq.RedisClientOpt{Addr: cfg.Cache.RedisAddr, Password: cfg.Cache.RedisPassword, DB: cfg.Cache.RedisDB}

	// The worker degrades like the gateway: with Redis down the warm runs
	// still hit the provider but nothing is stored.
	store := servercache.NewRedisStore(servercache.RedisOptions{
		Addr:     cfg.Cache.RedisAddr,
		Password: cfg.Cache.RedisPassword,
		DB:       cfg.Cache.RedisDB,
	})
	sc := servercache.New(store,
		servercache.WithLogger(logger),
		servercache.WithNamespace(cfg.Cache.Namespace),
		servercache.WithConnectAttempts(cfg.Cache.ConnectAttempts),
	)
	defer func() { _ = sc.Close() }()
	sc.Connect(context.Background())

	client, err := tmdb.New(cfg.TMDB.APIKey,
		tmdb.WithBaseURL(cfg.TMDB.BaseURL),
		tmdb.WithHTTPClient(&http.Client{Timeout: cfg.TMDB.Timeout}),
		tmdb.WithCache(sc),
		tmdb.WithNamespace(cfg.Cache.Namespace),
		tmdb.WithLanguage(cfg.TMDB.Language),
		tmdb.WithRetry(cfg.TMDB.Retries, 200*time.Millisecond),
		tmdb.WithLogger(logger),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("tmdb client")
	}
	warmer := jobs.NewWarmer(client, logger)

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:    2,
		StrictPriority: false,
		Queues: map[string]int{
			jobs.QueueWarm: 10,
			"default":      5,
		},
		Logger:   asynqLogger{logger.With().Str("component", "asynq").Logger()},
		LogLevel: asynq.WarnLevel,
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(jobs.TaskWarmCache, warmer.HandleWarmCache)

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Logger:   asynqLogger{logger.With().Str("component", "scheduler").Logger()},
		LogLevel: asynq.WarnLevel,
	})
	task, err := jobs.NewWarmCacheTask(jobs.WarmCachePayload{Pages: cfg.Warm.Pages})
	if err != nil {
		logger.Fatal().Err(err).Msg("build warm task")
	}
	// Unique collapses a run that is still queued when the next tick fires
	entryID, err := scheduler.Register(fmt.Sprintf("@every %s", cfg.Warm.Interval), task, asynq.Unique(cfg.Warm.Interval))
	if err != nil {
		logger.Fatal().Err(err).Msg("register warm schedule")
	}
	logger.Info().Str("entry_id", entryID).Dur("interval", cfg.Warm.Interval).Int("pages", cfg.Warm.Pages).Msg("warm schedule registered")

	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start worker")
	}
	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start scheduler")
	}
	logger.Info().Msg("worker running")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	scheduler.Shutdown()
	srv.Shutdown()
	logger.Info().Msg("worker stopped")
}

// asynqLogger routes asynq's internal logging through zerolog
type asynqLogger struct {
	l zerolog.Logger
}

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...interface{}) { a.l.Fatal().Msg(fmt.Sprint(args...)) }
