package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/briangreenhill/screenshelf/cache"
	"github.com/briangreenhill/screenshelf/internal/config"
	appmw "github.com/briangreenhill/screenshelf/internal/http/middleware"
	"github.com/briangreenhill/screenshelf/internal/servercache"
	"github.com/briangreenhill/screenshelf/tmdb"
)

// Enqueuer submits background tasks. *asynq.Client satisfies it.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type Server struct {
	Router   *chi.Mux
	Cache    *servercache.Cache
	TMDB     *tmdb.Lazy
	Policies *cache.PolicyTable
	Enqueuer Enqueuer // optional; nil disables manual warming

	log        zerolog.Logger
	validate   *validator.Validate
	appEnv     string
	production bool
	started    time.Time
}

type ServerOptions struct {
	Cache    *servercache.Cache
	TMDB     *tmdb.Lazy
	Cfg      config.Config
	Logger   zerolog.Logger
	Enqueuer Enqueuer
}

func New(opts ServerOptions) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(hlog.NewHandler(opts.Logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("request_id", chimw.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.Cfg.HTTP.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Cache-Control"},
		MaxAge:         300,
	}))

	s := &Server{
		Router:     r,
		Cache:      opts.Cache,
		TMDB:       opts.TMDB,
		Policies:   cache.ServerPolicies,
		Enqueuer:   opts.Enqueuer,
		log:        opts.Logger,
		validate:   newValidator(),
		appEnv:     opts.Cfg.AppEnv,
		production: opts.Cfg.IsProduction(),
		started:    time.Now(),
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("write health check response")
		}
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		if opts.Cfg.HTTP.RateLimitRequests > 0 {
			api.Use(httprate.LimitByIP(opts.Cfg.HTTP.RateLimitRequests, opts.Cfg.HTTP.RateLimitWindow))
		}

		api.Get("/health", s.handleHealth)

		api.Get("/movies/popular", pageHandler(s, "/movie/popular", (*tmdb.Client).PopularMovies))
		api.Get("/movies/top-rated", pageHandler(s, "/movie/top_rated", (*tmdb.Client).TopRatedMovies))
		api.Get("/movies/now-playing", pageHandler(s, "/movie/now_playing", (*tmdb.Client).NowPlayingMovies))
		api.Get("/movies/upcoming", pageHandler(s, "/movie/upcoming", (*tmdb.Client).UpcomingMovies))
		api.Get("/movies/trending", trendingHandler(s, "/trending/movie", (*tmdb.Client).TrendingMovies))
		api.Get("/movies/discover", s.handleDiscover)
		api.Get("/movies/{id:[0-9]+}", s.handleMovie)

		api.Get("/tv/popular", pageHandler(s, "/tv/popular", (*tmdb.Client).PopularTV))
		api.Get("/tv/top-rated", pageHandler(s, "/tv/top_rated", (*tmdb.Client).TopRatedTV))
		api.Get("/tv/on-the-air", pageHandler(s, "/tv/on_the_air", (*tmdb.Client).OnTheAirTV))
		api.Get("/tv/airing-today", pageHandler(s, "/tv/airing_today", (*tmdb.Client).AiringTodayTV))
		api.Get("/tv/trending", trendingHandler(s, "/trending/tv", (*tmdb.Client).TrendingTV))
		api.Get("/tv/{id:[0-9]+}", s.handleShow)

		api.Get("/search", s.handleSearch)
		api.Get("/genres/movie", s.handleGenres("/genre/movie/list", (*tmdb.Client).MovieGenres))
		api.Get("/genres/tv", s.handleGenres("/genre/tv/list", (*tmdb.Client).TVGenres))

		api.Post("/cache/warm", s.handleWarm)
		api.Group(func(pr chi.Router) {
			pr.Use(appmw.RequireNonProduction(s.production))
			pr.Delete("/cache", s.handleClearCache)
			pr.Delete("/cache/*", s.handleDeleteCacheKey)
		})
	})

	return s
}
