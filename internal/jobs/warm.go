package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/screenshelf/tmdb"
)

const (
	DefaultWarmPages = 2
	MaxWarmPages     = 20
)

type warmTarget struct {
	paged bool
	fetch func(ctx context.Context, c *tmdb.Client, page int) error
}

func movies(fn func(*tmdb.Client, context.Context, int) (tmdb.Page[tmdb.Movie], error)) warmTarget {
	return warmTarget{paged: true, fetch: func(ctx context.Context, c *tmdb.Client, page int) error {
		_, err := fn(c, ctx, page)
		return err
	}}
}

func shows(fn func(*tmdb.Client, context.Context, int) (tmdb.Page[tmdb.Show], error)) warmTarget {
	return warmTarget{paged: true, fetch: func(ctx context.Context, c *tmdb.Client, page int) error {
		_, err := fn(c, ctx, page)
		return err
	}}
}

func single(fn func(ctx context.Context, c *tmdb.Client) error) warmTarget {
	return warmTarget{fetch: func(ctx context.Context, c *tmdb.Client, _ int) error {
		return fn(ctx, c)
	}}
}

// Lists are named after the gateway routes that serve them
var warmTargets = map[string]warmTarget{
	"movies/popular":     movies((*tmdb.Client).PopularMovies),
	"movies/top-rated":   movies((*tmdb.Client).TopRatedMovies),
	"movies/now-playing": movies((*tmdb.Client).NowPlayingMovies),
	"movies/upcoming":    movies((*tmdb.Client).UpcomingMovies),
	"tv/popular":         shows((*tmdb.Client).PopularTV),
	"tv/top-rated":       shows((*tmdb.Client).TopRatedTV),
	"tv/on-the-air":      shows((*tmdb.Client).OnTheAirTV),
	"tv/airing-today":    shows((*tmdb.Client).AiringTodayTV),
	"movies/trending": single(func(ctx context.Context, c *tmdb.Client) error {
		_, err := c.TrendingMovies(ctx, "week")
		return err
	}),
	"tv/trending": single(func(ctx context.Context, c *tmdb.Client) error {
		_, err := c.TrendingTV(ctx, "week")
		return err
	}),
	"genres/movie": single(func(ctx context.Context, c *tmdb.Client) error {
		_, err := c.MovieGenres(ctx)
		return err
	}),
	"genres/tv": single(func(ctx context.Context, c *tmdb.Client) error {
		_, err := c.TVGenres(ctx)
		return err
	}),
}

// Lists returns every warmable list name, sorted
func Lists() []string {
	names := make([]string, 0, len(warmTargets))
	for name := range warmTargets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WarmReport summarises one warm run
type WarmReport struct {
	RunID     string
	Fetched   int
	Failed    int
	Duration  time.Duration
	LastError error
}

// Warmer pre-populates the server cache by calling the upstream client,
// which writes through the cache it was built with.
type Warmer struct {
	client *tmdb.Client
	log    zerolog.Logger
}

func NewWarmer(client *tmdb.Client, logger zerolog.Logger) *Warmer {
	return &Warmer{client: client, log: logger}
}

// Warm fetches each requested list. Individual failures are logged and
// counted; the run continues.
func (w *Warmer) Warm(ctx context.Context, runID string, p WarmCachePayload) WarmReport {
	start := time.Now()
	lists := p.Lists
	if len(lists) == 0 {
		lists = Lists()
	}
	pages := p.Pages
	if pages == 0 {
		pages = DefaultWarmPages
	}

	report := WarmReport{RunID: runID}
	for _, name := range lists {
		target, ok := warmTargets[name]
		if !ok {
			continue
		}
		n := 1
		if target.paged {
			n = pages
		}
		for page := 1; page <= n; page++ {
			if ctx.Err() != nil {
				report.LastError = ctx.Err()
				report.Duration = time.Since(start)
				return report
			}
			if err := target.fetch(ctx, w.client, page); err != nil {
				report.Failed++
				report.LastError = err
				w.log.Warn().Err(err).Str("run_id", runID).Str("list", name).Int("page", page).Msg("warm fetch failed")
				if errors.Is(err, tmdb.ErrCircuitOpen) {
					report.Duration = time.Since(start)
					return report
				}
				continue
			}
			report.Fetched++
		}
	}
	report.Duration = time.Since(start)
	return report
}

// HandleWarmCache is the asynq handler for TaskWarmCache. A run where every
// fetch failed is returned as an error so asynq retries it later.
func (w *Warmer) HandleWarmCache(ctx context.Context, t *asynq.Task) error {
	runID, ok := asynq.GetTaskID(ctx)
	if !ok {
		runID = uuid.NewString()
	}

	var p WarmCachePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		w.log.Error().Err(err).Str("run_id", runID).Msg("bad warm payload")
		return fmt.Errorf("decode warm payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := p.Validate(); err != nil {
		w.log.Error().Err(err).Str("run_id", runID).Msg("invalid warm payload")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	w.log.Info().Str("run_id", runID).Strs("lists", p.Lists).Int("pages", p.Pages).Msg("warm start")
	report := w.Warm(ctx, runID, p)

	ev := w.log.Info()
	if report.Failed > 0 {
		ev = w.log.Warn()
	}
	ev.Str("run_id", report.RunID).
		Int("fetched", report.Fetched).
		Int("failed", report.Failed).
		Dur("duration", report.Duration).
		Msg("warm done")

	if report.Fetched == 0 && report.LastError != nil {
		return fmt.Errorf("warm run %s: %w", report.RunID, report.LastError)
	}
	return nil
}
