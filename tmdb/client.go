// Package tmdb is a client for a TMDB-shaped movie and TV metadata API.
// Successful responses are read through and written to an optional cache
// keyed by endpoint and parameters, with a TTL chosen by data category.
package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	gojson "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/briangreenhill/screenshelf/cache"
	"github.com/briangreenhill/screenshelf/internal/metrics"
)

const (
	DefaultBaseURL   = "https://api.themoviedb.org/3"
	DefaultNamespace = "tmdb"

	maxBodyBytes = 4 << 20
)

// Cache is the read-through store consulted before every upstream call.
// *servercache.Cache satisfies it.
type Cache = cache.ReadWriter

// BreakerSettings controls when upstream calls are short-circuited
type BreakerSettings struct {
	// ConsecutiveFailures opens the breaker
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before a trial call
	OpenTimeout time.Duration
}

type Client struct {
	http     *http.Client
	baseURL  *url.URL
	apiKey   string
	language string

	cache     Cache // optional; nil means no cache
	policies  *cache.PolicyTable
	namespace string
	log       zerolog.Logger

	maxAttempts    int
	initialBackoff time.Duration
	breakerCfg     BreakerSettings
	breaker        *gobreaker.CircuitBreaker[[]byte]
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithBaseURL(raw string) Option {
	return func(c *Client) {
		if u, err := url.Parse(strings.TrimRight(raw, "/")); err == nil && u.Scheme != "" {
			c.baseURL = u
		}
	}
}

func WithCache(rw Cache) Option {
	return func(c *Client) { c.cache = rw }
}

func WithPolicies(p *cache.PolicyTable) Option {
	return func(c *Client) {
		if p != nil {
			c.policies = p
		}
	}
}

func WithNamespace(ns string) Option {
	return func(c *Client) {
		if ns != "" {
			c.namespace = ns
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l.With().Str("component", "tmdb").Logger() }
}

// WithLanguage adds a language parameter (e.g. "en-US") to every call
func WithLanguage(lang string) Option {
	return func(c *Client) { c.language = lang }
}

// WithRetry sets the total attempts per call and the first backoff delay
func WithRetry(maxAttempts int, initial time.Duration) Option {
	return func(c *Client) {
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
		if initial > 0 {
			c.initialBackoff = initial
		}
	}
}

func WithBreaker(s BreakerSettings) Option {
	return func(c *Client) {
		if s.ConsecutiveFailures > 0 {
			c.breakerCfg.ConsecutiveFailures = s.ConsecutiveFailures
		}
		if s.OpenTimeout > 0 {
			c.breakerCfg.OpenTimeout = s.OpenTimeout
		}
	}
}

func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("apiKey required")
	}
	u, _ := url.Parse(DefaultBaseURL)
	c := &Client{
		http:           &http.Client{Timeout: 10 * time.Second},
		baseURL:        u,
		apiKey:         apiKey,
		policies:       cache.ServerPolicies,
		namespace:      DefaultNamespace,
		log:            zerolog.Nop(),
		maxAttempts:    3,
		initialBackoff: 200 * time.Millisecond,
		breakerCfg: BreakerSettings{
			ConsecutiveFailures: 5,
			OpenTimeout:         30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	c.breaker = c.newBreaker()
	return c, nil
}

func (c *Client) newBreaker() *gobreaker.CircuitBreaker[[]byte] {
	threshold := c.breakerCfg.ConsecutiveFailures
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "tmdb",
		MaxRequests: 1,
		Timeout:     c.breakerCfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return !countsAsFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("upstream circuit breaker state change")
			metrics.BreakerState.Set(float64(to))
		},
	})
}

// BreakerState exposes the current breaker state for health reporting
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// KeyFor returns the cache key used for an endpoint and its parameters.
// The API key never takes part in it.
func (c *Client) KeyFor(p string, params cache.Params) string {
	return cache.KeyFor(c.namespace, p, c.withDefaults(params))
}

func (c *Client) withDefaults(params cache.Params) cache.Params {
	if c.language == "" {
		return params
	}
	out := make(cache.Params, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out["language"] = c.language
	return out
}

func (c *Client) newReq(ctx context.Context, p string, params cache.Params) (*http.Request, error) {
	u := *c.baseURL
	u.Path = path.Join(u.Path, p)
	q := url.Values{}
	for k, v := range params {
		if v == nil {
			continue
		}
		q.Set(k, fmt.Sprint(v))
	}
	q.Set("api_key", c.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// doJSON is the read-through path: cache, then upstream, then cache write
func (c *Client) doJSON(ctx context.Context, p string, params cache.Params, out any) error {
	params = c.withDefaults(params)
	key := cache.KeyFor(c.namespace, p, params)

	if c.cache != nil && c.cache.Get(ctx, key, out) {
		return nil
	}

	body, err := c.fetch(ctx, p, params)
	if err != nil {
		return err
	}
	if err := gojson.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", p, err)
	}

	if c.cache != nil {
		c.cache.Set(ctx, key, json.RawMessage(body), c.policies.TTL(p))
	}
	return nil
}

// fetch performs the upstream call under the breaker, retrying transient
// failures with exponential backoff
func (c *Client) fetch(ctx context.Context, p string, params cache.Params) ([]byte, error) {
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.fetchWithRetry(ctx, p, params)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, p)
	}
	return body, err
}

func (c *Client) fetchWithRetry(ctx context.Context, p string, params cache.Params) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialBackoff
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxAttempts-1)), ctx)

	var body []byte
	err := backoff.RetryNotify(func() error {
		var err error
		body, err = c.get(ctx, p, params)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, next time.Duration) {
		c.log.Debug().Err(err).Str("path", p).Dur("retry_in", next).Msg("retrying upstream request")
	})
	return body, err
}

// get performs a single HTTP attempt
func (c *Client) get(ctx context.Context, p string, params cache.Params) ([]byte, error) {
	req, err := c.newReq(ctx, p, params)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.UpstreamDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues("network_error").Inc()
		return nil, redact(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues("network_error").Inc()
		return nil, fmt.Errorf("read %s: %w", p, redact(err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Path: p}
		if jerr := gojson.Unmarshal(body, apiErr); jerr != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		if apiErr.Retryable() {
			metrics.UpstreamRequests.WithLabelValues("server_error").Inc()
		} else {
			metrics.UpstreamRequests.WithLabelValues("client_error").Inc()
		}
		c.log.Debug().Int("status", resp.StatusCode).Str("path", p).Str("message", apiErr.Message).Msg("upstream error response")
		return nil, apiErr
	}

	metrics.UpstreamRequests.WithLabelValues("ok").Inc()
	return body, nil
}

func pageParams(page int) cache.Params {
	if page <= 0 {
		page = 1
	}
	return cache.Params{"page": page}
}

func (c *Client) movieList(ctx context.Context, p string, page int) (Page[Movie], error) {
	var out Page[Movie]
	err := c.doJSON(ctx, p, pageParams(page), &out)
	return out, err
}

func (c *Client) showList(ctx context.Context, p string, page int) (Page[Show], error) {
	var out Page[Show]
	err := c.doJSON(ctx, p, pageParams(page), &out)
	return out, err
}

func (c *Client) PopularMovies(ctx context.Context, page int) (Page[Movie], error) {
	return c.movieList(ctx, "/movie/popular", page)
}

func (c *Client) TopRatedMovies(ctx context.Context, page int) (Page[Movie], error) {
	return c.movieList(ctx, "/movie/top_rated", page)
}

func (c *Client) NowPlayingMovies(ctx context.Context, page int) (Page[Movie], error) {
	return c.movieList(ctx, "/movie/now_playing", page)
}

func (c *Client) UpcomingMovies(ctx context.Context, page int) (Page[Movie], error) {
	return c.movieList(ctx, "/movie/upcoming", page)
}

func (c *Client) PopularTV(ctx context.Context, page int) (Page[Show], error) {
	return c.showList(ctx, "/tv/popular", page)
}

func (c *Client) TopRatedTV(ctx context.Context, page int) (Page[Show], error) {
	return c.showList(ctx, "/tv/top_rated", page)
}

func (c *Client) OnTheAirTV(ctx context.Context, page int) (Page[Show], error) {
	return c.showList(ctx, "/tv/on_the_air", page)
}

func (c *Client) AiringTodayTV(ctx context.Context, page int) (Page[Show], error) {
	return c.showList(ctx, "/tv/airing_today", page)
}

func trendingWindow(window string) (string, error) {
	switch window {
	case "":
		return "week", nil
	case "day", "week":
		return window, nil
	default:
		return "", fmt.Errorf("invalid trending window %q (want day or week)", window)
	}
}

// TrendingMovies returns trending movies for window "day" or "week" (default)
func (c *Client) TrendingMovies(ctx context.Context, window string) (Page[Movie], error) {
	w, err := trendingWindow(window)
	if err != nil {
		return Page[Movie]{}, err
	}
	var out Page[Movie]
	err = c.doJSON(ctx, "/trending/movie/"+w, nil, &out)
	return out, err
}

func (c *Client) TrendingTV(ctx context.Context, window string) (Page[Show], error) {
	w, err := trendingWindow(window)
	if err != nil {
		return Page[Show]{}, err
	}
	var out Page[Show]
	err = c.doJSON(ctx, "/trending/tv/"+w, nil, &out)
	return out, err
}

func (c *Client) MovieDetails(ctx context.Context, id int) (*MovieDetail, error) {
	if id <= 0 {
		return nil, fmt.Errorf("invalid movie id %d", id)
	}
	var out MovieDetail
	if err := c.doJSON(ctx, fmt.Sprintf("/movie/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) TVDetails(ctx context.Context, id int) (*ShowDetail, error) {
	if id <= 0 {
		return nil, fmt.Errorf("invalid tv id %d", id)
	}
	var out ShowDetail
	if err := c.doJSON(ctx, fmt.Sprintf("/tv/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchMulti searches movies, shows and people in one call
func (c *Client) SearchMulti(ctx context.Context, query string, page int) (Page[SearchResult], error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Page[SearchResult]{}, errors.New("search query required")
	}
	params := pageParams(page)
	params["query"] = query
	params["include_adult"] = false

	var out Page[SearchResult]
	err := c.doJSON(ctx, "/search/multi", params, &out)
	return out, err
}

func (c *Client) MovieGenres(ctx context.Context) (GenreList, error) {
	var out GenreList
	err := c.doJSON(ctx, "/genre/movie/list", nil, &out)
	return out, err
}

func (c *Client) TVGenres(ctx context.Context) (GenreList, error) {
	var out GenreList
	err := c.doJSON(ctx, "/genre/tv/list", nil, &out)
	return out, err
}

// DiscoverMovies lists movies by popularity, optionally filtered by genre
func (c *Client) DiscoverMovies(ctx context.Context, genreID, page int) (Page[Movie], error) {
	params := pageParams(page)
	params["sort_by"] = "popularity.desc"
	if genreID > 0 {
		params["with_genres"] = genreID
	}
	var out Page[Movie]
	err := c.doJSON(ctx, "/discover/movie", params, &out)
	return out, err
}
