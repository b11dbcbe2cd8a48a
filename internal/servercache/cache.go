package servercache

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	gojson "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/screenshelf/cache"
	"github.com/briangreenhill/screenshelf/internal/metrics"
)

const (
	DefaultNamespace       = "tmdb"
	DefaultConnectAttempts = 4
	DefaultOpTimeout       = 750 * time.Millisecond
	DefaultProbeInterval   = 5 * time.Second

	// consecutive timed-out calls before the store is treated as gone
	timeoutThreshold = 3

	layer = "server"
)

const (
	stateUnknown int32 = iota
	stateConnected
	stateDisconnected
)

// Stats is the health view of the cache. KeyCount is nil when it could not
// be determined.
type Stats struct {
	Connected bool   `json:"connected"`
	KeyCount  *int64 `json:"keyCount,omitempty"`
}

// Cache is a best-effort accelerator over a Store. No method returns an
// error: when the store is unreachable reads miss and writes are not stored.
type Cache struct {
	store     Store
	log       zerolog.Logger
	namespace string
	policies  *cache.PolicyTable

	attempts       int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	opTimeout      time.Duration
	probeInterval  time.Duration

	state     atomic.Int32
	timeouts  atomic.Int32
	lastProbe atomic.Int64
}

type Option func(*Cache)

func WithLogger(l zerolog.Logger) Option {
	return func(c *Cache) { c.log = l.With().Str("component", "servercache").Logger() }
}

// WithNamespace sets the key prefix (without the trailing ":") that Clear
// and Stats operate on
func WithNamespace(ns string) Option {
	return func(c *Cache) {
		if ns != "" {
			c.namespace = ns
		}
	}
}

func WithConnectAttempts(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.attempts = n
		}
	}
}

func WithBackoff(initial, max time.Duration) Option {
	return func(c *Cache) { c.initialBackoff, c.maxBackoff = initial, max }
}

// WithPolicies sets the table used to pick a TTL when Set is called without one
func WithPolicies(p *cache.PolicyTable) Option {
	return func(c *Cache) {
		if p != nil {
			c.policies = p
		}
	}
}

func WithOpTimeout(d time.Duration) Option {
	return func(c *Cache) { c.opTimeout = d }
}

// WithProbeInterval sets how often a disconnected cache pings the store
// from the request path. Zero pings on every call.
func WithProbeInterval(d time.Duration) Option {
	return func(c *Cache) {
		if d >= 0 {
			c.probeInterval = d
		}
	}
}

// New wraps store. Call Connect before serving traffic.
func New(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:          store,
		log:            zerolog.Nop(),
		namespace:      DefaultNamespace,
		policies:       cache.ServerPolicies,
		attempts:       DefaultConnectAttempts,
		initialBackoff: 100 * time.Millisecond,
		maxBackoff:     2 * time.Second,
		opTimeout:      DefaultOpTimeout,
		probeInterval:  DefaultProbeInterval,
	}
	for _, o := range opts {
		o(c)
	}
	if n, ok := store.(ConnectNotifier); ok {
		n.NotifyConnect(func() { c.markConnected() })
	}
	return c
}

// Connect pings the store with bounded exponential backoff. On exhaustion
// the cache stays disconnected until the store reports a reconnect.
func (c *Cache) Connect(ctx context.Context) bool {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialBackoff
	b.MaxInterval = c.maxBackoff
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.attempts-1)), ctx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		pctx, cancel := context.WithTimeout(ctx, c.maxBackoff+c.opTimeout)
		defer cancel()
		return c.store.Ping(pctx)
	}, policy, func(err error, next time.Duration) {
		c.log.Debug().Err(err).Int("attempt", attempt).Dur("retry_in", next).Msg("cache store ping failed")
	})
	if err != nil {
		c.log.Warn().Err(err).Int("attempts", attempt).Msg("cache store unreachable after retries, continuing without cache")
		c.markDisconnected()
		return false
	}
	c.markConnected()
	return true
}

// Connected reports whether the last known state of the store is reachable
func (c *Cache) Connected() bool {
	return c.state.Load() == stateConnected
}

func (c *Cache) markConnected() {
	c.timeouts.Store(0)
	if c.state.Swap(stateConnected) != stateConnected {
		c.log.Info().Msg("cache store connected")
		metrics.SetConnected(true)
	}
}

func (c *Cache) markDisconnected() {
	prev := c.state.Swap(stateDisconnected)
	if prev == stateDisconnected {
		return
	}
	c.lastProbe.Store(time.Now().UnixNano())
	// Connect already logged the startup failure
	if prev == stateConnected {
		c.log.Warn().Msg("cache store connection lost, passing requests through")
	}
	metrics.SetConnected(false)
}

// usable is false while the store is known to be down. A disconnected cache
// pings the store at most once per probe interval and resumes on success.
func (c *Cache) usable(ctx context.Context) bool {
	if c.state.Load() != stateDisconnected {
		return true
	}
	return c.probe(ctx)
}

func (c *Cache) probe(ctx context.Context) bool {
	now := time.Now().UnixNano()
	last := c.lastProbe.Load()
	if time.Duration(now-last) < c.probeInterval {
		return false
	}
	if !c.lastProbe.CompareAndSwap(last, now) {
		return false
	}
	pctx, cancel := c.opContext(ctx)
	defer cancel()
	if err := c.store.Ping(pctx); err != nil {
		return false
	}
	c.markConnected()
	return true
}

// observe records the outcome of a store call. Connection-class errors flip
// the cache to disconnected; timeouts only do so once they repeat.
func (c *Cache) observe(ctx context.Context, err error) {
	switch {
	case err == nil:
		c.timeouts.Store(0)
	case isConnectionError(err):
		c.markDisconnected()
	case isTimeout(err):
		// the caller gave up, the store did not
		if ctx.Err() != nil {
			return
		}
		if c.timeouts.Add(1) >= timeoutThreshold {
			c.log.Warn().Err(err).Int("timeouts", timeoutThreshold).Msg("cache store not answering")
			c.markDisconnected()
		}
	}
}

func (c *Cache) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.opTimeout)
}

// GetRaw returns the stored bytes for key
func (c *Cache) GetRaw(ctx context.Context, key string) ([]byte, bool) {
	if !c.usable(ctx) {
		metrics.RecordLookup(layer, false)
		return nil, false
	}
	octx, cancel := c.opContext(ctx)
	defer cancel()

	b, err := c.store.Get(octx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			c.observe(ctx, err)
			c.log.Debug().Err(err).Str("key", key).Msg("cache get failed")
		} else {
			c.observe(ctx, nil)
		}
		metrics.RecordLookup(layer, false)
		return nil, false
	}
	c.observe(ctx, nil)
	metrics.RecordLookup(layer, true)
	return b, true
}

// Get decodes the value stored at key into out. A value that cannot be
// decoded counts as a miss and is removed.
func (c *Cache) Get(ctx context.Context, key string, out any) bool {
	b, ok := c.GetRaw(ctx, key)
	if !ok {
		return false
	}
	if err := gojson.Unmarshal(b, out); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("discarding undecodable cache entry")
		c.Delete(ctx, key)
		return false
	}
	return true
}

// Set stores value under key for ttl. A non-positive ttl selects the
// category TTL for the endpoint encoded in key; entries never lack an expiry.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	if !c.usable(ctx) {
		metrics.RecordWrite(layer, false)
		return false
	}

	b, err := encode(value)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache value not serializable")
		metrics.RecordWrite(layer, false)
		return false
	}

	if ttl <= 0 {
		ttl = c.policies.TTL(cache.EndpointOf(key))
	}

	octx, cancel := c.opContext(ctx)
	defer cancel()
	if err := c.store.Set(octx, key, b, ttl); err != nil {
		c.observe(ctx, err)
		c.log.Debug().Err(err).Str("key", key).Msg("cache set failed")
		metrics.RecordWrite(layer, false)
		return false
	}
	c.observe(ctx, nil)
	metrics.RecordWrite(layer, true)
	return true
}

func (c *Cache) Delete(ctx context.Context, key string) bool {
	if !c.usable(ctx) {
		return false
	}
	octx, cancel := c.opContext(ctx)
	defer cancel()
	ok, err := c.store.Del(octx, key)
	if err != nil {
		c.observe(ctx, err)
		return false
	}
	return ok
}

func (c *Cache) Exists(ctx context.Context, key string) bool {
	if !c.usable(ctx) {
		return false
	}
	octx, cancel := c.opContext(ctx)
	defer cancel()
	ok, err := c.store.Exists(octx, key)
	if err != nil {
		c.observe(ctx, err)
		return false
	}
	return ok
}

// Clear removes every key in the cache namespace. Callers gate this on the
// environment; the cache does not.
func (c *Cache) Clear(ctx context.Context) bool {
	if !c.usable(ctx) {
		return false
	}
	if err := c.store.Flush(ctx, c.namespace+":"); err != nil {
		c.observe(ctx, err)
		c.log.Error().Err(err).Msg("cache clear failed")
		return false
	}
	c.log.Info().Str("namespace", c.namespace).Msg("cache cleared")
	return true
}

// Stats reports connection state and a best-effort key count. A
// disconnected cache pings once so a recovered store is noticed.
func (c *Cache) Stats(ctx context.Context) Stats {
	octx, cancel := c.opContext(ctx)
	defer cancel()

	if !c.Connected() {
		if err := c.store.Ping(octx); err != nil {
			return Stats{Connected: false}
		}
		c.markConnected()
	}

	s := Stats{Connected: true}
	n, err := c.store.Count(octx, c.namespace+":")
	if err != nil {
		c.observe(ctx, err)
		s.Connected = c.Connected()
		return s
	}
	s.KeyCount = &n
	return s
}

// Namespace is the key prefix, without the trailing ":", that Clear and
// Stats operate on
func (c *Cache) Namespace() string {
	return c.namespace
}

// Close releases the underlying store
func (c *Cache) Close() error {
	return c.store.Close()
}

func encode(v any) ([]byte, error) {
	switch t := v.(type) {
	case json.RawMessage:
		if !json.Valid(t) {
			return nil, errors.New("raw message is not valid JSON")
		}
		return t, nil
	case []byte:
		if !json.Valid(t) {
			return nil, errors.New("bytes are not valid JSON")
		}
		return t, nil
	default:
		return gojson.Marshal(v)
	}
}
