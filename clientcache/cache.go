// Package clientcache is the browse frontend's persisted response cache.
// Entries carry their own TTL and are further bounded by a maximum age and
// an item-count ceiling. Every operation is synchronous and reports failure
// as a miss or false, never as an error.
package clientcache

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/screenshelf/cache"
)

const (
	DefaultNamespace    = "screenshelf_cache"
	DefaultMaxItems     = 100
	DefaultMaxAge       = 7 * 24 * time.Hour
	DefaultSafetyMargin = 10
)

// Stats is a diagnostic summary of the namespace
type Stats struct {
	TotalItems int    `json:"totalItems"`
	TotalSize  string `json:"totalSize"`
	OldestItem string `json:"oldestItem,omitempty"`
	NewestItem string `json:"newestItem,omitempty"`
}

type Cache struct {
	mu           sync.Mutex
	storage      Storage
	namespace    string
	maxItems     int
	maxAge       time.Duration
	safetyMargin int
	now          func() time.Time
	log          zerolog.Logger
}

type Option func(*Cache)

func WithNamespace(ns string) Option {
	return func(c *Cache) {
		if ns != "" {
			c.namespace = ns
		}
	}
}

func WithMaxItems(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxItems = n
		}
	}
}

func WithMaxAge(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.maxAge = d
		}
	}
}

func WithSafetyMargin(n int) Option {
	return func(c *Cache) {
		if n >= 0 {
			c.safetyMargin = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Cache) { c.log = l.With().Str("component", "clientcache").Logger() }
}

// New creates a cache over storage. A nil storage gives a cache whose
// reads miss and whose writes report false.
func New(storage Storage, opts ...Option) *Cache {
	c := &Cache{
		storage:      storage,
		namespace:    DefaultNamespace,
		maxItems:     DefaultMaxItems,
		maxAge:       DefaultMaxAge,
		safetyMargin: DefaultSafetyMargin,
		now:          time.Now,
		log:          zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Key returns the storage key for an endpoint and its parameters
func (c *Cache) Key(endpoint string, params cache.Params) string {
	return cache.KeyFor(c.namespace, endpoint, params)
}

func (c *Cache) owns(key string) bool {
	return strings.HasPrefix(key, c.namespace+":")
}

// evictionTarget is the entry count aggressive eviction brings the namespace to
func (c *Cache) evictionTarget() int {
	t := c.maxItems - c.safetyMargin
	if t < 1 {
		t = 1
	}
	return t
}

func (c *Cache) expired(e cache.Entry, now time.Time) bool {
	return !e.Valid(now) || e.Age(now) > c.maxAge
}

// load reads and decodes the entry stored at key. Corrupt and expired
// entries are removed and reported as absent. Caller holds mu.
func (c *Cache) load(key string) (cache.Entry, bool) {
	raw, ok, err := c.storage.GetItem(key)
	if err != nil {
		c.log.Debug().Err(err).Str("key", key).Msg("storage read failed")
		return cache.Entry{}, false
	}
	if !ok {
		return cache.Entry{}, false
	}

	var e cache.Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil || len(e.Value) == 0 {
		c.log.Debug().Str("key", key).Msg("purging corrupted entry")
		_ = c.storage.RemoveItem(key)
		return cache.Entry{}, false
	}
	if c.expired(e, c.now()) {
		_ = c.storage.RemoveItem(key)
		return cache.Entry{}, false
	}
	return e, true
}

// Get decodes the cached response for endpoint and params into out
func (c *Cache) Get(endpoint string, params cache.Params, out any) bool {
	if c.storage == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := c.Key(endpoint, params)
	e, ok := c.load(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(e.Value, out); err != nil {
		c.log.Debug().Err(err).Str("key", key).Msg("purging undecodable entry")
		_ = c.storage.RemoveItem(key)
		return false
	}
	return true
}

// GetRaw returns the cached JSON for endpoint and params
func (c *Cache) GetRaw(endpoint string, params cache.Params) (json.RawMessage, bool) {
	if c.storage == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.load(c.Key(endpoint, params))
	if !ok {
		return nil, false
	}
	return json.RawMessage(e.Value), true
}

// Has reports whether Get would hit
func (c *Cache) Has(endpoint string, params cache.Params) bool {
	_, ok := c.GetRaw(endpoint, params)
	return ok
}

// Set stores data for endpoint and params with the given ttl. It first
// purges expired and corrupted entries and evicts the oldest entries when
// the ceiling would be exceeded. If the write still fails it evicts down to
// the safety margin (or half of the entries, whichever is fewer) and
// retries once.
func (c *Cache) Set(endpoint string, data any, ttl time.Duration, params cache.Params) bool {
	if c.storage == nil {
		return false
	}
	if ttl <= 0 {
		return false
	}
	value, err := json.Marshal(data)
	if err != nil {
		c.log.Debug().Err(err).Str("endpoint", endpoint).Msg("value not serializable")
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := c.Key(endpoint, params)
	b, err := json.Marshal(cache.NewEntry(key, value, c.now(), ttl))
	if err != nil {
		return false
	}

	live := c.cleanupLocked()
	if others := countExcept(live, key); others+1 > c.maxItems {
		c.evictLocked(live, key, c.evictionTarget()-1)
	}

	err = c.storage.SetItem(key, string(b))
	if err == nil {
		return true
	}
	c.log.Debug().Err(err).Str("key", key).Msg("write failed, evicting oldest entries")

	live = c.scanLocked()
	remain := c.evictionTarget() - 1
	if half := countExcept(live, key) / 2; half < remain {
		// The store is full below the item ceiling, so free half of it
		remain = half
	}
	c.evictLocked(live, key, remain)
	if err := c.storage.SetItem(key, string(b)); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache write failed after eviction")
		return false
	}
	return true
}

// Delete removes the entry for endpoint and params
func (c *Cache) Delete(endpoint string, params cache.Params) bool {
	if c.storage == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.storage.RemoveItem(c.Key(endpoint, params)) == nil
}

// Clear removes every entry in the namespace and nothing else
func (c *Cache) Clear() bool {
	if c.storage == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, err := c.storage.Keys()
	if err != nil {
		return false
	}
	ok := true
	for _, k := range keys {
		if !c.owns(k) {
			continue
		}
		if err := c.storage.RemoveItem(k); err != nil {
			ok = false
		}
	}
	return ok
}

// Cleanup purges expired and corrupted entries and returns how many were removed
func (c *Cache) Cleanup() int {
	if c.storage == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	before := c.countOwned()
	live := c.cleanupLocked()
	return before - len(live)
}

func (c *Cache) Stats() Stats {
	s := Stats{TotalSize: humanize.Bytes(0)}
	if c.storage == nil {
		return s
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, err := c.storage.Keys()
	if err != nil {
		return s
	}
	var size uint64
	var oldest, newest time.Time
	for _, k := range keys {
		if !c.owns(k) {
			continue
		}
		raw, ok, err := c.storage.GetItem(k)
		if err != nil || !ok {
			continue
		}
		s.TotalItems++
		size += uint64(len(k) + len(raw))

		var e cache.Entry
		if json.Unmarshal([]byte(raw), &e) != nil {
			continue
		}
		if oldest.IsZero() || e.StoredAt.Before(oldest) {
			oldest = e.StoredAt
		}
		if newest.IsZero() || e.StoredAt.After(newest) {
			newest = e.StoredAt
		}
	}
	s.TotalSize = humanize.Bytes(size)
	if !oldest.IsZero() {
		s.OldestItem = oldest.UTC().Format(time.RFC3339)
		s.NewestItem = newest.UTC().Format(time.RFC3339)
	}
	return s
}

type liveEntry struct {
	key      string
	storedAt time.Time
}

func (c *Cache) countOwned() int {
	keys, err := c.storage.Keys()
	if err != nil {
		return 0
	}
	n := 0
	for _, k := range keys {
		if c.owns(k) {
			n++
		}
	}
	return n
}

// scanLocked lists valid entries in the namespace without removing anything
func (c *Cache) scanLocked() []liveEntry {
	keys, err := c.storage.Keys()
	if err != nil {
		return nil
	}
	out := make([]liveEntry, 0, len(keys))
	for _, k := range keys {
		if !c.owns(k) {
			continue
		}
		raw, ok, err := c.storage.GetItem(k)
		if err != nil || !ok {
			continue
		}
		var e cache.Entry
		if json.Unmarshal([]byte(raw), &e) != nil {
			// Corrupt entries are oldest of all
			out = append(out, liveEntry{key: k})
			continue
		}
		out = append(out, liveEntry{key: k, storedAt: e.StoredAt})
	}
	return out
}

// cleanupLocked purges expired and corrupted entries and returns the rest
func (c *Cache) cleanupLocked() []liveEntry {
	keys, err := c.storage.Keys()
	if err != nil {
		return nil
	}
	out := make([]liveEntry, 0, len(keys))
	for _, k := range keys {
		if !c.owns(k) {
			continue
		}
		if e, ok := c.load(k); ok {
			out = append(out, liveEntry{key: k, storedAt: e.StoredAt})
		}
	}
	return out
}

// evictLocked removes the oldest entries other than keep until at most
// remain of them are left. Ties on storedAt are broken by key.
func (c *Cache) evictLocked(live []liveEntry, keep string, remain int) int {
	candidates := make([]liveEntry, 0, len(live))
	for _, e := range live {
		if e.key != keep {
			candidates = append(candidates, e)
		}
	}
	if remain < 0 {
		remain = 0
	}
	excess := len(candidates) - remain
	if excess <= 0 {
		return 0
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].storedAt.Equal(candidates[j].storedAt) {
			return candidates[i].key < candidates[j].key
		}
		return candidates[i].storedAt.Before(candidates[j].storedAt)
	})

	removed := 0
	for _, e := range candidates[:excess] {
		if err := c.storage.RemoveItem(e.key); err == nil {
			removed++
		}
	}
	c.log.Debug().Int("evicted", removed).Int("remaining", len(candidates)-removed).Msg("evicted oldest entries")
	return removed
}

func countExcept(live []liveEntry, key string) int {
	n := 0
	for _, e := range live {
		if e.key != key {
			n++
		}
	}
	return n
}
