package clientcache

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/screenshelf/cache"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type movieList struct {
	Page    int      `json:"page"`
	Results []string `json:"results"`
}

func newTestCache(t *testing.T, opts ...Option) (*Cache, *MemoryStorage, *clock) {
	t.Helper()
	clk := newClock()
	storage := NewMemoryStorage(0)
	opts = append([]Option{WithClock(clk.Now)}, opts...)
	return New(storage, opts...), storage, clk
}

// seed writes an entry straight into storage, bypassing Set
func seed(t *testing.T, s Storage, key string, storedAt time.Time, ttl time.Duration) {
	t.Helper()
	b, err := json.Marshal(cache.NewEntry(key, json.RawMessage(`{"page":1}`), storedAt, ttl))
	require.NoError(t, err)
	require.NoError(t, s.SetItem(key, string(b)))
}

func countOwned(t *testing.T, c *Cache, s Storage) int {
	t.Helper()
	keys, err := s.Keys()
	require.NoError(t, err)
	n := 0
	for _, k := range keys {
		if c.owns(k) {
			n++
		}
	}
	return n
}

func TestRoundTrip(t *testing.T) {
	c, _, _ := newTestCache(t)
	in := movieList{Page: 1, Results: []string{"Arrival", "Sicario"}}

	require.True(t, c.Set("/api/movies/popular", in, 2*time.Hour, cache.Params{"page": 1}))

	var out movieList
	require.True(t, c.Get("/api/movies/popular", cache.Params{"page": 1}, &out))
	assert.Equal(t, in, out)
	assert.True(t, c.Has("/api/movies/popular", cache.Params{"page": 1}))
	assert.False(t, c.Has("/api/movies/popular", cache.Params{"page": 2}))
}

func TestParamOrderDoesNotMatter(t *testing.T) {
	c, _, _ := newTestCache(t)
	require.True(t, c.Set("/api/search", []int{1}, time.Minute, cache.Params{"q": "dune", "page": 1}))

	raw, ok := c.GetRaw("/api/search", cache.Params{"page": 1, "q": "dune"})
	require.True(t, ok)
	assert.JSONEq(t, `[1]`, string(raw))
}

func TestExpiryRewritingStoredAt(t *testing.T) {
	c, storage, clk := newTestCache(t)
	in := map[string]any{"results": []any{"Heat", "Ronin"}}

	require.True(t, c.Set("/movies/popular", in, 7200*time.Second, nil))

	var out map[string]any
	require.True(t, c.Get("/movies/popular", nil, &out))
	assert.Equal(t, in, out)

	key := c.Key("/movies/popular", nil)
	raw, ok, err := storage.GetItem(key)
	require.NoError(t, err)
	require.True(t, ok)

	var e cache.Entry
	require.NoError(t, json.Unmarshal([]byte(raw), &e))
	e.StoredAt = clk.Now().Add(-7201 * time.Second)
	b, err := json.Marshal(e)
	require.NoError(t, err)
	require.NoError(t, storage.SetItem(key, string(b)))

	assert.False(t, c.Get("/movies/popular", nil, &out))
	_, ok, err = storage.GetItem(key)
	require.NoError(t, err)
	assert.False(t, ok, "expired entry should be purged on read")
}

func TestExpiryInSimulatedTime(t *testing.T) {
	c, _, clk := newTestCache(t)
	require.True(t, c.Set("/api/search", []string{"x"}, time.Second, cache.Params{"q": "x"}))

	clk.Advance(time.Second)
	assert.True(t, c.Has("/api/search", cache.Params{"q": "x"}))

	clk.Advance(time.Millisecond)
	assert.False(t, c.Has("/api/search", cache.Params{"q": "x"}))
}

func TestSubSecondTTLSurvivesPastWrite(t *testing.T) {
	c, _, clk := newTestCache(t)
	require.True(t, c.Set("/api/search", []string{"x"}, 500*time.Millisecond, cache.Params{"q": "y"}))

	clk.Advance(400 * time.Millisecond)
	assert.True(t, c.Has("/api/search", cache.Params{"q": "y"}))

	clk.Advance(time.Second)
	assert.False(t, c.Has("/api/search", cache.Params{"q": "y"}))
}

func TestMaxAgeCapsLongTTL(t *testing.T) {
	c, _, clk := newTestCache(t, WithMaxAge(24*time.Hour))
	require.True(t, c.Set("/api/genres/movie", []string{"Drama"}, 7*24*time.Hour, nil))

	clk.Advance(23 * time.Hour)
	assert.True(t, c.Has("/api/genres/movie", nil))

	clk.Advance(2 * time.Hour)
	assert.False(t, c.Has("/api/genres/movie", nil))
}

func TestCorruptedEntryIsPurged(t *testing.T) {
	c, storage, _ := newTestCache(t)
	key := c.Key("/api/movies/550", nil)
	require.NoError(t, storage.SetItem(key, "{this is not json"))

	var out any
	assert.False(t, c.Get("/api/movies/550", nil, &out))

	_, ok, err := storage.GetItem(key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEntryWithUndecodableValueIsPurged(t *testing.T) {
	c, _, _ := newTestCache(t)
	require.True(t, c.Set("/api/tv/1399", map[string]string{"name": "x"}, time.Hour, nil))

	var wrongShape []int
	assert.False(t, c.Get("/api/tv/1399", nil, &wrongShape))
	assert.False(t, c.Has("/api/tv/1399", nil))
}

func TestEvictionCeiling(t *testing.T) {
	c, storage, clk := newTestCache(t)
	base := clk.Now().Add(-time.Hour)

	total := DefaultMaxItems + 10
	for i := 0; i < total; i++ {
		key := c.Key(fmt.Sprintf("/api/movies/%d", i+1), nil)
		seed(t, storage, key, base.Add(time.Duration(i)*time.Second), 24*time.Hour)
	}
	require.Equal(t, total, countOwned(t, c, storage))

	require.True(t, c.Set("/api/movies/popular", []int{1}, time.Hour, nil))

	target := DefaultMaxItems - DefaultSafetyMargin
	assert.Equal(t, target, countOwned(t, c, storage))

	// The survivors are the newest seeded entries plus the one just written
	assert.True(t, c.Has("/api/movies/popular", nil))
	for i := 0; i < total; i++ {
		has := c.Has(fmt.Sprintf("/api/movies/%d", i+1), nil)
		if i < total-(target-1) {
			assert.False(t, has, "entry %d should have been evicted", i+1)
		} else {
			assert.True(t, has, "entry %d should survive", i+1)
		}
	}
}

func TestSequentialInsertsNeverExceedCeiling(t *testing.T) {
	c, storage, clk := newTestCache(t, WithMaxItems(20), WithSafetyMargin(5))

	for i := 0; i < 30; i++ {
		clk.Advance(time.Second)
		require.True(t, c.Set(fmt.Sprintf("/api/tv/%d", i), i, time.Hour, nil))
		assert.LessOrEqual(t, countOwned(t, c, storage), 20)
	}
	assert.True(t, c.Has("/api/tv/29", nil))
	assert.False(t, c.Has("/api/tv/0", nil))
}

func TestCleanupPassRunsBeforeWrite(t *testing.T) {
	c, storage, clk := newTestCache(t)
	seed(t, storage, c.Key("/api/search", cache.Params{"q": "old"}), clk.Now().Add(-time.Hour), time.Minute)
	require.NoError(t, storage.SetItem(c.Key("/broken", nil), "garbage"))

	require.True(t, c.Set("/api/movies/popular", 1, time.Hour, nil))
	assert.Equal(t, 1, countOwned(t, c, storage))
}

// fullStorage rejects new keys once it holds capacity items
type fullStorage struct {
	*MemoryStorage
	capacity int
	failAll  bool
}

func (f *fullStorage) SetItem(key, value string) error {
	if f.failAll {
		return ErrQuotaExceeded
	}
	keys, _ := f.Keys()
	if _, exists, _ := f.GetItem(key); !exists && len(keys) >= f.capacity {
		return ErrQuotaExceeded
	}
	return f.MemoryStorage.SetItem(key, value)
}

func TestQuotaTriggersAggressiveEviction(t *testing.T) {
	clk := newClock()
	storage := &fullStorage{MemoryStorage: NewMemoryStorage(0), capacity: 20}
	c := New(storage, WithClock(clk.Now))

	for i := 0; i < 20; i++ {
		clk.Advance(time.Second)
		require.True(t, c.Set(fmt.Sprintf("/api/movies/%d", i), i, time.Hour, nil))
	}

	clk.Advance(time.Second)
	require.True(t, c.Set("/api/movies/new", "x", time.Hour, nil))
	assert.Equal(t, 11, countOwned(t, c, storage))
	assert.True(t, c.Has("/api/movies/19", nil))
	assert.False(t, c.Has("/api/movies/0", nil))
}

func TestWriteFailsWhenRetryFails(t *testing.T) {
	clk := newClock()
	storage := &fullStorage{MemoryStorage: NewMemoryStorage(0), failAll: true}
	c := New(storage, WithClock(clk.Now))

	assert.False(t, c.Set("/api/movies/popular", 1, time.Hour, nil))
}

func TestUnserializableValue(t *testing.T) {
	c, _, _ := newTestCache(t)
	assert.False(t, c.Set("/x", func() {}, time.Hour, nil))
	assert.False(t, c.Set("/x", 1, 0, nil))
}

func TestClearOnlyTouchesNamespace(t *testing.T) {
	c, storage, _ := newTestCache(t)
	require.NoError(t, storage.SetItem("theme", "dark"))
	require.True(t, c.Set("/api/movies/popular", 1, time.Hour, nil))
	require.True(t, c.Set("/api/tv/popular", 1, time.Hour, nil))

	require.True(t, c.Clear())
	assert.Zero(t, countOwned(t, c, storage))

	v, ok, err := storage.GetItem("theme")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "dark", v)
}

func TestDelete(t *testing.T) {
	c, _, _ := newTestCache(t)
	require.True(t, c.Set("/api/movies/550", 1, time.Hour, nil))
	assert.True(t, c.Delete("/api/movies/550", nil))
	assert.False(t, c.Has("/api/movies/550", nil))
}

func TestCleanupReportsRemoved(t *testing.T) {
	c, storage, clk := newTestCache(t)
	seed(t, storage, c.Key("/a", nil), clk.Now().Add(-time.Hour), time.Minute)
	seed(t, storage, c.Key("/b", nil), clk.Now(), time.Hour)
	require.NoError(t, storage.SetItem(c.Key("/c", nil), "nope"))

	assert.Equal(t, 2, c.Cleanup())
	assert.Equal(t, 1, countOwned(t, c, storage))
}

func TestStats(t *testing.T) {
	c, _, clk := newTestCache(t)
	assert.Equal(t, Stats{TotalItems: 0, TotalSize: "0 B"}, c.Stats())

	first := clk.Now()
	require.True(t, c.Set("/a", 1, time.Hour, nil))
	clk.Advance(time.Minute)
	require.True(t, c.Set("/b", 2, time.Hour, nil))

	s := c.Stats()
	assert.Equal(t, 2, s.TotalItems)
	assert.Contains(t, s.TotalSize, "B")
	assert.Equal(t, first.Format(time.RFC3339), s.OldestItem)
	assert.Equal(t, first.Add(time.Minute).Format(time.RFC3339), s.NewestItem)
}

func TestNilStorageIsNoop(t *testing.T) {
	c := New(nil)
	var out any

	assert.NotPanics(t, func() {
		assert.False(t, c.Set("/a", 1, time.Hour, nil))
		assert.False(t, c.Get("/a", nil, &out))
		assert.False(t, c.Has("/a", nil))
		assert.False(t, c.Delete("/a", nil))
		assert.False(t, c.Clear())
		assert.Zero(t, c.Cleanup())
		assert.Zero(t, c.Stats().TotalItems)
	})
}
