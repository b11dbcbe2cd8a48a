package servercache

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/screenshelf/cache"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type page struct {
	Page    int      `json:"page"`
	Results []string `json:"results"`
}

func newTestCache(t *testing.T) (*Cache, *MemoryStore, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	store := NewMemoryStore(clock.Now)
	c := New(store, WithBackoff(time.Millisecond, 2*time.Millisecond))
	require.True(t, c.Connect(context.Background()))
	return c, store, clock
}

func TestRoundTrip(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()
	key := cache.KeyFor("tmdb", "/movie/popular", cache.Params{"page": 1})

	in := page{Page: 1, Results: []string{"Dune", "Heat"}}
	require.True(t, c.Set(ctx, key, in, time.Minute))

	var out page
	require.True(t, c.Get(ctx, key, &out))
	assert.Equal(t, in, out)
	assert.True(t, c.Exists(ctx, key))
}

func TestExpiryInSimulatedTime(t *testing.T) {
	c, _, clock := newTestCache(t)
	ctx := context.Background()

	require.True(t, c.Set(ctx, "tmdb:/x:{}", map[string]int{"a": 1}, time.Second))

	clock.Advance(999 * time.Millisecond)
	var out map[string]int
	assert.True(t, c.Get(ctx, "tmdb:/x:{}", &out))

	clock.Advance(time.Millisecond)
	assert.True(t, c.Get(ctx, "tmdb:/x:{}", &out), "valid at exactly stored+ttl")

	clock.Advance(time.Millisecond)
	assert.False(t, c.Get(ctx, "tmdb:/x:{}", &out))
	assert.False(t, c.Exists(ctx, "tmdb:/x:{}"))
}

func TestZeroTTLUsesCategoryDefault(t *testing.T) {
	c, store, _ := newTestCache(t)
	ctx := context.Background()

	popular := cache.KeyFor("tmdb", "/movie/popular", nil)
	require.True(t, c.Set(ctx, popular, []int{1}, 0))
	assert.Equal(t, 2*time.Hour, store.TTL(popular))

	other := "unshaped-key"
	require.True(t, c.Set(ctx, other, []int{1}, -5))
	assert.Equal(t, cache.ServerPolicies.Get(cache.CategoryDefault).ExpireAfter, store.TTL(other))
}

func TestFallbackWhenStoreUnreachable(t *testing.T) {
	store := NewMemoryStore(nil)
	store.SetDown(true)

	c := New(store, WithConnectAttempts(3), WithBackoff(time.Millisecond, time.Millisecond))
	ctx := context.Background()

	assert.False(t, c.Connect(ctx))
	assert.False(t, c.Connected())

	var out any
	assert.NotPanics(t, func() {
		assert.False(t, c.Set(ctx, "tmdb:/movie/popular:{}", map[string]int{"a": 1}, time.Minute))
		assert.False(t, c.Get(ctx, "tmdb:/movie/popular:{}", &out))
		assert.False(t, c.Exists(ctx, "tmdb:/movie/popular:{}"))
		assert.False(t, c.Delete(ctx, "tmdb:/movie/popular:{}"))
		assert.False(t, c.Clear(ctx))
	})

	stats := c.Stats(ctx)
	assert.False(t, stats.Connected)
	assert.Nil(t, stats.KeyCount)
}

func TestLosingConnectionMidFlight(t *testing.T) {
	c, store, _ := newTestCache(t)
	ctx := context.Background()

	require.True(t, c.Set(ctx, "tmdb:/a:{}", 1, time.Minute))
	store.SetDown(true)

	var out int
	assert.False(t, c.Get(ctx, "tmdb:/a:{}", &out))
	assert.False(t, c.Connected())
	assert.False(t, c.Set(ctx, "tmdb:/a:{}", 2, time.Minute))
}

func TestReconnectEventRestoresCaching(t *testing.T) {
	store := NewMemoryStore(nil)
	store.SetDown(true)
	c := New(store, WithConnectAttempts(1))
	ctx := context.Background()
	require.False(t, c.Connect(ctx))

	store.SetDown(false)

	assert.True(t, c.Connected())
	assert.True(t, c.Set(ctx, "tmdb:/a:{}", 1, time.Minute))
}

func TestStatsNoticesRecoveredStore(t *testing.T) {
	store := NewMemoryStore(nil)
	c := New(store)
	require.True(t, c.Connect(context.Background()))

	// Disconnect without a notification, as a plain ping would see it
	c.markDisconnected()
	stats := c.Stats(context.Background())
	assert.True(t, stats.Connected)
	require.NotNil(t, stats.KeyCount)
	assert.Zero(t, *stats.KeyCount)
}

func TestStatsCountsOnlyNamespace(t *testing.T) {
	c, store, _ := newTestCache(t)
	ctx := context.Background()

	require.True(t, c.Set(ctx, "tmdb:/a:{}", 1, time.Minute))
	require.True(t, c.Set(ctx, "tmdb:/b:{}", 1, time.Minute))
	require.NoError(t, store.Set(ctx, "sessions:abc", []byte(`1`), time.Minute))

	stats := c.Stats(ctx)
	require.NotNil(t, stats.KeyCount)
	assert.Equal(t, int64(2), *stats.KeyCount)

	b, err := json.Marshal(stats)
	require.NoError(t, err)
	assert.JSONEq(t, `{"connected":true,"keyCount":2}`, string(b))
}

func TestClearLeavesOtherNamespaces(t *testing.T) {
	c, store, _ := newTestCache(t)
	ctx := context.Background()

	require.True(t, c.Set(ctx, "tmdb:/a:{}", 1, time.Minute))
	require.NoError(t, store.Set(ctx, "asynq:queue", []byte(`1`), time.Minute))

	require.True(t, c.Clear(ctx))
	assert.False(t, c.Exists(ctx, "tmdb:/a:{}"))

	ok, err := store.Exists(ctx, "asynq:queue")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCorruptValueIsMissAndPurged(t *testing.T) {
	c, store, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "tmdb:/a:{}", []byte(`{not json`), time.Minute))

	var out map[string]any
	assert.False(t, c.Get(ctx, "tmdb:/a:{}", &out))

	ok, err := store.Exists(ctx, "tmdb:/a:{}")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, c.Connected())
}

func TestUnserializableValueNotStored(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	assert.False(t, c.Set(ctx, "tmdb:/a:{}", make(chan int), time.Minute))
	assert.False(t, c.Set(ctx, "tmdb:/b:{}", json.RawMessage(`{oops`), time.Minute))
	assert.True(t, c.Connected())
}

func TestRawMessageStoredVerbatim(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	raw := json.RawMessage(`{"page":1,"results":[]}`)
	require.True(t, c.Set(ctx, "tmdb:/a:{}", raw, time.Minute))

	b, ok := c.GetRaw(ctx, "tmdb:/a:{}")
	require.True(t, ok)
	assert.Equal(t, string(raw), string(b))
}

func TestDelete(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	require.True(t, c.Set(ctx, "tmdb:/a:{}", 1, time.Minute))
	assert.True(t, c.Delete(ctx, "tmdb:/a:{}"))
	assert.False(t, c.Delete(ctx, "tmdb:/a:{}"))
}

// flakyStore fails the next failGets Gets with getErr and pings with pingErr.
// It hides reconnect events so only the cache's own pings can recover it.
type flakyStore struct {
	Store

	mu       sync.Mutex
	failGets int
	getErr   error
	pingErr  error
}

func (s *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	if s.failGets > 0 {
		s.failGets--
		err := s.getErr
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()
	return s.Store.Get(ctx, key)
}

func (s *flakyStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	err := s.pingErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.Ping(ctx)
}

func (s *flakyStore) setPingErr(err error) {
	s.mu.Lock()
	s.pingErr = err
	s.mu.Unlock()
}

func TestSingleTimeoutKeepsCaching(t *testing.T) {
	store := &flakyStore{Store: NewMemoryStore(nil), failGets: 1, getErr: context.DeadlineExceeded}
	c := New(store, WithProbeInterval(time.Hour))
	ctx := context.Background()
	require.True(t, c.Connect(ctx))

	var out int
	assert.False(t, c.Get(ctx, "tmdb:/a:{}", &out))
	assert.True(t, c.Connected())

	require.True(t, c.Set(ctx, "tmdb:/a:{}", 7, time.Minute))
	require.True(t, c.Get(ctx, "tmdb:/a:{}", &out))
	assert.Equal(t, 7, out)
}

func TestRepeatedTimeoutsDisconnect(t *testing.T) {
	store := &flakyStore{Store: NewMemoryStore(nil), failGets: timeoutThreshold, getErr: context.DeadlineExceeded}
	c := New(store, WithProbeInterval(time.Hour))
	ctx := context.Background()
	require.True(t, c.Connect(ctx))

	var out int
	for i := 0; i < timeoutThreshold-1; i++ {
		c.Get(ctx, "tmdb:/a:{}", &out)
	}
	assert.True(t, c.Connected())

	c.Get(ctx, "tmdb:/a:{}", &out)
	assert.False(t, c.Connected())
}

func TestSuccessResetsTimeoutCount(t *testing.T) {
	store := &flakyStore{Store: NewMemoryStore(nil), getErr: context.DeadlineExceeded}
	c := New(store, WithProbeInterval(time.Hour))
	ctx := context.Background()
	require.True(t, c.Connect(ctx))

	var out int
	for round := 0; round < 3; round++ {
		store.mu.Lock()
		store.failGets = timeoutThreshold - 1
		store.mu.Unlock()
		for i := 0; i < timeoutThreshold-1; i++ {
			c.Get(ctx, "tmdb:/a:{}", &out)
		}
		require.True(t, c.Set(ctx, "tmdb:/a:{}", round, time.Minute))
	}
	assert.True(t, c.Connected())
}

func TestCallerDeadlineIsNotCounted(t *testing.T) {
	store := &flakyStore{Store: NewMemoryStore(nil), failGets: 10, getErr: context.DeadlineExceeded}
	c := New(store, WithProbeInterval(time.Hour))
	require.True(t, c.Connect(context.Background()))

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	var out int
	for i := 0; i < 2*timeoutThreshold; i++ {
		assert.False(t, c.Get(ctx, "tmdb:/a:{}", &out))
	}
	assert.True(t, c.Connected())
}

func TestDisconnectedCachePingsStore(t *testing.T) {
	store := &flakyStore{Store: NewMemoryStore(nil), pingErr: ErrUnavailable}
	c := New(store, WithConnectAttempts(1), WithProbeInterval(0))
	ctx := context.Background()
	require.False(t, c.Connect(ctx))

	assert.False(t, c.Set(ctx, "tmdb:/a:{}", 1, time.Minute))
	assert.False(t, c.Connected())

	store.setPingErr(nil)
	assert.True(t, c.Set(ctx, "tmdb:/a:{}", 1, time.Minute))
	assert.True(t, c.Connected())

	var out int
	assert.True(t, c.Get(ctx, "tmdb:/a:{}", &out))
}

func TestProbeIntervalLimitsPings(t *testing.T) {
	store := &flakyStore{Store: NewMemoryStore(nil), pingErr: ErrUnavailable}
	c := New(store, WithConnectAttempts(1), WithProbeInterval(time.Hour))
	ctx := context.Background()
	require.False(t, c.Connect(ctx))

	store.setPingErr(nil)
	assert.False(t, c.Set(ctx, "tmdb:/a:{}", 1, time.Minute))
	assert.False(t, c.Connected())
}
