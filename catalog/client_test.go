package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/screenshelf/cache"
	"github.com/briangreenhill/screenshelf/clientcache"
)

type gateway struct {
	*httptest.Server
	calls atomic.Int32
}

func newGateway(t *testing.T, h http.HandlerFunc) *gateway {
	t.Helper()
	g := &gateway{}
	g.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		h(w, r)
	}))
	t.Cleanup(g.Close)
	return g
}

func newTestClient(t *testing.T, url string) (*Client, *clientcache.Cache) {
	t.Helper()
	cc := clientcache.New(clientcache.NewMemoryStorage(0))
	c, err := New(url, WithCache(cc), WithRetry(2, time.Millisecond))
	require.NoError(t, err)
	return c, cc
}

const popularBody = `{"success":true,"data":{"page":1,"results":[{"id":1,"title":"Jaws"}],"total_pages":5,"total_results":100}}`

func TestCacheHitSkipsNetwork(t *testing.T) {
	g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/movies/popular", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		_, _ = w.Write([]byte(popularBody))
	})
	c, cc := newTestClient(t, g.URL)
	ctx := context.Background()

	first, err := c.MovieList(ctx, "popular", 1)
	require.NoError(t, err)
	require.Len(t, first.Results, 1)
	assert.Equal(t, "Jaws", first.Results[0].Title)

	second, err := c.MovieList(ctx, "popular", 1)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, g.calls.Load())

	assert.True(t, cc.Has("/api/movies/popular", cache.Params{"page": 1}))
}

func TestRefreshBypassesCacheRead(t *testing.T) {
	g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(popularBody))
	})
	c, _ := newTestClient(t, g.URL)

	var out map[string]any
	require.NoError(t, c.Get(context.Background(), "/api/movies/popular", cache.Params{"page": 1}, &out))
	require.NoError(t, c.Refresh(context.Background(), "/api/movies/popular", cache.Params{"page": 1}, &out))
	assert.EqualValues(t, 2, g.calls.Load())
}

func TestRemoteErrorIsTypedAndNotCached(t *testing.T) {
	g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"success":false,"error":{"code":"not_found","message":"movie not found"}}`))
	})
	c, cc := newTestClient(t, g.URL)

	_, err := c.Movie(context.Background(), 999999)
	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, http.StatusNotFound, remote.Status)
	assert.Equal(t, "not_found", remote.Code)
	assert.Equal(t, "movie not found", remote.Message)
	assert.EqualValues(t, 1, g.calls.Load(), "4xx is not retried")
	assert.False(t, cc.Has("/api/movies/999999", nil))
}

func TestServerErrorIsRetried(t *testing.T) {
	var n atomic.Int32
	g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if n.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"success":false,"error":{"code":"upstream_error","message":"boom"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"genres":[{"id":18,"name":"Drama"}]}}`))
	})
	c, _ := newTestClient(t, g.URL)

	got, err := c.Genres(context.Background(), "movie")
	require.NoError(t, err)
	assert.Equal(t, "Drama", got.Genres[0].Name)
	assert.EqualValues(t, 2, g.calls.Load())
}

func TestNonEnvelopeErrorBody(t *testing.T) {
	g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("Too Many Requests"))
	})
	c, _ := newTestClient(t, g.URL)

	_, err := c.Search(context.Background(), "alien", 1)
	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, http.StatusTooManyRequests, remote.Status)
}

func TestSearchAndDiscoverParams(t *testing.T) {
	g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/search":
			assert.Equal(t, "alien", r.URL.Query().Get("q"))
			assert.Equal(t, "2", r.URL.Query().Get("page"))
		case "/api/movies/discover":
			assert.Equal(t, "878", r.URL.Query().Get("genre"))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"page":1,"results":[]}}`))
	})
	c, _ := newTestClient(t, g.URL)

	_, err := c.Search(context.Background(), "alien", 2)
	require.NoError(t, err)
	_, err = c.Discover(context.Background(), 878, 1)
	require.NoError(t, err)
}

func TestUnknownListsRejectedLocally(t *testing.T) {
	c, err := New("http://localhost:1")
	require.NoError(t, err)

	_, err = c.MovieList(context.Background(), "best", 1)
	assert.Error(t, err)
	_, err = c.TVList(context.Background(), "now-playing", 1)
	assert.Error(t, err)
	_, err = c.Genres(context.Background(), "books")
	assert.Error(t, err)
}

func TestNewValidatesURL(t *testing.T) {
	_, err := New("not a url")
	assert.Error(t, err)
}
