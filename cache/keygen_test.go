package cache

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyForIgnoresParamOrder(t *testing.T) {
	tests := []struct {
		name string
		a, b Params
	}{
		{"two params", Params{"page": 1, "sort": "a"}, Params{"sort": "a", "page": 1}},
		{"three params", Params{"query": "alien", "page": 2, "include_adult": false}, Params{"include_adult": false, "page": 2, "query": "alien"}},
		{"empty and nil", Params{}, nil},
		{"nil values dropped", Params{"page": 1, "genre": nil}, Params{"page": 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, KeyFor("tmdb", "/movie/popular", tt.a), KeyFor("tmdb", "/movie/popular", tt.b))
		})
	}
}

func TestKeyForShape(t *testing.T) {
	assert.Equal(t, `tmdb:/movie/popular:{"page":1,"sort":"a"}`, KeyFor("tmdb", "/movie/popular", Params{"sort": "a", "page": 1}))
	assert.Equal(t, `tmdb:/genre/movie/list:{}`, KeyFor("tmdb", "/genre/movie/list", nil))
}

func TestKeyForDistinguishesValuesAndEndpoints(t *testing.T) {
	base := KeyFor("tmdb", "/movie/popular", Params{"page": 1})
	assert.NotEqual(t, base, KeyFor("tmdb", "/movie/popular", Params{"page": 2}))
	assert.NotEqual(t, base, KeyFor("tmdb", "/tv/popular", Params{"page": 1}))
	assert.NotEqual(t, base, KeyFor("client", "/movie/popular", Params{"page": 1}))
	// 1 and "1" are different JSON values
	assert.NotEqual(t, base, KeyFor("tmdb", "/movie/popular", Params{"page": "1"}))
}

func TestParamsFromQuery(t *testing.T) {
	q := url.Values{"page": {"2", "3"}, "q": {"dune"}, "empty": {""}}
	p := ParamsFromQuery(q)
	assert.Equal(t, Params{"page": "2", "q": "dune"}, p)

	reordered, _ := url.ParseQuery("q=dune&page=2")
	assert.Equal(t, KeyFor("x", "/api/search", p), KeyFor("x", "/api/search", ParamsFromQuery(reordered)))
}

func TestEndpointOf(t *testing.T) {
	tests := []struct {
		key      string
		expected string
	}{
		{KeyFor("tmdb", "/movie/popular", Params{"page": 1}), "/movie/popular"},
		{KeyFor("tmdb", "/search/multi", Params{"query": "a:{b}"}), "/search/multi"},
		{"garbage", ""},
		{"ns:no-params", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, EndpointOf(tt.key), tt.key)
	}
}
