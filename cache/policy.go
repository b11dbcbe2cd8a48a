package cache

import (
	"regexp"
	"strings"
	"time"
)

// Category is the logical kind of catalogue data, used to pick a TTL
type Category string

const (
	CategoryTrending   Category = "trending"
	CategorySearch     Category = "search"
	CategoryNowPlaying Category = "now_playing"
	CategoryUpcoming   Category = "upcoming"
	CategoryPopular    Category = "popular"
	CategoryTopRated   Category = "top_rated"
	CategoryDetails    Category = "details"
	CategoryGenres     Category = "genres"
	CategoryDefault    Category = "default"
)

// Policy is the freshness window for one category.
// ExpireAfter is the TTL written to a cache; StaleAfter is what HTTP
// clients are told they may reuse without revalidating.
type Policy struct {
	Category    Category
	StaleAfter  time.Duration
	ExpireAfter time.Duration
}

// StaleWhileRevalidate is the window between staleness and hard expiry
func (p Policy) StaleWhileRevalidate() time.Duration {
	if p.ExpireAfter <= p.StaleAfter {
		return 0
	}
	return p.ExpireAfter - p.StaleAfter
}

type matcher struct {
	category Category
	match    func(path string) bool
}

var detailsPath = regexp.MustCompile(`/(movie|movies|tv)/\d+(/|$)`)

func contains(subs ...string) func(string) bool {
	return func(path string) bool {
		for _, s := range subs {
			if strings.Contains(path, s) {
				return true
			}
		}
		return false
	}
}

// Order matters: "/trending/movie/day" must not fall through to details
// and "/search/multi" must not be read as a list.
var matchers = []matcher{
	{CategoryTrending, contains("/trending")},
	{CategorySearch, contains("/search")},
	{CategoryGenres, contains("/genre")},
	{CategoryNowPlaying, contains("/now_playing", "/now-playing", "/on_the_air", "/on-the-air")},
	{CategoryUpcoming, contains("/upcoming", "/airing_today", "/airing-today")},
	{CategoryTopRated, contains("/top_rated", "/top-rated")},
	{CategoryPopular, contains("/popular", "/discover")},
	{CategoryDetails, detailsPath.MatchString},
}

// PolicyTable maps endpoint paths to freshness policies. It is read-only
// after construction and safe for concurrent use.
type PolicyTable struct {
	name     string
	policies map[Category]Policy
}

func newTable(name string, policies ...Policy) *PolicyTable {
	t := &PolicyTable{name: name, policies: make(map[Category]Policy, len(policies))}
	for _, p := range policies {
		t.policies[p.Category] = p
	}
	return t
}

// Name identifies the side the table belongs to ("server" or "client")
func (t *PolicyTable) Name() string {
	return t.name
}

// Classify returns the category an endpoint path belongs to
func Classify(endpoint string) Category {
	path := endpoint
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	for _, m := range matchers {
		if m.match(path) {
			return m.category
		}
	}
	return CategoryDefault
}

// Lookup returns the policy for an endpoint path
func (t *PolicyTable) Lookup(endpoint string) Policy {
	return t.Get(Classify(endpoint))
}

// Get returns the policy for a category, falling back to the default policy
func (t *PolicyTable) Get(c Category) Policy {
	if p, ok := t.policies[c]; ok {
		return p
	}
	return t.policies[CategoryDefault]
}

// TTL is shorthand for Lookup(endpoint).ExpireAfter
func (t *PolicyTable) TTL(endpoint string) time.Duration {
	return t.Lookup(endpoint).ExpireAfter
}

// Categories lists every category the table knows, in display order
func Categories() []Category {
	return []Category{
		CategoryTrending, CategorySearch, CategoryNowPlaying, CategoryUpcoming,
		CategoryPopular, CategoryTopRated, CategoryDetails, CategoryGenres, CategoryDefault,
	}
}

// ServerPolicies is applied when the gateway writes upstream responses
var ServerPolicies = newTable("server",
	Policy{CategoryTrending, 15 * time.Minute, 30 * time.Minute},
	Policy{CategorySearch, 10 * time.Minute, 15 * time.Minute},
	Policy{CategoryNowPlaying, time.Hour, 2 * time.Hour},
	Policy{CategoryUpcoming, time.Hour, 2 * time.Hour},
	Policy{CategoryPopular, time.Hour, 2 * time.Hour},
	Policy{CategoryTopRated, 3 * time.Hour, 6 * time.Hour},
	Policy{CategoryDetails, 12 * time.Hour, 24 * time.Hour},
	Policy{CategoryGenres, 72 * time.Hour, 7 * 24 * time.Hour},
	Policy{CategoryDefault, 5 * time.Minute, 10 * time.Minute},
)

// ClientPolicies is applied when the browse client stores gateway responses.
// No category may outlive its server counterpart.
var ClientPolicies = newTable("client",
	Policy{CategoryTrending, 10 * time.Minute, 15 * time.Minute},
	Policy{CategorySearch, 5 * time.Minute, 10 * time.Minute},
	Policy{CategoryNowPlaying, 30 * time.Minute, time.Hour},
	Policy{CategoryUpcoming, 30 * time.Minute, time.Hour},
	Policy{CategoryPopular, time.Hour, 2 * time.Hour},
	Policy{CategoryTopRated, 2 * time.Hour, 4 * time.Hour},
	Policy{CategoryDetails, 12 * time.Hour, 24 * time.Hour},
	Policy{CategoryGenres, 72 * time.Hour, 7 * 24 * time.Hour},
	Policy{CategoryDefault, 5 * time.Minute, 10 * time.Minute},
)
