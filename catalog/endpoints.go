package catalog

import (
	"context"
	"fmt"

	"github.com/briangreenhill/screenshelf/cache"
	"github.com/briangreenhill/screenshelf/tmdb"
)

var (
	// MovieLists are the list names accepted by MovieList
	MovieLists = []string{"popular", "top-rated", "now-playing", "upcoming"}
	// TVLists are the list names accepted by TVList
	TVLists = []string{"popular", "top-rated", "on-the-air", "airing-today"}
)

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func pageParams(page int) cache.Params {
	if page <= 0 {
		page = 1
	}
	return cache.Params{"page": page}
}

func (c *Client) MovieList(ctx context.Context, list string, page int) (tmdb.Page[tmdb.Movie], error) {
	var out tmdb.Page[tmdb.Movie]
	if !oneOf(list, MovieLists) {
		return out, fmt.Errorf("unknown movie list %q", list)
	}
	err := c.Get(ctx, "/api/movies/"+list, pageParams(page), &out)
	return out, err
}

func (c *Client) TVList(ctx context.Context, list string, page int) (tmdb.Page[tmdb.Show], error) {
	var out tmdb.Page[tmdb.Show]
	if !oneOf(list, TVLists) {
		return out, fmt.Errorf("unknown tv list %q", list)
	}
	err := c.Get(ctx, "/api/tv/"+list, pageParams(page), &out)
	return out, err
}

func windowParams(window string) cache.Params {
	if window == "" {
		return nil
	}
	return cache.Params{"window": window}
}

func (c *Client) TrendingMovies(ctx context.Context, window string) (tmdb.Page[tmdb.Movie], error) {
	var out tmdb.Page[tmdb.Movie]
	err := c.Get(ctx, "/api/movies/trending", windowParams(window), &out)
	return out, err
}

func (c *Client) TrendingTV(ctx context.Context, window string) (tmdb.Page[tmdb.Show], error) {
	var out tmdb.Page[tmdb.Show]
	err := c.Get(ctx, "/api/tv/trending", windowParams(window), &out)
	return out, err
}

func (c *Client) Movie(ctx context.Context, id int) (*tmdb.MovieDetail, error) {
	var out tmdb.MovieDetail
	if err := c.Get(ctx, fmt.Sprintf("/api/movies/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Show(ctx context.Context, id int) (*tmdb.ShowDetail, error) {
	var out tmdb.ShowDetail
	if err := c.Get(ctx, fmt.Sprintf("/api/tv/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Search(ctx context.Context, query string, page int) (tmdb.Page[tmdb.SearchResult], error) {
	params := pageParams(page)
	params["q"] = query
	var out tmdb.Page[tmdb.SearchResult]
	err := c.Get(ctx, "/api/search", params, &out)
	return out, err
}

// Genres returns the genre list for kind "movie" or "tv"
func (c *Client) Genres(ctx context.Context, kind string) (tmdb.GenreList, error) {
	var out tmdb.GenreList
	if kind != "movie" && kind != "tv" {
		return out, fmt.Errorf("unknown genre kind %q", kind)
	}
	err := c.Get(ctx, "/api/genres/"+kind, nil, &out)
	return out, err
}

func (c *Client) Discover(ctx context.Context, genreID, page int) (tmdb.Page[tmdb.Movie], error) {
	params := pageParams(page)
	if genreID > 0 {
		params["genre"] = genreID
	}
	var out tmdb.Page[tmdb.Movie]
	err := c.Get(ctx, "/api/movies/discover", params, &out)
	return out, err
}
