package sections

import (
	"context"
	"strings"

	"github.com/briangreenhill/screenshelf/tmdb"
)

// Source is the catalog API the built-in sections read from.
// *catalog.Client satisfies it.
type Source interface {
	MovieList(ctx context.Context, list string, page int) (tmdb.Page[tmdb.Movie], error)
	TVList(ctx context.Context, list string, page int) (tmdb.Page[tmdb.Show], error)
	TrendingMovies(ctx context.Context, window string) (tmdb.Page[tmdb.Movie], error)
	TrendingTV(ctx context.Context, window string) (tmdb.Page[tmdb.Show], error)
}

// DefaultHome builds the home page: trending carousels and the main movie
// and TV lists
func DefaultHome(src Source) *Registry {
	r := NewRegistry()
	r.Register(&trending{src: src})
	r.Register(&movieList{src: src, name: "popular-movies", title: "Popular Movies", list: "popular"})
	r.Register(&movieList{src: src, name: "now-playing", title: "Now Playing", list: "now-playing"})
	r.Register(&movieList{src: src, name: "top-rated-movies", title: "Top Rated Movies", list: "top-rated"})
	r.Register(&trending{src: src, tv: true})
	r.Register(&tvList{src: src, name: "popular-tv", title: "Popular TV", list: "popular"})
	return r
}

// MovieListSection shows one page of a movie list
func MovieListSection(src Source, list string, page int) Section {
	return &movieList{src: src, name: "movies-" + list, title: heading(list) + " Movies", list: list, page: page}
}

// TVListSection shows one page of a TV list
func TVListSection(src Source, list string, page int) Section {
	return &tvList{src: src, name: "tv-" + list, title: heading(list) + " TV", list: list, page: page}
}

func heading(list string) string {
	words := strings.Split(list, "-")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

type trending struct {
	src Source
	tv  bool
}

func (s *trending) Name() string {
	if s.tv {
		return "trending-tv"
	}
	return "trending"
}

func (s *trending) Title() string {
	if s.tv {
		return "Trending TV This Week"
	}
	return "Trending This Week"
}

func (s *trending) Load(ctx context.Context) (Content, error) {
	var c Content
	if s.tv {
		p, err := s.src.TrendingTV(ctx, "week")
		if err != nil {
			return Content{}, err
		}
		c = ShowContent(p)
	} else {
		p, err := s.src.TrendingMovies(ctx, "week")
		if err != nil {
			return Content{}, err
		}
		c = MovieContent(p)
	}
	c.Layout = LayoutCarousel
	return c, nil
}

type movieList struct {
	src   Source
	name  string
	title string
	list  string
	page  int
}

func (s *movieList) Name() string  { return s.name }
func (s *movieList) Title() string { return s.title }

func (s *movieList) Load(ctx context.Context) (Content, error) {
	p, err := s.src.MovieList(ctx, s.list, s.page)
	if err != nil {
		return Content{}, err
	}
	return MovieContent(p), nil
}

type tvList struct {
	src   Source
	name  string
	title string
	list  string
	page  int
}

func (s *tvList) Name() string  { return s.name }
func (s *tvList) Title() string { return s.title }

func (s *tvList) Load(ctx context.Context) (Content, error) {
	p, err := s.src.TVList(ctx, s.list, s.page)
	if err != nil {
		return Content{}, err
	}
	return ShowContent(p), nil
}

// MovieContent converts a page of movies into list content
func MovieContent(p tmdb.Page[tmdb.Movie]) Content {
	c := Content{Layout: LayoutList, Page: p.Page, TotalPages: p.TotalPages}
	for _, m := range p.Results {
		c.Items = append(c.Items, Item{ID: m.ID, Kind: "movie", Title: m.Title, Year: year(m.ReleaseDate), Rating: m.VoteAverage})
	}
	return c
}

// ShowContent converts a page of shows into list content
func ShowContent(p tmdb.Page[tmdb.Show]) Content {
	c := Content{Layout: LayoutList, Page: p.Page, TotalPages: p.TotalPages}
	for _, s := range p.Results {
		c.Items = append(c.Items, Item{ID: s.ID, Kind: "tv", Title: s.Name, Year: year(s.FirstAirDate), Rating: s.VoteAverage})
	}
	return c
}

func year(date string) string {
	if len(date) >= 4 {
		return date[:4]
	}
	return ""
}
