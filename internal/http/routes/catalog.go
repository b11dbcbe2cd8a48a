package routes

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/briangreenhill/screenshelf/tmdb"
)

type pageQuery struct {
	Page int `query:"page" validate:"min=1,max=500"`
}

type trendingQuery struct {
	Window string `query:"window" validate:"oneof=day week"`
}

type searchQuery struct {
	Q    string `query:"q" validate:"required,max=200"`
	Page int    `query:"page" validate:"min=1,max=500"`
}

type discoverQuery struct {
	Genre int `query:"genre" validate:"min=0"`
	Page  int `query:"page" validate:"min=1,max=500"`
}

type idParam struct {
	ID int `query:"id" validate:"min=1"`
}

func (s *Server) readPage(w http.ResponseWriter, r *http.Request) (pageQuery, bool) {
	page, err := intParam(r, "page", 1)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, CodeBadRequest, err.Error())
		return pageQuery{}, false
	}
	q := pageQuery{Page: page}
	return q, s.check(w, r, q)
}

func pageHandler[T any](s *Server, endpoint string, call func(*tmdb.Client, context.Context, int) (tmdb.Page[T], error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, ok := s.readPage(w, r)
		if !ok {
			return
		}
		c, ok := s.upstream(w, r)
		if !ok {
			return
		}
		out, err := call(c, r.Context(), q.Page)
		s.respondUpstream(w, r, endpoint, out, err)
	}
}

func trendingHandler[T any](s *Server, endpoint string, call func(*tmdb.Client, context.Context, string) (tmdb.Page[T], error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := trendingQuery{Window: r.URL.Query().Get("window")}
		if q.Window == "" {
			q.Window = "week"
		}
		if !s.check(w, r, q) {
			return
		}
		c, ok := s.upstream(w, r)
		if !ok {
			return
		}
		out, err := call(c, r.Context(), q.Window)
		s.respondUpstream(w, r, endpoint+"/"+q.Window, out, err)
	}
}

func (s *Server) readID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, CodeBadRequest, "id must be an integer")
		return 0, false
	}
	return id, s.check(w, r, idParam{ID: id})
}

func (s *Server) handleMovie(w http.ResponseWriter, r *http.Request) {
	id, ok := s.readID(w, r)
	if !ok {
		return
	}
	c, ok := s.upstream(w, r)
	if !ok {
		return
	}
	out, err := c.MovieDetails(r.Context(), id)
	s.respondUpstream(w, r, fmt.Sprintf("/movie/%d", id), out, err)
}

func (s *Server) handleShow(w http.ResponseWriter, r *http.Request) {
	id, ok := s.readID(w, r)
	if !ok {
		return
	}
	c, ok := s.upstream(w, r)
	if !ok {
		return
	}
	out, err := c.TVDetails(r.Context(), id)
	s.respondUpstream(w, r, fmt.Sprintf("/tv/%d", id), out, err)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	page, err := intParam(r, "page", 1)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	q := searchQuery{Q: strings.TrimSpace(r.URL.Query().Get("q")), Page: page}
	if !s.check(w, r, q) {
		return
	}
	c, ok := s.upstream(w, r)
	if !ok {
		return
	}
	out, err := c.SearchMulti(r.Context(), q.Q, q.Page)
	s.respondUpstream(w, r, "/search/multi", out, err)
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	page, err := intParam(r, "page", 1)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	genre, err := intParam(r, "genre", 0)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	q := discoverQuery{Genre: genre, Page: page}
	if !s.check(w, r, q) {
		return
	}
	c, ok := s.upstream(w, r)
	if !ok {
		return
	}
	out, err := c.DiscoverMovies(r.Context(), q.Genre, q.Page)
	s.respondUpstream(w, r, "/discover/movie", out, err)
}

func (s *Server) handleGenres(endpoint string, call func(*tmdb.Client, context.Context) (tmdb.GenreList, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := s.upstream(w, r)
		if !ok {
			return
		}
		out, err := call(c, r.Context())
		s.respondUpstream(w, r, endpoint, out, err)
	}
}
