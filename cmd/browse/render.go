package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/briangreenhill/screenshelf/clientcache"
	"github.com/briangreenhill/screenshelf/sections"
	"github.com/briangreenhill/screenshelf/tmdb"
)

const carouselWidth = 100

func renderSections(w io.Writer, results []sections.Result) {
	for i, r := range results {
		if i > 0 {
			fmt.Fprintln(w)
		}
		renderSection(w, r)
	}
}

// renderSection draws one section. A failed section prints its error in
// place so the rest of the page still renders.
func renderSection(w io.Writer, r sections.Result) {
	fmt.Fprintf(w, "== %s ==\n", r.Title)
	if r.Err != nil {
		fmt.Fprintf(w, "  %v\n", r.Err)
		return
	}
	if len(r.Content.Items) == 0 {
		fmt.Fprintln(w, "  nothing here")
		return
	}
	if r.Content.Layout == sections.LayoutCarousel {
		fmt.Fprintln(w, carousel(r.Content.Items, carouselWidth))
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tYEAR\tRATING")
	for _, it := range r.Content.Items {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.1f\n", it.ID, it.Title, it.Year, it.Rating)
	}
	_ = tw.Flush()
	if r.Content.TotalPages > 0 {
		fmt.Fprintf(w, "page %d of %d\n", r.Content.Page, r.Content.TotalPages)
	}
}

// carousel joins item titles into one line, truncated to width
func carousel(items []sections.Item, width int) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		title := it.Title
		if it.Year != "" {
			title += " (" + it.Year + ")"
		}
		parts = append(parts, title)
	}
	line := strings.Join(parts, "  |  ")
	if r := []rune(line); len(r) > width {
		line = string(r[:width-3]) + "..."
	}
	return line
}

func kv(w io.Writer, pairs ...string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			continue
		}
		fmt.Fprintf(tw, "%s:\t%s\n", pairs[i], pairs[i+1])
	}
	_ = tw.Flush()
}

func genreNames(genres []tmdb.Genre) string {
	names := make([]string, 0, len(genres))
	for _, g := range genres {
		names = append(names, g.Name)
	}
	return strings.Join(names, ", ")
}

func renderMovie(w io.Writer, m *tmdb.MovieDetail) {
	fmt.Fprintf(w, "%s\n", m.Title)
	if m.Tagline != "" {
		fmt.Fprintf(w, "%q\n", m.Tagline)
	}
	fmt.Fprintln(w)
	runtime := ""
	if m.Runtime > 0 {
		runtime = fmt.Sprintf("%d min", m.Runtime)
	}
	kv(w,
		"Released", m.ReleaseDate,
		"Runtime", runtime,
		"Genres", genreNames(m.Genres),
		"Rating", fmt.Sprintf("%.1f (%d votes)", m.VoteAverage, m.VoteCount),
		"Status", m.Status,
		"IMDb", m.IMDbID,
	)
	if m.Overview != "" {
		fmt.Fprintf(w, "\n%s\n", m.Overview)
	}
}

func renderShow(w io.Writer, s *tmdb.ShowDetail) {
	fmt.Fprintf(w, "%s\n", s.Name)
	if s.Tagline != "" {
		fmt.Fprintf(w, "%q\n", s.Tagline)
	}
	fmt.Fprintln(w)
	kv(w,
		"First aired", s.FirstAirDate,
		"Seasons", fmt.Sprint(s.NumberOfSeasons),
		"Episodes", fmt.Sprint(s.NumberOfEpisodes),
		"Genres", genreNames(s.Genres),
		"Rating", fmt.Sprintf("%.1f (%d votes)", s.VoteAverage, s.VoteCount),
		"Status", s.Status,
	)
	if s.Overview != "" {
		fmt.Fprintf(w, "\n%s\n", s.Overview)
	}
}

func renderSearch(w io.Writer, p tmdb.Page[tmdb.SearchResult]) {
	if len(p.Results) == 0 {
		fmt.Fprintln(w, "no results")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tTITLE\tYEAR")
	for _, r := range p.Results {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", r.ID, r.MediaType, r.DisplayTitle(), r.Year())
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "page %d of %d (%d results)\n", p.Page, p.TotalPages, p.TotalResults)
}

func renderGenres(w io.Writer, g tmdb.GenreList) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME")
	for _, genre := range g.Genres {
		fmt.Fprintf(tw, "%d\t%s\n", genre.ID, genre.Name)
	}
	_ = tw.Flush()
}

func renderStats(w io.Writer, backend string, s clientcache.Stats) {
	kv(w,
		"Backend", backend,
		"Items", fmt.Sprint(s.TotalItems),
		"Size", s.TotalSize,
		"Oldest", s.OldestItem,
		"Newest", s.NewestItem,
	)
}
