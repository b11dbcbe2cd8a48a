package main

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/briangreenhill/screenshelf/catalog"
	"github.com/briangreenhill/screenshelf/sections"
)

// Set at build time with -ldflags "-X main.version=... -X main.commit=..."
var (
	version = "dev"
	commit  = "none"
)

// newRootCmd builds the command tree. The returned func releases whatever
// the executed command opened.
func newRootCmd() (*cobra.Command, func() error) {
	var a *app

	root := &cobra.Command{
		Use:   "browse",
		Short: "Browse movies and TV from a screenshelf gateway",
		Long: `Browse movies and TV shows served by a screenshelf gateway.

Responses are kept in a local cache (BROWSE_CACHE_BACKEND) and reused
until their category TTL runs out.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["offline"] == "true" {
				return nil
			}
			var err error
			a, err = openApp(cmd.ErrOrStderr())
			return err
		},
	}

	get := func() *app { return a }
	root.AddCommand(
		newHomeCmd(get),
		newMoviesCmd(get),
		newTVCmd(get),
		newMovieCmd(get),
		newShowCmd(get),
		newSearchCmd(get),
		newGenresCmd(get),
		newCacheCmd(get),
		newVersionCmd(),
	)
	return root, func() error { return a.Close() }
}

func newHomeCmd(a func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "home",
		Short: "Show the home page: trending carousels and the main lists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			results := sections.DefaultHome(a().catalog).LoadAll(cmd.Context())
			renderSections(cmd.OutOrStdout(), results)
			return nil
		},
	}
}

func newMoviesCmd(a func() *app) *cobra.Command {
	var page, genre int
	cmd := &cobra.Command{
		Use:       "movies [" + strings.Join(catalog.MovieLists, "|") + "]",
		Short:     "List movies",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: catalog.MovieLists,
		RunE: func(cmd *cobra.Command, args []string) error {
			if genre > 0 {
				p, err := a().catalog.Discover(cmd.Context(), genre, page)
				if err != nil {
					return err
				}
				renderSection(cmd.OutOrStdout(), sections.Result{
					Title:   fmt.Sprintf("Movies in genre %d", genre),
					Content: sections.MovieContent(p),
				})
				return nil
			}
			list := "popular"
			if len(args) == 1 {
				list = args[0]
			}
			res := sections.LoadOne(cmd.Context(), sections.MovieListSection(a().catalog, list, page))
			if res.Err != nil {
				return res.Err
			}
			renderSection(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&genre, "genre", 0, "discover movies in this genre id instead of a list")
	return cmd
}

func newTVCmd(a func() *app) *cobra.Command {
	var page int
	cmd := &cobra.Command{
		Use:       "tv [" + strings.Join(catalog.TVLists, "|") + "]",
		Short:     "List TV shows",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: catalog.TVLists,
		RunE: func(cmd *cobra.Command, args []string) error {
			list := "popular"
			if len(args) == 1 {
				list = args[0]
			}
			res := sections.LoadOne(cmd.Context(), sections.TVListSection(a().catalog, list, page))
			if res.Err != nil {
				return res.Err
			}
			renderSection(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	return cmd
}

func parseID(arg string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}

func newMovieCmd(a func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "movie <id>",
		Short: "Show movie details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			m, err := a().catalog.Movie(cmd.Context(), id)
			if err != nil {
				return err
			}
			renderMovie(cmd.OutOrStdout(), m)
			return nil
		},
	}
}

func newShowCmd(a func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show TV show details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			s, err := a().catalog.Show(cmd.Context(), id)
			if err != nil {
				return err
			}
			renderShow(cmd.OutOrStdout(), s)
			return nil
		},
	}
}

func newSearchCmd(a func() *app) *cobra.Command {
	var page int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search movies, shows and people",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a().catalog.Search(cmd.Context(), strings.Join(args, " "), page)
			if err != nil {
				return err
			}
			renderSearch(cmd.OutOrStdout(), p)
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	return cmd
}

func newGenresCmd(a func() *app) *cobra.Command {
	return &cobra.Command{
		Use:       "genres [movie|tv]",
		Short:     "List genres",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"movie", "tv"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := "movie"
			if len(args) == 1 {
				kind = args[0]
			}
			g, err := a().catalog.Genres(cmd.Context(), kind)
			if err != nil {
				return err
			}
			renderGenres(cmd.OutOrStdout(), g)
			return nil
		},
	}
}

func newCacheCmd(a func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or manage the local response cache",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Show cache statistics",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				renderStats(cmd.OutOrStdout(), a().cfg.CacheBackend, a().cache.Stats())
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove every cached response",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if !a().cache.Clear() {
					return fmt.Errorf("cache could not be cleared completely")
				}
				fmt.Fprintln(cmd.OutOrStdout(), "cache cleared")
				return nil
			},
		},
		&cobra.Command{
			Use:   "cleanup",
			Short: "Remove expired and unreadable entries",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				n := a().cache.Cleanup()
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries\n", n)
				return nil
			},
		},
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Show version information",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"offline": "true"},
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "browse version: %s\n", version)
			fmt.Fprintf(out, "  git commit: %s\n", commit)
			fmt.Fprintf(out, "  go version: %s\n", runtime.Version())
		},
	}
}
