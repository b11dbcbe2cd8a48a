// Package sections defines the independently loaded blocks of a browse page
package sections

import (
	"context"
	"fmt"
	"sync"
)

// Layout tells the renderer how to draw a section
type Layout string

const (
	LayoutCarousel Layout = "carousel"
	LayoutList     Layout = "list"
)

// Item is one title shown in a section
type Item struct {
	ID     int
	Kind   string // "movie" or "tv"
	Title  string
	Year   string
	Rating float64
}

// Content is what a section renders
type Content struct {
	Layout     Layout
	Items      []Item
	Page       int
	TotalPages int
}

// Section defines the minimal interface every page section implements
type Section interface {
	// Name returns the section identifier (e.g., "trending", "popular-movies")
	Name() string

	// Title returns the heading shown above the section
	Title() string

	// Load fetches the section content
	Load(ctx context.Context) (Content, error)
}

// Result is the outcome of loading one section. Err is set when the section
// failed; other sections are unaffected.
type Result struct {
	Name    string
	Title   string
	Content Content
	Err     error
}

// Registry manages page sections in registration order
type Registry struct {
	mu       sync.RWMutex
	order    []string
	sections map[string]Section
}

// NewRegistry creates a new section registry
func NewRegistry() *Registry {
	return &Registry{
		sections: make(map[string]Section),
	}
}

// Register adds a section. Registering a name again replaces the section
// but keeps its position.
func (r *Registry) Register(s Section) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sections[s.Name()]; !exists {
		r.order = append(r.order, s.Name())
	}
	r.sections[s.Name()] = s
}

// Get retrieves a section by name
func (r *Registry) Get(name string) (Section, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, exists := r.sections[name]
	return s, exists
}

// List returns all registered section names in order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// LoadAll loads every section concurrently and returns results in
// registration order. A failing section yields a Result with Err set.
func (r *Registry) LoadAll(ctx context.Context) []Result {
	r.mu.RLock()
	list := make([]Section, 0, len(r.order))
	for _, name := range r.order {
		list = append(list, r.sections[name])
	}
	r.mu.RUnlock()

	results := make([]Result, len(list))
	var wg sync.WaitGroup
	for i, s := range list {
		wg.Add(1)
		go func(i int, s Section) {
			defer wg.Done()
			results[i] = LoadOne(ctx, s)
		}(i, s)
	}
	wg.Wait()
	return results
}

// LoadOne loads a single section, turning errors and panics into
// Result.Err
func LoadOne(ctx context.Context, s Section) (res Result) {
	res = Result{Name: s.Name(), Title: s.Title()}
	defer func() {
		if p := recover(); p != nil {
			res.Err = fmt.Errorf("failed to load %s: panic: %v", s.Title(), p)
		}
	}()

	content, err := s.Load(ctx)
	if err != nil {
		res.Err = fmt.Errorf("failed to load %s: %w", s.Title(), err)
		return res
	}
	res.Content = content
	return res
}
