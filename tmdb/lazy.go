package tmdb

import (
	"errors"
	"sync"
)

// Lazy builds a Client on first use. A failed build is not remembered, so
// the next call tries again (for example once the API key is configured).
type Lazy struct {
	mu      sync.Mutex
	client  *Client
	factory func() (*Client, error)
}

func NewLazy(factory func() (*Client, error)) *Lazy {
	return &Lazy{factory: factory}
}

// GetOrCreate returns the shared client, constructing it if needed
func (l *Lazy) GetOrCreate() (*Client, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.client != nil {
		return l.client, nil
	}
	if l.factory == nil {
		return nil, errors.New("tmdb: no client factory")
	}
	c, err := l.factory()
	if err != nil {
		return nil, err
	}
	l.client = c
	return c, nil
}
