// Package catalog is the browse frontend's client for the gateway API.
// Every GET is read through the persisted client cache first; a hit never
// touches the network.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/screenshelf/cache"
	"github.com/briangreenhill/screenshelf/clientcache"
)

// RemoteError is an error envelope returned by the gateway
type RemoteError struct {
	Status   int
	Code     string
	Message  string
	Endpoint string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %d %s: %s", e.Endpoint, e.Status, e.Code, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type Client struct {
	http     *http.Client
	baseURL  *url.URL
	cache    *clientcache.Cache // optional
	policies *cache.PolicyTable
	log      zerolog.Logger

	maxAttempts    int
	initialBackoff time.Duration
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithCache(cc *clientcache.Cache) Option {
	return func(c *Client) { c.cache = cc }
}

func WithPolicies(p *cache.PolicyTable) Option {
	return func(c *Client) {
		if p != nil {
			c.policies = p
		}
	}
}

func WithRetry(maxAttempts int, initial time.Duration) Option {
	return func(c *Client) {
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
		if initial > 0 {
			c.initialBackoff = initial
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l.With().Str("component", "catalog").Logger() }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid gateway url %q", baseURL)
	}
	c := &Client{
		http:           &http.Client{Timeout: 15 * time.Second},
		baseURL:        u,
		policies:       cache.ClientPolicies,
		log:            zerolog.Nop(),
		maxAttempts:    2,
		initialBackoff: 250 * time.Millisecond,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Get decodes the gateway response for endpoint into out, serving it from
// the client cache when a fresh copy exists
func (c *Client) Get(ctx context.Context, endpoint string, params cache.Params, out any) error {
	if c.cache != nil && c.cache.Get(endpoint, params, out) {
		c.log.Debug().Str("endpoint", endpoint).Msg("client cache hit")
		return nil
	}
	return c.load(ctx, endpoint, params, out)
}

// Refresh skips the cache read and replaces the cached entry
func (c *Client) Refresh(ctx context.Context, endpoint string, params cache.Params, out any) error {
	return c.load(ctx, endpoint, params, out)
}

func (c *Client) load(ctx context.Context, endpoint string, params cache.Params, out any) error {
	data, err := c.fetch(ctx, endpoint, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	if c.cache != nil {
		c.cache.Set(endpoint, json.RawMessage(data), c.policies.TTL(endpoint), params)
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, endpoint string, params cache.Params) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxAttempts-1)), ctx)

	var data []byte
	err := backoff.Retry(func() error {
		var err error
		data, err = c.get(ctx, endpoint, params)
		var remote *RemoteError
		if errors.As(err, &remote) && remote.Status < 500 {
			return backoff.Permanent(err)
		}
		if errors.Is(err, context.Canceled) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
	return data, err
}

func (c *Client) get(ctx context.Context, endpoint string, params cache.Params) ([]byte, error) {
	u := *c.baseURL
	u.Path = path.Join(u.Path, endpoint)
	q := url.Values{}
	for k, v := range params {
		if v != nil {
			q.Set(k, fmt.Sprint(v))
		}
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode >= 400 {
			return nil, &RemoteError{Status: resp.StatusCode, Code: "http_error", Message: http.StatusText(resp.StatusCode), Endpoint: endpoint}
		}
		return nil, fmt.Errorf("decode envelope %s: %w", endpoint, err)
	}
	if !env.Success || resp.StatusCode >= 400 {
		re := &RemoteError{Status: resp.StatusCode, Code: "unknown", Message: http.StatusText(resp.StatusCode), Endpoint: endpoint}
		if env.Error != nil {
			re.Code, re.Message = env.Error.Code, env.Error.Message
		}
		return nil, re
	}
	return env.Data, nil
}
