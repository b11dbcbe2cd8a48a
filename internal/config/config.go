// Package config handles application configuration from environment variables
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Config holds the gateway and worker configuration
type Config struct {
	Port   int    `env:"PORT" envDefault:"8080"`
	AppEnv string `env:"APP_ENV" envDefault:"development"`

	TMDB  TMDBConfig
	Cache CacheConfig
	HTTP  HTTPConfig
	Log   LogConfig
	Warm  WarmConfig
}

// TMDBConfig holds upstream metadata provider configuration
type TMDBConfig struct {
	APIKey   string        `env:"TMDB_API_KEY"`
	BaseURL  string        `env:"TMDB_BASE_URL" envDefault:"https://api.themoviedb.org/3"`
	Language string        `env:"TMDB_LANGUAGE"`
	Timeout  time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"10s"`
	Retries  int           `env:"UPSTREAM_RETRIES" envDefault:"3"`
}

// CacheConfig holds server cache configuration
type CacheConfig struct {
	Backend         string `env:"CACHE_BACKEND" envDefault:"redis"` // redis or memory
	RedisAddr       string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword   string `env:"REDIS_PASSWORD"`
	RedisDB         int    `env:"REDIS_DB" envDefault:"0"`
	Namespace       string `env:"CACHE_NAMESPACE" envDefault:"tmdb"`
	ConnectAttempts int    `env:"CACHE_CONNECT_ATTEMPTS" envDefault:"4"`
}

// HTTPConfig holds gateway middleware configuration
type HTTPConfig struct {
	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	RateLimitRequests  int           `env:"RATE_LIMIT_REQUESTS" envDefault:"120"`
	RateLimitWindow    time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// WarmConfig holds cache warming worker configuration
type WarmConfig struct {
	Interval time.Duration `env:"WARM_INTERVAL" envDefault:"30m"`
	Pages    int           `env:"WARM_PAGES" envDefault:"2"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

// LoadFrom reads configuration from the given variables instead of the process environment
func LoadFrom(vars map[string]string) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

// IsProduction reports whether destructive operations must be refused
func (c *Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.AppEnv), EnvProduction)
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate checks the configuration for the gateway and worker
func (c *Config) Validate() error {
	var errs []error
	if c.TMDB.APIKey == "" {
		errs = append(errs, errors.New("TMDB_API_KEY is required"))
	}
	if u, err := url.Parse(c.TMDB.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("TMDB_BASE_URL is not a valid url: %q", c.TMDB.BaseURL))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be between 1-65535, got %d", c.Port))
	}
	switch c.Cache.Backend {
	case "redis", "memory":
	default:
		errs = append(errs, fmt.Errorf("CACHE_BACKEND must be redis or memory, got %q", c.Cache.Backend))
	}
	if c.Cache.ConnectAttempts < 1 {
		errs = append(errs, fmt.Errorf("CACHE_CONNECT_ATTEMPTS must be positive, got %d", c.Cache.ConnectAttempts))
	}
	if c.TMDB.Retries < 1 {
		errs = append(errs, fmt.Errorf("UPSTREAM_RETRIES must be positive, got %d", c.TMDB.Retries))
	}
	if c.HTTP.RateLimitRequests < 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_REQUESTS must not be negative, got %d", c.HTTP.RateLimitRequests))
	}
	if c.Warm.Pages < 1 || c.Warm.Pages > 20 {
		errs = append(errs, fmt.Errorf("WARM_PAGES must be between 1-20, got %d", c.Warm.Pages))
	}
	return errors.Join(errs...)
}

// BrowseConfig holds configuration for the browse CLI
type BrowseConfig struct {
	GatewayURL   string        `env:"BROWSE_GATEWAY_URL" envDefault:"http://localhost:8080"`
	CacheBackend string        `env:"BROWSE_CACHE_BACKEND" envDefault:"file"` // file, badger or memory
	CacheDir     string        `env:"BROWSE_CACHE_DIR"`
	MaxItems     int           `env:"BROWSE_CACHE_MAX_ITEMS" envDefault:"100"`
	MaxAge       time.Duration `env:"BROWSE_CACHE_MAX_AGE" envDefault:"168h"`
	QuotaBytes   int64         `env:"BROWSE_CACHE_QUOTA_BYTES" envDefault:"5242880"`
	Log          LogConfig
}

// LoadBrowse reads the browse CLI configuration from environment variables
func LoadBrowse() (*BrowseConfig, error) {
	cfg, err := env.ParseAs[BrowseConfig]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

// Validate checks the browse configuration
func (c *BrowseConfig) Validate() error {
	var errs []error
	if u, err := url.Parse(c.GatewayURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("BROWSE_GATEWAY_URL is not a valid url: %q", c.GatewayURL))
	}
	switch c.CacheBackend {
	case "file", "badger", "memory":
	default:
		errs = append(errs, fmt.Errorf("BROWSE_CACHE_BACKEND must be file, badger or memory, got %q", c.CacheBackend))
	}
	if c.MaxItems < 1 {
		errs = append(errs, fmt.Errorf("BROWSE_CACHE_MAX_ITEMS must be positive, got %d", c.MaxItems))
	}
	return errors.Join(errs...)
}
