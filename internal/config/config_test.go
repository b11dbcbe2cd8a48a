package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{"TMDB_API_KEY": "abc"})
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, EnvDevelopment, cfg.AppEnv)
	assert.Equal(t, "https://api.themoviedb.org/3", cfg.TMDB.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.TMDB.Timeout)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, "localhost:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, "tmdb", cfg.Cache.Namespace)
	assert.Equal(t, 4, cfg.Cache.ConnectAttempts)
	assert.Equal(t, []string{"*"}, cfg.HTTP.CORSAllowedOrigins)
	assert.Equal(t, 120, cfg.HTTP.RateLimitRequests)
	assert.Equal(t, time.Minute, cfg.HTTP.RateLimitWindow)
	assert.Equal(t, 30*time.Minute, cfg.Warm.Interval)
	assert.Equal(t, 2, cfg.Warm.Pages)
	assert.NoError(t, cfg.Validate())
	assert.False(t, cfg.IsProduction())
}

func TestLoadFromProcessEnv(t *testing.T) {
	t.Setenv("TMDB_API_KEY", "from-env")
	t.Setenv("PORT", "9090")
	t.Setenv("CACHE_BACKEND", "memory")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.TMDB.APIKey)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.CORSAllowedOrigins)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	_, err := LoadFrom(map[string]string{"PORT": "eighty"})
	assert.Error(t, err)

	_, err = LoadFrom(map[string]string{"WARM_INTERVAL": "soon"})
	assert.Error(t, err)
}

func TestIsProduction(t *testing.T) {
	tests := []struct {
		env      string
		expected bool
	}{
		{"production", true},
		{"PRODUCTION", true},
		{" production ", true},
		{"development", false},
		{"test", false},
		{"", false},
	}

	for _, tt := range tests {
		cfg := &Config{AppEnv: tt.env}
		assert.Equal(t, tt.expected, cfg.IsProduction(), "APP_ENV=%q", tt.env)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		vars    map[string]string
		wantErr string
	}{
		{"missing api key", map[string]string{}, "TMDB_API_KEY is required"},
		{"bad backend", map[string]string{"TMDB_API_KEY": "k", "CACHE_BACKEND": "memcached"}, "CACHE_BACKEND"},
		{"bad base url", map[string]string{"TMDB_API_KEY": "k", "TMDB_BASE_URL": "nope"}, "TMDB_BASE_URL"},
		{"zero attempts", map[string]string{"TMDB_API_KEY": "k", "CACHE_CONNECT_ATTEMPTS": "0"}, "CACHE_CONNECT_ATTEMPTS"},
		{"too many warm pages", map[string]string{"TMDB_API_KEY": "k", "WARM_PAGES": "50"}, "WARM_PAGES"},
		{"port out of range", map[string]string{"TMDB_API_KEY": "k", "PORT": "70000"}, "PORT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadFrom(tt.vars)
			require.NoError(t, err)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadBrowse(t *testing.T) {
	t.Setenv("BROWSE_GATEWAY_URL", "http://gateway.local:8080")
	t.Setenv("BROWSE_CACHE_BACKEND", "badger")
	t.Setenv("BROWSE_CACHE_MAX_AGE", "24h")

	cfg, err := LoadBrowse()
	require.NoError(t, err)
	assert.Equal(t, "http://gateway.local:8080", cfg.GatewayURL)
	assert.Equal(t, "badger", cfg.CacheBackend)
	assert.Equal(t, 24*time.Hour, cfg.MaxAge)
	assert.Equal(t, 100, cfg.MaxItems)
	assert.NoError(t, cfg.Validate())

	cfg.CacheBackend = "sqlite"
	assert.Error(t, cfg.Validate())
}
