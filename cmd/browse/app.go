package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/screenshelf/catalog"
	"github.com/briangreenhill/screenshelf/clientcache"
	"github.com/briangreenhill/screenshelf/internal/config"
	"github.com/briangreenhill/screenshelf/internal/logging"
)

// app holds what a command needs. It is opened before each command runs
// and closed after.
type app struct {
	cfg     *config.BrowseConfig
	log     zerolog.Logger
	cache   *clientcache.Cache
	catalog *catalog.Client
	closer  io.Closer
}

func openApp(stderr io.Writer) (*app, error) {
	cfg, err := config.LoadBrowse()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: "console", Output: stderr})

	storage, closer, err := openStorage(cfg)
	if err != nil {
		return nil, err
	}
	cc := clientcache.New(storage,
		clientcache.WithMaxItems(cfg.MaxItems),
		clientcache.WithMaxAge(cfg.MaxAge),
		clientcache.WithLogger(log),
	)

	client, err := catalog.New(cfg.GatewayURL,
		catalog.WithCache(cc),
		catalog.WithLogger(log),
	)
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, err
	}
	return &app{cfg: cfg, log: log, cache: cc, catalog: client, closer: closer}, nil
}

func openStorage(cfg *config.BrowseConfig) (clientcache.Storage, io.Closer, error) {
	switch cfg.CacheBackend {
	case "memory":
		return clientcache.NewMemoryStorage(cfg.QuotaBytes), nil, nil
	case "file":
		dir, err := cacheDir(cfg)
		if err != nil {
			return nil, nil, err
		}
		fs, err := clientcache.NewFileStorage(dir, cfg.QuotaBytes)
		if err != nil {
			return nil, nil, err
		}
		return fs, nil, nil
	case "badger":
		dir, err := cacheDir(cfg)
		if err != nil {
			return nil, nil, err
		}
		bs, err := clientcache.OpenBadgerStorage(clientcache.BadgerOptions{Dir: filepath.Join(dir, "badger"), Quota: cfg.QuotaBytes})
		if err != nil {
			return nil, nil, err
		}
		return bs, bs, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}

func cacheDir(cfg *config.BrowseConfig) (string, error) {
	if cfg.CacheDir != "" {
		return cfg.CacheDir, nil
	}
	return clientcache.DefaultDir()
}

func (a *app) Close() error {
	if a == nil || a.closer == nil {
		return nil
	}
	return a.closer.Close()
}
