package servercache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 500

// RedisStore is a Store backed by Redis.
type RedisStore struct {
	client    *redis.Client
	onConnect atomic.Pointer[func()]
}

// RedisOptions configures NewRedisStore
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewRedisStore creates a store. No connection is made until first use.
func NewRedisStore(opts RedisOptions) *RedisStore {
	s := &RedisStore{}

	ro := &redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		// Fail fast; Cache handles its own bounded retry on connect
		MaxRetries: 1,
		OnConnect: func(ctx context.Context, cn *redis.Conn) error {
			if fn := s.onConnect.Load(); fn != nil {
				(*fn)()
			}
			return nil
		},
	}
	if ro.DialTimeout == 0 {
		ro.DialTimeout = 2 * time.Second
	}
	if ro.ReadTimeout == 0 {
		ro.ReadTimeout = time.Second
	}
	if ro.WriteTimeout == 0 {
		ro.WriteTimeout = time.Second
	}

	s.client = redis.NewClient(ro)
	return s
}

// NewRedisStoreFromClient wraps an existing client. Reconnect events are not
// reported for clients created elsewhere.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// NotifyConnect registers fn to run whenever a new connection is established
func (s *RedisStore) NotifyConnect(fn func()) {
	s.onConnect.Store(&fn)
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return b, err
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("redis set %s: ttl must be positive", key)
	}
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Del(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, key).Result()
	return n > 0, err
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	return n > 0, err
}

// Flush unlinks every key under prefix in SCAN batches. The rest of the
// database is left alone.
func (s *RedisStore) Flush(ctx context.Context, prefix string) error {
	iter := s.client.Scan(ctx, 0, matchPattern(prefix), scanBatch).Iterator()
	batch := make([]string, 0, scanBatch)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := s.client.Unlink(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("unlink batch: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", prefix, err)
	}
	if len(batch) > 0 {
		if err := s.client.Unlink(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("unlink batch: %w", err)
		}
	}
	return nil
}

func (s *RedisStore) Count(ctx context.Context, prefix string) (int64, error) {
	var n int64
	iter := s.client.Scan(ctx, 0, matchPattern(prefix), scanBatch).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("scan %s: %w", prefix, err)
	}
	return n, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// matchPattern escapes glob metacharacters in prefix and appends "*"
func matchPattern(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(prefix) + "*"
}
