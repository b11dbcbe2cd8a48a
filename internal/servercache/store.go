// Package servercache is the gateway's response cache. It fronts upstream
// metadata calls with a TTL-bounded key-value store and degrades to
// pass-through (every read a miss, every write not stored) when the store
// cannot be reached.
package servercache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrMiss is returned by a Store when the key does not exist or has expired
	ErrMiss = errors.New("cache miss")

	// ErrUnavailable is returned by a Store that cannot reach its backend
	ErrUnavailable = errors.New("cache store unavailable")
)

// Store is the raw byte store behind a Cache. Keys passed to a Store are
// already namespaced.
type Store interface {
	Ping(ctx context.Context) error
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	// Flush removes every key matching prefix + "*"
	Flush(ctx context.Context, prefix string) error
	// Count returns the number of keys matching prefix + "*"
	Count(ctx context.Context, prefix string) (int64, error)
	Close() error
}

const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// OpenStore builds the Store named by backend. The redis options are
// ignored for the memory backend.
func OpenStore(backend string, opts RedisOptions) (Store, error) {
	switch backend {
	case BackendRedis:
		return NewRedisStore(opts), nil
	case BackendMemory:
		return NewMemoryStore(nil), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}

// ConnectNotifier is implemented by stores that report reconnection events.
type ConnectNotifier interface {
	NotifyConnect(fn func())
}

// isConnectionError reports whether err means the store itself is unreachable,
// as opposed to a per-key failure.
func isConnectionError(err error) bool {
	if err == nil || errors.Is(err, ErrMiss) || errors.Is(err, redis.Nil) {
		return false
	}
	if errors.Is(err, ErrUnavailable) ||
		errors.Is(err, redis.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	if isTimeout(err) {
		return false
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection reset", "broken pipe", "no such host", "loading dataset"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// isTimeout reports whether err is a single call running out of time. A slow
// call says nothing about the connection on its own.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
