// Package cache holds the contract shared by the server and client caches:
// the persisted entry shape, cache-key derivation and the TTL policy tables.
package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Entry represents a cached payload with the metadata needed to expire it
type Entry struct {
	Key        string          `json:"key"`
	Value      json.RawMessage `json:"value"`
	StoredAt   time.Time       `json:"stored_at"`
	TTLSeconds int64           `json:"ttl_seconds"`
}

// NewEntry builds an entry stored at storedAt that lives for ttl, rounded up
// to whole seconds
func NewEntry(key string, value json.RawMessage, storedAt time.Time, ttl time.Duration) Entry {
	var secs int64
	if ttl > 0 {
		secs = int64((ttl + time.Second - 1) / time.Second)
	}
	return Entry{
		Key:        key,
		Value:      value,
		StoredAt:   storedAt,
		TTLSeconds: secs,
	}
}

// TTL returns the lifetime of the entry
func (e Entry) TTL() time.Duration {
	return time.Duration(e.TTLSeconds) * time.Second
}

// Age returns how long ago the entry was stored
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// Valid reports whether now - StoredAt <= TTL
func (e Entry) Valid(now time.Time) bool {
	return e.Age(now) <= e.TTL()
}

// Reader defines the interface for reading cached values
type Reader interface {
	// Get decodes the cached value for key into out.
	// Returns false on miss, expiry, decode failure or store outage.
	Get(ctx context.Context, key string, out any) bool
}

// Writer defines the interface for writing cached values
type Writer interface {
	// Set stores value under key for ttl. Returns false when nothing was stored.
	Set(ctx context.Context, key string, value any, ttl time.Duration) bool
}

// ReadWriter combines both cache operations
type ReadWriter interface {
	Reader
	Writer
}
