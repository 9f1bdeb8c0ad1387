// Package storage provides the counter/keyspace backend shared by quota
// accounting, conversation memory and the routing analytics sink. The redis
// implementation preserves the usage:<user>:<date> key schema expected by
// existing readers of the keyspace.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("key not found")

// Backend is a Redis-shaped key-value store. Only the operations the
// gateway needs are modeled; every write that creates a key also takes the
// retention TTL so counters age out on their own.
type Backend interface {
	// Get retrieves a plain string value. Returns ErrNotFound for missing keys.
	Get(ctx context.Context, key string) (string, error)
	// SetEx stores a value with an expiry.
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	// Incr increments an integer counter, creating it at zero, and refreshes
	// the TTL.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// HIncrBy increments a hash field, creating the hash as needed, and
	// refreshes the hash TTL.
	HIncrBy(ctx context.Context, key, field string, n int64, ttl time.Duration) error
	// HGetAll returns all fields of a hash; empty map if the key is missing.
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	// RPush appends values to a list and refreshes the list TTL.
	RPush(ctx context.Context, key string, ttl time.Duration, values ...string) error
	// LRange returns list elements between start and stop, inclusive,
	// with negative indexes counting from the tail as in redis.
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	// ZAdd adds a member with a score to a sorted set and refreshes its TTL.
	ZAdd(ctx context.Context, key, member string, score float64, ttl time.Duration) error
	// Close releases any resources.
	Close() error
}
