package kvstore

import (
	"context"
	"errors"
	"time"
)

// TTL sentinels, matching the Redis TTL reply convention.
const (
	NoExpiry time.Duration = -1
	Missing  time.Duration = -2
)

var ErrNotFound = errors.New("kvstore: key not found")

// Store is the shared key-value store used for counters, ledger entries and job records.
// Every operation touches a single key atomically.
type Store interface {
	// Incr atomically increments the counter at key, creating it at 1.
	Incr(ctx context.Context, key string) (int64, error)
	// Expire sets a ttl on an existing key. Missing keys are ignored.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// TTL returns the remaining ttl, NoExpiry or Missing.
	TTL(ctx context.Context, key string) (time.Duration, error)
	Get(ctx context.Context, key string) (string, error)
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX writes value only when key is absent. It reports whether the write happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Del(ctx context.Context, keys ...string) error
	// Keys lists live keys matching a glob pattern (path.Match syntax).
	Keys(ctx context.Context, pattern string) ([]string, error)
	Close() error
}

// literalPrefix returns the part of a glob pattern before its first meta character.
func literalPrefix(pattern string) string {
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '*', '?', '[', '\\':
			return pattern[:i]
		}
	}
	return pattern
}
