package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/imrishuroy/go-payflow/internal/kvstore"
)

const keyPrefix = "ratelimit:"

// ErrStoreUnavailable wraps any store failure. Callers treat it as a 5xx.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// Config is one fixed-window policy. Name scopes the counters so policies do not share them.
type Config struct {
	Name   string
	Window time.Duration
	Max    int64
}

// Info is the outcome of a check.
type Info struct {
	Remaining int64
	ResetAt   time.Time
	IsLimited bool
}

type Limiter struct {
	store   kvstore.Store
	nowFunc func() time.Time
}

func NewLimiter(store kvstore.Store) *Limiter {
	return &Limiter{store: store, nowFunc: time.Now}
}

func (l *Limiter) key(cfg Config, identifier string) string {
	return keyPrefix + cfg.Name + ":" + identifier
}

// CheckAndIncrement counts this request and reports whether the identifier is over the limit.
// The increment is kept even when it trips the limit.
func (l *Limiter) CheckAndIncrement(ctx context.Context, identifier string, cfg Config) (Info, error) {
	key := l.key(cfg, identifier)

	current, err := l.store.Incr(ctx, key)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	ttl := cfg.Window
	if current == 1 {
		if err := l.store.Expire(ctx, key, cfg.Window); err != nil {
			return Info{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	} else {
		ttl, err = l.store.TTL(ctx, key)
		if err != nil {
			return Info{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		// a crash between INCR and EXPIRE leaves a counter that never resets
		if ttl == kvstore.NoExpiry {
			if err := l.store.Expire(ctx, key, cfg.Window); err != nil {
				return Info{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
			ttl = cfg.Window
		}
		if ttl < 0 {
			ttl = cfg.Window
		}
	}

	return Info{
		Remaining: remaining(cfg.Max, current),
		ResetAt:   l.nowFunc().Add(ttl),
		IsLimited: current > cfg.Max,
	}, nil
}

// Status reports the current window without counting a request.
func (l *Limiter) Status(ctx context.Context, identifier string, cfg Config) (Info, error) {
	key := l.key(cfg, identifier)
	now := l.nowFunc()

	raw, err := l.store.Get(ctx, key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return Info{Remaining: cfg.Max, ResetAt: now.Add(cfg.Window)}, nil
	}
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	current, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return Info{}, fmt.Errorf("parse counter %s: %w", key, err)
	}

	ttl, err := l.store.TTL(ctx, key)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if ttl < 0 {
		ttl = cfg.Window
	}

	return Info{
		Remaining: remaining(cfg.Max, current),
		ResetAt:   now.Add(ttl),
		IsLimited: current >= cfg.Max,
	}, nil
}

// Reset drops the identifier's counters under every policy.
func (l *Limiter) Reset(ctx context.Context, identifier string) error {
	keys, err := l.store.Keys(ctx, keyPrefix+"*:"+escapeGlob(identifier))
	if err != nil {
		return fmt.Errorf("list counters: %w", err)
	}
	return l.store.Del(ctx, keys...)
}

// ClearAll drops every rate limit counter.
func (l *Limiter) ClearAll(ctx context.Context) error {
	keys, err := l.store.Keys(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("list counters: %w", err)
	}
	return l.store.Del(ctx, keys...)
}

func remaining(limit, current int64) int64 {
	if r := limit - current; r > 0 {
		return r
	}
	return 0
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
