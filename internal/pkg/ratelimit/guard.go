package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/cache"
	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/env"
)

// Decision is the outcome of a guard check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// CounterStore counts hits per key inside a fixed window.
type CounterStore interface {
	// Incr increments the counter for key, starting the window on the first
	// hit, and returns the post-increment count plus the remaining window.
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// Guard throttles verification attempts per (subject, endpoint) with a fixed
// window counter.
type Guard struct {
	store  CounterStore
	max    int64
	window time.Duration
}

// NewGuard builds a guard over the given counter store.
func NewGuard(store CounterStore, max int64, window time.Duration) *Guard {
	if max <= 0 {
		max = 30
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Guard{store: store, max: max, window: window}
}

// NewGuardFromEnv builds a redis-backed guard with env thresholds.
func NewGuardFromEnv() *Guard {
	return NewGuard(
		NewRedisStore(),
		int64(env.GetEnvInt("RATE_LIMIT_MAX", 30)),
		env.GetEnvSeconds("RATE_LIMIT_WINDOW_SECONDS", time.Minute),
	)
}

// Allow checks whether the subject may hit the endpoint now. On a failed
// store the request is allowed: the guard protects against abuse, it must
// not take the payment path down with the cache.
func (g *Guard) Allow(ctx context.Context, subject, endpoint string) Decision {
	key := fmt.Sprintf("ratelimit:%s:%s", subject, endpoint)
	count, remaining, err := g.store.Incr(ctx, key, g.window)
	if err != nil {
		return Decision{Allowed: true}
	}
	if count > g.max {
		if remaining <= 0 {
			remaining = g.window
		}
		return Decision{Allowed: false, RetryAfter: remaining}
	}
	return Decision{Allowed: true}
}

// redisStore backs the guard with the shared cache client.
type redisStore struct{}

// NewRedisStore returns the redis-backed counter store.
func NewRedisStore() CounterStore {
	return &redisStore{}
}

func (s *redisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	count, err := cache.IncrWithWindow(ctx, key, window)
	if err != nil {
		return 0, 0, err
	}
	remaining, err := cache.TTL(ctx, key)
	if err != nil {
		remaining = window
	}
	return count, remaining, nil
}

// MemoryStore is an in-process counter store used in tests and single-node
// setups without redis.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	now     func() time.Time
}

type memoryWindow struct {
	start time.Time
	count int64
}

// NewMemoryStore returns an in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*memoryWindow), now: time.Now}
}

func (s *MemoryStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows[key]
	if !ok || now.Sub(w.start) >= window {
		w = &memoryWindow{start: now}
		s.windows[key] = w
	}
	w.count++
	remaining := window - now.Sub(w.start)
	return w.count, remaining, nil
}
