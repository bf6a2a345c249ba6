// Package ratelimit caps OTP verification attempts per client.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Result is the outcome of one limiter check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is whole seconds until the window resets; zero when allowed.
	RetryAfter int
}

// Limiter counts hits per key inside a fixed window.
type Limiter interface {
	Allow(ctx context.Context, key string) (*Result, error)
}

type clock func() time.Time

func windowStart(now time.Time, window time.Duration) time.Time {
	return now.Truncate(window)
}

func result(count int64, limit int, reset, now time.Time) *Result {
	r := &Result{
		Allowed: count <= int64(limit),
		Limit:   limit,
		ResetAt: reset,
	}
	if r.Allowed {
		r.Remaining = limit - int(count)
		return r
	}
	secs := int(reset.Sub(now).Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	r.RetryAfter = secs
	return r
}

// RedisLimiter shares counters across instances. Each window gets its own key
// so INCR plus PEXPIRE in one MULTI is enough.
type RedisLimiter struct {
	client redis.Cmdable
	prefix string
	limit  int
	window time.Duration
	now    clock
}

func NewRedisLimiter(client redis.Cmdable, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: "signlink:rl:", limit: limit, window: window, now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	now := l.now()
	start := windowStart(now, l.window)
	redisKey := l.prefix + key + ":" + strconv.FormatInt(start.Unix(), 10)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.PExpire(ctx, redisKey, l.window)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rate limit incr: %w", err)
	}
	return result(incr.Val(), l.limit, start.Add(l.window), now), nil
}

// MemoryLimiter is the single-instance limiter used when Redis is not configured.
type MemoryLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     clock
	buckets map[string]*bucket
}

type bucket struct {
	start time.Time
	count int64
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{limit: limit, window: window, now: time.Now, buckets: make(map[string]*bucket)}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (*Result, error) {
	now := l.now()
	start := windowStart(now, l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || !b.start.Equal(start) {
		if !ok && len(l.buckets) > 10000 {
			l.evict(start)
		}
		b = &bucket{start: start}
		l.buckets[key] = b
	}
	b.count++
	return result(b.count, l.limit, start.Add(l.window), now), nil
}

func (l *MemoryLimiter) evict(current time.Time) {
	for k, b := range l.buckets {
		if b.start.Before(current) {
			delete(l.buckets, k)
		}
	}
}
