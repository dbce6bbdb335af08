// Package ratelimit provides per-provider, per-account token buckets for
// provider API calls, shared across workers via Redis with an in-memory
// fallback for local mode.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/meridianhq/meridian/internal/calendar/domain"
)

// Class separates read and write quotas.
type Class string

const (
	ClassRead  Class = "read"
	ClassWrite Class = "write"
)

// Defaults per provider account.
const (
	DefaultReadPerMinute  = 240
	DefaultWritePerMinute = 120
	DefaultReadMaxDelay   = time.Second
	DefaultWriteMaxDelay  = 2 * time.Second
)

// Key identifies one bucket owner.
type Key struct {
	Provider  domain.CalendarProvider
	AccountID string
}

func (k Key) String() string {
	return string(k.Provider) + ":" + k.AccountID
}

// Limiter grants quota for one provider call. Acquire blocks up to the
// class's bounded delay and then fails with domain.ErrRateLimited.
type Limiter interface {
	Acquire(ctx context.Context, key Key, class Class) error
}

// Limits configures bucket sizes and waits.
type Limits struct {
	ReadPerMinute  int
	WritePerMinute int
	ReadMaxDelay   time.Duration
	WriteMaxDelay  time.Duration
}

// DefaultLimits returns the default quota configuration.
func DefaultLimits() Limits {
	return Limits{
		ReadPerMinute:  DefaultReadPerMinute,
		WritePerMinute: DefaultWritePerMinute,
		ReadMaxDelay:   DefaultReadMaxDelay,
		WriteMaxDelay:  DefaultWriteMaxDelay,
	}
}

func (l Limits) perMinute(class Class) int {
	if class == ClassWrite {
		return l.WritePerMinute
	}
	return l.ReadPerMinute
}

func (l Limits) maxDelay(class Class) time.Duration {
	if class == ClassWrite {
		return l.WriteMaxDelay
	}
	return l.ReadMaxDelay
}

// RedisLimiter counts calls in fixed one-minute windows in Redis so every
// worker process shares the same buckets.
type RedisLimiter struct {
	client *redis.Client
	limits Limits
	logger *slog.Logger
}

// NewRedisLimiter creates a Redis-backed limiter.
func NewRedisLimiter(client *redis.Client, limits Limits, logger *slog.Logger) *RedisLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLimiter{client: client, limits: limits, logger: logger}
}

// Acquire increments the current window's counter. Over quota it sleeps
// until the window rolls, bounded by the class delay, then fails with
// ErrRateLimited.
func (l *RedisLimiter) Acquire(ctx context.Context, key Key, class Class) error {
	limit := l.limits.perMinute(class)
	deadline := time.Now().Add(l.limits.maxDelay(class))

	for {
		now := time.Now()
		window := now.Unix() / 60
		redisKey := fmt.Sprintf("ratelimit:%s:%s:%d", key.String(), class, window)

		pipe := l.client.TxPipeline()
		incr := pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, 2*time.Minute)
		if _, err := pipe.Exec(ctx); err != nil {
			// Redis being down must not take the sync path with it.
			l.logger.Warn("rate limiter unavailable, allowing call", "error", err)
			return nil
		}
		if incr.Val() <= int64(limit) {
			return nil
		}

		nextWindow := time.Unix((window+1)*60, 0)
		wait := time.Until(nextWindow)
		if time.Now().Add(wait).After(deadline) {
			return fmt.Errorf("%w: %s %s bucket exhausted", domain.ErrRateLimited, key.String(), class)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// MemoryLimiter is the in-process fallback used when Redis is not
// configured. Buckets refill continuously instead of per fixed window.
type MemoryLimiter struct {
	limits Limits

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewMemoryLimiter creates an in-memory limiter.
func NewMemoryLimiter(limits Limits) *MemoryLimiter {
	return &MemoryLimiter{
		limits:  limits,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Acquire waits for a token, bounded by the class delay.
func (l *MemoryLimiter) Acquire(ctx context.Context, key Key, class Class) error {
	bucket := l.bucket(key, class)

	waitCtx, cancel := context.WithTimeout(ctx, l.limits.maxDelay(class))
	defer cancel()
	if err := bucket.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s %s bucket exhausted", domain.ErrRateLimited, key.String(), class)
	}
	return nil
}

func (l *MemoryLimiter) bucket(key Key, class Class) *rate.Limiter {
	id := key.String() + ":" + string(class) + ":" + strconv.Itoa(l.limits.perMinute(class))
	l.mu.Lock()
	defer l.mu.Unlock()
	bucket, ok := l.buckets[id]
	if !ok {
		perMinute := l.limits.perMinute(class)
		bucket = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
		l.buckets[id] = bucket
	}
	return bucket
}
