package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisBackend shares fixed-window counters across instances.
//
// Each (key, window) pair maps to one Redis key that expires at the
// window boundary, so counters clean themselves up.
type RedisBackend struct {
	client *redis.Client
	prefix string

	// nowFn is swappable in tests
	nowFn func() time.Time
}

// NewRedisBackend creates a Redis-backed limiter backend.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisBackend{client: client, prefix: prefix, nowFn: time.Now}
}

// Take consumes one slot for the key in the current window. INCR and
// EXPIRE run in one pipeline; INCR is atomic, so concurrent callers
// across instances each observe a distinct count.
func (b *RedisBackend) Take(ctx context.Context, key string, limit int64, window time.Duration) (Result, error) {
	now := b.nowFn()
	windowStart := now.Truncate(window)
	resetAt := windowStart.Add(window)
	redisKey := fmt.Sprintf("%s:%s:%d", b.prefix, key, windowStart.Unix())

	pipe := b.client.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireAt(ctx, redisKey, resetAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("redis rate limit failed: %w", err)
	}

	count := incr.Val()
	if count > limit {
		return Result{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}
	return Result{Allowed: true, Remaining: limit - count, ResetAt: resetAt}, nil
}

// Reset clears the current window counter for a key.
func (b *RedisBackend) Reset(ctx context.Context, key string, window time.Duration) error {
	windowStart := b.nowFn().Truncate(window)
	redisKey := fmt.Sprintf("%s:%s:%d", b.prefix, key, windowStart.Unix())
	return b.client.Del(ctx, redisKey).Err()
}
