package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const rateLimitPrefix = "ratelimit:"

// RateLimiter answers whether a request identified by key may proceed.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Reset(ctx context.Context, key string) error
}

// redisRateLimiter is a sliding-window limiter on Redis sorted sets, so
// the window is shared across API instances.
type redisRateLimiter struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisRateLimiter(client *redis.Client, logger *zap.Logger) RateLimiter {
	return &redisRateLimiter{client: client, logger: logger}
}

func (r *redisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	windowStart := now.Add(-window)
	rateLimitKey := rateLimitPrefix + key

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, rateLimitKey, "-inf", strconv.FormatInt(windowStart.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, rateLimitKey)

	member := strconv.FormatInt(now.UnixNano(), 10)
	pipe.ZAdd(ctx, rateLimitKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.Expire(ctx, rateLimitKey, window+time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("rate limiter pipeline failed",
			zap.String("key", key),
			zap.Error(err))
		return false, err
	}

	// countCmd ran before the ZAdd, so it is the pre-request count.
	if countCmd.Val() >= int64(limit) {
		r.client.ZRem(ctx, rateLimitKey, member)
		return false, nil
	}
	return true, nil
}

func (r *redisRateLimiter) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, rateLimitPrefix+key).Err()
}

// localRateLimiter is the in-process fallback when Redis is not
// configured: a token bucket per key. Limits are then per instance, not
// fleet-wide.
type localRateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func NewLocalRateLimiter() RateLimiter {
	return &localRateLimiter{buckets: make(map[string]*rate.Limiter)}
}

func (l *localRateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	l.mu.Lock()
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = rate.NewLimiter(rate.Limit(float64(limit)/window.Seconds()), limit)
		l.buckets[key] = bucket
	}
	l.mu.Unlock()
	return bucket.Allow(), nil
}

func (l *localRateLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
	return nil
}
