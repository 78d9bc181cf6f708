// Package ratelimit provides a redis-backed fixed-window limiter for the auth
// endpoints. A nil limiter (redis not configured) allows everything; limiter
// outages degrade to allow — rate limiting protects capacity, it is not an
// authorization control.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Limiter struct {
	client *redis.Client
	logger *zap.Logger
}

func New(client *redis.Client, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{client: client, logger: logger}
}

// Allow reports whether another request keyed by key fits in the current
// window of the given size.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) bool {
	if l == nil || l.client == nil || limit <= 0 {
		return true
	}
	bucket := time.Now().UTC().Truncate(window).Unix()
	redisKey := fmt.Sprintf("ratelimit:%s:%d", key, bucket)

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		l.logger.Warn("rate limiter unavailable", zap.Error(err))
		return true
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, window).Err(); err != nil {
			l.logger.Warn("rate limiter expire failed", zap.Error(err))
		}
	}
	return count <= int64(limit)
}
