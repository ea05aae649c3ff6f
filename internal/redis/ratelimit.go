package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig defines rate limiting parameters.
type RateLimitConfig struct {
	Limit  int           // Maximum requests allowed
	Window time.Duration // Time window for the limit
}

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RateLimiter implements sliding window rate limiting on Redis sorted sets.
type RateLimiter struct {
	client *Client
	logger *zap.Logger
	config RateLimitConfig
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(client *Client, logger *zap.Logger, config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		client: client,
		logger: logger,
		config: config,
	}
}

// Limit is the configured request budget per window.
func (r *RateLimiter) Limit() int {
	return r.config.Limit
}

// Allow records a request for key and reports whether it fits in the window.
// The request is added optimistically and removed again when over the limit,
// so concurrent callers never both take the last slot.
func (r *RateLimiter) Allow(ctx context.Context, key string) (*RateLimitResult, error) {
	now := time.Now()
	redisKey := r.client.key("ratelimit", key)
	member := uuid.NewString()
	windowStart := strconv.FormatInt(now.Add(-r.config.Window).UnixNano(), 10)

	pipe := r.client.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", windowStart)
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	countCmd := pipe.ZCard(ctx, redisKey)
	pipe.PExpire(ctx, redisKey, r.config.Window+time.Second)

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis pipeline failed: %w", err)
	}

	count := int(countCmd.Val())
	result := &RateLimitResult{
		Allowed:   count <= r.config.Limit,
		Remaining: max(0, r.config.Limit-count),
		ResetAt:   now.Add(r.config.Window),
	}

	if !result.Allowed {
		if err := r.client.rdb.ZRem(ctx, redisKey, member).Err(); err != nil {
			return nil, fmt.Errorf("redis zrem failed: %w", err)
		}
		r.logger.Debug("rate limit exceeded",
			zap.String("key", key),
			zap.Int("limit", r.config.Limit),
		)
	}

	return result, nil
}
