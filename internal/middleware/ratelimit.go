package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"callsession-backend/internal/database"
	apperrors "callsession-backend/pkg/errors"
	"callsession-backend/pkg/logger"
	"callsession-backend/pkg/response"
)

// RateLimiter is a fixed-window limiter backed by Redis INCR. It fails open
// when Redis is degraded.
type RateLimiter struct {
	client   *database.RedisClient
	requests int
	window   time.Duration
	now      func() time.Time
}

// NewRateLimiter allows requests per window for each user (or client IP)
func NewRateLimiter(client *database.RedisClient, requests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client:   client,
		requests: requests,
		window:   window,
		now:      time.Now,
	}
}

// Middleware returns a Gin middleware for rate limiting
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := "ip:" + c.ClientIP()
		if userID, ok := c.Get("user_id"); ok {
			identifier = fmt.Sprintf("user:%v", userID)
		}

		allowed, remaining, resetAt, err := rl.check(c.Request.Context(), identifier)
		if err != nil {
			logger.FromContext(c.Request.Context()).Debug("Rate limit check skipped", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))

		if !allowed {
			response.FromError(c, apperrors.RateLimitExceededError())
			c.Abort()
			return
		}

		c.Next()
	}
}

func (rl *RateLimiter) check(ctx context.Context, identifier string) (allowed bool, remaining int, resetAt int64, err error) {
	windowSeconds := int64(rl.window / time.Second)
	if windowSeconds < 1 {
		windowSeconds = 1
	}
	windowStart := rl.now().Unix() / windowSeconds * windowSeconds
	key := fmt.Sprintf("ratelimit:calls:%s:%d", identifier, windowStart)

	count, err := rl.client.SafeIncr(ctx, key).Result()
	if err != nil {
		return false, 0, 0, fmt.Errorf("failed to increment rate limit: %w", err)
	}
	if count == 1 {
		if err := rl.client.SafeExpire(ctx, key, rl.window).Err(); err != nil {
			return false, 0, 0, fmt.Errorf("failed to set rate limit expiry: %w", err)
		}
	}

	remaining = rl.requests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return int(count) <= rl.requests, remaining, windowStart + windowSeconds, nil
}
