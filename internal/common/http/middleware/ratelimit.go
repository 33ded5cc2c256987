package middleware

import (
	"context"
	"fmt"
	"time"

	"codeduel/pkg/errors"
	"codeduel/pkg/utils/logger"
	"codeduel/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultRateWindow  = time.Minute
	defaultRateTimeout = 500 * time.Millisecond
	rateKeyPrefix      = "codeduel:rate:"
)

// Counter is the cache surface a fixed-window limiter needs.
type Counter interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// RatePolicy caps requests per client IP and across a route within Window.
// A zero max disables that dimension.
type RatePolicy struct {
	Window   time.Duration `yaml:"window"`
	IPMax    int           `yaml:"ipMax"`
	RouteMax int           `yaml:"routeMax"`
}

// RateLimiter counts requests in fixed windows stored in Redis.
type RateLimiter struct {
	counter Counter
	timeout time.Duration
}

func NewRateLimiter(counter Counter, timeout time.Duration) *RateLimiter {
	if timeout <= 0 {
		timeout = defaultRateTimeout
	}
	return &RateLimiter{counter: counter, timeout: timeout}
}

// Allow increments key and fails with TooManyRequests once it passes max.
func (l *RateLimiter) Allow(ctx context.Context, key string, max int, window time.Duration) error {
	if max <= 0 {
		return nil
	}
	if window <= 0 {
		window = defaultRateWindow
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	key = rateKeyPrefix + key
	created, err := l.counter.SetNX(ctx, key, 1, window)
	if err != nil {
		return errors.Wrapf(err, errors.CacheError, "rate limit check failed")
	}
	count := int64(1)
	if !created {
		if count, err = l.counter.Incr(ctx, key); err != nil {
			return errors.Wrapf(err, errors.CacheError, "rate limit check failed")
		}
		// A key left without expiry would block the client forever.
		if ttl, err := l.counter.TTL(ctx, key); err == nil && ttl < 0 {
			_ = l.counter.Expire(ctx, key, window)
		}
	}
	if count > int64(max) {
		return errors.New(errors.TooManyRequests).WithDetail("limit", max)
	}
	return nil
}

// RateLimit applies policy to the route named routeKey. Cache failures let the
// request through.
func RateLimit(limiter *RateLimiter, routeKey string, policy RatePolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		keys := []struct {
			key string
			max int
		}{
			{key: fmt.Sprintf("ip:%s:%s", c.ClientIP(), routeKey), max: policy.IPMax},
			{key: "route:" + routeKey, max: policy.RouteMax},
		}
		for _, k := range keys {
			err := limiter.Allow(ctx, k.key, k.max, policy.Window)
			if err == nil {
				continue
			}
			if errors.Is(err, errors.TooManyRequests) {
				response.AbortWithError(c, err)
				return
			}
			logger.Warn(ctx, "rate limit unavailable", zap.String("route", routeKey), zap.Error(err))
			break
		}
		c.Next()
	}
}
