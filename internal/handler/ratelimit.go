package handler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fabian4819/Kedaireka-Backend/internal/domain"
)

// Limit is a request budget per client address and fixed window.
type Limit struct {
	Name   string
	Max    int
	Window time.Duration
}

// Budgets applied to the API.
var (
	LoginLimit    = Limit{Name: "login", Max: 5, Window: 15 * time.Minute}
	RegisterLimit = Limit{Name: "register", Max: 10, Window: 15 * time.Minute}
	GoogleLimit   = Limit{Name: "google", Max: 20, Window: 15 * time.Minute}
	AuthLimit     = Limit{Name: "auth", Max: 5, Window: 15 * time.Minute}
)

// RedisStore is a fixed-window counter shared by every instance. Redis
// failures let the request through.
type RedisStore struct {
	client *redis.Client
	limit  Limit
	log    *zap.Logger
}

var _ middleware.RateLimiterStore = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore for one budget.
func NewRedisStore(client *redis.Client, limit Limit, log *zap.Logger) *RedisStore {
	return &RedisStore{client: client, limit: limit, log: log}
}

// Allow counts one request from identifier.
func (s *RedisStore) Allow(identifier string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	key := fmt.Sprintf("ratelimit:%s:%s", s.limit.Name, identifier)
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		s.log.Warn("rate limiter unavailable", zap.String("limit", s.limit.Name), zap.Error(err))
		return true, nil
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, s.limit.Window).Err(); err != nil {
			s.log.Warn("rate limiter expire failed", zap.String("key", key), zap.Error(err))
		}
	}
	return count <= int64(s.limit.Max), nil
}

// RateLimiter builds per-budget middleware on a shared backend.
type RateLimiter struct {
	redis *redis.Client
	log   *zap.Logger
}

// NewRateLimiter uses Redis when client is non-nil and a process-local
// token bucket otherwise.
func NewRateLimiter(client *redis.Client, log *zap.Logger) *RateLimiter {
	return &RateLimiter{redis: client, log: log}
}

// Middleware enforces limit. Denied requests get 429 with Retry-After.
func (r *RateLimiter) Middleware(limit Limit) echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: r.store(limit),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return fmt.Errorf("identify client: %w", err)
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			h := c.Response().Header()
			h.Set("Retry-After", strconv.Itoa(int(limit.Window.Seconds())))
			h.Set("X-RateLimit-Limit", strconv.Itoa(limit.Max))
			h.Set("X-RateLimit-Remaining", "0")
			r.log.Warn("rate limit exceeded",
				zap.String("limit", limit.Name),
				zap.String("ip", identifier),
				zap.String("path", c.Request().URL.Path),
			)
			return fmt.Errorf("%s: %w", limit.Name, domain.ErrRateLimited)
		},
	})
}

func (r *RateLimiter) store(limit Limit) middleware.RateLimiterStore {
	if r.redis != nil {
		return NewRedisStore(r.redis, limit, r.log)
	}
	return middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(float64(limit.Max) / limit.Window.Seconds()),
		Burst:     limit.Max,
		ExpiresIn: limit.Window,
	})
}
