package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const rateLimitPrefix = "rl:debit:"

// AccountRateLimit caps requests per account per minute using a fixed Redis
// window. It is a no-op without Redis and fails open on cache errors.
func AccountRateLimit(cache *redis.Client, maxPerMin int, logger *slog.Logger) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 600
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		accountID := c.Params("accountId")
		if accountID == "" {
			return c.Next()
		}

		window := time.Now().Unix() / 60
		key := rateLimitPrefix + accountID + ":" + strconv.FormatInt(window, 10)

		pipe := cache.TxPipeline()
		incr := pipe.Incr(c.UserContext(), key)
		pipe.Expire(c.UserContext(), key, 2*time.Minute)
		if _, err := pipe.Exec(c.UserContext()); err != nil {
			if logger != nil {
				logger.Warn("rate limit check failed", slog.String("account_id", accountID), slog.Any("error", err))
			}
			return c.Next()
		}

		count := incr.Val()
		remaining := int64(maxPerMin) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Set("X-RateLimit-Limit", strconv.Itoa(maxPerMin))
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		if count > int64(maxPerMin) {
			c.Set(fiber.HeaderRetryAfter, strconv.FormatInt(60-time.Now().Unix()%60, 10))
			return fiber.NewError(http.StatusTooManyRequests, "debit rate limit exceeded, try again later")
		}
		return c.Next()
	}
}
