package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"tapduel/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

var rateLimiter *redis.Client

// InitRedisRateLimiter подключает redis для лимитера запросов. Пустой
// url - лимитер выключен (dev и тесты), все запросы проходят.
func InitRedisRateLimiter(url string) {
	if url == "" {
		logger.Get().Warn("rate limiter выключен: REDIS_URL не задан")
		return
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		logger.Get().Error("rate limiter: некорректный REDIS_URL", "error", err)
		return
	}
	rateLimiter = redis.NewClient(opts)
}

// Client возвращает подключение лимитера для переиспользования под кэш
func Client() *redis.Client {
	return rateLimiter
}

// RateLimit ограничивает клиента limit запросами за window, ключ по
// маршруту и ip. Недоступный redis запросы не блокирует: лимитер -
// защита от злоупотреблений, а не точка отказа.
func RateLimit(limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rateLimiter == nil {
			c.Next()
			return
		}

		key := fmt.Sprintf("ratelimit:%s:%s", c.FullPath(), c.ClientIP())
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		n, err := rateLimiter.Incr(ctx, key).Result()
		if err != nil {
			c.Next()
			return
		}
		if n == 1 {
			rateLimiter.Expire(ctx, key, window)
		}
		if n > int64(limit) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "слишком много запросов"})
			return
		}
		c.Next()
	}
}
