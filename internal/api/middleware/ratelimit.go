package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"volunteerhub/internal/pkg/metrics"
	"volunteerhub/internal/pkg/ratelimit"

	"github.com/gin-gonic/gin"
)

// Limiter 按 key 判定是否放行。
type Limiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

// RateLimit 对写请求限流：已认证用户按用户 ID，匿名请求按客户端 IP。
// 限流后端不可用时放行并记录日志。
func RateLimit(limiter Limiter, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		key := "ip:" + c.ClientIP()
		if actor := ActorFrom(c); actor.Authenticated() {
			key = "user:" + strconv.FormatUint(uint64(actor.UserID), 10)
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 500*time.Millisecond)
		decision, err := limiter.Allow(ctx, key)
		cancel()
		if err != nil {
			if logger != nil {
				logger.Warn("rate limiter unavailable", slog.String("error", err.Error()))
			}
			c.Next()
			return
		}
		if !decision.Allowed {
			metrics.RateLimitedTotal.Inc()
			secs := int(math.Ceil(decision.RetryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "too many requests",
				"kind":        "rate_limited",
				"retry_after": secs,
			})
			return
		}
		c.Next()
	}
}
