package ratelimit

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/sid-auth/internal/logger"
)

// Middleware はクライアントIPごとに Limiter を適用する gin ミドルウェアです。
// Limiter 自体のエラー時はリクエストを通します。
func Middleware(limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			logger.FromContext(c.Request.Context()).Err(err).Msg("rate limiter unavailable")
			c.Next()
			return
		}

		resetSeconds := int64(math.Ceil(result.ResetAfter.Seconds()))
		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetSeconds, 10))

		if !result.Allowed {
			// Retry-After は秒数で返す
			c.Header("Retry-After", strconv.FormatInt(resetSeconds, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    "TOO_MANY_REQUESTS",
				"message": "リクエストが多すぎます。しばらくしてから再度お試しください。",
			})
			return
		}

		c.Next()
	}
}
