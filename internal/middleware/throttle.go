package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Throttle 进程级全局限速中间件
//
// 在身份限流之前生效的粗粒度保险丝，用于挡住瞬时洪峰。
// 与身份限流不同，它不关心调用方是谁。
func Throttle(rps float64, burst int) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success":    false,
				"message":    "服务器繁忙，请稍后重试",
				"retryAfter": 1,
			})
			return
		}
		c.Next()
	}
}
