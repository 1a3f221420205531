package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"authgate/backend/internal/monitoring"
	"authgate/backend/internal/ratelimit"
)

// RateLimit 身份限流中间件
//
// 消费 Authenticate 阶段解析出的标识符，对每个请求做双窗口判定。
// 每个响应（含放行的）都带两组限额头；拒绝时返回 429 与 Retry-After。
func RateLimit(limiter *ratelimit.Limiter, metrics *monitoring.Metrics, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		identity := c.GetString(CtxIdentity)
		if identity == "" {
			identity = "ip:" + c.ClientIP()
		}

		res := limiter.Allow(identity)

		c.Header("X-RateLimit-Limit-Minute", strconv.Itoa(res.MinuteLimit))
		c.Header("X-RateLimit-Remaining-Minute", strconv.Itoa(res.MinuteRemaining))
		c.Header("X-RateLimit-Limit-Hour", strconv.Itoa(res.HourLimit))
		c.Header("X-RateLimit-Remaining-Hour", strconv.Itoa(res.HourRemaining))

		if !res.Allowed {
			retryAfter := int64(math.Ceil(res.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))

			log.Warn("rate limit exceeded",
				zap.String("identity", identity),
				zap.String("path", c.Request.URL.Path),
			)

			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success":    false,
				"message":    "请求过于频繁，请稍后重试",
				"retryAfter": retryAfter,
			})
			return
		}

		if metrics != nil {
			metrics.RecordRateLimitAllow()
		}
		c.Next()
	}
}
