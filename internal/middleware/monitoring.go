package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"authgate/backend/internal/monitoring"
)

// Metrics HTTP 指标中间件
//
// 记录请求量与耗时，并按限流/认证结果累计业务指标。
func Metrics(m *monitoring.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		m.RecordHTTPRequest(c.Request.Method, c.FullPath(), strconv.Itoa(status), time.Since(start))

		switch status {
		case http.StatusTooManyRequests:
			m.RecordRateLimitBlock()
		case http.StatusUnauthorized:
			m.RecordAuthFailure()
		}
	}
}
