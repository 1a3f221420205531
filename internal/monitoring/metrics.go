package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 认证指标
	AuthAttempts    *prometheus.CounterVec
	SessionsIssued  prometheus.Counter
	SessionsExpired prometheus.Counter

	// API 密钥指标
	APIKeysIssued  prometheus.Counter
	APIKeysRevoked prometheus.Counter

	// 限流指标
	RateLimitAllowed prometheus.Counter
	RateLimitBlocked prometheus.Counter

	// 错误指标
	PanicsTotal prometheus.Counter
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		AuthAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authgate_auth_attempts_total",
				Help: "Authentication attempts by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		SessionsIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "authgate_sessions_issued_total",
			Help: "Total number of sessions issued",
		}),
		SessionsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "authgate_sessions_expired_total",
			Help: "Total number of sessions removed after expiry",
		}),
		APIKeysIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "authgate_api_keys_issued_total",
			Help: "Total number of API keys issued",
		}),
		APIKeysRevoked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "authgate_api_keys_revoked_total",
			Help: "Total number of API keys revoked",
		}),
		RateLimitAllowed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "authgate_rate_limit_allowed_total",
			Help: "Requests allowed by the rate limiter",
		}),
		RateLimitBlocked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "authgate_rate_limit_blocked_total",
			Help: "Requests blocked by the rate limiter",
		}),
		PanicsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "authgate_panics_total",
			Help: "Total number of recovered panics",
		}),
	}
}

// RecordHTTPRequest 记录一次 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordAuthAttempt 记录一次认证尝试
func (m *Metrics) RecordAuthAttempt(method, outcome string) {
	m.AuthAttempts.WithLabelValues(method, outcome).Inc()
}

// RecordAuthFailure 记录一次认证失败（HTTP 401）
func (m *Metrics) RecordAuthFailure() {
	m.AuthAttempts.WithLabelValues("http", "failure").Inc()
}

// RecordRateLimitBlock 记录一次限流拦截
func (m *Metrics) RecordRateLimitBlock() {
	m.RateLimitBlocked.Inc()
}

// RecordRateLimitAllow 记录一次限流放行
func (m *Metrics) RecordRateLimitAllow() {
	m.RateLimitAllowed.Inc()
}

// RecordSessionIssued 记录一次会话签发
func (m *Metrics) RecordSessionIssued() {
	m.SessionsIssued.Inc()
}

// RecordSessionsExpired 记录过期会话清理数量
func (m *Metrics) RecordSessionsExpired(n int) {
	m.SessionsExpired.Add(float64(n))
}

// RecordAPIKeyIssued 记录一次 API 密钥签发
func (m *Metrics) RecordAPIKeyIssued() {
	m.APIKeysIssued.Inc()
}

// RecordAPIKeyRevoked 记录一次 API 密钥吊销
func (m *Metrics) RecordAPIKeyRevoked() {
	m.APIKeysRevoked.Inc()
}

// RecordPanic 记录一次被恢复的 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// Handler 返回 Prometheus 指标处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
