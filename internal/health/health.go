package health

import (
	"net/http"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"authgate/backend/internal/domain"
)

// Checker 健康检查器
//
// liveness 只看进程自身（协程数上限），readiness 依赖存储后端连通性。
type Checker struct {
	handler healthcheck.Handler
	store   domain.Store
	log     *zap.Logger
}

// Pinger 附加的可探活依赖（如 Redis 会话存储）
type Pinger interface {
	Ping() error
}

// NewChecker 创建健康检查器
func NewChecker(store domain.Store, log *zap.Logger) *Checker {
	hc := &Checker{
		handler: healthcheck.NewHandler(),
		store:   store,
		log:     log,
	}

	hc.handler.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(2000))
	hc.handler.AddReadinessCheck("storage", func() error {
		return store.Health()
	})

	return hc
}

// AddDependency 注册额外的就绪检查依赖
func (hc *Checker) AddDependency(name string, p Pinger) {
	hc.handler.AddReadinessCheck(name, func() error {
		return p.Ping()
	})
}

// LiveEndpoint 存活检查处理器
func (hc *Checker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.handler.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪检查处理器
func (hc *Checker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.handler.ReadyEndpoint(w, r)
}
