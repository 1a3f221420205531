package httptransport

import (
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"authgate/backend/internal/auth"
	"authgate/backend/internal/config"
	"authgate/backend/internal/health"
	"authgate/backend/internal/middleware"
	"authgate/backend/internal/monitoring"
	"authgate/backend/internal/ratelimit"
	"authgate/backend/internal/service"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config        *config.Config
	AuthService   *auth.Service
	Sessions      *auth.SessionManager
	APIKeyService *service.APIKeyService
	Limiter       *ratelimit.Limiter  // 双窗口限流器，nil 表示禁用
	Metrics       *monitoring.Metrics // 指标采集，nil 表示禁用
	Health        *health.Checker     // 健康检查，nil 表示禁用
	Logger        *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
//
// 中间件顺序即信任边界顺序：先解析身份，再按身份限流，最后做准入校验。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()

	// 使用自定义中间件替代默认中间件
	router.Use(middleware.RecoveryHandler(deps.Metrics, log))
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(1 * 1024 * 1024))

	if len(deps.Config.Proxy.TrustedProxies) > 0 {
		if err := router.SetTrustedProxies(deps.Config.Proxy.TrustedProxies); err != nil {
			log.Warn("invalid trusted proxies config", zap.Error(err))
		}
	}

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins: deps.Config.CORS.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "X-API-Key"},
		ExposeHeaders: []string{
			"Content-Length",
			"X-RateLimit-Limit-Minute",
			"X-RateLimit-Remaining-Minute",
			"X-RateLimit-Limit-Hour",
			"X-RateLimit-Remaining-Hour",
			"Retry-After",
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	// 进程级全局限速（在身份解析之前，挡住突发洪峰）
	if deps.Config.Throttle.Enabled {
		router.Use(middleware.Throttle(deps.Config.Throttle.RPS, deps.Config.Throttle.Burst))
	}

	if deps.Metrics != nil {
		router.Use(middleware.Metrics(deps.Metrics))
	}

	// 信任边界三段式：认证 -> 限流 -> 准入
	authenticator := middleware.NewAuthenticator(deps.Sessions, deps.APIKeyService, log)
	router.Use(authenticator.Authenticate())
	if deps.Limiter != nil {
		router.Use(middleware.RateLimit(deps.Limiter, deps.Metrics, log))
	}
	router.Use(authenticator.Enforce(deps.Config.APIKey.RequiredPaths, deps.Config.APIKey.ExemptPaths))

	// 创建处理器
	authHandler := NewAuthHandler(deps.AuthService, deps.Sessions, deps.Metrics, log)
	apiKeyHandler := NewAPIKeyHandler(deps.APIKeyService, log)

	// 健康检查与指标
	if deps.Health != nil {
		router.GET("/healthz", gin.WrapF(deps.Health.LiveEndpoint))
		router.GET("/readyz", gin.WrapF(deps.Health.ReadyEndpoint))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	// V1 API
	v1 := router.Group("/v1")
	{
		// ========== Auth Routes ==========
		authRoutes := v1.Group("/auth")
		{
			authRoutes.POST("/register", authHandler.Register)
			authRoutes.POST("/login", authHandler.Login)
			authRoutes.POST("/logout", authenticator.RequireSession(), authHandler.Logout)
			authRoutes.GET("/me", authenticator.RequireIdentity(), authHandler.Me)
		}

		// ========== API Key Routes（仅管理员） ==========
		keyRoutes := v1.Group("/keys")
		keyRoutes.Use(authenticator.RequireSession(), middleware.RequireAdmin())
		{
			keyRoutes.POST("", apiKeyHandler.Create)
			keyRoutes.GET("", apiKeyHandler.List)
			keyRoutes.DELETE("/:id", apiKeyHandler.Revoke)
		}
	}

	return router
}
