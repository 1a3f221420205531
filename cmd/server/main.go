package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"authgate/backend/internal/auth"
	"authgate/backend/internal/config"
	"authgate/backend/internal/domain"
	"authgate/backend/internal/health"
	"authgate/backend/internal/logger"
	"authgate/backend/internal/monitoring"
	"authgate/backend/internal/pool"
	"authgate/backend/internal/ratelimit"
	"authgate/backend/internal/service"
	"authgate/backend/internal/storage/memory"
	"authgate/backend/internal/storage/postgres"
	redisstore "authgate/backend/internal/storage/redis"
	sqlstore "authgate/backend/internal/storage/sql"
	httptransport "authgate/backend/internal/transport/http"
)

// main 启动认证网关服务
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	// 初始化日志系统
	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     "",
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting authgate server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 初始化存储层
	store, err := initializeStorage(cfg, log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize storage: %v", err))
	}
	defer store.Close()

	// 会话可以单独落 Redis，利用原生 TTL 过期
	var sessionRepo domain.SessionRepository = store
	var redisSessions *redisstore.SessionStore
	if cfg.Redis.Sessions {
		redisSessions, err = redisstore.NewSessionStore(&cfg.Redis, log)
		if err != nil {
			panic(fmt.Sprintf("failed to initialize redis session store: %v", err))
		}
		defer redisSessions.Close()
		sessionRepo = redisSessions
	}

	// 初始化监控与健康检查
	metrics := monitoring.NewMetrics()
	healthChecker := health.NewChecker(store, log)
	if redisSessions != nil {
		healthChecker.AddDependency("redis", redisSessions)
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 密码哈希工作池：限制并发的 argon2 计算数量，防止登录洪峰耗尽内存
	hashPool := pool.New(cfg.Password.HashWorkers, cfg.Password.HashWorkers*4, log)
	hashPool.Start(ctx)
	defer hashPool.Stop()

	// 初始化服务层
	sessions := auth.NewSessionManager(sessionRepo, store, cfg.Session.TTL, metrics, log)
	authService := auth.NewService(store, sessions, hashPool, auth.Argon2Params{
		Memory:      cfg.Password.Memory,
		Iterations:  cfg.Password.Iterations,
		Parallelism: cfg.Password.Parallelism,
	}, cfg.Password.MinLength, log)
	apiKeyService := service.NewAPIKeyService(store, metrics, log)

	// 双窗口限流器
	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(ratelimit.Config{
			PerMinute: cfg.RateLimit.PerMinute,
			PerHour:   cfg.RateLimit.PerHour,
			IdleTTL:   cfg.RateLimit.IdleTTL,
		}, log)
		log.Info("rate limiter enabled",
			zap.Int("per_minute", cfg.RateLimit.PerMinute),
			zap.Int("per_hour", cfg.RateLimit.PerHour),
		)
	}

	// 创建 HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:        cfg,
		AuthService:   authService,
		Sessions:      sessions,
		APIKeyService: apiKeyService,
		Limiter:       limiter,
		Metrics:       metrics,
		Health:        healthChecker,
		Logger:        log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 过期会话后台清扫 goroutine（Redis 后端依赖原生 TTL，无需清扫）
	if !cfg.Redis.Sessions {
		group.Go(func() error {
			sessions.Sweep(groupCtx, cfg.Session.SweepInterval)
			return nil
		})
	}

	// 限流条目回收 goroutine
	if limiter != nil {
		group.Go(func() error {
			limiter.Sweep(groupCtx, cfg.RateLimit.SweepInterval)
			return nil
		})
	}

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		log.Info("server stopped")
		return nil
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

// initializeStorage 根据配置选择存储后端
func initializeStorage(cfg *config.Config, log *zap.Logger) (domain.Store, error) {
	switch cfg.Database.Type {
	case "":
		log.Info("using memory storage (development mode)")
		return memory.NewStore(), nil
	case "mysql", "postgres":
		log.Info("using SQL storage", zap.String("driver", cfg.Database.Type))
		return sqlstore.NewStore(
			cfg.Database.Type,
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
		)
	case "pgx":
		log.Info("using native PostgreSQL storage")
		return postgres.NewStore(&cfg.Database, log)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Database.Type)
	}
}
