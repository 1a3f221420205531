package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// SessionConfig 定义会话管理配置
type SessionConfig struct {
	TTL           time.Duration // 会话有效期，默认 7 天
	SweepInterval time.Duration // 过期会话后台清扫间隔，默认 5 分钟
}

// PasswordConfig 定义密码策略与 argon2id 哈希参数
type PasswordConfig struct {
	MinLength   int    // 密码最小长度，默认 8
	Memory      uint32 // argon2 内存开销（KiB），默认 64MB
	Iterations  uint32 // argon2 迭代次数，默认 3
	Parallelism uint8  // argon2 并行度，默认 2
	HashWorkers int    // 密码哈希并发上限（防撞库耗尽资源），默认 4
}

// RateLimitConfig 定义双窗口限流配置
type RateLimitConfig struct {
	Enabled   bool          // 是否启用限流，默认 true
	PerMinute int           // 每分钟请求上限，默认 60
	PerHour   int           // 每小时请求上限，默认 1000
	IdleTTL   time.Duration // 限流条目空闲多久后被回收，默认 1 小时
	SweepInterval time.Duration // 限流条目清扫间隔，默认 5 分钟
}

// ThrottleConfig 定义进程级全局限速配置（在身份限流之前生效）
type ThrottleConfig struct {
	Enabled bool    // 是否启用，默认 false
	RPS     float64 // 每秒允许的请求数
	Burst   int     // 突发容量
}

// APIKeyConfig 定义 API 密钥强制校验的路径规则
type APIKeyConfig struct {
	RequiredPaths []string // 必须携带 API 密钥的路径前缀
	ExemptPaths   []string // 豁免 API 密钥校验的路径前缀
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // 数据库类型: "mysql"、"postgres" 或 "pgx"
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 配置（可选的会话存储后端）
type RedisConfig struct {
	Address  string // Redis 服务地址，格式 "host:port"
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
	Sessions bool   // 是否将会话存入 Redis（利用原生 TTL 过期）
}

// ProxyConfig 定义可信代理配置
type ProxyConfig struct {
	TrustedProxies []string // 可信代理地址列表；为空时不信任任何转发头
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server    ServerConfig
	Session   SessionConfig
	Password  PasswordConfig
	RateLimit RateLimitConfig
	Throttle  ThrottleConfig
	APIKey    APIKeyConfig
	CORS      CORSConfig
	Log       LogConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Proxy     ProxyConfig
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//   1. 系统环境变量（最高优先级）
//   2. .env 文件（如果存在）
//   3. 默认值
//
// 环境变量前缀: AUTHGATE_
// 例如: AUTHGATE_SERVER_PORT, AUTHGATE_RATELIMIT_PER_MINUTE
func Load() (*Config, error) {
	// 尝试加载 .env 文件（静默失败，因为 .env 文件是可选的）
	loadEnvFile()

	viper.SetEnvPrefix("authgate")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("session.ttl", "168h")
	viper.SetDefault("session.sweep_interval", "5m")
	viper.SetDefault("password.min_length", 8)
	viper.SetDefault("password.memory", 65536)
	viper.SetDefault("password.iterations", 3)
	viper.SetDefault("password.parallelism", 2)
	viper.SetDefault("password.hash_workers", 4)
	viper.SetDefault("ratelimit.enabled", true)
	viper.SetDefault("ratelimit.per_minute", 60)
	viper.SetDefault("ratelimit.per_hour", 1000)
	viper.SetDefault("ratelimit.idle_ttl", "1h")
	viper.SetDefault("ratelimit.sweep_interval", "5m")
	viper.SetDefault("throttle.enabled", false)
	viper.SetDefault("throttle.rps", 500)
	viper.SetDefault("throttle.burst", 1000)
	viper.SetDefault("apikey.required_paths", "")
	viper.SetDefault("apikey.exempt_paths", "/healthz,/readyz,/metrics")
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("database.type", "") // 默认为空，使用内存存储
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("redis.address", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.sessions", false)
	viper.SetDefault("proxy.trusted", "")

	sessionTTL, err := time.ParseDuration(viper.GetString("session.ttl"))
	if err != nil {
		return nil, fmt.Errorf("invalid session.ttl: %w", err)
	}
	if sessionTTL <= 0 {
		return nil, fmt.Errorf("session.ttl must be positive")
	}

	sweepInterval, err := time.ParseDuration(viper.GetString("session.sweep_interval"))
	if err != nil {
		sweepInterval = 5 * time.Minute
	}

	minLength := viper.GetInt("password.min_length")
	if minLength < 8 {
		return nil, fmt.Errorf("password.min_length must be at least 8")
	}

	perMinute := viper.GetInt("ratelimit.per_minute")
	perHour := viper.GetInt("ratelimit.per_hour")
	if perMinute <= 0 || perHour <= 0 {
		return nil, fmt.Errorf("ratelimit.per_minute and ratelimit.per_hour must be positive")
	}

	idleTTL, err := time.ParseDuration(viper.GetString("ratelimit.idle_ttl"))
	if err != nil {
		idleTTL = time.Hour
	}

	rlSweepInterval, err := time.ParseDuration(viper.GetString("ratelimit.sweep_interval"))
	if err != nil {
		rlSweepInterval = 5 * time.Minute
	}

	connMaxLifetime, err := time.ParseDuration(viper.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	hashWorkers := viper.GetInt("password.hash_workers")
	if hashWorkers <= 0 {
		hashWorkers = 4
	}

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	if viper.GetBool("redis.sessions") && viper.GetString("redis.address") == "" {
		return nil, fmt.Errorf("redis.sessions requires redis.address")
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		Session: SessionConfig{
			TTL:           sessionTTL,
			SweepInterval: sweepInterval,
		},
		Password: PasswordConfig{
			MinLength:   minLength,
			Memory:      viper.GetUint32("password.memory"),
			Iterations:  viper.GetUint32("password.iterations"),
			Parallelism: uint8(viper.GetUint("password.parallelism")),
			HashWorkers: hashWorkers,
		},
		RateLimit: RateLimitConfig{
			Enabled:       viper.GetBool("ratelimit.enabled"),
			PerMinute:     perMinute,
			PerHour:       perHour,
			IdleTTL:       idleTTL,
			SweepInterval: rlSweepInterval,
		},
		Throttle: ThrottleConfig{
			Enabled: viper.GetBool("throttle.enabled"),
			RPS:     viper.GetFloat64("throttle.rps"),
			Burst:   viper.GetInt("throttle.burst"),
		},
		APIKey: APIKeyConfig{
			RequiredPaths: parseList(viper.GetString("apikey.required_paths")),
			ExemptPaths:   parseList(viper.GetString("apikey.exempt_paths")),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
		},
		Database: DatabaseConfig{
			Type:            viper.GetString("database.type"),
			DSN:             viper.GetString("database.dsn"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Redis: RedisConfig{
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
			Sessions: viper.GetBool("redis.sessions"),
		},
		Proxy: ProxyConfig{
			TrustedProxies: parseList(viper.GetString("proxy.trusted")),
		},
	}

	return cfg, nil
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 如果文件不存在，静默失败（.env 是可选的）；
// 已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
