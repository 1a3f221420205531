package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"authgate/backend/internal/config"
	"authgate/backend/internal/domain"
)

// sessionKeyPrefix Redis 键前缀，与其他业务键隔离
const sessionKeyPrefix = "authgate:session:"

// SessionStore 基于 Redis 的会话存储，利用原生 TTL 实现过期
type SessionStore struct {
	client *redis.Client
	log    *zap.Logger
}

// NewSessionStore 创建 Redis 会话存储并验证连通性
func NewSessionStore(cfg *config.RedisConfig, log *zap.Logger) (*SessionStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if log == nil {
		log = zap.NewNop()
	}
	log.Info("connected to Redis session store", zap.String("address", cfg.Address))

	return &SessionStore{client: client, log: log}, nil
}

// SaveSession 保存会话，过期时间交由 Redis TTL 管理
func (s *SessionStore) SaveSession(session *domain.Session) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session already expired")
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	return s.client.Set(context.Background(), sessionKeyPrefix+session.Token, data, ttl).Err()
}

// GetSession 根据令牌获取会话
func (s *SessionStore) GetSession(token string) (*domain.Session, error) {
	data, err := s.client.Get(context.Background(), sessionKeyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// DeleteSession 删除会话
func (s *SessionStore) DeleteSession(token string) error {
	deleted, err := s.client.Del(context.Background(), sessionKeyPrefix+token).Result()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// DeleteExpiredSessions Redis 会自动淘汰过期键，无需主动清理
func (s *SessionStore) DeleteExpiredSessions(before time.Time) (int, error) {
	return 0, nil
}

// Ping 检查 Redis 连通性
func (s *SessionStore) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Close 关闭 Redis 连接
func (s *SessionStore) Close() error {
	return s.client.Close()
}
