package service

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"authgate/backend/internal/cache"
	"authgate/backend/internal/domain"
	"authgate/backend/internal/monitoring"
)

var (
	// ErrAPIKeyNameRequired 密钥名称不能为空
	ErrAPIKeyNameRequired = errors.New("API key name is required")
	// ErrAPIKeyInvalid API 密钥无效（不存在或格式错误）
	ErrAPIKeyInvalid = errors.New("invalid API key")
	// ErrAPIKeyRevoked API 密钥已被吊销
	ErrAPIKeyRevoked = errors.New("API key revoked")
	// ErrAPIKeyExpired API 密钥已过期
	ErrAPIKeyExpired = errors.New("API key expired")
	// ErrAPIKeyNotFound API 密钥不存在
	ErrAPIKeyNotFound = errors.New("API key not found")
	// ErrAPIKeyAlreadyRevoked API 密钥已处于吊销状态
	ErrAPIKeyAlreadyRevoked = errors.New("API key already revoked")
)

// RawKeyPrefix 原始密钥的可辨识前缀，便于运维工具识别
const RawKeyPrefix = "ag_"

// prefixLength 持久化的密钥前缀长度（含 RawKeyPrefix）
const prefixLength = 11

// lastUsedInterval 最后使用时间的最小落库间隔
//
// LastUsedAt 只是审计参考值，按此间隔节流可避免每个请求
// 都触发一次写操作。
const lastUsedInterval = time.Minute

// APIKeyService API 密钥注册表
//
// 原始密钥只在创建时返回一次，存储中仅保留 SHA-256 摘要。
// 密钥材料本身已是全熵随机值，查找按摘要精确匹配即可，
// 无须密码哈希那样的内存困难函数。
type APIKeyService struct {
	store    domain.Store
	lastUsed *cache.LocalCache   // 节流 LastUsedAt 落库
	metrics  *monitoring.Metrics // 可为 nil，表示不采集指标
	log      *zap.Logger
}

// NewAPIKeyService 创建 API 密钥服务
func NewAPIKeyService(store domain.Store, metrics *monitoring.Metrics, log *zap.Logger) *APIKeyService {
	if log == nil {
		log = zap.NewNop()
	}
	return &APIKeyService{
		store:    store,
		lastUsed: cache.NewLocalCache(lastUsedInterval),
		metrics:  metrics,
		log:      log,
	}
}

// CreateAPIKeyInput 创建 API 密钥的输入参数
type CreateAPIKeyInput struct {
	Name      string
	UserID    *string    // 归属用户（可选）
	ExpiresAt *time.Time // 过期时间（可选）
	Scopes    string     // 权限范围（预留）
}

// CreateAPIKey 创建新的 API 密钥
//
// 返回值中的原始密钥是唯一一次获取机会，之后无法找回。
func (s *APIKeyService) CreateAPIKey(input CreateAPIKeyInput) (string, *domain.APIKey, error) {
	if strings.TrimSpace(input.Name) == "" {
		return "", nil, ErrAPIKeyNameRequired
	}

	// 归属用户可选，但指定时必须存在
	if input.UserID != nil {
		if _, err := s.store.GetUserByID(*input.UserID); err != nil {
			return "", nil, fmt.Errorf("failed to resolve key owner: %w", err)
		}
	}

	rawKey, err := generateRawKey()
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate API key: %w", err)
	}

	key := &domain.APIKey{
		ID:        uuid.New().String(),
		KeyHash:   HashKey(rawKey),
		KeyPrefix: KeyPrefix(rawKey),
		Name:      strings.TrimSpace(input.Name),
		UserID:    input.UserID,
		Scopes:    input.Scopes,
		CreatedAt: time.Now(),
		ExpiresAt: input.ExpiresAt,
	}

	if err := s.store.SaveAPIKey(key); err != nil {
		return "", nil, fmt.Errorf("failed to save API key: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordAPIKeyIssued()
	}
	s.log.Info("API key created",
		zap.String("key_id", key.ID),
		zap.String("key_prefix", key.KeyPrefix),
		zap.String("name", key.Name),
	)
	return rawKey, key, nil
}

// ValidateAPIKey 校验原始密钥并返回对应记录
//
// 成功时顺带更新最后使用时间。吊销与过期分别返回
// ErrAPIKeyRevoked / ErrAPIKeyExpired，其余失败统一为 ErrAPIKeyInvalid。
func (s *APIKeyService) ValidateAPIKey(rawKey string) (*domain.APIKey, error) {
	if rawKey == "" || !strings.HasPrefix(rawKey, RawKeyPrefix) {
		return nil, ErrAPIKeyInvalid
	}

	key, err := s.store.GetAPIKeyByHash(HashKey(rawKey))
	if err != nil {
		if errors.Is(err, domain.ErrAPIKeyNotFound) {
			return nil, ErrAPIKeyInvalid
		}
		return nil, fmt.Errorf("failed to look up API key: %w", err)
	}

	now := time.Now()
	if key.IsRevoked {
		return nil, ErrAPIKeyRevoked
	}
	if key.IsExpired(now) {
		return nil, ErrAPIKeyExpired
	}

	// 最后使用时间按间隔节流，避免每次校验都写存储
	if _, recent := s.lastUsed.Get(key.ID); !recent {
		if err := s.store.UpdateAPIKeyLastUsed(key.ID, now); err != nil {
			s.log.Warn("failed to update API key last used", zap.String("key_id", key.ID), zap.Error(err))
		} else {
			s.lastUsed.Set(key.ID, now, 0)
			key.LastUsedAt = &now
		}
	}

	return key, nil
}

// RevokeAPIKey 吊销密钥
//
// 吊销是终态；重复吊销报告错误但不改变状态。
func (s *APIKeyService) RevokeAPIKey(id string) error {
	key, err := s.store.GetAPIKey(id)
	if err != nil {
		if errors.Is(err, domain.ErrAPIKeyNotFound) {
			return ErrAPIKeyNotFound
		}
		return fmt.Errorf("failed to load API key: %w", err)
	}

	if key.IsRevoked {
		return ErrAPIKeyAlreadyRevoked
	}

	if err := s.store.RevokeAPIKey(id, time.Now()); err != nil {
		return fmt.Errorf("failed to revoke API key: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordAPIKeyRevoked()
	}
	s.log.Info("API key revoked", zap.String("key_id", id), zap.String("key_prefix", key.KeyPrefix))
	return nil
}

// ListAPIKeys 列出密钥元数据
//
// 只返回元数据（前缀、名称、状态等），绝不包含原始密钥材料。
func (s *APIKeyService) ListAPIKeys(userID *string, includeRevoked bool) ([]*domain.APIKey, error) {
	keys, err := s.store.ListAPIKeys(userID, includeRevoked)
	if err != nil {
		return nil, fmt.Errorf("failed to list API keys: %w", err)
	}
	return keys, nil
}

// HashKey 计算原始密钥的持久化摘要（SHA-256 十六进制）
func HashKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// KeyPrefix 截取原始密钥的辨识前缀
//
// 前缀同时用于密钥校验失败时的限流归因。
func KeyPrefix(rawKey string) string {
	if len(rawKey) < prefixLength {
		return rawKey
	}
	return rawKey[:prefixLength]
}

// generateRawKey 生成 256 位熵的原始密钥
func generateRawKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return RawKeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}
