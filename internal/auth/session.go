package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"authgate/backend/internal/domain"
	"authgate/backend/internal/monitoring"
)

var (
	// ErrSessionNotFound 会话不存在
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired 会话已过期
	ErrSessionExpired = errors.New("session expired")
)

// SessionManager 会话管理器
//
// 负责签发、校验与回收不透明会话令牌。过期通过两条路径保证：
// 校验时发现过期立即删除（正确性），后台按固定间隔清扫（内存上界）。
type SessionManager struct {
	sessions domain.SessionRepository
	users    domain.UserRepository
	ttl      time.Duration
	metrics  *monitoring.Metrics // 可为 nil，表示不采集指标
	log      *zap.Logger
}

// NewSessionManager 创建会话管理器
func NewSessionManager(sessions domain.SessionRepository, users domain.UserRepository, ttl time.Duration, metrics *monitoring.Metrics, log *zap.Logger) *SessionManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionManager{
		sessions: sessions,
		users:    users,
		ttl:      ttl,
		metrics:  metrics,
		log:      log,
	}
}

// CreateSession 为指定用户签发新会话
//
// 令牌为 256 位随机值的 base64url 编码，有效期 now + TTL。
func (m *SessionManager) CreateSession(userID string) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}

	now := time.Now()
	session := &domain.Session{
		Token:     token,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}

	if err := m.sessions.SaveSession(session); err != nil {
		return "", fmt.Errorf("failed to save session: %w", err)
	}
	if m.metrics != nil {
		m.metrics.RecordSessionIssued()
	}
	return token, nil
}

// ValidateSession 校验会话令牌并返回其归属用户
//
// 发现过期会话时先删除再返回 ErrSessionExpired（惰性回收），
// 因此对同一过期令牌的第二次校验报告 ErrSessionNotFound。
func (m *SessionManager) ValidateSession(token string) (*domain.User, error) {
	if token == "" {
		return nil, ErrSessionNotFound
	}

	session, err := m.sessions.GetSession(token)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if session.IsExpired(time.Now()) {
		if err := m.sessions.DeleteSession(token); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
			m.log.Warn("failed to delete expired session", zap.Error(err))
		}
		if m.metrics != nil {
			m.metrics.RecordSessionsExpired(1)
		}
		return nil, ErrSessionExpired
	}

	user, err := m.users.GetUserByID(session.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			// 用户已不存在，会话随之作废
			_ = m.sessions.DeleteSession(token)
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session user: %w", err)
	}

	return user, nil
}

// DeleteSession 主动销毁会话（登出）
func (m *SessionManager) DeleteSession(token string) error {
	err := m.sessions.DeleteSession(token)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil
	}
	return err
}

// Sweep 周期性删除所有已过期会话，直到 ctx 取消
func (m *SessionManager) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepOnce()
		}
	}
}

// sweepOnce 执行一轮过期会话清扫
func (m *SessionManager) sweepOnce() {
	n, err := m.sessions.DeleteExpiredSessions(time.Now())
	if err != nil {
		m.log.Error("session sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		if m.metrics != nil {
			m.metrics.RecordSessionsExpired(n)
		}
		m.log.Info("expired sessions swept", zap.Int("count", n))
	}
}

// generateToken 生成 256 位熵的不透明令牌
func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
