package domain

import (
	"errors"
	"time"
)

// 存储层通用错误（各后端统一返回这些哨兵值）
var (
	ErrUserNotFound    = errors.New("user not found")
	ErrEmailExists     = errors.New("email already exists")
	ErrUsernameExists  = errors.New("username already exists")
	ErrSessionNotFound = errors.New("session not found")
	ErrAPIKeyNotFound  = errors.New("API key not found")
)

// UserRepository 用户存储接口
type UserRepository interface {
	CreateUser(user *User) error
	GetUserByID(id string) (*User, error)
	GetUserByEmail(email string) (*User, error)
	GetUserByUsername(username string) (*User, error)
	UpdateLastLogin(userID string, at time.Time) error
}

// SessionRepository 会话存储接口
type SessionRepository interface {
	SaveSession(session *Session) error
	GetSession(token string) (*Session, error)
	DeleteSession(token string) error
	// DeleteExpiredSessions 删除所有 expires_at < before 的会话，返回删除数量
	DeleteExpiredSessions(before time.Time) (int, error)
}

// APIKeyRepository API 密钥存储接口
type APIKeyRepository interface {
	SaveAPIKey(key *APIKey) error
	GetAPIKey(id string) (*APIKey, error)
	GetAPIKeyByHash(keyHash string) (*APIKey, error)
	ListAPIKeys(userID *string, includeRevoked bool) ([]*APIKey, error)
	UpdateAPIKeyLastUsed(id string, at time.Time) error
	RevokeAPIKey(id string, at time.Time) error
}

// Store 聚合所有存储接口
type Store interface {
	UserRepository
	SessionRepository
	APIKeyRepository

	// Health 检查存储后端连通性
	Health() error
	// Close 释放底层连接
	Close() error
}
