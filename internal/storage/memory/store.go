package memory

import (
	"sync"
	"time"

	"authgate/backend/internal/domain"
)

// Store 使用内存保存用户、会话与 API 密钥，主要用于开发验证。
//
// 读多写少，统一用一把读写锁；高频可变状态（限流计数）
// 不归本存储管理，见 internal/ratelimit。
type Store struct {
	mu         sync.RWMutex
	users      map[string]*domain.User    // userID -> user
	byEmail    map[string]string          // email -> userID
	byUsername map[string]string          // username -> userID
	sessions   map[string]*domain.Session // token -> session
	apiKeys    map[string]*domain.APIKey  // keyID -> apiKey
	byKeyHash  map[string]string          // keyHash -> keyID
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		users:      make(map[string]*domain.User),
		byEmail:    make(map[string]string),
		byUsername: make(map[string]string),
		sessions:   make(map[string]*domain.Session),
		apiKeys:    make(map[string]*domain.APIKey),
		byKeyHash:  make(map[string]string),
	}
}

// ========== User Repository ==========

// CreateUser 创建新用户，用户名与邮箱重复时报错。
func (s *Store) CreateUser(user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byUsername[user.Username]; exists {
		return domain.ErrUsernameExists
	}
	if _, exists := s.byEmail[user.Email]; exists {
		return domain.ErrEmailExists
	}

	cloned := *user
	s.users[user.ID] = &cloned
	s.byUsername[user.Username] = user.ID
	s.byEmail[user.Email] = user.ID
	return nil
}

// GetUserByID 根据 ID 获取用户。
func (s *Store) GetUserByID(id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cloned := *user
	return &cloned, nil
}

// GetUserByEmail 根据邮箱获取用户。
func (s *Store) GetUserByEmail(email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cloned := *s.users[id]
	return &cloned, nil
}

// GetUserByUsername 根据用户名获取用户。
func (s *Store) GetUserByUsername(username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[username]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cloned := *s.users[id]
	return &cloned, nil
}

// UpdateLastLogin 更新用户最后登录时间。
func (s *Store) UpdateLastLogin(userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	user.LastLoginAt = &at
	return nil
}

// ========== Session Repository ==========

// SaveSession 保存会话。
func (s *Store) SaveSession(session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cloned := *session
	s.sessions[session.Token] = &cloned
	return nil
}

// GetSession 根据令牌获取会话。
func (s *Store) GetSession(token string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[token]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	cloned := *session
	return &cloned, nil
}

// DeleteSession 删除会话。
func (s *Store) DeleteSession(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[token]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(s.sessions, token)
	return nil
}

// DeleteExpiredSessions 删除所有过期会话，返回删除数量。
func (s *Store) DeleteExpiredSessions(before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for token, session := range s.sessions {
		if session.ExpiresAt.Before(before) {
			delete(s.sessions, token)
			deleted++
		}
	}
	return deleted, nil
}

// ========== API Key Repository ==========

// SaveAPIKey 保存 API 密钥。
func (s *Store) SaveAPIKey(key *domain.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cloned := *key
	s.apiKeys[key.ID] = &cloned
	s.byKeyHash[key.KeyHash] = key.ID
	return nil
}

// GetAPIKey 根据 ID 获取 API 密钥。
func (s *Store) GetAPIKey(id string) (*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.apiKeys[id]
	if !ok {
		return nil, domain.ErrAPIKeyNotFound
	}
	cloned := *key
	return &cloned, nil
}

// GetAPIKeyByHash 根据摘要获取 API 密钥。
func (s *Store) GetAPIKeyByHash(keyHash string) (*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKeyHash[keyHash]
	if !ok {
		return nil, domain.ErrAPIKeyNotFound
	}
	cloned := *s.apiKeys[id]
	return &cloned, nil
}

// ListAPIKeys 列出 API 密钥。
//
// userID 为 nil 时列出全部；默认过滤已吊销的密钥。
func (s *Store) ListAPIKeys(userID *string, includeRevoked bool) ([]*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]*domain.APIKey, 0)
	for _, key := range s.apiKeys {
		if userID != nil && (key.UserID == nil || *key.UserID != *userID) {
			continue
		}
		if key.IsRevoked && !includeRevoked {
			continue
		}
		cloned := *key
		keys = append(keys, &cloned)
	}
	return keys, nil
}

// UpdateAPIKeyLastUsed 更新密钥最后使用时间。
func (s *Store) UpdateAPIKeyLastUsed(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.apiKeys[id]
	if !ok {
		return domain.ErrAPIKeyNotFound
	}
	key.LastUsedAt = &at
	return nil
}

// RevokeAPIKey 吊销密钥（终态，不做物理删除）。
func (s *Store) RevokeAPIKey(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.apiKeys[id]
	if !ok {
		return domain.ErrAPIKeyNotFound
	}
	key.IsRevoked = true
	key.RevokedAt = &at
	return nil
}

// ========== 工具方法 ==========

// Health 内存存储恒为健康。
func (s *Store) Health() error {
	return nil
}

// Close 内存存储无需释放资源。
func (s *Store) Close() error {
	return nil
}
