package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"authgate/backend/internal/config"
	"authgate/backend/internal/domain"
)

// Store 原生 PostgreSQL 存储实现（pgx 连接池）
type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// NewStore 创建 PostgreSQL 存储
func NewStore(cfg *config.DatabaseConfig, log *zap.Logger) (*Store, error) {
	pool, err := newPool(cfg)
	if err != nil {
		return nil, err
	}

	if log == nil {
		log = zap.NewNop()
	}

	store := &Store{pool: pool, log: log}
	if err := store.migrate(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Info("connected to PostgreSQL",
		zap.Int("max_conns", cfg.MaxOpenConns),
		zap.Int("min_conns", cfg.MaxIdleConns),
	)
	return store, nil
}

// migrate 建表（幂等）
func (s *Store) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id            VARCHAR(36) PRIMARY KEY,
			username      VARCHAR(100) NOT NULL UNIQUE,
			email         VARCHAR(255) NOT NULL UNIQUE,
			password_hash VARCHAR(255) NOT NULL,
			role          VARCHAR(20) NOT NULL DEFAULT 'user',
			created_at    TIMESTAMPTZ NOT NULL,
			last_login_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id VARCHAR(64) PRIMARY KEY,
			user_id    VARCHAR(36) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions (expires_at)`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			id           VARCHAR(36) PRIMARY KEY,
			key_hash     VARCHAR(64) NOT NULL UNIQUE,
			key_prefix   VARCHAR(20) NOT NULL,
			name         VARCHAR(100) NOT NULL,
			user_id      VARCHAR(36),
			scopes       VARCHAR(255) NOT NULL DEFAULT '',
			created_at   TIMESTAMPTZ NOT NULL,
			expires_at   TIMESTAMPTZ,
			last_used_at TIMESTAMPTZ,
			is_revoked   BOOLEAN NOT NULL DEFAULT FALSE,
			revoked_at   TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_user_id ON api_keys (user_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// ========== User Repository ==========

// CreateUser 创建新用户
func (s *Store) CreateUser(user *domain.User) error {
	_, err := s.pool.Exec(context.Background(),
		`INSERT INTO users (id, username, email, password_hash, role, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, user.Username, user.Email, user.PasswordHash, user.Role, user.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if strings.Contains(pgErr.ConstraintName, "email") {
			return domain.ErrEmailExists
		}
		return domain.ErrUsernameExists
	}
	return err
}

// GetUserByID 根据 ID 获取用户
func (s *Store) GetUserByID(id string) (*domain.User, error) {
	return s.getUser(`WHERE id = $1`, id)
}

// GetUserByEmail 根据邮箱获取用户
func (s *Store) GetUserByEmail(email string) (*domain.User, error) {
	return s.getUser(`WHERE email = $1`, email)
}

// GetUserByUsername 根据用户名获取用户
func (s *Store) GetUserByUsername(username string) (*domain.User, error) {
	return s.getUser(`WHERE username = $1`, username)
}

// getUser 按条件查询单个用户
func (s *Store) getUser(where string, arg any) (*domain.User, error) {
	var user domain.User
	err := s.pool.QueryRow(context.Background(),
		`SELECT id, username, email, password_hash, role, created_at, last_login_at
		 FROM users `+where, arg,
	).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt, &user.LastLoginAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateLastLogin 更新用户最后登录时间
func (s *Store) UpdateLastLogin(userID string, at time.Time) error {
	tag, err := s.pool.Exec(context.Background(),
		`UPDATE users SET last_login_at = $1 WHERE id = $2`, at, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// ========== Session Repository ==========

// SaveSession 保存会话
func (s *Store) SaveSession(session *domain.Session) error {
	_, err := s.pool.Exec(context.Background(),
		`INSERT INTO sessions (session_id, user_id, created_at, expires_at)
		 VALUES ($1, $2, $3, $4)`,
		session.Token, session.UserID, session.CreatedAt, session.ExpiresAt,
	)
	return err
}

// GetSession 根据令牌获取会话
func (s *Store) GetSession(token string) (*domain.Session, error) {
	var session domain.Session
	err := s.pool.QueryRow(context.Background(),
		`SELECT session_id, user_id, created_at, expires_at
		 FROM sessions WHERE session_id = $1`, token,
	).Scan(&session.Token, &session.UserID, &session.CreatedAt, &session.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// DeleteSession 删除会话
func (s *Store) DeleteSession(token string) error {
	tag, err := s.pool.Exec(context.Background(),
		`DELETE FROM sessions WHERE session_id = $1`, token)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// DeleteExpiredSessions 删除所有过期会话，返回删除数量
func (s *Store) DeleteExpiredSessions(before time.Time) (int, error) {
	tag, err := s.pool.Exec(context.Background(),
		`DELETE FROM sessions WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ========== API Key Repository ==========

// SaveAPIKey 保存 API 密钥
func (s *Store) SaveAPIKey(key *domain.APIKey) error {
	_, err := s.pool.Exec(context.Background(),
		`INSERT INTO api_keys (id, key_hash, key_prefix, name, user_id, scopes, created_at, expires_at, is_revoked)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		key.ID, key.KeyHash, key.KeyPrefix, key.Name, key.UserID, key.Scopes,
		key.CreatedAt, key.ExpiresAt, key.IsRevoked,
	)
	return err
}

// GetAPIKey 根据 ID 获取 API 密钥
func (s *Store) GetAPIKey(id string) (*domain.APIKey, error) {
	return s.getAPIKey(`WHERE id = $1`, id)
}

// GetAPIKeyByHash 根据摘要获取 API 密钥
func (s *Store) GetAPIKeyByHash(keyHash string) (*domain.APIKey, error) {
	return s.getAPIKey(`WHERE key_hash = $1`, keyHash)
}

// getAPIKey 按条件查询单个密钥
func (s *Store) getAPIKey(where string, arg any) (*domain.APIKey, error) {
	var key domain.APIKey
	err := s.pool.QueryRow(context.Background(),
		`SELECT id, key_hash, key_prefix, name, user_id, scopes,
		        created_at, expires_at, last_used_at, is_revoked, revoked_at
		 FROM api_keys `+where, arg,
	).Scan(&key.ID, &key.KeyHash, &key.KeyPrefix, &key.Name, &key.UserID, &key.Scopes,
		&key.CreatedAt, &key.ExpiresAt, &key.LastUsedAt, &key.IsRevoked, &key.RevokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAPIKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// ListAPIKeys 列出 API 密钥
func (s *Store) ListAPIKeys(userID *string, includeRevoked bool) ([]*domain.APIKey, error) {
	query := `SELECT id, key_hash, key_prefix, name, user_id, scopes,
	                 created_at, expires_at, last_used_at, is_revoked, revoked_at
	          FROM api_keys WHERE 1=1`
	args := make([]any, 0, 1)

	if userID != nil {
		args = append(args, *userID)
		query += fmt.Sprintf(` AND user_id = $%d`, len(args))
	}
	if !includeRevoked {
		query += ` AND is_revoked = FALSE`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(context.Background(), query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]*domain.APIKey, 0)
	for rows.Next() {
		var key domain.APIKey
		if err := rows.Scan(&key.ID, &key.KeyHash, &key.KeyPrefix, &key.Name, &key.UserID, &key.Scopes,
			&key.CreatedAt, &key.ExpiresAt, &key.LastUsedAt, &key.IsRevoked, &key.RevokedAt); err != nil {
			return nil, err
		}
		keys = append(keys, &key)
	}
	return keys, rows.Err()
}

// UpdateAPIKeyLastUsed 更新密钥最后使用时间
func (s *Store) UpdateAPIKeyLastUsed(id string, at time.Time) error {
	tag, err := s.pool.Exec(context.Background(),
		`UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAPIKeyNotFound
	}
	return nil
}

// RevokeAPIKey 吊销密钥
func (s *Store) RevokeAPIKey(id string, at time.Time) error {
	tag, err := s.pool.Exec(context.Background(),
		`UPDATE api_keys SET is_revoked = TRUE, revoked_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAPIKeyNotFound
	}
	return nil
}

// ========== 工具方法 ==========

// Health 检查数据库连通性
func (s *Store) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Close 关闭连接池
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
