package sql

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"authgate/backend/internal/domain"
)

// ========== User Repository ==========

// CreateUser 创建新用户
func (s *Store) CreateUser(user *domain.User) error {
	query := s.rebind(`
		INSERT INTO users (id, username, email, password_hash, role, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	_, err := s.db.Exec(query,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.Role,
		user.CreatedAt,
	)
	if isUniqueViolation(err) {
		// 区分用户名与邮箱冲突
		if strings.Contains(err.Error(), "email") {
			return domain.ErrEmailExists
		}
		return domain.ErrUsernameExists
	}
	return err
}

// GetUserByID 根据 ID 获取用户
func (s *Store) GetUserByID(id string) (*domain.User, error) {
	return s.getUser(`WHERE id = ?`, id)
}

// GetUserByEmail 根据邮箱获取用户
func (s *Store) GetUserByEmail(email string) (*domain.User, error) {
	return s.getUser(`WHERE email = ?`, email)
}

// GetUserByUsername 根据用户名获取用户
func (s *Store) GetUserByUsername(username string) (*domain.User, error) {
	return s.getUser(`WHERE username = ?`, username)
}

// getUser 按条件查询单个用户
func (s *Store) getUser(where string, arg any) (*domain.User, error) {
	query := s.rebind(`
		SELECT id, username, email, password_hash, role, created_at, last_login_at
		FROM users ` + where)

	var user domain.User
	var lastLoginAt sql.NullTime

	err := s.db.QueryRow(query, arg).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.CreatedAt,
		&lastLoginAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	if lastLoginAt.Valid {
		user.LastLoginAt = &lastLoginAt.Time
	}
	return &user, nil
}

// UpdateLastLogin 更新用户最后登录时间
func (s *Store) UpdateLastLogin(userID string, at time.Time) error {
	query := s.rebind(`UPDATE users SET last_login_at = ? WHERE id = ?`)
	result, err := s.db.Exec(query, at, userID)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}
