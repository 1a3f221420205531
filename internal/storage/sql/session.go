package sql

import (
	"database/sql"
	"errors"
	"time"

	"authgate/backend/internal/domain"
)

// ========== Session Repository ==========

// SaveSession 保存会话
func (s *Store) SaveSession(session *domain.Session) error {
	query := s.rebind(`
		INSERT INTO sessions (session_id, user_id, created_at, expires_at)
		VALUES (?, ?, ?, ?)
	`)
	_, err := s.db.Exec(query,
		session.Token,
		session.UserID,
		session.CreatedAt,
		session.ExpiresAt,
	)
	return err
}

// GetSession 根据令牌获取会话
func (s *Store) GetSession(token string) (*domain.Session, error) {
	query := s.rebind(`
		SELECT session_id, user_id, created_at, expires_at
		FROM sessions
		WHERE session_id = ?
	`)

	var session domain.Session
	err := s.db.QueryRow(query, token).Scan(
		&session.Token,
		&session.UserID,
		&session.CreatedAt,
		&session.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// DeleteSession 删除会话
func (s *Store) DeleteSession(token string) error {
	query := s.rebind(`DELETE FROM sessions WHERE session_id = ?`)
	result, err := s.db.Exec(query, token)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// DeleteExpiredSessions 删除所有过期会话，返回删除数量
func (s *Store) DeleteExpiredSessions(before time.Time) (int, error) {
	query := s.rebind(`DELETE FROM sessions WHERE expires_at < ?`)
	result, err := s.db.Exec(query, before)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}
