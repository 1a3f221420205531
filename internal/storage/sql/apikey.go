package sql

import (
	"database/sql"
	"errors"
	"time"

	"authgate/backend/internal/domain"
)

// ========== API Key Repository ==========

// SaveAPIKey 保存 API 密钥
func (s *Store) SaveAPIKey(key *domain.APIKey) error {
	query := s.rebind(`
		INSERT INTO api_keys (id, key_hash, key_prefix, name, user_id, scopes, created_at, expires_at, is_revoked)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := s.db.Exec(query,
		key.ID,
		key.KeyHash,
		key.KeyPrefix,
		key.Name,
		key.UserID,
		key.Scopes,
		key.CreatedAt,
		key.ExpiresAt,
		key.IsRevoked,
	)
	return err
}

// GetAPIKey 根据 ID 获取 API 密钥
func (s *Store) GetAPIKey(id string) (*domain.APIKey, error) {
	return s.getAPIKey(`WHERE id = ?`, id)
}

// GetAPIKeyByHash 根据摘要获取 API 密钥
func (s *Store) GetAPIKeyByHash(keyHash string) (*domain.APIKey, error) {
	return s.getAPIKey(`WHERE key_hash = ?`, keyHash)
}

// getAPIKey 按条件查询单个密钥
func (s *Store) getAPIKey(where string, arg any) (*domain.APIKey, error) {
	query := s.rebind(`
		SELECT id, key_hash, key_prefix, name, user_id, scopes,
		       created_at, expires_at, last_used_at, is_revoked, revoked_at
		FROM api_keys ` + where)

	key, err := scanAPIKey(s.db.QueryRow(query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAPIKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return key, nil
}

// ListAPIKeys 列出 API 密钥
func (s *Store) ListAPIKeys(userID *string, includeRevoked bool) ([]*domain.APIKey, error) {
	query := `
		SELECT id, key_hash, key_prefix, name, user_id, scopes,
		       created_at, expires_at, last_used_at, is_revoked, revoked_at
		FROM api_keys
		WHERE 1=1`
	args := make([]any, 0, 1)

	if userID != nil {
		query += ` AND user_id = ?`
		args = append(args, *userID)
	}
	if !includeRevoked {
		query += ` AND is_revoked = false`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]*domain.APIKey, 0)
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// UpdateAPIKeyLastUsed 更新密钥最后使用时间
func (s *Store) UpdateAPIKeyLastUsed(id string, at time.Time) error {
	query := s.rebind(`UPDATE api_keys SET last_used_at = ? WHERE id = ?`)
	result, err := s.db.Exec(query, at, id)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return domain.ErrAPIKeyNotFound
	}
	return nil
}

// RevokeAPIKey 吊销密钥
func (s *Store) RevokeAPIKey(id string, at time.Time) error {
	query := s.rebind(`UPDATE api_keys SET is_revoked = true, revoked_at = ? WHERE id = ?`)
	result, err := s.db.Exec(query, at, id)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return domain.ErrAPIKeyNotFound
	}
	return nil
}

// rowScanner 兼容 *sql.Row 与 *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// scanAPIKey 扫描一行密钥记录
func scanAPIKey(row rowScanner) (*domain.APIKey, error) {
	var key domain.APIKey
	var userID sql.NullString
	var expiresAt, lastUsedAt, revokedAt sql.NullTime

	err := row.Scan(
		&key.ID,
		&key.KeyHash,
		&key.KeyPrefix,
		&key.Name,
		&userID,
		&key.Scopes,
		&key.CreatedAt,
		&expiresAt,
		&lastUsedAt,
		&key.IsRevoked,
		&revokedAt,
	)
	if err != nil {
		return nil, err
	}

	if userID.Valid {
		key.UserID = &userID.String
	}
	if expiresAt.Valid {
		key.ExpiresAt = &expiresAt.Time
	}
	if lastUsedAt.Valid {
		key.LastUsedAt = &lastUsedAt.Time
	}
	if revokedAt.Valid {
		key.RevokedAt = &revokedAt.Time
	}
	return &key, nil
}
