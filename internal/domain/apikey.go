package domain

import "time"

// APIKey API 密钥实体
//
// 原始密钥只在创建时返回调用方一次，之后无法找回；
// 存储中仅保留其 SHA-256 摘要。吊销是终态，密钥记录不做物理删除。
type APIKey struct {
	ID         string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	KeyHash    string     `json:"-" gorm:"column:key_hash;type:varchar(64);uniqueIndex;not null"`
	KeyPrefix  string     `json:"keyPrefix" gorm:"type:varchar(20);not null"` // 密钥前缀（用于运维辨识）
	Name       string     `json:"name" gorm:"type:varchar(100);not null"`
	UserID     *string    `json:"userId,omitempty" gorm:"type:varchar(36);index"` // 归属用户（可选）
	Scopes     string     `json:"scopes,omitempty" gorm:"type:varchar(255)"`      // 权限范围（预留，不参与校验）
	CreatedAt  time.Time  `json:"createdAt"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	IsRevoked  bool       `json:"isRevoked"`
	RevokedAt  *time.Time `json:"revokedAt,omitempty"`
}

// IsExpired 判断密钥在给定时刻是否已过期
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

// IsValid 判断密钥在给定时刻是否可用（未吊销且未过期）
func (k *APIKey) IsValid(now time.Time) bool {
	return !k.IsRevoked && !k.IsExpired(now)
}
