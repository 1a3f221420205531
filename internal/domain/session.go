package domain

import "time"

// Session 表示一次登录产生的服务端会话
//
// Token 是不可猜测的随机值（256 位熵），同时作为主键。
// 会话仅在 now < ExpiresAt 时有效；过期会话在校验时被惰性删除，
// 后台清扫任务兜底回收。
type Session struct {
	Token     string    `json:"-" gorm:"primaryKey;column:session_id;type:varchar(64)"`
	UserID    string    `json:"userId" gorm:"type:varchar(36);index;not null"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt" gorm:"index"`
}

// IsExpired 判断会话在给定时刻是否已过期
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
