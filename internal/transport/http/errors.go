package httptransport

import (
	"authgate/backend/internal/auth"
	"authgate/backend/internal/service"
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = map[error]string{
	// 认证错误
	auth.ErrInvalidEmail:       "邮箱格式无效",
	auth.ErrInvalidUsername:    "用户名格式无效（3-32位字母、数字、下划线或连字符）",
	auth.ErrWeakPassword:       "密码强度不足",
	auth.ErrEmailExists:        "该邮箱已被注册",
	auth.ErrUsernameExists:     "该用户名已被注册",
	auth.ErrInvalidCredentials: "用户名或密码错误",
	auth.ErrUserNotFound:       "用户不存在",

	// API 密钥错误
	service.ErrAPIKeyNameRequired:   "密钥名称不能为空",
	service.ErrAPIKeyNotFound:       "API密钥不存在",
	service.ErrAPIKeyInvalid:        "API密钥无效",
	service.ErrAPIKeyRevoked:        "API密钥已吊销",
	service.ErrAPIKeyExpired:        "API密钥已过期",
	service.ErrAPIKeyAlreadyRevoked: "API密钥已被吊销，不能重复操作",
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	if msg, ok := errorMessages[err]; ok {
		return msg
	}
	return err.Error()
}

// 通用错误消息
const (
	// 请求相关
	MsgInvalidRequest = "请求参数格式错误"

	// 认证相关
	MsgAuthRequired       = "需要登录认证"
	MsgInvalidCredentials = "用户名或密码错误"
	MsgSessionExpired     = "登录已过期，请重新登录"
	MsgPermissionDenied   = "权限不足"

	// 用户相关
	MsgUserNotFound  = "用户不存在"
	MsgUserGetFailed = "获取用户信息失败"

	// API 密钥相关
	MsgAPIKeyCreateFailed = "创建API密钥失败"
	MsgAPIKeyListFailed   = "获取API密钥列表失败"
	MsgAPIKeyNotFound     = "API密钥不存在"
	MsgAPIKeyRevokeFailed = "吊销API密钥失败"

	// 服务器错误
	MsgInternalError = "服务器内部错误，请稍后重试"
)
