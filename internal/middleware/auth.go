package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"authgate/backend/internal/auth"
	"authgate/backend/internal/service"
)

// 上下文键
const (
	CtxUserID       = "userID"
	CtxUser         = "user"
	CtxIdentity     = "identity"
	CtxAuthMethod   = "authMethod"
	CtxAPIKeyID     = "apiKeyID"
	CtxScopes       = "scopes"
	CtxSessionToken = "sessionToken"
	ctxAuthError    = "authError"
)

// 认证方式
const (
	MethodSession = "session"
	MethodAPIKey  = "apikey"
)

// Authenticator 请求认证中间件
//
// 对每个请求解析身份：会话令牌优先于 API 密钥，两者都无则匿名。
// 携带了凭证但校验失败的请求不会被降级为匿名，而是记录认证错误，
// 由 Enforce 阶段返回 401 —— 但在此之前仍会经过限流计数。
//
// 限流标识符的归因优先级（从高到低）：
//  1. user:<用户ID>   认证成功（会话或密钥归属用户）
//  2. key:<密钥前缀>  API 密钥校验失败但结构可辨
//  3. ip:<客户端地址> 匿名或无法归因
type Authenticator struct {
	sessions *auth.SessionManager
	apiKeys  *service.APIKeyService
	log      *zap.Logger
}

// NewAuthenticator 创建请求认证中间件
func NewAuthenticator(sessions *auth.SessionManager, apiKeys *service.APIKeyService, log *zap.Logger) *Authenticator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Authenticator{
		sessions: sessions,
		apiKeys:  apiKeys,
		log:      log,
	}
}

// Authenticate 解析请求身份并写入上下文（不在此处拒绝请求）
func (a *Authenticator) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		bearer, apiKey := extractCredentials(c)

		switch {
		case bearer != "":
			a.resolveBearer(c, bearer)
		case apiKey != "":
			a.resolveAPIKey(c, apiKey)
		default:
			// 匿名请求按客户端地址限流
			c.Set(CtxIdentity, "ip:"+c.ClientIP())
		}

		c.Next()
	}
}

// resolveBearer 解析 Authorization Bearer 凭证
//
// 先按会话令牌解释，失败后按 API 密钥解释；两者皆非即为无效凭证。
func (a *Authenticator) resolveBearer(c *gin.Context, bearer string) {
	user, err := a.sessions.ValidateSession(bearer)
	if err == nil {
		c.Set(CtxUserID, user.ID)
		c.Set(CtxUser, user)
		c.Set(CtxIdentity, "user:"+user.ID)
		c.Set(CtxAuthMethod, MethodSession)
		c.Set(CtxSessionToken, bearer)
		return
	}
	if errors.Is(err, auth.ErrSessionExpired) {
		a.setAuthError(c, err, "ip:"+c.ClientIP())
		return
	}

	// 不是会话令牌，尝试按 API 密钥解释
	a.resolveAPIKey(c, bearer)
}

// resolveAPIKey 解析 API 密钥凭证
func (a *Authenticator) resolveAPIKey(c *gin.Context, rawKey string) {
	key, err := a.apiKeys.ValidateAPIKey(rawKey)
	if err != nil {
		// 校验失败但结构可辨时按密钥前缀归因限流
		identity := "ip:" + c.ClientIP()
		if strings.HasPrefix(rawKey, service.RawKeyPrefix) {
			identity = "key:" + service.KeyPrefix(rawKey)
		}
		a.setAuthError(c, err, identity)
		return
	}

	c.Set(CtxAPIKeyID, key.ID)
	c.Set(CtxScopes, key.Scopes)
	c.Set(CtxAuthMethod, MethodAPIKey)
	if key.UserID != nil {
		c.Set(CtxUserID, *key.UserID)
		c.Set(CtxIdentity, "user:"+*key.UserID)
	} else {
		c.Set(CtxIdentity, "key:"+key.KeyPrefix)
	}
}

// setAuthError 记录凭证错误，待 Enforce 阶段统一返回 401
func (a *Authenticator) setAuthError(c *gin.Context, err error, identity string) {
	c.Set(ctxAuthError, err)
	c.Set(CtxIdentity, identity)
	a.log.Debug("credential rejected",
		zap.String("ip", c.ClientIP()),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
}

// Enforce 在限流之后执行认证裁决
//
// 携带无效凭证的请求返回 401；requiredPaths 命中且未通过
// API 密钥认证的请求同样返回 401；exemptPaths 命中的请求放行。
func (a *Authenticator) Enforce(requiredPaths, exemptPaths []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path

		if matchPrefix(exemptPaths, path) {
			c.Next()
			return
		}

		if _, hasErr := c.Get(ctxAuthError); hasErr {
			unauthorized(c, "无效或已过期的凭证")
			return
		}

		if matchPrefix(requiredPaths, path) {
			if method, _ := c.Get(CtxAuthMethod); method != MethodAPIKey {
				unauthorized(c, "此接口需要 API 密钥")
				return
			}
		}

		c.Next()
	}
}

// RequireSession 要求有效的会话身份（用于交互式接口）
func (a *Authenticator) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		method, _ := c.Get(CtxAuthMethod)
		if method != MethodSession {
			unauthorized(c, "需要登录认证")
			return
		}
		c.Next()
	}
}

// RequireIdentity 要求任意已认证身份（会话或 API 密钥）
func (a *Authenticator) RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := c.Get(CtxAuthMethod); !ok {
			unauthorized(c, "需要认证")
			return
		}
		c.Next()
	}
}

// extractCredentials 提取 Bearer 令牌与 X-API-Key 头
func extractCredentials(c *gin.Context) (bearer, apiKey string) {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			bearer = strings.TrimSpace(parts[1])
		}
	}
	apiKey = strings.TrimSpace(c.GetHeader("X-API-Key"))
	return bearer, apiKey
}

// matchPrefix 判断路径是否命中任一前缀
func matchPrefix(prefixes []string, path string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// unauthorized 返回统一的 401 响应
func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(401, gin.H{
		"success": false,
		"message": message,
	})
}
