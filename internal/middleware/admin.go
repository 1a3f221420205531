package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"authgate/backend/internal/domain"
)

// RequireAdmin 要求管理员角色
//
// 依赖 Authenticate 阶段写入的用户上下文（仅会话认证会携带完整用户）。
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		userVal, exists := c.Get(CtxUser)
		if !exists {
			unauthorized(c, "需要登录认证")
			return
		}

		user, ok := userVal.(*domain.User)
		if !ok || !user.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"message": "权限不足",
			})
			return
		}

		c.Next()
	}
}
