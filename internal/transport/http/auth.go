package httptransport

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"authgate/backend/internal/auth"
	"authgate/backend/internal/domain"
	"authgate/backend/internal/middleware"
	"authgate/backend/internal/monitoring"
)

// AuthHandler 处理认证相关的 HTTP 请求
type AuthHandler struct {
	authService *auth.Service        // 认证业务服务
	sessions    *auth.SessionManager // 会话管理器
	metrics     *monitoring.Metrics  // 指标采集（可为 nil）
	log         *zap.Logger          // 结构化日志记录器
}

// NewAuthHandler 创建新的认证处理器实例
func NewAuthHandler(authService *auth.Service, sessions *auth.SessionManager, metrics *monitoring.Metrics, log *zap.Logger) *AuthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthHandler{
		authService: authService,
		sessions:    sessions,
		metrics:     metrics,
		log:         log,
	}
}

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginRequest struct {
	Identifier string `json:"identifier" binding:"required"` // 用户名或邮箱
	Password   string `json:"password" binding:"required"`
}

type authResponse struct {
	User         userResponse `json:"user"`
	SessionToken string       `json:"sessionToken"`
}

type userResponse struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	CreatedAt   string `json:"createdAt"`
	LastLoginAt string `json:"lastLoginAt,omitempty"`
}

// Register 处理用户注册请求
//
// 注册成功即视为登录，直接返回会话令牌。
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	result, err := h.authService.Register(auth.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidUsername),
			errors.Is(err, auth.ErrInvalidEmail),
			errors.Is(err, auth.ErrWeakPassword):
			BadRequest(c, GetErrorMessage(err))
		case errors.Is(err, auth.ErrUsernameExists),
			errors.Is(err, auth.ErrEmailExists):
			Conflict(c, GetErrorMessage(err))
		default:
			h.log.Error("failed to register user", zap.Error(err))
			InternalError(c, "注册失败，请稍后重试")
		}
		return
	}

	h.log.Info("user registered",
		zap.String("user_id", result.User.ID),
		zap.String("username", result.User.Username),
	)

	Created(c, authResponse{
		User:         toUserResponse(result.User),
		SessionToken: result.SessionToken,
	})
}

// Login 处理用户登录请求
//
// 凭证无效时统一返回"用户名或密码错误"，不泄露账号是否存在。
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	result, err := h.authService.Login(strings.TrimSpace(req.Identifier), req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			if h.metrics != nil {
				h.metrics.RecordAuthAttempt("password", "failure")
			}
			Unauthorized(c, MsgInvalidCredentials)
			return
		}
		h.log.Error("failed to login", zap.Error(err))
		InternalError(c, "登录失败，请稍后重试")
		return
	}

	if h.metrics != nil {
		h.metrics.RecordAuthAttempt("password", "success")
	}
	h.log.Info("user logged in",
		zap.String("user_id", result.User.ID),
		zap.String("username", result.User.Username),
	)

	Success(c, authResponse{
		User:         toUserResponse(result.User),
		SessionToken: result.SessionToken,
	})
}

// Logout 注销当前会话
//
// 幂等：重复注销同一令牌仍返回成功。
func (h *AuthHandler) Logout(c *gin.Context) {
	token := c.GetString(middleware.CtxSessionToken)
	if token == "" {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	if err := h.sessions.DeleteSession(token); err != nil {
		h.log.Error("failed to delete session", zap.Error(err))
		InternalError(c, MsgInternalError)
		return
	}

	SuccessWithMsg(c, "已注销", nil)
}

// Me 获取当前用户信息
func (h *AuthHandler) Me(c *gin.Context) {
	userVal, exists := c.Get(middleware.CtxUser)
	if exists {
		if user, ok := userVal.(*domain.User); ok {
			Success(c, toUserResponse(user))
			return
		}
	}

	// API 密钥认证的请求可能只携带用户 ID
	userID := c.GetString(middleware.CtxUserID)
	if userID == "" {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	user, err := h.authService.GetUserByID(userID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			NotFound(c, MsgUserNotFound)
			return
		}
		h.log.Error("failed to get user", zap.Error(err))
		InternalError(c, MsgUserGetFailed)
		return
	}

	Success(c, toUserResponse(user))
}

// toUserResponse 转换用户实体为响应体（不含密码哈希）
func toUserResponse(user *domain.User) userResponse {
	resp := userResponse{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		Role:      string(user.Role),
		CreatedAt: user.CreatedAt.UTC().Format(time.RFC3339),
	}
	if user.LastLoginAt != nil {
		resp.LastLoginAt = user.LastLoginAt.UTC().Format(time.RFC3339)
	}
	return resp
}
