package httptransport

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"authgate/backend/internal/domain"
	"authgate/backend/internal/middleware"
	"authgate/backend/internal/service"
)

// APIKeyHandler 处理 API 密钥管理的 HTTP 请求
type APIKeyHandler struct {
	apiKeys *service.APIKeyService
	log     *zap.Logger
}

// NewAPIKeyHandler 创建 API 密钥处理器实例
func NewAPIKeyHandler(apiKeys *service.APIKeyService, log *zap.Logger) *APIKeyHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &APIKeyHandler{apiKeys: apiKeys, log: log}
}

type createKeyRequest struct {
	Name      string `json:"name" binding:"required"`
	UserID    string `json:"userId"`    // 可选：绑定到某个用户
	ExpiresIn string `json:"expiresIn"` // 可选：有效期，如 "720h"
	Scopes    string `json:"scopes"`    // 可选：逗号分隔的权限范围
}

type apiKeyResponse struct {
	ID         string `json:"id"`
	KeyPrefix  string `json:"keyPrefix"`
	Name       string `json:"name"`
	UserID     string `json:"userId,omitempty"`
	Scopes     string `json:"scopes,omitempty"`
	CreatedAt  string `json:"createdAt"`
	ExpiresAt  string `json:"expiresAt,omitempty"`
	LastUsedAt string `json:"lastUsedAt,omitempty"`
	IsRevoked  bool   `json:"isRevoked"`
	RevokedAt  string `json:"revokedAt,omitempty"`
}

type createKeyResponse struct {
	Key    string         `json:"key"` // 完整密钥，仅此一次返回
	APIKey apiKeyResponse `json:"apiKey"`
}

type keyListResponse struct {
	Items []apiKeyResponse `json:"items"`
	Count int              `json:"count"`
}

// Create 签发新的 API 密钥
//
// 完整密钥仅在本次响应中出现，服务端只保留摘要。
func (h *APIKeyHandler) Create(c *gin.Context) {
	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	input := service.CreateAPIKeyInput{
		Name:   req.Name,
		Scopes: req.Scopes,
	}
	if req.UserID != "" {
		input.UserID = &req.UserID
	}
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 {
			BadRequest(c, "有效期格式无效")
			return
		}
		t := time.Now().Add(d)
		input.ExpiresAt = &t
	}

	rawKey, key, err := h.apiKeys.CreateAPIKey(input)
	if err != nil {
		if errors.Is(err, service.ErrAPIKeyNameRequired) {
			BadRequest(c, GetErrorMessage(err))
			return
		}
		h.log.Error("failed to create api key", zap.Error(err))
		InternalError(c, MsgAPIKeyCreateFailed)
		return
	}

	h.log.Info("api key created",
		zap.String("key_id", key.ID),
		zap.String("key_prefix", key.KeyPrefix),
		zap.String("operator", c.GetString(middleware.CtxUserID)),
	)

	Created(c, createKeyResponse{
		Key:    rawKey,
		APIKey: toAPIKeyResponse(key),
	})
}

// List 列出 API 密钥
//
// 支持 ?userId= 过滤与 ?includeRevoked=true。
func (h *APIKeyHandler) List(c *gin.Context) {
	var userID *string
	if v := c.Query("userId"); v != "" {
		userID = &v
	}
	includeRevoked := c.Query("includeRevoked") == "true"

	keys, err := h.apiKeys.ListAPIKeys(userID, includeRevoked)
	if err != nil {
		h.log.Error("failed to list api keys", zap.Error(err))
		InternalError(c, MsgAPIKeyListFailed)
		return
	}

	items := make([]apiKeyResponse, 0, len(keys))
	for _, key := range keys {
		items = append(items, toAPIKeyResponse(key))
	}

	Success(c, keyListResponse{Items: items, Count: len(items)})
}

// Revoke 吊销 API 密钥
//
// 吊销是终态操作，重复吊销返回 409。
func (h *APIKeyHandler) Revoke(c *gin.Context) {
	id := c.Param("id")

	if err := h.apiKeys.RevokeAPIKey(id); err != nil {
		switch {
		case errors.Is(err, service.ErrAPIKeyNotFound):
			NotFound(c, MsgAPIKeyNotFound)
		case errors.Is(err, service.ErrAPIKeyAlreadyRevoked):
			Conflict(c, GetErrorMessage(err))
		default:
			h.log.Error("failed to revoke api key", zap.Error(err))
			InternalError(c, MsgAPIKeyRevokeFailed)
		}
		return
	}

	h.log.Info("api key revoked",
		zap.String("key_id", id),
		zap.String("operator", c.GetString(middleware.CtxUserID)),
	)

	SuccessWithMsg(c, "已吊销", nil)
}

// toAPIKeyResponse 转换密钥实体为响应体（不含密钥摘要）
func toAPIKeyResponse(key *domain.APIKey) apiKeyResponse {
	resp := apiKeyResponse{
		ID:        key.ID,
		KeyPrefix: key.KeyPrefix,
		Name:      key.Name,
		Scopes:    key.Scopes,
		CreatedAt: key.CreatedAt.UTC().Format(time.RFC3339),
		IsRevoked: key.IsRevoked,
	}
	if key.UserID != nil {
		resp.UserID = *key.UserID
	}
	if key.ExpiresAt != nil {
		resp.ExpiresAt = key.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if key.LastUsedAt != nil {
		resp.LastUsedAt = key.LastUsedAt.UTC().Format(time.RFC3339)
	}
	if key.RevokedAt != nil {
		resp.RevokedAt = key.RevokedAt.UTC().Format(time.RFC3339)
	}
	return resp
}
