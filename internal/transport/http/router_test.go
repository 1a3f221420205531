package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authgate/backend/internal/auth"
	"authgate/backend/internal/config"
	"authgate/backend/internal/domain"
	"authgate/backend/internal/pool"
	"authgate/backend/internal/ratelimit"
	"authgate/backend/internal/service"
	"authgate/backend/internal/storage/memory"
)

// testParams 测试用快速哈希参数
var testParams = auth.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1}

type testServer struct {
	router *gin.Engine
	store  *memory.Store
}

// newTestServer 组装一套基于内存存储的完整服务
func newTestServer(t *testing.T, mutate func(*config.Config), limiter *ratelimit.Limiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		CORS: config.CORSConfig{AllowedOrigins: []string{"*"}},
	}
	if mutate != nil {
		mutate(cfg)
	}

	store := memory.NewStore()
	sessions := auth.NewSessionManager(store, store, time.Hour, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	hashPool := pool.New(2, 8, nil)
	hashPool.Start(ctx)
	t.Cleanup(func() {
		cancel()
		hashPool.Stop()
	})

	authService := auth.NewService(store, sessions, hashPool, testParams, 8, nil)
	apiKeyService := service.NewAPIKeyService(store, nil, nil)

	router := NewRouter(RouterDependencies{
		Config:        cfg,
		AuthService:   authService,
		Sessions:      sessions,
		APIKeyService: apiKeyService,
		Limiter:       limiter,
	})

	return &testServer{router: router, store: store}
}

// seedAdmin 直接写入一个管理员账户
func (s *testServer) seedAdmin(t *testing.T, password string) *domain.User {
	t.Helper()
	hash, err := auth.HashPassword(password, testParams)
	require.NoError(t, err)

	admin := &domain.User{
		ID:           uuid.New().String(),
		Username:     "admin",
		Email:        "admin@example.com",
		PasswordHash: hash,
		Role:         domain.RoleAdmin,
		CreatedAt:    time.Now(),
	}
	require.NoError(t, s.store.CreateUser(admin))
	return admin
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, Response) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp Response
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "body: %s", w.Body.String())
	}
	return w, resp
}

func dataField[T any](t *testing.T, resp Response, key string) T {
	t.Helper()
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok, "data is not an object: %#v", resp.Data)
	value, ok := data[key].(T)
	require.True(t, ok, "data[%q] missing or wrong type: %#v", key, data[key])
	return value
}

func TestAuthFlow(t *testing.T) {
	t.Run("注册登录注销全流程", func(t *testing.T) {
		srv := newTestServer(t, nil, nil)

		// 注册
		w, resp := srv.do(t, http.MethodPost, "/v1/auth/register", gin.H{
			"username": "alice",
			"email":    "alice@example.com",
			"password": "correct horse battery staple",
		}, nil)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		registerToken := dataField[string](t, resp, "sessionToken")
		require.NotEmpty(t, registerToken)

		// 注册返回的会话立即可用
		w, resp = srv.do(t, http.MethodGet, "/v1/auth/me", nil, map[string]string{
			"Authorization": "Bearer " + registerToken,
		})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "alice", dataField[string](t, resp, "username"))

		// 登录
		w, resp = srv.do(t, http.MethodPost, "/v1/auth/login", gin.H{
			"identifier": "alice@example.com",
			"password":   "correct horse battery staple",
		}, nil)
		require.Equal(t, http.StatusOK, w.Code)
		loginToken := dataField[string](t, resp, "sessionToken")
		assert.NotEqual(t, registerToken, loginToken)

		// 注销后令牌立即失效
		w, _ = srv.do(t, http.MethodPost, "/v1/auth/logout", nil, map[string]string{
			"Authorization": "Bearer " + loginToken,
		})
		require.Equal(t, http.StatusOK, w.Code)

		w, _ = srv.do(t, http.MethodGet, "/v1/auth/me", nil, map[string]string{
			"Authorization": "Bearer " + loginToken,
		})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("凭证错误返回统一401", func(t *testing.T) {
		srv := newTestServer(t, nil, nil)

		srv.do(t, http.MethodPost, "/v1/auth/register", gin.H{
			"username": "alice",
			"email":    "alice@example.com",
			"password": "correct horse battery staple",
		}, nil)

		// 密码错误与用户不存在响应一致
		w1, resp1 := srv.do(t, http.MethodPost, "/v1/auth/login", gin.H{
			"identifier": "alice", "password": "wrong password",
		}, nil)
		w2, resp2 := srv.do(t, http.MethodPost, "/v1/auth/login", gin.H{
			"identifier": "mallory", "password": "wrong password",
		}, nil)

		assert.Equal(t, http.StatusUnauthorized, w1.Code)
		assert.Equal(t, http.StatusUnauthorized, w2.Code)
		assert.Equal(t, resp1.Message, resp2.Message)
	})

	t.Run("重复注册返回409", func(t *testing.T) {
		srv := newTestServer(t, nil, nil)

		input := gin.H{"username": "alice", "email": "alice@example.com", "password": "long-enough-password"}
		w, _ := srv.do(t, http.MethodPost, "/v1/auth/register", input, nil)
		require.Equal(t, http.StatusCreated, w.Code)

		w, _ = srv.do(t, http.MethodPost, "/v1/auth/register", input, nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("未认证访问me返回401", func(t *testing.T) {
		srv := newTestServer(t, nil, nil)

		w, _ := srv.do(t, http.MethodGet, "/v1/auth/me", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestAPIKeyManagement(t *testing.T) {
	adminLogin := func(t *testing.T, srv *testServer) string {
		srv.seedAdmin(t, "admin-password-1")
		_, resp := srv.do(t, http.MethodPost, "/v1/auth/login", gin.H{
			"identifier": "admin", "password": "admin-password-1",
		}, nil)
		return dataField[string](t, resp, "sessionToken")
	}

	t.Run("管理员签发吊销密钥", func(t *testing.T) {
		srv := newTestServer(t, nil, nil)
		token := adminLogin(t, srv)
		adminHeaders := map[string]string{"Authorization": "Bearer " + token}

		// 签发
		w, resp := srv.do(t, http.MethodPost, "/v1/keys", gin.H{"name": "ci-pipeline"}, adminHeaders)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		rawKey := dataField[string](t, resp, "key")
		assert.Contains(t, rawKey, "ag_")

		meta := resp.Data.(map[string]any)["apiKey"].(map[string]any)
		keyID := meta["id"].(string)
		assert.NotContains(t, fmt.Sprintf("%v", meta), rawKey, "元数据不应包含原始密钥")

		// 列表
		w, resp = srv.do(t, http.MethodGet, "/v1/keys", nil, adminHeaders)
		require.Equal(t, http.StatusOK, w.Code)
		assert.EqualValues(t, 1, dataField[float64](t, resp, "count"))

		// 吊销
		w, _ = srv.do(t, http.MethodDelete, "/v1/keys/"+keyID, nil, adminHeaders)
		require.Equal(t, http.StatusOK, w.Code)

		// 重复吊销
		w, _ = srv.do(t, http.MethodDelete, "/v1/keys/"+keyID, nil, adminHeaders)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("普通用户无权管理密钥", func(t *testing.T) {
		srv := newTestServer(t, nil, nil)

		_, resp := srv.do(t, http.MethodPost, "/v1/auth/register", gin.H{
			"username": "alice", "email": "alice@example.com", "password": "long-enough-password",
		}, nil)
		token := dataField[string](t, resp, "sessionToken")

		w, _ := srv.do(t, http.MethodPost, "/v1/keys", gin.H{"name": "sneaky"}, map[string]string{
			"Authorization": "Bearer " + token,
		})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("匿名无法管理密钥", func(t *testing.T) {
		srv := newTestServer(t, nil, nil)

		w, _ := srv.do(t, http.MethodPost, "/v1/keys", gin.H{"name": "anon"}, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestAPIKeyAuthentication(t *testing.T) {
	t.Run("X-API-Key头认证", func(t *testing.T) {
		srv := newTestServer(t, nil, nil)
		admin := srv.seedAdmin(t, "admin-password-1")

		_, resp := srv.do(t, http.MethodPost, "/v1/auth/login", gin.H{
			"identifier": "admin", "password": "admin-password-1",
		}, nil)
		token := dataField[string](t, resp, "sessionToken")

		// 密钥绑定管理员自身
		w, resp := srv.do(t, http.MethodPost, "/v1/keys", gin.H{
			"name": "bound-key", "userId": admin.ID,
		}, map[string]string{"Authorization": "Bearer " + token})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		rawKey := dataField[string](t, resp, "key")

		w, resp = srv.do(t, http.MethodGet, "/v1/auth/me", nil, map[string]string{
			"X-API-Key": rawKey,
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "admin", dataField[string](t, resp, "username"))
	})

	t.Run("无效密钥被拒绝", func(t *testing.T) {
		srv := newTestServer(t, nil, nil)

		w, _ := srv.do(t, http.MethodGet, "/v1/auth/me", nil, map[string]string{
			"X-API-Key": "ag_never-issued-key",
		})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("强制密钥路径拦截会话访问", func(t *testing.T) {
		srv := newTestServer(t, func(cfg *config.Config) {
			cfg.APIKey.RequiredPaths = []string{"/v1/auth/me"}
		}, nil)

		_, resp := srv.do(t, http.MethodPost, "/v1/auth/register", gin.H{
			"username": "alice", "email": "alice@example.com", "password": "long-enough-password",
		}, nil)
		token := dataField[string](t, resp, "sessionToken")

		// 会话身份在强制密钥路径上不够用
		w, _ := srv.do(t, http.MethodGet, "/v1/auth/me", nil, map[string]string{
			"Authorization": "Bearer " + token,
		})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRateLimiting(t *testing.T) {
	t.Run("超限返回429与重试提示", func(t *testing.T) {
		limiter := ratelimit.New(ratelimit.Config{PerMinute: 2, PerHour: 100, IdleTTL: time.Hour}, nil)
		srv := newTestServer(t, nil, limiter)

		for i := 0; i < 2; i++ {
			w, _ := srv.do(t, http.MethodGet, "/v1/auth/me", nil, nil)
			// 未认证返回 401，但不影响限流计数
			require.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit-Minute"))
			assert.Equal(t, "100", w.Header().Get("X-RateLimit-Limit-Hour"))
		}

		w, resp := srv.do(t, http.MethodGet, "/v1/auth/me", nil, nil)
		require.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.False(t, resp.Success)
		assert.GreaterOrEqual(t, resp.RetryAfter, 1)
		assert.NotEmpty(t, w.Header().Get("Retry-After"))
		assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining-Minute"))
	})

	t.Run("限流按身份隔离", func(t *testing.T) {
		limiter := ratelimit.New(ratelimit.Config{PerMinute: 3, PerHour: 100, IdleTTL: time.Hour}, nil)
		srv := newTestServer(t, nil, limiter)

		// 注册消耗匿名(IP)配额
		w, resp := srv.do(t, http.MethodPost, "/v1/auth/register", gin.H{
			"username": "alice", "email": "alice@example.com", "password": "long-enough-password",
		}, nil)
		require.Equal(t, http.StatusCreated, w.Code)
		token := dataField[string](t, resp, "sessionToken")

		// 耗尽匿名配额
		for i := 0; i < 3; i++ {
			srv.do(t, http.MethodGet, "/v1/auth/me", nil, nil)
		}
		w, _ = srv.do(t, http.MethodGet, "/v1/auth/me", nil, nil)
		require.Equal(t, http.StatusTooManyRequests, w.Code)

		// 认证身份使用独立配额
		w, _ = srv.do(t, http.MethodGet, "/v1/auth/me", nil, map[string]string{
			"Authorization": "Bearer " + token,
		})
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
