package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authgate/backend/internal/domain"
	"authgate/backend/internal/pool"
	"authgate/backend/internal/storage/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()

	store := memory.NewStore()
	sessions := NewSessionManager(store, store, time.Hour, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	hashPool := pool.New(2, 8, nil)
	hashPool.Start(ctx)
	t.Cleanup(func() {
		cancel()
		hashPool.Stop()
	})

	return NewService(store, sessions, hashPool, testParams, 8, nil), store
}

func TestService_Register(t *testing.T) {
	t.Run("注册成功并直接签发会话", func(t *testing.T) {
		svc, _ := newTestService(t)

		result, err := svc.Register(RegisterInput{
			Username: "alice",
			Email:    "alice@example.com",
			Password: "correct horse battery staple",
		})
		require.NoError(t, err)

		assert.Equal(t, "alice", result.User.Username)
		assert.Equal(t, "alice@example.com", result.User.Email)
		assert.Equal(t, domain.RoleUser, result.User.Role)
		assert.NotEmpty(t, result.SessionToken)

		// 存储的是哈希而非明文
		assert.NotEqual(t, "correct horse battery staple", result.User.PasswordHash)
		assert.Contains(t, result.User.PasswordHash, "$argon2id$")

		// 签发的会话立即可用
		user, err := svc.sessions.ValidateSession(result.SessionToken)
		require.NoError(t, err)
		assert.Equal(t, result.User.ID, user.ID)
	})

	t.Run("用户名与邮箱归一化为小写", func(t *testing.T) {
		svc, _ := newTestService(t)

		result, err := svc.Register(RegisterInput{
			Username: "  Alice ",
			Email:    "Alice@Example.COM",
			Password: "long-enough-password",
		})
		require.NoError(t, err)
		assert.Equal(t, "alice", result.User.Username)
		assert.Equal(t, "alice@example.com", result.User.Email)
	})

	t.Run("用户名重复", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.Register(RegisterInput{Username: "alice", Email: "alice@example.com", Password: "long-enough-password"})
		require.NoError(t, err)

		_, err = svc.Register(RegisterInput{Username: "alice", Email: "other@example.com", Password: "long-enough-password"})
		assert.ErrorIs(t, err, ErrUsernameExists)
	})

	t.Run("邮箱重复", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.Register(RegisterInput{Username: "alice", Email: "alice@example.com", Password: "long-enough-password"})
		require.NoError(t, err)

		_, err = svc.Register(RegisterInput{Username: "bob", Email: "alice@example.com", Password: "long-enough-password"})
		assert.ErrorIs(t, err, ErrEmailExists)
	})

	t.Run("输入校验", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.Register(RegisterInput{Username: "ab", Email: "a@example.com", Password: "long-enough-password"})
		assert.ErrorIs(t, err, ErrInvalidUsername)

		_, err = svc.Register(RegisterInput{Username: "has space", Email: "a@example.com", Password: "long-enough-password"})
		assert.ErrorIs(t, err, ErrInvalidUsername)

		// 上限 32 位，连字符合法
		_, err = svc.Register(RegisterInput{Username: strings.Repeat("a", 33), Email: "a@example.com", Password: "long-enough-password"})
		assert.ErrorIs(t, err, ErrInvalidUsername)

		_, err = svc.Register(RegisterInput{Username: "alice-dev_01", Email: "dev@example.com", Password: "long-enough-password"})
		assert.NoError(t, err)

		_, err = svc.Register(RegisterInput{Username: "alice", Email: "not-an-email", Password: "long-enough-password"})
		assert.ErrorIs(t, err, ErrInvalidEmail)

		_, err = svc.Register(RegisterInput{Username: "alice", Email: "a@example.com", Password: "short"})
		assert.ErrorIs(t, err, ErrWeakPassword)
	})

	t.Run("并发注册同名用户只成功一次", func(t *testing.T) {
		svc, _ := newTestService(t)

		const attempts = 8
		errs := make([]error, attempts)
		var wg sync.WaitGroup
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				_, errs[n] = svc.Register(RegisterInput{
					Username: "alice",
					Email:    "alice@example.com",
					Password: "long-enough-password",
				})
			}(i)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
			}
		}
		assert.Equal(t, 1, succeeded)
	})
}

func TestService_VerifyCredentials(t *testing.T) {
	svc, _ := newTestService(t)
	registered, err := svc.Register(RegisterInput{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "correct horse battery staple",
	})
	require.NoError(t, err)

	t.Run("用户名加正确密码", func(t *testing.T) {
		user, err := svc.VerifyCredentials("alice", "correct horse battery staple")
		require.NoError(t, err)
		assert.Equal(t, registered.User.ID, user.ID)
	})

	t.Run("邮箱加正确密码", func(t *testing.T) {
		user, err := svc.VerifyCredentials("alice@example.com", "correct horse battery staple")
		require.NoError(t, err)
		assert.Equal(t, registered.User.ID, user.ID)
	})

	t.Run("标识符大小写不敏感", func(t *testing.T) {
		_, err := svc.VerifyCredentials("ALICE", "correct horse battery staple")
		assert.NoError(t, err)
	})

	t.Run("密码错误与用户不存在返回同一错误", func(t *testing.T) {
		_, wrongPassword := svc.VerifyCredentials("alice", "wrong password")
		_, noSuchUser := svc.VerifyCredentials("mallory", "whatever password")

		assert.ErrorIs(t, wrongPassword, ErrInvalidCredentials)
		assert.ErrorIs(t, noSuchUser, ErrInvalidCredentials)
		assert.Equal(t, wrongPassword, noSuchUser)
	})
}

// failingUserRepo 模拟存储后端不可用
type failingUserRepo struct {
	domain.UserRepository
	err error
}

func (f failingUserRepo) GetUserByUsername(string) (*domain.User, error) { return nil, f.err }
func (f failingUserRepo) GetUserByEmail(string) (*domain.User, error)    { return nil, f.err }

func TestService_VerifyCredentials_StorageFailure(t *testing.T) {
	t.Run("存储故障上浮而不归入凭证错误", func(t *testing.T) {
		errDown := errors.New("connection refused")

		store := memory.NewStore()
		sessions := NewSessionManager(store, store, time.Hour, nil, nil)

		ctx, cancel := context.WithCancel(context.Background())
		hashPool := pool.New(2, 8, nil)
		hashPool.Start(ctx)
		t.Cleanup(func() {
			cancel()
			hashPool.Stop()
		})

		svc := NewService(failingUserRepo{err: errDown}, sessions, hashPool, testParams, 8, nil)

		_, err := svc.VerifyCredentials("alice", "whatever password")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrInvalidCredentials)
		assert.ErrorIs(t, err, errDown)
	})
}

func TestService_Login(t *testing.T) {
	t.Run("登录签发新会话并更新最后登录时间", func(t *testing.T) {
		svc, store := newTestService(t)
		registered, err := svc.Register(RegisterInput{
			Username: "alice",
			Email:    "alice@example.com",
			Password: "correct horse battery staple",
		})
		require.NoError(t, err)

		result, err := svc.Login("alice", "correct horse battery staple")
		require.NoError(t, err)

		assert.NotEqual(t, registered.SessionToken, result.SessionToken)
		require.NotNil(t, result.User.LastLoginAt)

		stored, err := store.GetUserByID(result.User.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.LastLoginAt)
	})

	t.Run("凭证无效不签发会话", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.Login("nobody", "whatever password")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
}
