package service

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authgate/backend/internal/domain"
	"authgate/backend/internal/storage/memory"
)

func newTestKeyService(t *testing.T) (*APIKeyService, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	return NewAPIKeyService(store, nil, nil), store
}

func seedOwner(t *testing.T, store *memory.Store) *domain.User {
	t.Helper()
	user := &domain.User{
		ID:        "owner-1",
		Username:  "owner",
		Email:     "owner@example.com",
		Role:      domain.RoleUser,
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateUser(user))
	return user
}

func TestAPIKeyService_CreateAPIKey(t *testing.T) {
	t.Run("原始密钥只返回一次且不落库", func(t *testing.T) {
		svc, store := newTestKeyService(t)

		rawKey, key, err := svc.CreateAPIKey(CreateAPIKeyInput{Name: "ci-pipeline"})
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(rawKey, RawKeyPrefix))
		assert.Equal(t, rawKey[:prefixLength], key.KeyPrefix)
		assert.Equal(t, "ci-pipeline", key.Name)
		assert.Nil(t, key.UserID)

		// 存储中只有摘要，无法还原原始密钥
		stored, err := store.GetAPIKey(key.ID)
		require.NoError(t, err)
		assert.Equal(t, HashKey(rawKey), stored.KeyHash)
		assert.NotContains(t, stored.KeyHash, rawKey)
	})

	t.Run("名称不能为空", func(t *testing.T) {
		svc, _ := newTestKeyService(t)

		_, _, err := svc.CreateAPIKey(CreateAPIKeyInput{Name: "   "})
		assert.ErrorIs(t, err, ErrAPIKeyNameRequired)
	})

	t.Run("归属用户必须存在", func(t *testing.T) {
		svc, store := newTestKeyService(t)
		owner := seedOwner(t, store)

		_, key, err := svc.CreateAPIKey(CreateAPIKeyInput{Name: "svc-key", UserID: &owner.ID})
		require.NoError(t, err)
		assert.Equal(t, owner.ID, *key.UserID)

		ghost := "no-such-user"
		_, _, err = svc.CreateAPIKey(CreateAPIKeyInput{Name: "orphan-key", UserID: &ghost})
		assert.Error(t, err)
	})

	t.Run("每次签发的密钥互不相同", func(t *testing.T) {
		svc, _ := newTestKeyService(t)

		first, _, err := svc.CreateAPIKey(CreateAPIKeyInput{Name: "k1"})
		require.NoError(t, err)
		second, _, err := svc.CreateAPIKey(CreateAPIKeyInput{Name: "k2"})
		require.NoError(t, err)

		assert.NotEqual(t, first, second)
	})
}

func TestAPIKeyService_ValidateAPIKey(t *testing.T) {
	t.Run("有效密钥校验通过并记录最后使用时间", func(t *testing.T) {
		svc, _ := newTestKeyService(t)

		rawKey, created, err := svc.CreateAPIKey(CreateAPIKeyInput{Name: "ci-key"})
		require.NoError(t, err)

		key, err := svc.ValidateAPIKey(rawKey)
		require.NoError(t, err)
		assert.Equal(t, created.ID, key.ID)
		assert.NotNil(t, key.LastUsedAt)
	})

	t.Run("未知或格式错误的密钥", func(t *testing.T) {
		svc, _ := newTestKeyService(t)

		_, err := svc.ValidateAPIKey("")
		assert.ErrorIs(t, err, ErrAPIKeyInvalid)

		_, err = svc.ValidateAPIKey("not-prefixed-key")
		assert.ErrorIs(t, err, ErrAPIKeyInvalid)

		_, err = svc.ValidateAPIKey(RawKeyPrefix + "never-issued")
		assert.ErrorIs(t, err, ErrAPIKeyInvalid)
	})

	t.Run("吊销立即生效", func(t *testing.T) {
		svc, _ := newTestKeyService(t)

		rawKey, created, err := svc.CreateAPIKey(CreateAPIKeyInput{Name: "to-revoke"})
		require.NoError(t, err)

		_, err = svc.ValidateAPIKey(rawKey)
		require.NoError(t, err)

		require.NoError(t, svc.RevokeAPIKey(created.ID))

		_, err = svc.ValidateAPIKey(rawKey)
		assert.ErrorIs(t, err, ErrAPIKeyRevoked)
	})

	t.Run("过期密钥被拒绝", func(t *testing.T) {
		svc, _ := newTestKeyService(t)

		past := time.Now().Add(-time.Minute)
		rawKey, _, err := svc.CreateAPIKey(CreateAPIKeyInput{Name: "stale-key", ExpiresAt: &past})
		require.NoError(t, err)

		_, err = svc.ValidateAPIKey(rawKey)
		assert.ErrorIs(t, err, ErrAPIKeyExpired)
	})
}

func TestAPIKeyService_RevokeAPIKey(t *testing.T) {
	t.Run("吊销是终态", func(t *testing.T) {
		svc, _ := newTestKeyService(t)

		_, created, err := svc.CreateAPIKey(CreateAPIKeyInput{Name: "ci-key"})
		require.NoError(t, err)

		require.NoError(t, svc.RevokeAPIKey(created.ID))

		err = svc.RevokeAPIKey(created.ID)
		assert.ErrorIs(t, err, ErrAPIKeyAlreadyRevoked)

		key, err := svc.store.GetAPIKey(created.ID)
		require.NoError(t, err)
		assert.True(t, key.IsRevoked)
		assert.NotNil(t, key.RevokedAt)
	})

	t.Run("吊销不存在的密钥", func(t *testing.T) {
		svc, _ := newTestKeyService(t)

		err := svc.RevokeAPIKey("no-such-id")
		assert.ErrorIs(t, err, ErrAPIKeyNotFound)
	})
}

func TestAPIKeyService_ListAPIKeys(t *testing.T) {
	t.Run("按归属用户过滤并默认隐藏已吊销", func(t *testing.T) {
		svc, store := newTestKeyService(t)
		owner := seedOwner(t, store)

		_, owned, err := svc.CreateAPIKey(CreateAPIKeyInput{Name: "owned", UserID: &owner.ID})
		require.NoError(t, err)
		_, unowned, err := svc.CreateAPIKey(CreateAPIKeyInput{Name: "unowned"})
		require.NoError(t, err)
		_, revoked, err := svc.CreateAPIKey(CreateAPIKeyInput{Name: "revoked", UserID: &owner.ID})
		require.NoError(t, err)
		require.NoError(t, svc.RevokeAPIKey(revoked.ID))

		all, err := svc.ListAPIKeys(nil, false)
		require.NoError(t, err)
		require.Len(t, all, 2)
		ids := []string{all[0].ID, all[1].ID}
		assert.Contains(t, ids, owned.ID)
		assert.Contains(t, ids, unowned.ID)

		ownedOnly, err := svc.ListAPIKeys(&owner.ID, false)
		require.NoError(t, err)
		require.Len(t, ownedOnly, 1)
		assert.Equal(t, owned.ID, ownedOnly[0].ID)

		withRevoked, err := svc.ListAPIKeys(&owner.ID, true)
		require.NoError(t, err)
		assert.Len(t, withRevoked, 2)
	})
}
