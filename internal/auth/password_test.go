package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testParams 测试用快速参数（生产默认 64MB 太慢）
var testParams = Argon2Params{
	Memory:      1024,
	Iterations:  1,
	Parallelism: 1,
}

func TestHashPassword(t *testing.T) {
	t.Run("生成自描述的PHC编码串", func(t *testing.T) {
		encoded, err := HashPassword("correct horse battery staple", testParams)
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$m=1024,t=1,p=1$"))
		assert.Len(t, strings.Split(encoded, "$"), 6)
	})

	t.Run("编码串不包含明文密码", func(t *testing.T) {
		encoded, err := HashPassword("hunter22222", testParams)
		require.NoError(t, err)
		assert.NotContains(t, encoded, "hunter22222")
	})

	t.Run("相同密码两次哈希结果不同", func(t *testing.T) {
		first, err := HashPassword("same-password", testParams)
		require.NoError(t, err)
		second, err := HashPassword("same-password", testParams)
		require.NoError(t, err)

		// 每次生成独立随机盐
		assert.NotEqual(t, first, second)
	})
}

func TestCheckPassword(t *testing.T) {
	encoded, err := HashPassword("correct horse battery staple", testParams)
	require.NoError(t, err)

	t.Run("正确密码校验通过", func(t *testing.T) {
		assert.True(t, CheckPassword("correct horse battery staple", encoded))
	})

	t.Run("错误密码校验失败", func(t *testing.T) {
		assert.False(t, CheckPassword("correct horse battery stapl", encoded))
		assert.False(t, CheckPassword("", encoded))
	})

	t.Run("按串内记录的参数校验旧哈希", func(t *testing.T) {
		// 参数调整后，旧记录仍按写入时的参数校验
		old, err := HashPassword("legacy-password", Argon2Params{Memory: 2048, Iterations: 2, Parallelism: 1})
		require.NoError(t, err)
		assert.True(t, CheckPassword("legacy-password", old))
	})

	t.Run("畸形哈希串一律失败", func(t *testing.T) {
		cases := []string{
			"",
			"not-a-hash",
			"$argon2i$v=19$m=1024,t=1,p=1$AAAA$AAAA",
			"$argon2id$v=18$m=1024,t=1,p=1$AAAA$AAAA",
			"$argon2id$v=19$m=1024,t=1,p=1$!!!$AAAA",
			"$argon2id$v=19$m=1024,t=1,p=1$AAAA$",
			"$argon2id$v=19$m=1024$AAAA$AAAA",
		}
		for _, c := range cases {
			assert.False(t, CheckPassword("whatever", c), "hash: %q", c)
		}
	})
}

func TestDecodeHash(t *testing.T) {
	t.Run("往返还原参数", func(t *testing.T) {
		encoded, err := HashPassword("roundtrip", testParams)
		require.NoError(t, err)

		params, salt, hash, err := decodeHash(encoded)
		require.NoError(t, err)
		assert.Equal(t, testParams, params)
		assert.Len(t, salt, saltLength)
		assert.Len(t, hash, keyLength)
	})

	t.Run("兜底哈希串跟随配置参数", func(t *testing.T) {
		// 用户不存在时用于等时校验的占位串必须可解析，
		// 且代价参数与当前配置一致，不能退回默认值
		params, salt, hash, err := decodeHash(dummyHash(testParams))
		require.NoError(t, err)
		assert.Equal(t, testParams, params)
		assert.Len(t, salt, saltLength)
		assert.Len(t, hash, keyLength)

		custom := Argon2Params{Memory: 2048, Iterations: 2, Parallelism: 1}
		params, _, _, err = decodeHash(dummyHash(custom))
		require.NoError(t, err)
		assert.Equal(t, custom, params)
	})
}
