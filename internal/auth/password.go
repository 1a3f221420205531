package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrMalformedHash 存储的哈希串格式不合法
var ErrMalformedHash = errors.New("malformed password hash")

const saltLength = 32 // 盐长度（字节），256 位
const keyLength = 32  // 派生密钥长度（字节）

// Argon2Params argon2id 哈希参数
//
// 参数在写入时固化到编码串中，后续即使全局配置调整，
// 旧记录仍按各自记录的参数校验。
type Argon2Params struct {
	Memory      uint32 // 内存开销（KiB）
	Iterations  uint32 // 迭代次数
	Parallelism uint8  // 并行度
}

// DefaultArgon2Params 返回默认哈希参数
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 2,
	}
}

// HashPassword 使用 argon2id 哈希密码
//
// 每次调用生成全新的 256 位随机盐，返回自描述的 PHC 编码串：
//
//	$argon2id$v=19$m=65536,t=3,p=2$<b64盐>$<b64哈希>
func HashPassword(password string, params Argon2Params) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, params.Iterations, params.Memory, params.Parallelism, keyLength)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		params.Memory,
		params.Iterations,
		params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	)
	return encoded, nil
}

// dummyHash 构造一个与给定参数同代价的占位编码串
//
// 对它执行校验与校验真实记录走完全相同的派生路径，
// 因此未知用户与密码错误在耗时上不可区分。
func dummyHash(params Argon2Params) string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		params.Memory,
		params.Iterations,
		params.Parallelism,
		base64.RawStdEncoding.EncodeToString(make([]byte, saltLength)),
		base64.RawStdEncoding.EncodeToString(make([]byte, keyLength)),
	)
}

// CheckPassword 校验密码与存储的编码串是否匹配
//
// 按编码串中记录的参数重新派生并做常量时间比较。
// 任何解码失败、长度不符或哈希不等都只返回 false，不区分原因。
func CheckPassword(password, encoded string) bool {
	params, salt, hash, err := decodeHash(encoded)
	if err != nil {
		return false
	}

	derived := argon2.IDKey([]byte(password), salt, params.Iterations, params.Memory, params.Parallelism, uint32(len(hash)))
	return subtle.ConstantTimeCompare(hash, derived) == 1
}

// decodeHash 解析 PHC 编码串，还原参数、盐与哈希
func decodeHash(encoded string) (Argon2Params, []byte, []byte, error) {
	var params Argon2Params

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return params, nil, nil, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return params, nil, nil, ErrMalformedHash
	}
	if version != argon2.Version {
		return params, nil, nil, ErrMalformedHash
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.Memory, &params.Iterations, &params.Parallelism); err != nil {
		return params, nil, nil, ErrMalformedHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return params, nil, nil, ErrMalformedHash
	}

	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(hash) == 0 {
		return params, nil, nil, ErrMalformedHash
	}

	return params, salt, hash, nil
}
