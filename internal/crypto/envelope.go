package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrIntegrity 解密认证失败 / 输入损坏。任何失败路径都必须归并到这一个错误：
// 调用方将其视为数据被篡改的信号，绝不返回部分明文。
var ErrIntegrity = errors.New("integrity check failed")

const nonceSize = 12 // AES-GCM 96-bit IV

// EnvelopeCipher 存储信封加密（AES-256-GCM）
// 输出格式: base64(iv[12] ‖ ciphertext‖tag)，与设备端约定一致
type EnvelopeCipher struct {
	key []byte
}

// NewEnvelopeCipher 创建信封加密器，key 必须为 32 字节（AES-256）
func NewEnvelopeCipher(key []byte) (*EnvelopeCipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("envelope key must be 32 bytes, got %d", len(key))
	}
	k := make([]byte, 32)
	copy(k, key)
	return &EnvelopeCipher{key: k}, nil
}

// Encrypt 加密明文，每次调用生成新的随机 12 字节 IV
func (c *EnvelopeCipher) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	ciphertext := aesgcm.Seal(nil, nonce, []byte(plaintext), nil)

	combined := make([]byte, 0, len(nonce)+len(ciphertext))
	combined = append(combined, nonce...)
	combined = append(combined, ciphertext...)

	return base64.StdEncoding.EncodeToString(combined), nil
}

// Decrypt 解密信封。认证失败、输入截断、base64 损坏、明文非 UTF-8
// 一律返回 ErrIntegrity（fail closed）
func (c *EnvelopeCipher) Decrypt(blob string) (string, error) {
	combined, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", ErrIntegrity
	}
	if len(combined) <= nonceSize {
		return "", ErrIntegrity
	}

	nonce := combined[:nonceSize]
	ciphertext := combined[nonceSize:]

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrIntegrity
	}
	if !utf8.Valid(plaintext) {
		return "", ErrIntegrity
	}

	return string(plaintext), nil
}
