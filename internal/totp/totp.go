package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	// base32 字母表（RFC 4648，无填充）
	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

	// DefaultStep TOTP 时间步长
	DefaultStep = 30 * time.Second

	// DefaultWindow 验证窗口（±1 步长，容忍客户端/服务端时钟偏差）
	DefaultWindow = 1

	secretBytes = 20
	digits      = 6
)

// Engine 二次验证 TOTP 引擎（RFC 6238，SHA-1 核心，6 位验证码）
type Engine struct {
	Issuer string

	// now 可替换以便测试
	now func() time.Time
}

// NewEngine 创建 TOTP 引擎
func NewEngine(issuer string) *Engine {
	return &Engine{Issuer: issuer, now: time.Now}
}

// GenerateSecret 生成 20 随机字节的共享密钥，base32 渲染为 32 字符（无填充）
func (e *Engine) GenerateSecret() (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to read random source: %w", err)
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw), nil
}

// DecodeBase32 解码 base32 密钥。非字母表字符（空格、连字符、小写转大写后仍
// 不在表内的）直接跳过而不报错：人工录入的密钥常带分隔符
func DecodeBase32(encoded string) []byte {
	var bits strings.Builder
	for _, ch := range strings.ToUpper(encoded) {
		idx := strings.IndexRune(alphabet, ch)
		if idx == -1 {
			continue
		}
		bits.WriteString(fmt.Sprintf("%05b", idx))
	}

	s := bits.String()
	out := make([]byte, len(s)/8)
	for i := range out {
		var v byte
		for j := 0; j < 8; j++ {
			v <<= 1
			if s[i*8+j] == '1' {
				v |= 1
			}
		}
		out[i] = v
	}
	return out
}

// ComputeCode 计算给定时刻的 6 位验证码（RFC 4226 动态截断）
func (e *Engine) ComputeCode(secret string, at time.Time, step time.Duration) string {
	counter := uint64(at.Unix()) / uint64(step.Seconds())
	return codeForCounter(DecodeBase32(secret), counter)
}

// Verify 校验验证码，接受当前时刻 ±DefaultWindow 个步长内的任一匹配
func (e *Engine) Verify(code, secret string) bool {
	ok, _ := e.VerifyWithStep(code, secret)
	return ok
}

// VerifyWithStep 同 Verify，额外返回匹配到的时间步计数
// （供单次使用缓存以 (账户, 步计数) 为键记录已消费的验证码）
func (e *Engine) VerifyWithStep(code, secret string) (bool, uint64) {
	key := DecodeBase32(secret)
	counter := uint64(e.now().Unix()) / uint64(DefaultStep.Seconds())

	for i := -DefaultWindow; i <= DefaultWindow; i++ {
		c := uint64(int64(counter) + int64(i))
		if codeForCounter(key, c) == code {
			return true, c
		}
	}
	return false, 0
}

// ProvisioningURI 生成认证器扫码 URI:
// otpauth://totp/{issuer}:{account}?secret={base32}&issuer={issuer}
func (e *Engine) ProvisioningURI(secret, account string) string {
	return fmt.Sprintf("otpauth://totp/%s:%s?secret=%s&issuer=%s",
		url.PathEscape(e.Issuer), url.PathEscape(account), secret, url.QueryEscape(e.Issuer))
}

func codeForCounter(key []byte, counter uint64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	digest := mac.Sum(nil)

	offset := digest[len(digest)-1] & 0x0f
	code := (uint32(digest[offset]&0x7f)<<24 |
		uint32(digest[offset+1])<<16 |
		uint32(digest[offset+2])<<8 |
		uint32(digest[offset+3])) % 1000000

	return fmt.Sprintf("%0*d", digits, code)
}
