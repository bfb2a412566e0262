package ingest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"miot-vitals/internal/domain"
)

// SignatureVerifier 载荷认证 + 新鲜度约束。
// 签名覆盖请求体的原始字节：重新序列化可能悄悄改变字节内容导致验签失败，
// 因此调用方必须传入未经解析的 body
type SignatureVerifier struct {
	sharedSecret    []byte
	freshnessWindow time.Duration

	// now 可替换以便测试
	now func() time.Time
}

func NewSignatureVerifier(sharedSecret string, freshnessWindow time.Duration) *SignatureVerifier {
	return &SignatureVerifier{
		sharedSecret:    []byte(sharedSecret),
		freshnessWindow: freshnessWindow,
		now:             time.Now,
	}
}

// Verify 两项独立检查，都必须通过：
//  1. 新鲜度：|now - assertedTimestamp| <= freshnessWindow，超出按过期拒绝
//     （覆盖超出会话顺序检查范围的旧签名消息重放与时钟偏移滥用）
//  2. 真实性：HMAC-SHA256(原始字节) 与请求签名常量时间比较
func (v *SignatureVerifier) Verify(rawPayload []byte, signatureHex string, assertedTimestamp time.Time) error {
	age := v.now().Sub(assertedTimestamp)
	if age < 0 {
		age = -age
	}
	if age > v.freshnessWindow {
		return reject(domain.EventStaleTimestamp, "Stale Timestamp")
	}

	provided, err := hex.DecodeString(signatureHex)
	if err != nil || len(provided) == 0 {
		return reject(domain.EventSignatureInvalid, "Signature Invalid")
	}

	mac := hmac.New(sha256.New, v.sharedSecret)
	mac.Write(rawPayload)
	expected := mac.Sum(nil)

	if !hmac.Equal(expected, provided) {
		return reject(domain.EventSignatureInvalid, "Signature Invalid")
	}
	return nil
}
