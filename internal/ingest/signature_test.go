package ingest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"miot-vitals/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "my-super-secret-hmac-key-12345"

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifierAt(now time.Time) *SignatureVerifier {
	v := NewSignatureVerifier(testSecret, 120*time.Second)
	v.now = func() time.Time { return now }
	return v
}

func TestSignatureVerifier_Valid(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := verifierAt(now)

	payload := []byte(`{"patientId":"p123","timestamp":"x","vitals":{"heartRate":72}}`)
	assert.NoError(t, v.Verify(payload, sign(payload, testSecret), now))

	// 窗口内的轻微时钟偏差两个方向都放行
	assert.NoError(t, v.Verify(payload, sign(payload, testSecret), now.Add(-119*time.Second)))
	assert.NoError(t, v.Verify(payload, sign(payload, testSecret), now.Add(119*time.Second)))
}

func TestSignatureVerifier_Stale(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := verifierAt(now)
	payload := []byte(`{"patientId":"p123"}`)
	sig := sign(payload, testSecret)

	for _, ts := range []time.Time{
		now.Add(-121 * time.Second),
		now.Add(121 * time.Second),
		now.Add(-time.Hour),
	} {
		err := v.Verify(payload, sig, ts)
		var rej *Rejection
		require.ErrorAs(t, err, &rej, "ts=%v", ts)
		assert.Equal(t, domain.EventStaleTimestamp, rej.Type)
	}
}

func TestSignatureVerifier_TamperedPayload(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := verifierAt(now)

	payload := []byte(`{"patientId":"p123","vitals":{"heartRate":72}}`)
	sig := sign(payload, testSecret)

	// 签名后篡改一个字节，沿用旧签名
	tampered := append([]byte(nil), payload...)
	tampered[len(tampered)/2] ^= 0x01

	err := v.Verify(tampered, sig, now)
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, domain.EventSignatureInvalid, rej.Type)
}

func TestSignatureVerifier_WrongSecret(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := verifierAt(now)
	payload := []byte(`{"patientId":"p123"}`)

	err := v.Verify(payload, sign(payload, "another-secret"), now)
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, domain.EventSignatureInvalid, rej.Type)
}

func TestSignatureVerifier_MalformedSignature(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := verifierAt(now)
	payload := []byte(`{"patientId":"p123"}`)

	for _, sig := range []string{"", "zzzz", "abc"} {
		err := v.Verify(payload, sig, now)
		var rej *Rejection
		require.ErrorAs(t, err, &rej, "sig=%q", sig)
		assert.Equal(t, domain.EventSignatureInvalid, rej.Type)
	}
}
