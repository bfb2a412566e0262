package mqtt

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"miot-vitals/internal/domain"
	"miot-vitals/internal/ingest"
	"miot-vitals/internal/repository"
)

const testSecret = "my-super-secret-hmac-key-12345"

type recordingSink struct {
	mu     sync.Mutex
	events []domain.SecurityEvent
}

func (s *recordingSink) Record(event domain.SecurityEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func newConsumerFixture(t *testing.T) (*Consumer, *repository.MemoryReadingsRepository, *recordingSink) {
	t.Helper()
	logger := zap.NewNop()
	repo := repository.NewMemoryReadingsRepository()
	sink := &recordingSink{}
	pipeline := ingest.NewPipeline(
		ingest.NewReplayGatekeeper(repo),
		ingest.NewSignatureVerifier(testSecret, 2*time.Minute),
		repo,
		sink,
		logger,
	)
	// handleMessage 不触网，client 可以为空
	return NewConsumer(nil, pipeline, "miot/vitals/+", 1, logger), repo, sink
}

// signedMessage 构造 {payload, sig} 包装消息；sig 覆盖 payload 的原始字节
func signedMessage(patientID string, hr float64) []byte {
	ts := time.Now().UTC().Format("2006-01-02T15:04:05Z")
	payload := fmt.Sprintf(
		`{"patientId":%q,"timestamp":%q,"vitals":{"heartRate":%g,"spo2":98,"temp":36.6}}`,
		patientID, ts, hr)
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(payload))
	sig := hex.EncodeToString(mac.Sum(nil))
	return []byte(fmt.Sprintf(`{"payload":%s,"sig":%q}`, payload, sig))
}

func TestHandleMessage_CommitsReading(t *testing.T) {
	c, repo, sink := newConsumerFixture(t)

	err := c.handleMessage("miot/vitals/p123", signedMessage("p123", 72))
	require.NoError(t, err)

	readings, err := repo.ListReadings(context.Background(), "p123", 10)
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.Empty(t, sink.events)
}

func TestHandleMessage_BadSignatureRecordsEvent(t *testing.T) {
	c, repo, sink := newConsumerFixture(t)

	ts := time.Now().UTC().Format("2006-01-02T15:04:05Z")
	bad := []byte(fmt.Sprintf(
		`{"payload":{"patientId":"p123","timestamp":%q,"vitals":{"heartRate":72,"spo2":98,"temp":36.6}},"sig":"deadbeef"}`, ts))

	err := c.handleMessage("miot/vitals/p123", bad)
	assert.Error(t, err)

	readings, _ := repo.ListReadings(context.Background(), "p123", 10)
	assert.Empty(t, readings)
	require.Len(t, sink.events, 1)
	assert.Equal(t, domain.EventSignatureInvalid, sink.events[0].EventType)
}

func TestHandleMessage_MalformedJSON(t *testing.T) {
	c, _, sink := newConsumerFixture(t)

	err := c.handleMessage("miot/vitals/p123", []byte(`{not json`))
	assert.Error(t, err)
	assert.Empty(t, sink.events)
}
