package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
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

// captureSink 记录管道投递的安全事件
type captureSink struct {
	mu     sync.Mutex
	events []domain.SecurityEvent
}

func (s *captureSink) Record(event domain.SecurityEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *captureSink) types() []domain.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

type handlerFixture struct {
	router *Router
	repo   *repository.MemoryReadingsRepository
	sink   *captureSink
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	logger := zap.NewNop()

	repo := repository.NewMemoryReadingsRepository()
	sink := &captureSink{}
	pipeline := ingest.NewPipeline(
		ingest.NewReplayGatekeeper(repo),
		ingest.NewSignatureVerifier(testSecret, 2*time.Minute),
		repo,
		sink,
		logger,
	)

	router := NewRouter(logger)
	router.RegisterVitalsRoutes(NewVitalsHandler(pipeline, repo, nil, nil, logger), nil)
	return &handlerFixture{router: router, repo: repo, sink: sink}
}

// ingestBody 构造签名覆盖的请求体。时间戳必须落在新鲜度窗口内，
// 所以用相对当前时间的偏移
func ingestBody(patientID string, offset time.Duration, hr, spo2, temp float64) []byte {
	ts := time.Now().UTC().Add(offset).Format("2006-01-02T15:04:05Z")
	return []byte(fmt.Sprintf(
		`{"patientId":%q,"timestamp":%q,"vitals":{"heartRate":%g,"spo2":%g,"temp":%g},"deviceId":"dev-01"}`,
		patientID, ts, hr, spo2, temp))
}

func (f *handlerFixture) postIngest(body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/vitals/api/v1/ingest", strings.NewReader(string(body)))
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestIngest_Success(t *testing.T) {
	f := newHandlerFixture(t)

	body := ingestBody("p123", -10*time.Second, 72, 98, 36.6)
	w := f.postIngest(body, sign(body))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"success":true`)
	assert.Empty(t, f.sink.types())
}

// TestIngest_ReplayThenSanity 完整攻击场景：合法读数入库后，
// 原样重放被挡，随后的不合理读数也被挡
func TestIngest_ReplayThenSanity(t *testing.T) {
	f := newHandlerFixture(t)

	// 1. 合法读数
	body := ingestBody("p123", -10*time.Second, 72, 98, 36.6)
	w := f.postIngest(body, sign(body))
	require.Equal(t, http.StatusOK, w.Code)

	// 2. 原样重放：字节和签名全部一致，仍须被水位线拒绝
	w = f.postIngest(body, sign(body))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "Replay Attack Detected")

	// 3. 生理上不可能的读数
	body = ingestBody("p123", time.Second, 300, 98, 36.6)
	w = f.postIngest(body, sign(body))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "Sanity Check Fail")

	assert.Equal(t,
		[]domain.EventType{domain.EventReplayAttack, domain.EventSanityCheckFail},
		f.sink.types())
}

func TestIngest_TamperedBody(t *testing.T) {
	f := newHandlerFixture(t)

	body := ingestBody("p123", -10*time.Second, 72, 98, 36.6)
	signature := sign(body)

	// 签名后改动载荷
	tampered := []byte(strings.Replace(string(body), `"heartRate":72`, `"heartRate":73`, 1))
	w := f.postIngest(tampered, signature)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "Signature Invalid")
}

func TestIngest_StaleTimestamp(t *testing.T) {
	f := newHandlerFixture(t)

	body := ingestBody("p123", -10*time.Minute, 72, 98, 36.6)
	w := f.postIngest(body, sign(body))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "Stale Timestamp")
}

func TestIngest_MissingFields(t *testing.T) {
	f := newHandlerFixture(t)

	cases := []struct {
		name string
		body string
	}{
		{"no patientId", `{"timestamp":"2026-08-29T10:00:00Z","vitals":{"heartRate":72}}`},
		{"no timestamp", `{"patientId":"p123","vitals":{"heartRate":72}}`},
		{"no vitals", `{"patientId":"p123","timestamp":"2026-08-29T10:00:00Z"}`},
		{"malformed", `{"patientId":`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := f.postIngest([]byte(tc.body), sign([]byte(tc.body)))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestIngest_MethodNotAllowed(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/vitals/api/v1/ingest", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestIngest_CORSPreflight(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/vitals/api/v1/ingest", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, strings.ToLower(w.Header().Get("Access-Control-Allow-Headers")), "x-signature")
}

func TestListReadings_ReturnsCommitted(t *testing.T) {
	f := newHandlerFixture(t)

	body := ingestBody("p123", -10*time.Second, 72, 98, 36.6)
	require.Equal(t, http.StatusOK, f.postIngest(body, sign(body)).Code)

	req := httptest.NewRequest(http.MethodGet, "/vitals/api/v1/patients/p123/readings", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Readings []struct {
			PatientID string         `json:"patientId"`
			Vitals    *domain.Vitals `json:"vitals"`
		} `json:"readings"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Readings, 1)
	assert.Equal(t, "p123", resp.Readings[0].PatientID)
	require.NotNil(t, resp.Readings[0].Vitals)
	require.NotNil(t, resp.Readings[0].Vitals.HeartRate)
	assert.Equal(t, 72.0, *resp.Readings[0].Vitals.HeartRate)
}

func TestLatest_NoReadings(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/vitals/api/v1/patients/p999/latest", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRateLimit_Returns429(t *testing.T) {
	logger := zap.NewNop()
	repo := repository.NewMemoryReadingsRepository()
	sink := &captureSink{}
	pipeline := ingest.NewPipeline(
		ingest.NewReplayGatekeeper(repo),
		ingest.NewSignatureVerifier(testSecret, 2*time.Minute),
		repo,
		sink,
		logger,
	)

	// rps=1, burst=2：第三个立即到达的请求必须被限
	limiter := NewIPRateLimiter(1, 2, sink, logger)
	defer limiter.Stop()

	router := NewRouter(logger)
	router.RegisterVitalsRoutes(NewVitalsHandler(pipeline, repo, nil, nil, logger), limiter)

	var last int
	for i := 0; i < 3; i++ {
		body := ingestBody("p123", time.Duration(i-30)*time.Second, 72, 98, 36.6)
		req := httptest.NewRequest(http.MethodPost, "/vitals/api/v1/ingest", strings.NewReader(string(body)))
		req.Header.Set(SignatureHeader, sign(body))
		req.RemoteAddr = "10.0.0.1:4242"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		last = w.Code
	}

	assert.Equal(t, http.StatusTooManyRequests, last)

	// 洪水必须留痕：每个 429 对应一条 RateLimited 审计事件
	require.Equal(t, []domain.EventType{domain.EventRateLimited}, sink.types())
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, "10.0.0.1", sink.events[0].Metadata["origin"])
}
