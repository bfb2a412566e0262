package httpapi

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"miot-vitals/internal/domain"
	"miot-vitals/internal/repository"
)

func newEventsFixture(t *testing.T) (*Router, *repository.MemorySecurityEventsRepository) {
	t.Helper()
	logger := zap.NewNop()
	repo := repository.NewMemorySecurityEventsRepository()

	router := NewRouter(logger)
	router.RegisterSecurityEventRoutes(NewSecurityEventsHandler(repo, logger))
	return router, repo
}

func seedEvents(t *testing.T, repo *repository.MemorySecurityEventsRepository) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.InsertEvent(ctx, &domain.SecurityEvent{
		EventType: domain.EventReplayAttack,
		PatientID: "p123",
		Metadata:  map[string]string{"reason": "Replay Attack Detected"},
	}))
	require.NoError(t, repo.InsertEvent(ctx, &domain.SecurityEvent{
		EventType: domain.EventSanityCheckFail,
		PatientID: "p456",
		Metadata:  map[string]string{"reason": "Sanity Check Fail: heartRate out of range", "field": "heartRate", "value": "300"},
	}))
}

func TestSecurityEvents_List(t *testing.T) {
	router, repo := newEventsFixture(t)
	seedEvents(t, repo)

	req := httptest.NewRequest(http.MethodGet, "/vitals/api/v1/security-events", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "ReplayAttack")
	assert.Contains(t, body, "SanityCheckFailed")
	assert.Contains(t, body, "p123")
}

func TestSecurityEvents_Export(t *testing.T) {
	router, repo := newEventsFixture(t)
	seedEvents(t, repo)

	req := httptest.NewRequest(http.MethodGet, "/vitals/api/v1/security-events/export", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("SecurityEvents")
	require.NoError(t, err)
	// 表头 + 两条事件
	require.Len(t, rows, 3)
	assert.Equal(t, "ID", rows[0][0])
	assert.Equal(t, "Event Type", rows[0][2])
}
