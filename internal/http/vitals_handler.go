package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"miot-vitals/internal/crypto"
	"miot-vitals/internal/domain"
	"miot-vitals/internal/ingest"
	"miot-vitals/internal/repository"
	"miot-vitals/internal/store"

	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20 // 1MB

// SignatureHeader 承载请求体原始字节的 hex HMAC-SHA256 签名
const SignatureHeader = "X-Signature"

// VitalsHandler 设备接入与读数查询
type VitalsHandler struct {
	pipeline *ingest.Pipeline
	repo     repository.ReadingsRepository
	kv       store.KV // 可为 nil（无 Redis 部署）
	cipher   *crypto.EnvelopeCipher
	logger   *zap.Logger
}

func NewVitalsHandler(
	pipeline *ingest.Pipeline,
	repo repository.ReadingsRepository,
	kv store.KV,
	cipher *crypto.EnvelopeCipher,
	logger *zap.Logger,
) *VitalsHandler {
	return &VitalsHandler{
		pipeline: pipeline,
		repo:     repo,
		kv:       kv,
		cipher:   cipher,
		logger:   logger,
	}
}

// ingestRequest 接入请求体（§外部接口）
type ingestRequest struct {
	PatientID string         `json:"patientId"`
	Timestamp string         `json:"timestamp"`
	Vitals    *domain.Vitals `json:"vitals"`
	DeviceID  string         `json:"deviceId,omitempty"`
}

// Ingest POST /vitals/api/v1/ingest
// 签名校验必须覆盖原始字节，所以先整体读入，再解析
func (h *VitalsHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	rawBody, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	var req ingestRequest
	if err := json.Unmarshal(rawBody, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if req.PatientID == "" || req.Timestamp == "" || req.Vitals == nil {
		writeError(w, http.StatusBadRequest, "Missing required fields: patientId, timestamp, vitals")
		return
	}

	_, err = h.pipeline.Process(r.Context(), &ingest.Request{
		PatientID:    req.PatientID,
		Timestamp:    req.Timestamp,
		Vitals:       *req.Vitals,
		DeviceID:     req.DeviceID,
		RawBody:      rawBody,
		SignatureHex: r.Header.Get(SignatureHeader),
		Origin:       clientIP(r),
	})
	if err != nil {
		var rej *ingest.Rejection
		switch {
		case errors.As(err, &rej):
			writeError(w, http.StatusForbidden, rej.Reason)
		case errors.Is(err, repository.ErrThrottled):
			writeError(w, http.StatusTooManyRequests, "Storage throttled, retry later")
		default:
			// 内部细节不外泄
			writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// readingView 查询响应中的单条读数（加密模式下就地解密）
type readingView struct {
	ID         string         `json:"id"`
	PatientID  string         `json:"patientId"`
	RecordedAt string         `json:"recordedAt"`
	Vitals     *domain.Vitals `json:"vitals,omitempty"`
	Tampered   bool           `json:"tampered,omitempty"`
	DeviceID   string         `json:"deviceId,omitempty"`
}

// ListReadings GET /vitals/api/v1/patients/{id}/readings?limit=
func (h *VitalsHandler) ListReadings(w http.ResponseWriter, r *http.Request, patientID string) {
	limit := parseInt(r.URL.Query().Get("limit"), 50)

	readings, err := h.repo.ListReadings(r.Context(), patientID, limit)
	if err != nil {
		h.logger.Error("failed to list readings", zap.String("patient_id", patientID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	views := make([]readingView, 0, len(readings))
	for _, rd := range readings {
		views = append(views, h.toView(rd))
	}
	writeJSON(w, http.StatusOK, map[string]any{"readings": views})
}

// Latest GET /vitals/api/v1/patients/{id}/latest — Redis 快照，未命中回源 DB
func (h *VitalsHandler) Latest(w http.ResponseWriter, r *http.Request, patientID string) {
	if h.kv != nil {
		if reading, err := store.GetLatestReading(r.Context(), h.kv, patientID); err == nil {
			writeJSON(w, http.StatusOK, h.toView(*reading))
			return
		}
	}

	readings, err := h.repo.ListReadings(r.Context(), patientID, 1)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if len(readings) == 0 {
		writeError(w, http.StatusNotFound, "No readings for patient")
		return
	}
	writeJSON(w, http.StatusOK, h.toView(readings[0]))
}

func (h *VitalsHandler) toView(rd domain.VitalsReading) readingView {
	view := readingView{
		ID:         rd.ID,
		PatientID:  rd.PatientID,
		RecordedAt: rd.RecordedAt.Format(timeFormat),
		DeviceID:   rd.DeviceID,
	}

	if rd.EncryptedPayload != "" && h.cipher != nil {
		plaintext, err := h.cipher.Decrypt(rd.EncryptedPayload)
		if err != nil {
			// 认证失败 = 存储数据被篡改，标记而不是吐垃圾
			view.Tampered = true
			return view
		}
		var v domain.Vitals
		if json.Unmarshal([]byte(plaintext), &v) == nil {
			view.Vitals = &v
		}
		return view
	}

	if rd.HeartRate != nil || rd.SpO2 != nil || rd.Temp != nil {
		view.Vitals = &domain.Vitals{HeartRate: rd.HeartRate, SpO2: rd.SpO2, Temp: rd.Temp}
	}
	return view
}

const timeFormat = "2006-01-02T15:04:05Z07:00"
