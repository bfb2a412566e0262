package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"miot-vitals/internal/repository"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// SecurityEventsHandler 异常审计日志查询与导出（只读，写入方是 AnomalySink）
type SecurityEventsHandler struct {
	repo   repository.SecurityEventsRepository
	logger *zap.Logger
}

func NewSecurityEventsHandler(repo repository.SecurityEventsRepository, logger *zap.Logger) *SecurityEventsHandler {
	return &SecurityEventsHandler{repo: repo, logger: logger}
}

// List GET /vitals/api/v1/security-events?limit=
func (h *SecurityEventsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 100)

	events, err := h.repo.ListEvents(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list security events", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// Export GET /vitals/api/v1/security-events/export — xlsx 审计导出
func (h *SecurityEventsHandler) Export(w http.ResponseWriter, r *http.Request) {
	events, err := h.repo.ListEvents(r.Context(), 1000)
	if err != nil {
		h.logger.Error("failed to load security events for export", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheet = "SecurityEvents"
	index, err := f.NewSheet(sheet)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	headers := []string{"ID", "Created At", "Event Type", "Patient ID", "Reason", "Field", "Value", "Origin"}
	for i, hd := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, hd)
	}

	for row, ev := range events {
		values := []any{
			ev.ID,
			ev.CreatedAt.Format(time.RFC3339),
			string(ev.EventType),
			ev.PatientID,
			ev.Metadata["reason"],
			ev.Metadata["field"],
			ev.Metadata["value"],
			ev.Metadata["origin"],
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			f.SetCellValue(sheet, cell, v)
		}
	}

	filename := "security-events-" + time.Now().Format("20060102-150405") + ".xlsx"
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(filename))
	if err := f.Write(w); err != nil {
		h.logger.Error("failed to stream export", zap.Error(err))
	}
}
