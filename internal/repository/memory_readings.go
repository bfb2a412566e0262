package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"miot-vitals/internal/domain"

	"github.com/google/uuid"
)

// MemoryReadingsRepository: 用于 DB 未就绪时的联测。
// 互斥锁下的检查-写入与 PostgreSQL 实现的条件更新等价：
// 水位线比较和推进在同一临界区内完成
type MemoryReadingsRepository struct {
	mu         sync.Mutex
	readings   map[string][]domain.VitalsReading // patientID -> readings
	watermarks map[string]time.Time              // patientID -> last_timestamp
}

func NewMemoryReadingsRepository() *MemoryReadingsRepository {
	return &MemoryReadingsRepository{
		readings:   map[string][]domain.VitalsReading{},
		watermarks: map[string]time.Time{},
	}
}

var _ ReadingsRepository = (*MemoryReadingsRepository)(nil)

func (r *MemoryReadingsRepository) GetWatermark(_ context.Context, patientID string) (time.Time, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts, ok := r.watermarks[patientID]
	return ts, ok, nil
}

func (r *MemoryReadingsRepository) CommitReading(_ context.Context, reading *domain.VitalsReading) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.watermarks[reading.PatientID]; ok && !reading.RecordedAt.After(prev) {
		return ErrWatermarkConflict
	}

	if reading.ID == "" {
		reading.ID = uuid.New().String()
	}
	reading.CreatedAt = time.Now()

	r.watermarks[reading.PatientID] = reading.RecordedAt
	r.readings[reading.PatientID] = append(r.readings[reading.PatientID], *reading)
	return nil
}

func (r *MemoryReadingsRepository) ListReadings(_ context.Context, patientID string, limit int) ([]domain.VitalsReading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 || limit > 500 {
		limit = 50
	}

	src := r.readings[patientID]
	out := make([]domain.VitalsReading, len(src))
	copy(out, src)
	sort.Slice(out, func(i, j int) bool { return out[i].RecordedAt.After(out[j].RecordedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
