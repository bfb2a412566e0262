package repository

import (
	"context"
	"sync"
	"time"

	"miot-vitals/internal/domain"

	"github.com/google/uuid"
)

// MemorySecurityEventsRepository 安全事件内存实现（联测用）
type MemorySecurityEventsRepository struct {
	mu     sync.Mutex
	events []domain.SecurityEvent
}

func NewMemorySecurityEventsRepository() *MemorySecurityEventsRepository {
	return &MemorySecurityEventsRepository{}
}

var _ SecurityEventsRepository = (*MemorySecurityEventsRepository)(nil)

func (r *MemorySecurityEventsRepository) InsertEvent(_ context.Context, event *domain.SecurityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	r.events = append(r.events, *event)
	return nil
}

func (r *MemorySecurityEventsRepository) ListEvents(_ context.Context, limit int) ([]domain.SecurityEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	// 倒序（最新在前）
	out := make([]domain.SecurityEvent, 0, limit)
	for i := len(r.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.events[i])
	}
	return out, nil
}
