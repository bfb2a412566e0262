package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"miot-vitals/internal/domain"

	"github.com/google/uuid"
)

// PostgresSecurityEventsRepository 安全事件仓库（append-only）
type PostgresSecurityEventsRepository struct {
	db *sql.DB
}

func NewPostgresSecurityEventsRepository(db *sql.DB) *PostgresSecurityEventsRepository {
	return &PostgresSecurityEventsRepository{db: db}
}

var _ SecurityEventsRepository = (*PostgresSecurityEventsRepository)(nil)

// InsertEvent 追加一条安全事件，从不更新或删除
func (r *PostgresSecurityEventsRepository) InsertEvent(ctx context.Context, event *domain.SecurityEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	meta := event.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal event metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO security_events (id, created_at, event_type, patient_id, metadata)
		 VALUES ($1, NOW(), $2, $3, $4)`,
		event.ID, string(event.EventType), event.PatientID, metaJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert security event: %w", err)
	}
	return nil
}

// ListEvents 按时间倒序返回最近事件
func (r *PostgresSecurityEventsRepository) ListEvents(ctx context.Context, limit int) ([]domain.SecurityEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, created_at, event_type, patient_id, metadata
		 FROM security_events
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list security events: %w", err)
	}
	defer rows.Close()

	var events []domain.SecurityEvent
	for rows.Next() {
		var ev domain.SecurityEvent
		var eventType string
		var metaJSON []byte
		if err := rows.Scan(&ev.ID, &ev.CreatedAt, &eventType, &ev.PatientID, &metaJSON); err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		ev.EventType = domain.EventType(eventType)
		if len(metaJSON) > 0 {
			_ = json.Unmarshal(metaJSON, &ev.Metadata)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
