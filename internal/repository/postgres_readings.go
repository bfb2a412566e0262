package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"miot-vitals/internal/domain"

	"github.com/google/uuid"
)

// PostgresReadingsRepository 读数仓库 PostgreSQL 实现
type PostgresReadingsRepository struct {
	db *sql.DB
}

// NewPostgresReadingsRepository 创建读数仓库
func NewPostgresReadingsRepository(db *sql.DB) *PostgresReadingsRepository {
	return &PostgresReadingsRepository{db: db}
}

// 确保实现了接口
var _ ReadingsRepository = (*PostgresReadingsRepository)(nil)

// GetWatermark 读取患者当前水位线
func (r *PostgresReadingsRepository) GetWatermark(ctx context.Context, patientID string) (time.Time, bool, error) {
	var ts time.Time
	err := r.db.QueryRowContext(ctx,
		`SELECT last_timestamp FROM patient_sessions WHERE patient_id = $1`,
		patientID,
	).Scan(&ts)
	if err == sql.ErrNoRows {
		// 首次读数，没有水位线
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to load watermark: %w", err)
	}
	return ts, true, nil
}

// CommitReading 单笔事务提交读数并条件推进水位线。
// 水位线更新带 WHERE last_timestamp < EXCLUDED.last_timestamp：两个并发请求
// 读到同一旧水位线时，只有一个能通过条件更新，另一个回滚并返回
// ErrWatermarkConflict — 读数和水位线要么同时落库要么都不落
func (r *PostgresReadingsRepository) CommitReading(ctx context.Context, reading *domain.VitalsReading) error {
	if reading.ID == "" {
		reading.ID = uuid.New().String()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO patient_sessions (patient_id, last_timestamp, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (patient_id)
		 DO UPDATE SET last_timestamp = EXCLUDED.last_timestamp,
		               updated_at = NOW()
		 WHERE patient_sessions.last_timestamp < EXCLUDED.last_timestamp`,
		reading.PatientID, reading.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrWatermarkConflict
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO vitals_readings
		   (id, patient_id, recorded_at, heart_rate, spo2, temp, encrypted_payload, device_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`,
		reading.ID, reading.PatientID, reading.RecordedAt,
		reading.HeartRate, reading.SpO2, reading.Temp,
		nullIfEmpty(reading.EncryptedPayload), nullIfEmpty(reading.DeviceID),
	)
	if err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reading: %w", err)
	}
	return nil
}

// ListReadings 按 recorded_at 倒序返回最近读数
func (r *PostgresReadingsRepository) ListReadings(ctx context.Context, patientID string, limit int) ([]domain.VitalsReading, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, patient_id, recorded_at, heart_rate, spo2, temp,
		        COALESCE(encrypted_payload, ''), COALESCE(device_id, ''), created_at
		 FROM vitals_readings
		 WHERE patient_id = $1
		 ORDER BY recorded_at DESC
		 LIMIT $2`,
		patientID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list readings: %w", err)
	}
	defer rows.Close()

	var readings []domain.VitalsReading
	for rows.Next() {
		var rd domain.VitalsReading
		var hr, spo2, temp sql.NullFloat64
		if err := rows.Scan(&rd.ID, &rd.PatientID, &rd.RecordedAt,
			&hr, &spo2, &temp, &rd.EncryptedPayload, &rd.DeviceID, &rd.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		if hr.Valid {
			v := hr.Float64
			rd.HeartRate = &v
		}
		if spo2.Valid {
			v := spo2.Float64
			rd.SpO2 = &v
		}
		if temp.Valid {
			v := temp.Float64
			rd.Temp = &v
		}
		readings = append(readings, rd)
	}
	return readings, rows.Err()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
