package repository

import (
	"context"
	"errors"
	"time"

	"miot-vitals/internal/domain"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("record not found")

	// ErrWatermarkConflict 提交时水位线条件更新失败：并发请求已经把水位线
	// 推到了不低于本次时间戳的位置，整笔事务回滚，调用方按重放处理
	ErrWatermarkConflict = errors.New("watermark conflict")

	// ErrThrottled 后端存储限流（映射为 HTTP 429）
	ErrThrottled = errors.New("storage throttled")
)

// ReadingsRepository 读数 + 会话水位线（唯一写入方是接入管道）
type ReadingsRepository interface {
	// GetWatermark 读取患者当前水位线；从未有读数时 ok=false（不是错误）
	GetWatermark(ctx context.Context, patientID string) (ts time.Time, ok bool, err error)

	// CommitReading 单笔事务：插入读数 + 条件推进水位线。
	// 水位线推进使用存储值比较（compare-and-swap）：已有值不小于
	// reading.RecordedAt 时返回 ErrWatermarkConflict 并且不落任何数据
	CommitReading(ctx context.Context, reading *domain.VitalsReading) error

	// ListReadings 按时间倒序返回某患者最近的读数
	ListReadings(ctx context.Context, patientID string, limit int) ([]domain.VitalsReading, error)
}

// SecurityEventsRepository 安全事件（append-only，仅 AnomalySink 写入）
type SecurityEventsRepository interface {
	InsertEvent(ctx context.Context, event *domain.SecurityEvent) error
	ListEvents(ctx context.Context, limit int) ([]domain.SecurityEvent, error)
}

// TOTPSecretsRepository 二次验证密钥（账户子系统持有，这里只做存取）
type TOTPSecretsRepository interface {
	UpsertSecret(ctx context.Context, account, secret string) error
	GetSecret(ctx context.Context, account string) (*domain.TOTPSecret, error)
	DeleteSecret(ctx context.Context, account string) error
}
