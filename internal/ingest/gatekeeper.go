package ingest

import (
	"context"
	"fmt"
	"time"

	"miot-vitals/internal/domain"
	"miot-vitals/internal/repository"
)

// ReplayGatekeeper 每患者单调时间戳水位线检查。
// 只读：水位线的推进发生在提交事务里，任何后续阶段失败都不会污染会话状态。
// 攻击者无法用伪造的超前时间戳推高水位线去挤掉合法的延迟读数
type ReplayGatekeeper struct {
	repo repository.ReadingsRepository
}

func NewReplayGatekeeper(repo repository.ReadingsRepository) *ReplayGatekeeper {
	return &ReplayGatekeeper{repo: repo}
}

// Check 解析设备声称的时间戳并与当前水位线比较。
// 无水位线（首次读数）直接放行；时间戳不可解析或不严格大于水位线按重放拒绝
func (g *ReplayGatekeeper) Check(ctx context.Context, patientID, assertedTimestamp string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, assertedTimestamp)
	if err != nil {
		return time.Time{}, reject(domain.EventReplayAttack,
			fmt.Sprintf("Replay Attack Detected: invalid timestamp %q", assertedTimestamp))
	}

	watermark, ok, err := g.repo.GetWatermark(ctx, patientID)
	if err != nil {
		return time.Time{}, fmt.Errorf("gatekeeper watermark load: %w", err)
	}
	if ok && !ts.After(watermark) {
		return time.Time{}, reject(domain.EventReplayAttack, "Replay Attack Detected")
	}

	return ts, nil
}
