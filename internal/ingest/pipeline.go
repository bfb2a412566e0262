package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"miot-vitals/internal/crypto"
	"miot-vitals/internal/domain"
	"miot-vitals/internal/repository"

	"go.uber.org/zap"
)

// AnomalyRecorder 异常事件的非阻塞投递口（由 anomaly.Sink 实现）
type AnomalyRecorder interface {
	Record(event domain.SecurityEvent)
}

// Request 一次接入请求。RawBody 必须是未经重新序列化的请求原始字节
type Request struct {
	PatientID string
	Timestamp string
	Vitals    domain.Vitals
	DeviceID  string

	RawBody      []byte
	SignatureHex string

	// Origin 调用方网络来源，仅用于 RateLimited/ServerError 的原始上下文记录
	Origin string
}

// CommitHook 提交成功后的回调（最新读数缓存等），失败只记日志不影响结果
type CommitHook func(ctx context.Context, reading *domain.VitalsReading)

// Pipeline 接入信任管道编排器。
// 阶段次序固定：gatekeeper → signature/freshness → plausibility → commit；
// 第一个失败的阶段短路其余阶段（提交前所有阶段无副作用，短路总是安全的）。
// 每个结局（成功或任一种拒绝）恰好产生一次响应和至多一次异常记录
type Pipeline struct {
	gatekeeper *ReplayGatekeeper
	verifier   *SignatureVerifier
	repo       repository.ReadingsRepository
	sink       AnomalyRecorder
	logger     *zap.Logger

	// cipher 非空时启用落库信封加密
	cipher *crypto.EnvelopeCipher

	hooks []CommitHook
}

func NewPipeline(
	gatekeeper *ReplayGatekeeper,
	verifier *SignatureVerifier,
	repo repository.ReadingsRepository,
	sink AnomalyRecorder,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		gatekeeper: gatekeeper,
		verifier:   verifier,
		repo:       repo,
		sink:       sink,
		logger:     logger,
	}
}

// WithEnvelopeCipher 启用存储信封加密
func (p *Pipeline) WithEnvelopeCipher(c *crypto.EnvelopeCipher) *Pipeline {
	p.cipher = c
	return p
}

// OnCommit 注册提交成功回调
func (p *Pipeline) OnCommit(h CommitHook) *Pipeline {
	p.hooks = append(p.hooks, h)
	return p
}

// Process 执行整条管道。返回的 error 要么是 *Rejection（调用方映射为 403），
// 要么是 repository.ErrThrottled（429），要么是未分类内部错误（500）。
// 所有失败路径在返回前已各自投递过一条安全事件
func (p *Pipeline) Process(ctx context.Context, req *Request) (*domain.VitalsReading, error) {
	// Stage 1: 重放水位线
	ts, err := p.gatekeeper.Check(ctx, req.PatientID, req.Timestamp)
	if err != nil {
		return nil, p.fail(req, err)
	}

	// Stage 2: 签名 + 新鲜度
	if err := p.verifier.Verify(req.RawBody, req.SignatureHex, ts); err != nil {
		return nil, p.fail(req, err)
	}

	// Stage 3: 生理合理性
	if err := CheckPlausibility(req.Vitals); err != nil {
		return nil, p.fail(req, err)
	}

	// Stage 4: 原子提交（读数落库 + 水位线条件推进，同一事务）
	reading := &domain.VitalsReading{
		PatientID:  req.PatientID,
		RecordedAt: ts,
		DeviceID:   req.DeviceID,
	}
	if p.cipher != nil {
		plaintext, err := json.Marshal(req.Vitals)
		if err != nil {
			return nil, p.fail(req, fmt.Errorf("marshal vitals: %w", err))
		}
		blob, err := p.cipher.Encrypt(string(plaintext))
		if err != nil {
			return nil, p.fail(req, fmt.Errorf("encrypt vitals: %w", err))
		}
		reading.EncryptedPayload = blob
	} else {
		reading.HeartRate = req.Vitals.HeartRate
		reading.SpO2 = req.Vitals.SpO2
		reading.Temp = req.Vitals.Temp
	}

	if err := p.repo.CommitReading(ctx, reading); err != nil {
		if errors.Is(err, repository.ErrWatermarkConflict) {
			// 并发请求抢先推进了水位线：等价于在网关阶段落败
			return nil, p.fail(req, reject(domain.EventReplayAttack, "Replay Attack Detected"))
		}
		return nil, p.fail(req, err)
	}

	for _, h := range p.hooks {
		h(ctx, reading)
	}

	p.logger.Info("reading committed",
		zap.String("patient_id", req.PatientID),
		zap.Time("recorded_at", ts))
	return reading, nil
}

// fail 把终态失败转成恰好一条安全事件，再原样返回错误。
// 投递是 fire-and-forget：响应从不等待日志落地
func (p *Pipeline) fail(req *Request, err error) error {
	var rej *Rejection
	if errors.As(err, &rej) {
		meta := map[string]string{"reason": rej.Reason}
		for k, v := range rej.Metadata {
			meta[k] = v
		}
		p.sink.Record(domain.SecurityEvent{
			EventType: rej.Type,
			PatientID: req.PatientID,
			Metadata:  meta,
		})
		return err
	}

	// 阶段逻辑之外的故障：限流或后端错误，带上原始调用上下文
	eventType := domain.EventServerError
	if errors.Is(err, repository.ErrThrottled) {
		eventType = domain.EventRateLimited
	}
	p.sink.Record(domain.SecurityEvent{
		EventType: eventType,
		PatientID: req.PatientID,
		Metadata: map[string]string{
			"origin": req.Origin,
			"error":  err.Error(),
		},
	})
	p.logger.Error("pipeline internal failure",
		zap.String("patient_id", req.PatientID),
		zap.String("origin", req.Origin),
		zap.Error(err))
	return err
}
