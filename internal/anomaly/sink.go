package anomaly

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"miot-vitals/internal/domain"
	"miot-vitals/internal/repository"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sink 异常事件的尽力而为记录器。
// 事件经缓冲 channel 交给独立 worker 追加到 security_events 表并发布到
// Redis Stream；主管道的完成与日志落地完全解耦。缓冲满时丢弃事件并记
// 诊断日志 — 投递从不阻塞、从不重试、从不令父请求失败
type Sink struct {
	repo   repository.SecurityEventsRepository
	redis  *redis.Client
	stream string
	logger *zap.Logger

	notifier *WebhookNotifier // 可选

	mu     sync.RWMutex
	closed bool
	ch     chan domain.SecurityEvent
	done   chan struct{}
}

type Option func(*Sink)

// WithStream 事件同时发布到 Redis Stream（供告警面板消费）
func WithStream(client *redis.Client, stream string) Option {
	return func(s *Sink) {
		s.redis = client
		s.stream = stream
	}
}

// WithWebhook 严重事件外发 webhook 通知
func WithWebhook(n *WebhookNotifier) Option {
	return func(s *Sink) { s.notifier = n }
}

func NewSink(repo repository.SecurityEventsRepository, bufferSize int, logger *zap.Logger, opts ...Option) *Sink {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	s := &Sink{
		repo:   repo,
		logger: logger,
		ch:     make(chan domain.SecurityEvent, bufferSize),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.run()
	return s
}

// Record 非阻塞投递一条安全事件。缓冲满或 sink 已关闭时丢弃并记诊断日志
func (s *Sink) Record(event domain.SecurityEvent) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	// 读锁挡住 Close 关闭 channel 的瞬间，投递路径之间互不阻塞
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.logger.Warn("anomaly sink closed, dropping event",
			zap.String("event_type", string(event.EventType)),
			zap.String("patient_id", event.PatientID))
		return
	}

	select {
	case s.ch <- event:
	default:
		s.logger.Warn("anomaly sink buffer full, dropping event",
			zap.String("event_type", string(event.EventType)),
			zap.String("patient_id", event.PatientID))
	}
}

// Close 停止 worker 并排空已入队的事件。幂等；
// 之后的 Record 退化为丢弃加日志，不会 panic
func (s *Sink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.ch)
	<-s.done
}

func (s *Sink) run() {
	defer close(s.done)
	for event := range s.ch {
		s.persist(event)
	}
}

// persist 记录失败只做诊断日志，父请求结果不受影响
func (s *Sink) persist(event domain.SecurityEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.repo.InsertEvent(ctx, &event); err != nil {
		s.logger.Warn("failed to persist security event",
			zap.String("event_type", string(event.EventType)),
			zap.Error(err))
	}

	if s.redis != nil {
		if err := s.publish(ctx, event); err != nil {
			s.logger.Warn("failed to publish security event to stream",
				zap.String("stream", s.stream),
				zap.Error(err))
		}
	}

	if s.notifier != nil && event.EventType.Severe() {
		s.notifier.Notify(ctx, event)
	}
}

// publish 发布 JSON 消息到 Redis Stream（XADD）
func (s *Sink) publish(ctx context.Context, event domain.SecurityEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"data":      string(data),
			"timestamp": event.CreatedAt.Unix(),
		},
	}).Err()
}
