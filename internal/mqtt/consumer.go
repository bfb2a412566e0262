package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"miot-vitals/internal/domain"
	"miot-vitals/internal/ingest"

	"go.uber.org/zap"
)

// wireMessage MQTT 上的接入消息：payload 为设备签名时的原始 JSON（字节
// 必须原样进入验签），sig 为其 hex HMAC-SHA256 签名
type wireMessage struct {
	Payload json.RawMessage `json:"payload"`
	Sig     string          `json:"sig"`
}

// wirePayload payload 内部结构（与 HTTP 接入请求体一致）
type wirePayload struct {
	PatientID string        `json:"patientId"`
	Timestamp string        `json:"timestamp"`
	Vitals    domain.Vitals `json:"vitals"`
	DeviceID  string        `json:"deviceId,omitempty"`
}

// Consumer 设备 MQTT 接入桥：订阅 {prefix}/vitals/{patientId}，
// 每条消息走与 HTTP 完全相同的信任管道
type Consumer struct {
	client   *Client
	pipeline *ingest.Pipeline
	topic    string
	qos      byte
	logger   *zap.Logger
}

func NewConsumer(client *Client, pipeline *ingest.Pipeline, topic string, qos byte, logger *zap.Logger) *Consumer {
	return &Consumer{
		client:   client,
		pipeline: pipeline,
		topic:    topic,
		qos:      qos,
		logger:   logger,
	}
}

// Start 启动消费者，阻塞到上下文取消
func (c *Consumer) Start(ctx context.Context) error {
	if c.topic == "" {
		return fmt.Errorf("mqtt ingest topic not configured")
	}
	if err := c.client.Subscribe(c.topic, c.qos, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to vitals topic: %w", err)
	}

	c.logger.Info("MQTT ingest consumer started", zap.String("topic", c.topic))

	<-ctx.Done()
	return nil
}

// Stop 停止消费者
func (c *Consumer) Stop() {
	if err := c.client.Unsubscribe(c.topic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}
	c.logger.Info("MQTT ingest consumer stopped")
}

// handleMessage 处理单条消息。解析失败只记日志：MQTT 无响应通道，
// 结果通过安全事件与落库可见
func (c *Consumer) handleMessage(topic string, raw []byte) error {
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.logger.Warn("malformed MQTT ingest message",
			zap.String("topic", topic), zap.Error(err))
		return err
	}

	var payload wirePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		c.logger.Warn("malformed MQTT ingest payload",
			zap.String("topic", topic), zap.Error(err))
		return err
	}

	// 主题末段是 patientId；与载荷不一致按载荷为准，只是记日志
	if idx := strings.LastIndexByte(topic, '/'); idx >= 0 {
		if topicPatient := topic[idx+1:]; topicPatient != payload.PatientID {
			c.logger.Debug("topic/payload patient mismatch",
				zap.String("topic_patient", topicPatient),
				zap.String("payload_patient", payload.PatientID))
		}
	}

	_, err := c.pipeline.Process(context.Background(), &ingest.Request{
		PatientID:    payload.PatientID,
		Timestamp:    payload.Timestamp,
		Vitals:       payload.Vitals,
		DeviceID:     payload.DeviceID,
		RawBody:      []byte(msg.Payload),
		SignatureHex: msg.Sig,
		Origin:       "mqtt:" + topic,
	})
	if err != nil {
		// 拒绝已由管道记录为安全事件
		c.logger.Debug("MQTT reading rejected",
			zap.String("patient_id", payload.PatientID), zap.Error(err))
	}
	return err
}
