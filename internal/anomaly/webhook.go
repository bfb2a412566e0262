package anomaly

import (
	"context"
	"time"

	"miot-vitals/internal/domain"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WebhookNotifier 严重安全事件的外发通知客户端
type WebhookNotifier struct {
	httpClient *resty.Client
	url        string
	logger     *zap.Logger
}

func NewWebhookNotifier(url string, logger *zap.Logger) *WebhookNotifier {
	client := resty.New().
		SetTimeout(5 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Content-Type", "application/json")

	return &WebhookNotifier{
		httpClient: client,
		url:        url,
		logger:     logger,
	}
}

// Notify 尽力而为地推送事件；失败只记日志
func (n *WebhookNotifier) Notify(ctx context.Context, event domain.SecurityEvent) {
	resp, err := n.httpClient.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"id":        event.ID,
			"eventType": string(event.EventType),
			"patientId": event.PatientID,
			"createdAt": event.CreatedAt.Format(time.RFC3339),
			"metadata":  event.Metadata,
		}).
		Post(n.url)
	if err != nil {
		n.logger.Warn("anomaly webhook delivery failed",
			zap.String("url", n.url),
			zap.Error(err))
		return
	}
	if resp.IsError() {
		n.logger.Warn("anomaly webhook rejected",
			zap.String("url", n.url),
			zap.Int("status", resp.StatusCode()))
	}
}
