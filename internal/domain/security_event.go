package domain

import "time"

// EventType 安全事件类型
type EventType string

const (
	EventReplayAttack     EventType = "ReplayAttack"
	EventSignatureInvalid EventType = "SignatureInvalid"
	EventStaleTimestamp   EventType = "StaleTimestamp"
	EventSanityCheckFail  EventType = "SanityCheckFailed"
	EventRateLimited      EventType = "RateLimited"
	EventServerError      EventType = "ServerError"
)

// SecurityEvent 安全审计事件（对应 security_events 表，append-only）
type SecurityEvent struct {
	ID        string            `json:"id" db:"id"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
	EventType EventType         `json:"event_type" db:"event_type"`
	PatientID string            `json:"patient_id" db:"patient_id"`
	Metadata  map[string]string `json:"metadata" db:"metadata"` // JSONB
}

// Severe 是否为需要 webhook 通知的严重事件
// 限频与后端故障属于运行噪声，不外发
func (t EventType) Severe() bool {
	switch t {
	case EventReplayAttack, EventSignatureInvalid:
		return true
	}
	return false
}
