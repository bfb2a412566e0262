package domain

import "time"

// Vitals 单次采集的生命体征（解密后的载荷）
type Vitals struct {
	HeartRate *float64 `json:"heartRate"` // bpm
	SpO2      *float64 `json:"spo2"`      // %
	Temp      *float64 `json:"temp"`      // °C
}

// VitalsReading 已接收的生命体征读数（对应 vitals_readings 表）
// RecordedAt 为设备声称的采集时间，非权威，仅受新鲜度约束
type VitalsReading struct {
	ID         string    `json:"id" db:"id"`
	PatientID  string    `json:"patient_id" db:"patient_id"`
	RecordedAt time.Time `json:"recorded_at" db:"recorded_at"`

	// 明文模式：三个字段直接落库；加密模式：EncryptedPayload 存信封
	HeartRate        *float64 `json:"heart_rate,omitempty" db:"heart_rate"`
	SpO2             *float64 `json:"spo2,omitempty" db:"spo2"`
	Temp             *float64 `json:"temp,omitempty" db:"temp"`
	EncryptedPayload string   `json:"encrypted_payload,omitempty" db:"encrypted_payload"` // base64(iv ‖ ciphertext)

	DeviceID  string    `json:"device_id,omitempty" db:"device_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PatientSession 每个患者一行的单调水位线（对应 patient_sessions 表）
// LastTimestamp 只能前进，且只在整笔提交成功时前进
type PatientSession struct {
	PatientID     string    `json:"patient_id" db:"patient_id"`
	LastTimestamp time.Time `json:"last_timestamp" db:"last_timestamp"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}
