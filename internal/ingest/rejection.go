package ingest

import (
	"fmt"

	"miot-vitals/internal/domain"
)

// Rejection 管道终态拒绝。实现 error 以便沿调用链传播；
// 对外只暴露人类可读的 Reason，不含堆栈与密钥
type Rejection struct {
	Type   domain.EventType
	Reason string

	// Metadata 附加到安全事件的上下文（越界字段名、原始值等）
	Metadata map[string]string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Type, r.Reason)
}

func reject(t domain.EventType, reason string) *Rejection {
	return &Rejection{Type: t, Reason: reason}
}
