package scheduler

import (
	"fmt"
	"time"
)

// QuotaError báo một token bị API từ chối vì hết quota.
// Lỗi này được xử lý bên trong scheduler bằng cách xoay token,
// chỉ lộ ra ngoài qua RetriesExhaustedError khi mọi lần thử đều thất bại.
type QuotaError struct {
	ResetAt time.Time
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("rate limit exceeded, resets at %s", e.ResetAt.Format(time.RFC3339))
}

// RetriesExhaustedError được trả về khi một request logic đã dùng hết số
// lần thử cho phép. Mang theo status/lỗi cuối cùng quan sát được.
type RetriesExhaustedError struct {
	URL        string
	Attempts   int
	LastStatus int
	LastErr    error
}

func (e *RetriesExhaustedError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("request to %s failed after %d attempts: %v", e.URL, e.Attempts, e.LastErr)
	}
	return fmt.Sprintf("request to %s failed after %d attempts, last status %d", e.URL, e.Attempts, e.LastStatus)
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.LastErr
}
