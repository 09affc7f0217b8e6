package cfg

import "fmt"

// ConfigError báo lỗi cấu hình không hợp lệ (thiếu token, thiếu sink, ...).
// Lỗi này là fatal, chương trình dừng trước khi thực hiện bất kỳ request nào.
type ConfigError struct {
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
