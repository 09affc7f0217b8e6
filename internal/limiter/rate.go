// Gói limiter quyết định một request có được phép chạy ngay hay phải chờ,
// dựa trên snapshot quota gần nhất của token và khoảng cách tối thiểu giữa
// hai request. Hàm thuần tuý, không I/O, không giữ state.

package limiter

import (
	"time"

	"github.com/thep200/release-crawler/internal/token"
)

// Decision tách riêng hai lý do phải chờ: hết quota và giãn cách request.
// Scheduler dùng Quota > 0 làm tín hiệu xoay token thay vì ngồi chờ.
type Decision struct {
	Quota   time.Duration
	Spacing time.Duration
}

// Wait trả về thời gian phải chờ, lý do chờ lâu hơn thắng
func (d Decision) Wait() time.Duration {
	if d.Quota > d.Spacing {
		return d.Quota
	}
	return d.Spacing
}

// Decide đánh giá trạng thái token tại thời điểm now.
// Hai điều kiện độc lập: (a) remaining chạm floor thì chờ đến reset,
// (b) request trước đó quá gần thì chờ nốt phần còn lại của interval.
// Phải gọi lại sau mỗi lần chờ vì trạng thái quota có thể đã thay đổi.
func Decide(st token.Status, floor int, interval time.Duration, now time.Time) Decision {
	var d Decision

	if st.IsCoolingDown && now.Before(st.CooldownUntil) {
		d.Quota = st.CooldownUntil.Sub(now)
	}
	if st.Remaining <= floor {
		if w := st.ResetAt.Sub(now); w > d.Quota {
			d.Quota = w
		}
	}

	if !st.LastUsed.IsZero() {
		if since := now.Sub(st.LastUsed); since < interval {
			d.Spacing = interval - since
		}
	}

	return d
}
