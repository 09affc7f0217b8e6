package crawler

import (
	"fmt"
	"strings"
	"time"
)

type timeWindow struct {
	startDate time.Time
	endDate   time.Time
}

func (w timeWindow) label() string {
	return fmt.Sprintf("%s..%s", w.startDate.Format("2006-01-02"), w.endDate.Format("2006-01-02"))
}

// generateTimeWindows chia không gian kết quả search theo ngày tạo repo.
// Khoảng càng gần hiện tại càng hẹp vì mật độ repo tăng dần theo năm.
func generateTimeWindows() []timeWindow {
	windows := []timeWindow{
		{
			startDate: time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC),
			endDate:   time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			startDate: time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC),
			endDate:   time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			startDate: time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC),
			endDate:   time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			startDate: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
			endDate:   time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			startDate: time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
			endDate:   time.Now(),
		},
	}
	return windows
}

// Phân tích full_name để lấy user và repo name
func extractUserAndRepo(fullName string) (string, string) {
	parts := strings.Split(fullName, "/")
	if len(parts) >= 2 {
		return parts[0], parts[1]
	}
	return "", ""
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
