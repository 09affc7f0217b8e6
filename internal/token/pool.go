// Gói token quản lý nhiều GitHub access token với trạng thái quota riêng
// cho từng token. Pool xoay vòng (round-robin) qua tất cả token, kể cả các
// token đang cooldown, để pool không bao giờ kẹt khi cooldown đã hết hạn.

package token

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/thep200/release-crawler/cfg"
	"github.com/thep200/release-crawler/pkg/log"
)

// DefaultLimit là quota mặc định của một token khi chưa có thông tin từ API
const DefaultLimit = 5000

var ErrNoTokens = errors.New("no tokens available")

// Status giữ trạng thái quota và bộ đếm của một token.
// Chỉ Pool được phép thay đổi; các caller luôn nhận bản copy.
type Status struct {
	Token         string
	Remaining     int
	Limit         int
	ResetAt       time.Time
	LastUsed      time.Time
	SuccessCount  int
	FailureCount  int
	IsCoolingDown bool
	CooldownUntil time.Time
}

// Snapshot là bộ ba quota mà API trả về trong header sau mỗi request
type Snapshot struct {
	Remaining int
	Limit     int
	ResetAt   time.Time
}

type Pool struct {
	Logger log.Logger
	mu     sync.Mutex
	tokens []*Status
	cursor int
	floor  int
}

// Load đọc danh sách token phân cách bằng dấu phẩy từ file.
// Trả về ConfigError nếu file không đọc được hoặc không có token nào.
func Load(logger log.Logger, path string, floor int) (*Pool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, &cfg.ConfigError{Reason: "cannot read token file " + path, Err: err}
	}

	var secrets []string
	for _, t := range strings.Split(string(content), ",") {
		if t = strings.TrimSpace(t); t != "" {
			secrets = append(secrets, t)
		}
	}

	return NewPool(logger, secrets, floor)
}

func NewPool(logger log.Logger, secrets []string, floor int) (*Pool, error) {
	if len(secrets) == 0 {
		return nil, &cfg.ConfigError{Reason: "no tokens configured"}
	}

	tokens := make([]*Status, 0, len(secrets))
	for _, s := range secrets {
		tokens = append(tokens, &Status{
			Token:     s,
			Remaining: DefaultLimit,
			Limit:     DefaultLimit,
		})
	}

	logger.Info(context.Background(), "Loaded %d tokens", len(tokens))
	return &Pool{
		Logger: logger,
		tokens: tokens,
		floor:  floor,
	}, nil
}

func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tokens)
}

// Current trả về copy của token tại con trỏ xoay vòng.
// Cooldown đã hết hạn được xoá ngay tại lần đọc này.
func (p *Pool) Current() (Status, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.tokens) == 0 {
		return Status{}, false
	}

	t := p.tokens[p.cursor]
	p.clearExpiredLocked(t, time.Now())
	return *t, true
}

// Rotate chuyển con trỏ sang token tiếp theo không ở trạng thái cooldown.
// Nếu cả pool đang cooldown thì ngủ đến thời điểm cooldown sớm nhất hết hạn
// rồi quét lại, không busy-spin.
func (p *Pool) Rotate(ctx context.Context) (Status, error) {
	p.mu.Lock()
	for {
		if len(p.tokens) == 0 {
			p.mu.Unlock()
			return Status{}, ErrNoTokens
		}

		now := time.Now()
		for i := 0; i < len(p.tokens); i++ {
			p.cursor = (p.cursor + 1) % len(p.tokens)
			t := p.tokens[p.cursor]
			p.clearExpiredLocked(t, now)
			if !t.IsCoolingDown {
				st := *t
				p.mu.Unlock()
				return st, nil
			}
		}

		// Tất cả token đang cooldown, chờ đến cooldown sớm nhất
		wake := p.tokens[0].CooldownUntil
		for _, t := range p.tokens[1:] {
			if t.CooldownUntil.Before(wake) {
				wake = t.CooldownUntil
			}
		}
		wait := time.Until(wake)
		p.mu.Unlock()

		p.Logger.Warn(ctx, "All tokens are in cooldown, waiting %v", wait.Round(time.Millisecond))
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Status{}, ctx.Err()
			case <-timer.C:
			}
		}
		p.mu.Lock()
	}
}

// Observe cập nhật trạng thái quota của token từ header phản hồi.
// Khi remaining chạm ngưỡng floor, token chuyển sang cooldown đến thời điểm
// reset và con trỏ được đẩy sang token khả dụng tiếp theo ngay lập tức.
func (p *Pool) Observe(secret string, snap Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t := p.findLocked(secret)
	if t == nil {
		return
	}

	if snap.Remaining < 0 {
		snap.Remaining = 0
	}
	t.Remaining = snap.Remaining
	if snap.Limit > 0 {
		t.Limit = snap.Limit
	}
	t.ResetAt = snap.ResetAt
	t.LastUsed = time.Now()

	if t.Remaining <= p.floor {
		t.IsCoolingDown = true
		t.CooldownUntil = snap.ResetAt
		p.Logger.Warn(context.Background(), "Token entering cooldown until %s (remaining %d/%d)",
			snap.ResetAt.Format(time.RFC3339), t.Remaining, t.Limit)
		p.advanceLocked(time.Now())
	}
}

// ForceCooldown đưa token vào cooldown khi API từ chối vì quota nhưng
// không trả về header reset có thể parse được
func (p *Pool) ForceCooldown(secret string, until time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t := p.findLocked(secret)
	if t == nil {
		return
	}
	t.Remaining = 0
	t.IsCoolingDown = true
	t.CooldownUntil = until
	p.advanceLocked(time.Now())
}

func (p *Pool) MarkSuccess(secret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t := p.findLocked(secret); t != nil {
		t.SuccessCount++
		t.LastUsed = time.Now()
	}
}

func (p *Pool) MarkFailure(secret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t := p.findLocked(secret); t != nil {
		t.FailureCount++
		t.LastUsed = time.Now()
	}
}

// Usage trả về copy trạng thái của tất cả token, dùng cho báo cáo cuối run
func (p *Pool) Usage() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Status, 0, len(p.tokens))
	for _, t := range p.tokens {
		out = append(out, *t)
	}
	return out
}

// advanceLocked đẩy con trỏ sang token khả dụng tiếp theo nếu có,
// không block khi cả pool đang cooldown
func (p *Pool) advanceLocked(now time.Time) {
	for i := 1; i <= len(p.tokens); i++ {
		idx := (p.cursor + i) % len(p.tokens)
		t := p.tokens[idx]
		p.clearExpiredLocked(t, now)
		if !t.IsCoolingDown {
			p.cursor = idx
			return
		}
	}
}

func (p *Pool) clearExpiredLocked(t *Status, now time.Time) {
	if t.IsCoolingDown && !now.Before(t.CooldownUntil) {
		t.IsCoolingDown = false
	}
}

func (p *Pool) findLocked(secret string) *Status {
	for _, t := range p.tokens {
		if t.Token == secret {
			return t
		}
	}
	return nil
}
