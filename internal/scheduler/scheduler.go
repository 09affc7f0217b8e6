// Gói scheduler là điểm đi qua duy nhất của mọi request ra GitHub API.
// Nó ghép pool token với rate gate: chọn token khả dụng, chờ theo chỉ dẫn
// của gate, thực hiện request, cập nhật quota từ header phản hồi, và retry
// bằng cách xoay token khi gặp lỗi tạm thời hoặc hết quota.

package scheduler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/thep200/release-crawler/cfg"
	"github.com/thep200/release-crawler/internal/limiter"
	"github.com/thep200/release-crawler/internal/token"
	"github.com/thep200/release-crawler/pkg/log"
)

const defaultAccept = "application/vnd.github+json"

// Request mô tả một lần gọi API: URL đầy đủ và header Accept tuỳ chọn
type Request struct {
	URL    string
	Accept string
}

type Scheduler struct {
	Logger log.Logger
	Config *cfg.Config
	Pool   *token.Pool

	client     *http.Client
	userAgent  string
	floor      int
	interval   time.Duration
	maxRetries int
}

func NewScheduler(logger log.Logger, config *cfg.Config, pool *token.Pool) *Scheduler {
	maxRetries := config.GithubApi.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	timeout := time.Duration(config.GithubApi.RequestTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Scheduler{
		Logger:     logger,
		Config:     config,
		Pool:       pool,
		client:     &http.Client{Timeout: timeout},
		userAgent:  config.App.Name,
		floor:      config.GithubApi.MinRemaining,
		interval:   time.Duration(config.GithubApi.RequestIntervalMs) * time.Millisecond,
		maxRetries: maxRetries,
	}
}

// Submit thực hiện một request logic, tối đa maxRetries lần gọi thật.
// Mỗi lần thử: lấy token hiện tại, chờ theo rate gate (xoay token trước nếu
// lý do chờ là hết quota), gọi API, rồi xử lý kết quả:
//   - lỗi transport: đếm failure cho token, thử lại
//   - 2xx: cập nhật quota, đếm success, trả về body
//   - 403 kèm remaining=0: ép token vào cooldown, xoay token, thử lại
//   - non-2xx khác: đếm failure, thử lại
func (s *Scheduler) Submit(ctx context.Context, req Request) ([]byte, error) {
	var lastStatus int
	var lastErr error

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		tok, err := s.acquire(ctx)
		if err != nil {
			return nil, err
		}

		body, status, err := s.do(ctx, req, tok)
		switch {
		case err == nil && status >= 200 && status < 300:
			s.Pool.MarkSuccess(tok.Token)
			return body, nil

		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.Pool.MarkFailure(tok.Token)
			lastErr = err
			s.Logger.Error(ctx, "Request to %s failed: %v", req.URL, err)

		case isQuotaStatus(status):
			s.Pool.MarkFailure(tok.Token)
			lastStatus = status
			lastErr = &QuotaError{ResetAt: s.cooldownUntil(tok.Token)}
			s.Logger.Warn(ctx, "Rate limit exceeded for %s, rotating token", req.URL)

		default:
			s.Pool.MarkFailure(tok.Token)
			lastStatus = status
			lastErr = nil
			s.Logger.Error(ctx, "HTTP %d for %s", status, req.URL)
		}
	}

	return nil, &RetriesExhaustedError{
		URL:        req.URL,
		Attempts:   s.maxRetries,
		LastStatus: lastStatus,
		LastErr:    lastErr,
	}
}

// acquire chọn token khả dụng và chờ theo rate gate cho đến khi được phép
// chạy. Đây là điểm suspend duy nhất của một lần thử.
func (s *Scheduler) acquire(ctx context.Context) (token.Status, error) {
	for {
		tok, ok := s.Pool.Current()
		if !ok {
			return token.Status{}, token.ErrNoTokens
		}

		d := limiter.Decide(tok, s.floor, s.interval, time.Now())
		if d.Quota > 0 {
			// Token này cạn quota: xoay sang token khác trước, chỉ chờ khi
			// cả pool đều cooldown (Rotate tự block đến lúc đó)
			rotated, err := s.Pool.Rotate(ctx)
			if err != nil {
				return token.Status{}, err
			}
			if rotated.Token != tok.Token {
				continue
			}
			tok = rotated
			d = limiter.Decide(tok, s.floor, s.interval, time.Now())
		}

		wait := d.Wait()
		if wait <= 0 {
			return tok, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return token.Status{}, ctx.Err()
		case <-timer.C:
		}
		// Đánh giá lại sau khi chờ, trạng thái quota có thể đã thay đổi
	}
}

func (s *Scheduler) do(ctx context.Context, req Request, tok token.Status) ([]byte, int, error) {
	accept := req.Accept
	if accept == "" {
		accept = defaultAccept
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, 0, err
	}
	httpReq.Header.Set("Accept", accept)
	httpReq.Header.Set("User-Agent", s.userAgent)
	httpReq.Header.Set("Authorization", fmt.Sprintf("token %s", tok.Token))

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if snap, ok := parseRateHeaders(resp.Header); ok {
		s.Pool.Observe(tok.Token, snap)
	} else if isQuotaStatus(resp.StatusCode) {
		// Bị từ chối vì quota nhưng không có header reset: dùng cấu hình dự phòng
		fallback := time.Now().Add(time.Duration(s.Config.GithubApi.RateLimitResetMin) * time.Minute)
		s.Pool.ForceCooldown(tok.Token, fallback)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

// cooldownUntil đọc lại thời điểm cooldown của token sau khi Observe chạy
func (s *Scheduler) cooldownUntil(secret string) time.Time {
	for _, st := range s.Pool.Usage() {
		if st.Token == secret {
			return st.CooldownUntil
		}
	}
	return time.Time{}
}

func isQuotaStatus(status int) bool {
	return status == http.StatusForbidden || status == http.StatusTooManyRequests
}

// parseRateHeaders đọc bộ ba X-RateLimit-* mà GitHub trả về sau mỗi request
func parseRateHeaders(h http.Header) (token.Snapshot, bool) {
	remainingStr := h.Get("X-RateLimit-Remaining")
	if remainingStr == "" {
		return token.Snapshot{}, false
	}

	remaining, err := strconv.Atoi(remainingStr)
	if err != nil {
		return token.Snapshot{}, false
	}

	snap := token.Snapshot{Remaining: remaining, Limit: limitFromHeader(h)}
	if resetStr := h.Get("X-RateLimit-Reset"); resetStr != "" {
		if epoch, err := strconv.ParseInt(resetStr, 10, 64); err == nil {
			snap.ResetAt = time.Unix(epoch, 0)
		}
	}
	return snap, true
}

func limitFromHeader(h http.Header) int {
	limit, err := strconv.Atoi(h.Get("X-RateLimit-Limit"))
	if err != nil || limit <= 0 {
		return token.DefaultLimit
	}
	return limit
}
