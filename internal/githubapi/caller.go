// Gói githubapi xây dựng URL và giải mã phản hồi cho ba endpoint:
// search repositories (phân trang theo khung thời gian tạo repo),
// releases của một repo, và commits của một (repo, tag).
// Mọi request đều đi qua scheduler, caller không tự gọi mạng.

package githubapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/thep200/release-crawler/cfg"
	"github.com/thep200/release-crawler/internal/scheduler"
	"github.com/thep200/release-crawler/pkg/log"
)

type Caller struct {
	Logger log.Logger
	Config *cfg.Config
	Sched  *scheduler.Scheduler
}

func NewCaller(logger log.Logger, config *cfg.Config, sched *scheduler.Scheduler) *Caller {
	return &Caller{
		Logger: logger,
		Config: config,
		Sched:  sched,
	}
}

// SearchWindow tìm repository tạo trong khoảng [start, end), sắp theo sao
// giảm dần. GitHub chỉ cho phép truy cập 1000 kết quả đầu của mỗi truy vấn
// nên tổng không gian kết quả được chia thành nhiều khung thời gian.
func (c *Caller) SearchWindow(ctx context.Context, start, end time.Time, page, perPage int) ([]RepoResponse, error) {
	url := fmt.Sprintf("%s?q=stars:>1+created:%s..%s&sort=stars&order=desc&page=%d&per_page=%d",
		c.Config.GithubApi.SearchApiUrl,
		start.Format("2006-01-02"), end.Format("2006-01-02"),
		page, perPage,
	)

	body, err := c.Sched.Submit(ctx, scheduler.Request{URL: url})
	if err != nil {
		return nil, err
	}

	rawResponse := &SearchResponse{}
	if err := json.Unmarshal(body, rawResponse); err != nil {
		return nil, fmt.Errorf("cannot decode search response: %w", err)
	}

	if page*perPage > 1000 {
		c.Logger.Warn(ctx, "GitHub API only provides access to the first 1,000 search results")
	}

	return rawResponse.Items, nil
}

// Releases lấy danh sách release của một repository.
// Repo không tồn tại (404) trả về danh sách rỗng thay vì lỗi.
func (c *Caller) Releases(ctx context.Context, user, repo string) ([]ReleaseResponse, error) {
	url := strings.ReplaceAll(c.Config.GithubApi.ReleasesApiUrl, "{user}", user)
	url = strings.ReplaceAll(url, "{repo}", repo)

	body, err := c.Sched.Submit(ctx, scheduler.Request{URL: url})
	if err != nil {
		if isNotFound(err) {
			return []ReleaseResponse{}, nil
		}
		return nil, err
	}

	var releases []ReleaseResponse
	if err := json.Unmarshal(body, &releases); err != nil {
		return nil, fmt.Errorf("cannot decode releases response: %w", err)
	}
	return releases, nil
}

// Commits lấy danh sách commit của một repository tại một tag
func (c *Caller) Commits(ctx context.Context, user, repo, tag string) ([]CommitResponse, error) {
	url := strings.ReplaceAll(c.Config.GithubApi.CommitsApiUrl, "{user}", user)
	url = strings.ReplaceAll(url, "{repo}", repo)
	url = strings.ReplaceAll(url, "{tag}", tag)

	body, err := c.Sched.Submit(ctx, scheduler.Request{URL: url})
	if err != nil {
		if isNotFound(err) {
			return []CommitResponse{}, nil
		}
		return nil, err
	}

	var commits []CommitResponse
	if err := json.Unmarshal(body, &commits); err != nil {
		return nil, fmt.Errorf("cannot decode commits response: %w", err)
	}
	return commits, nil
}

// isNotFound nhận diện 404 sau khi scheduler đã hết số lần thử.
// Tag hoặc repo biến mất giữa hai stage không phải là lỗi của pipeline.
func isNotFound(err error) bool {
	var re *scheduler.RetriesExhaustedError
	return errors.As(err, &re) && re.LastStatus == http.StatusNotFound
}
