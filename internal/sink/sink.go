// Gói sink định nghĩa nơi ghi checkpoint của pipeline: ghi kiểu upsert theo
// key ổn định và đọc lại (scan) để stage sau tiếp tục từ checkpoint của
// stage trước. Hai backend: bảng MySQL và file CSV.

package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/thep200/release-crawler/cfg"
	"github.com/thep200/release-crawler/pkg/db"
	"github.com/thep200/release-crawler/pkg/log"
)

// RepoRecord là checkpoint của stage search, key là id repo trên GitHub
type RepoRecord struct {
	ID         int64
	User       string
	Name       string
	StarCount  int
	ForkCount  int
	WatchCount int
	IssueCount int
	FetchedAt  time.Time
}

func (r RepoRecord) FullName() string {
	return r.User + "/" + r.Name
}

// ReleaseRecord là checkpoint của stage releases, key là id release.
// Cặp (RepoName, TagName) là con trỏ mà stage commits quét theo.
type ReleaseRecord struct {
	ID          int64
	RepoID      int64
	RepoName    string
	TagName     string
	Name        string
	Content     string
	PublishedAt string
	FetchedAt   time.Time
}

// CommitRecord là đầu ra của stage commits, key là hash
type CommitRecord struct {
	Hash      string
	RepoName  string
	TagName   string
	Message   string
	ReleaseID int64
	FetchedAt time.Time
}

// Sink là giao diện append/upsert + scan mà pipeline tiêu thụ.
// Ghi phải idempotent theo key; scan phải chỉ thấy các batch đã ghi trọn vẹn.
type Sink interface {
	SaveRepos(ctx context.Context, records []RepoRecord) error
	SaveReleases(ctx context.Context, records []ReleaseRecord) error
	SaveCommits(ctx context.Context, records []CommitRecord) error
	ScanRepos(ctx context.Context) ([]RepoRecord, error)
	ScanReleases(ctx context.Context) ([]ReleaseRecord, error)
	Close() error
}

// WriteError là lỗi I/O của sink, fatal với stage đang chạy.
// Dữ liệu đã ghi trước đó vẫn hợp lệ và resumable ở lần chạy sau.
type WriteError struct {
	Stage string
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("sink write failed at stage %s: %v", e.Stage, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Factory chọn backend sink theo cấu hình Crawler.Sink
func Factory(config *cfg.Config, logger log.Logger, mysql *db.Mysql) (Sink, error) {
	switch config.Crawler.Sink {
	case "mysql":
		if mysql == nil {
			return nil, &cfg.ConfigError{Reason: "mysql sink requires a database connection"}
		}
		return NewMysqlSink(config, logger, mysql)
	case "csv":
		return NewCsvSink(config, logger)
	default:
		return nil, &cfg.ConfigError{Reason: "unsupported sink: " + config.Crawler.Sink}
	}
}
