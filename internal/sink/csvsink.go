package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/thep200/release-crawler/cfg"
	"github.com/thep200/release-crawler/pkg/log"
)

const (
	reposFile    = "repos.csv"
	releasesFile = "releases.csv"
	commitsFile  = "commits.csv"
)

var (
	repoHeader    = []string{"id", "user", "name", "star_count", "fork_count", "watch_count", "issue_count", "fetched_at"}
	releaseHeader = []string{"id", "repo_id", "repo_name", "tag_name", "release_name", "published_at", "content", "fetched_at"}
	commitHeader  = []string{"hash", "repo_name", "tag_name", "message", "release_id", "fetched_at"}
)

// CsvSink ghi checkpoint ra file CSV trong OutputDir. Upsert bằng cách merge
// theo key rồi ghi lại toàn bộ file qua temp + rename, nên reader của stage
// sau không bao giờ thấy dòng ghi dở.
type CsvSink struct {
	Logger log.Logger
	dir    string
	mu     sync.Mutex
}

func NewCsvSink(config *cfg.Config, logger log.Logger) (*CsvSink, error) {
	dir := config.Crawler.OutputDir
	if dir == "" {
		return nil, &cfg.ConfigError{Reason: "csv sink requires Crawler.OutputDir"}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &cfg.ConfigError{Reason: "cannot create output dir " + dir, Err: err}
	}

	return &CsvSink{
		Logger: logger,
		dir:    dir,
	}, nil
}

func (s *CsvSink) SaveRepos(ctx context.Context, records []RepoRecord) error {
	if len(records) == 0 {
		return nil
	}

	rows := make(map[string][]string, len(records))
	keys := make([]string, 0, len(records))
	for _, r := range records {
		key := strconv.FormatInt(r.ID, 10)
		if _, seen := rows[key]; !seen {
			keys = append(keys, key)
		}
		rows[key] = []string{
			key, r.User, r.Name,
			strconv.Itoa(r.StarCount), strconv.Itoa(r.ForkCount),
			strconv.Itoa(r.WatchCount), strconv.Itoa(r.IssueCount),
			r.FetchedAt.Format(time.RFC3339),
		}
	}

	if err := s.upsert(reposFile, repoHeader, rows, keys); err != nil {
		return &WriteError{Stage: "search", Err: err}
	}
	return nil
}

func (s *CsvSink) SaveReleases(ctx context.Context, records []ReleaseRecord) error {
	if len(records) == 0 {
		return nil
	}

	rows := make(map[string][]string, len(records))
	keys := make([]string, 0, len(records))
	for _, r := range records {
		key := strconv.FormatInt(r.ID, 10)
		if _, seen := rows[key]; !seen {
			keys = append(keys, key)
		}
		rows[key] = []string{
			key, strconv.FormatInt(r.RepoID, 10), r.RepoName, r.TagName, r.Name,
			r.PublishedAt, flatten(r.Content),
			r.FetchedAt.Format(time.RFC3339),
		}
	}

	if err := s.upsert(releasesFile, releaseHeader, rows, keys); err != nil {
		return &WriteError{Stage: "releases", Err: err}
	}
	return nil
}

func (s *CsvSink) SaveCommits(ctx context.Context, records []CommitRecord) error {
	if len(records) == 0 {
		return nil
	}

	rows := make(map[string][]string, len(records))
	keys := make([]string, 0, len(records))
	for _, r := range records {
		if _, seen := rows[r.Hash]; !seen {
			keys = append(keys, r.Hash)
		}
		rows[r.Hash] = []string{
			r.Hash, r.RepoName, r.TagName, flatten(r.Message),
			strconv.FormatInt(r.ReleaseID, 10),
			r.FetchedAt.Format(time.RFC3339),
		}
	}

	if err := s.upsert(commitsFile, commitHeader, rows, keys); err != nil {
		return &WriteError{Stage: "commits", Err: err}
	}
	return nil
}

func (s *CsvSink) ScanRepos(ctx context.Context) ([]RepoRecord, error) {
	rows, err := s.read(reposFile)
	if err != nil {
		return nil, err
	}

	records := make([]RepoRecord, 0, len(rows))
	for _, row := range rows {
		if len(row) < len(repoHeader) {
			continue
		}
		id, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		records = append(records, RepoRecord{
			ID:         id,
			User:       row[1],
			Name:       row[2],
			StarCount:  atoi(row[3]),
			ForkCount:  atoi(row[4]),
			WatchCount: atoi(row[5]),
			IssueCount: atoi(row[6]),
			FetchedAt:  parseTime(row[7]),
		})
	}
	return records, nil
}

func (s *CsvSink) ScanReleases(ctx context.Context) ([]ReleaseRecord, error) {
	rows, err := s.read(releasesFile)
	if err != nil {
		return nil, err
	}

	records := make([]ReleaseRecord, 0, len(rows))
	for _, row := range rows {
		if len(row) < len(releaseHeader) {
			continue
		}
		id, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		repoID, _ := strconv.ParseInt(row[1], 10, 64)
		records = append(records, ReleaseRecord{
			ID:          id,
			RepoID:      repoID,
			RepoName:    row[2],
			TagName:     row[3],
			Name:        row[4],
			PublishedAt: row[5],
			Content:     row[6],
			FetchedAt:   parseTime(row[7]),
		})
	}
	return records, nil
}

func (s *CsvSink) Close() error {
	return nil
}

// upsert merge các dòng mới vào file theo key (cột đầu tiên) rồi ghi lại
// nguyên tử qua file tạm và rename
func (s *CsvSink) upsert(name string, header []string, rows map[string][]string, order []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, name)

	// Đọc dữ liệu hiện có, giữ thứ tự dòng cũ
	var existingOrder []string
	existing := make(map[string][]string)
	if old, err := readCsv(path); err == nil {
		for _, row := range old {
			if len(row) == 0 {
				continue
			}
			if _, seen := existing[row[0]]; !seen {
				existingOrder = append(existingOrder, row[0])
			}
			existing[row[0]] = row
		}
	}

	// Merge: dòng mới thay thế dòng cũ cùng key
	for _, key := range order {
		if _, seen := existing[key]; !seen {
			existingOrder = append(existingOrder, key)
		}
		existing[key] = rows[key]
	}

	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("cannot create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		return err
	}
	for _, key := range existingOrder {
		if err := w.Write(existing[key]); err != nil {
			tmp.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}

func (s *CsvSink) read(name string) ([][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := readCsv(filepath.Join(s.dir, name))
	if os.IsNotExist(err) {
		// Chưa có checkpoint nào, stage sau không có gì để làm
		return nil, nil
	}
	return rows, err
}

// readCsv trả về các dòng dữ liệu, bỏ qua dòng header
func readCsv(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	all, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(all) <= 1 {
		return nil, nil
	}
	return all[1:], nil
}

// flatten ép nội dung nhiều dòng về một dòng như bản ghi CSV gốc
func flatten(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.Join(strings.Fields(s), " ")
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
