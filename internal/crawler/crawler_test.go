package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thep200/release-crawler/cfg"
	"github.com/thep200/release-crawler/internal/githubapi"
	"github.com/thep200/release-crawler/internal/scheduler"
	"github.com/thep200/release-crawler/internal/sink"
	"github.com/thep200/release-crawler/internal/token"
	"github.com/thep200/release-crawler/pkg/log"
)

// memSink là sink trong bộ nhớ cho test: upsert theo key như các backend
// thật và ghi lại kích thước từng batch để kiểm tra kỷ luật batch
type memSink struct {
	mu           sync.Mutex
	repos        []sink.RepoRecord
	repoIdx      map[int64]int
	releases     []sink.ReleaseRecord
	releaseIdx   map[int64]int
	commits      map[string]sink.CommitRecord
	repoSaves    []int
	releaseSaves []int
	commitSaves  []int
}

func newMemSink() *memSink {
	return &memSink{
		repoIdx:    make(map[int64]int),
		releaseIdx: make(map[int64]int),
		commits:    make(map[string]sink.CommitRecord),
	}
}

func (m *memSink) SaveRepos(ctx context.Context, records []sink.RepoRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repoSaves = append(m.repoSaves, len(records))
	for _, r := range records {
		if i, ok := m.repoIdx[r.ID]; ok {
			m.repos[i] = r
			continue
		}
		m.repoIdx[r.ID] = len(m.repos)
		m.repos = append(m.repos, r)
	}
	return nil
}

func (m *memSink) SaveReleases(ctx context.Context, records []sink.ReleaseRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseSaves = append(m.releaseSaves, len(records))
	for _, r := range records {
		if i, ok := m.releaseIdx[r.ID]; ok {
			m.releases[i] = r
			continue
		}
		m.releaseIdx[r.ID] = len(m.releases)
		m.releases = append(m.releases, r)
	}
	return nil
}

func (m *memSink) SaveCommits(ctx context.Context, records []sink.CommitRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitSaves = append(m.commitSaves, len(records))
	for _, r := range records {
		m.commits[r.Hash] = r
	}
	return nil
}

func (m *memSink) ScanRepos(ctx context.Context) ([]sink.RepoRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sink.RepoRecord, len(m.repos))
	copy(out, m.repos)
	return out, nil
}

func (m *memSink) ScanReleases(ctx context.Context) ([]sink.ReleaseRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sink.ReleaseRecord, len(m.releases))
	copy(out, m.releases)
	return out, nil
}

func (m *memSink) Close() error { return nil }

// newFakeGithub dựng server giả lập ba endpoint. Repo có tên dạng "rN",
// release id suy ra từ N nên có thể kiểm tra upsert giữa các lần chạy.
func newFakeGithub(t *testing.T) *httptest.Server {
	repoItem := func(id int64, name string) map[string]interface{} {
		return map[string]interface{}{
			"id":               id,
			"name":             name,
			"full_name":        "u/" + name,
			"owner":            map[string]interface{}{"login": "u", "id": id},
			"stargazers_count": 1000 * id,
			"forks_count":      10 * id,
		}
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "4000")
		w.Header().Set("X-RateLimit-Limit", "5000")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10))

		switch {
		case strings.HasPrefix(r.URL.Path, "/search/repositories"):
			q := r.URL.Query().Get("q")
			var items []map[string]interface{}
			switch {
			case strings.Contains(q, "created:2010-01-01"):
				items = []map[string]interface{}{repoItem(1, "r1"), repoItem(2, "r2"), repoItem(3, "r3")}
			case strings.Contains(q, "created:2015-01-01"):
				// r3 xuất hiện lại để kiểm tra dedupe giữa hai window
				items = []map[string]interface{}{repoItem(3, "r3"), repoItem(4, "r4")}
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"total_count": len(items),
				"items":       items,
			})

		case strings.HasSuffix(r.URL.Path, "/releases"):
			parts := strings.Split(r.URL.Path, "/")
			name := parts[len(parts)-2]
			if name == "rbad" {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			n, _ := strconv.Atoi(strings.TrimPrefix(name, "r"))
			json.NewEncoder(w).Encode([]map[string]interface{}{
				{
					"id":           1000 + n,
					"tag_name":     "v1.0." + strconv.Itoa(n),
					"name":         "Release " + strconv.Itoa(n),
					"body":         "notes for " + name,
					"published_at": "2024-01-01T00:00:00Z",
				},
			})

		case strings.Contains(r.URL.Path, "/commits"):
			parts := strings.Split(r.URL.Path, "/")
			name := parts[len(parts)-2]
			tag := r.URL.Query().Get("sha")
			json.NewEncoder(w).Encode([]map[string]interface{}{
				{
					"sha":    fmt.Sprintf("sha-%s-%s", name, tag),
					"commit": map[string]interface{}{"message": "release " + tag},
				},
			})

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newTestPipeline(t *testing.T, serverURL string, snk sink.Sink) *Pipeline {
	loader, err := cfg.NewMockLoader()
	require.NoError(t, err)
	config, err := loader.Load()
	require.NoError(t, err)

	config.GithubApi.SearchApiUrl = serverURL + "/search/repositories"
	config.GithubApi.ReleasesApiUrl = serverURL + "/repos/{user}/{repo}/releases"
	config.GithubApi.CommitsApiUrl = serverURL + "/repos/{user}/{repo}/commits?sha={tag}"
	config.GithubApi.MinRemaining = 10
	config.GithubApi.RequestIntervalMs = 0
	config.GithubApi.MaxRetries = 2
	config.Crawler.Concurrency = 4
	config.Crawler.BatchSize = 5
	config.Crawler.BatchDelayMs = 0
	config.Crawler.PagesPerWindow = 1
	config.Crawler.PerPage = 100
	config.Kafka.Enabled = false

	logger, err := log.NewCslLogger()
	require.NoError(t, err)
	pool, err := token.NewPool(logger, []string{"aaa", "bbb"}, config.GithubApi.MinRemaining)
	require.NoError(t, err)

	sched := scheduler.NewScheduler(logger, config, pool)
	caller := githubapi.NewCaller(logger, config, sched)
	pipe, err := NewPipeline(logger, config, pool, caller, snk)
	require.NoError(t, err)
	return pipe
}

func seedRepos(snk *memSink, names ...string) {
	records := make([]sink.RepoRecord, 0, len(names))
	for i, name := range names {
		records = append(records, sink.RepoRecord{
			ID:        int64(i + 1),
			User:      "u",
			Name:      name,
			StarCount: 100 - i,
			FetchedAt: time.Now(),
		})
	}
	snk.SaveRepos(context.Background(), records)
	snk.repoSaves = nil
}

func TestPipelineRunEndToEnd(t *testing.T) {
	server := newFakeGithub(t)
	defer server.Close()

	snk := newMemSink()
	pipe := newTestPipeline(t, server.URL, snk)

	sum, err := pipe.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sum)

	// 5 query search (5 window x 1 trang), 2 window có kết quả, r3 trùng
	search := sum.Stats(StageSearch)
	assert.Equal(t, 5, search.Attempted)
	assert.Equal(t, 5, search.Succeeded)
	assert.Equal(t, 4, search.Items)

	require.Len(t, snk.repos, 4)
	// Sắp theo sao giảm dần: id lớn có nhiều sao hơn trong fixture
	assert.Equal(t, int64(4), snk.repos[0].ID)

	assert.Len(t, snk.releases, 4)
	assert.Len(t, snk.commits, 4)
	assert.Equal(t, 4, sum.Stats(StageReleases).Items)
	assert.Equal(t, 4, sum.Stats(StageCommits).Items)
	assert.False(t, sum.FinishedAt.IsZero())
}

func TestRunTwiceIsIdempotent(t *testing.T) {
	server := newFakeGithub(t)
	defer server.Close()

	snk := newMemSink()
	pipe := newTestPipeline(t, server.URL, snk)

	_, err := pipe.Run(context.Background())
	require.NoError(t, err)
	_, err = pipe.Run(context.Background())
	require.NoError(t, err)

	// Ghi là upsert theo key nên chạy lại không nhân đôi dữ liệu
	assert.Len(t, snk.repos, 4)
	assert.Len(t, snk.releases, 4)
	assert.Len(t, snk.commits, 4)
}

func TestReleaseStageBatchesAndPersistsEachBatch(t *testing.T) {
	server := newFakeGithub(t)
	defer server.Close()

	snk := newMemSink()
	names := make([]string, 0, 12)
	for i := 1; i <= 12; i++ {
		names = append(names, "r"+strconv.Itoa(i))
	}
	seedRepos(snk, names...)

	pipe := newTestPipeline(t, server.URL, snk)
	sum := NewSummary()

	require.NoError(t, pipe.releaseStage(context.Background(), sum))

	// 12 repo với batch size 5: mỗi batch được ghi xuống sink trước khi
	// batch sau bắt đầu
	assert.Equal(t, []int{5, 5, 2}, snk.releaseSaves)
	assert.Len(t, snk.releases, 12)
	assert.Equal(t, 12, sum.Stats(StageReleases).Succeeded)
}

func TestReleaseStageSkipsFailingRepo(t *testing.T) {
	server := newFakeGithub(t)
	defer server.Close()

	snk := newMemSink()
	seedRepos(snk, "r1", "rbad", "r2")

	pipe := newTestPipeline(t, server.URL, snk)
	sum := NewSummary()

	require.NoError(t, pipe.releaseStage(context.Background(), sum))

	stats := sum.Stats(StageReleases)
	assert.Equal(t, 3, stats.Attempted)
	assert.Equal(t, 2, stats.Succeeded)
	assert.Equal(t, 1, stats.Skipped)
	assert.Len(t, snk.releases, 2)
}

func TestCommitStageRunsFromCheckpoint(t *testing.T) {
	server := newFakeGithub(t)
	defer server.Close()

	// Sink đã có checkpoint release từ một lần chạy trước, stage commits
	// phải tự quét được mà không cần stage releases chạy cùng process
	snk := newMemSink()
	require.NoError(t, snk.SaveReleases(context.Background(), []sink.ReleaseRecord{
		{ID: 1001, RepoID: 1, RepoName: "u/r1", TagName: "v1.0.1"},
		{ID: 1002, RepoID: 2, RepoName: "u/r2", TagName: "v1.0.2"},
		{ID: 1003, RepoID: 3, RepoName: "u/r3", TagName: "v1.0.3"},
	}))
	snk.releaseSaves = nil

	pipe := newTestPipeline(t, server.URL, snk)
	sum := NewSummary()

	require.NoError(t, pipe.commitStage(context.Background(), sum))

	assert.Len(t, snk.commits, 3)
	assert.Equal(t, 3, sum.Stats(StageCommits).Succeeded)
	c, ok := snk.commits["sha-r1-v1.0.1"]
	require.True(t, ok)
	assert.Equal(t, int64(1001), c.ReleaseID)
	assert.Equal(t, "u/r1", c.RepoName)
}

func TestRunCanceledContextIsFatal(t *testing.T) {
	server := newFakeGithub(t)
	defer server.Close()

	snk := newMemSink()
	pipe := newTestPipeline(t, server.URL, snk)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := pipe.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, sum)
}

func TestGenerateTimeWindowsCoverContinuousRange(t *testing.T) {
	windows := generateTimeWindows()
	require.NotEmpty(t, windows)
	for i := 1; i < len(windows); i++ {
		assert.Equal(t, windows[i-1].endDate, windows[i].startDate)
	}
	assert.WithinDuration(t, time.Now(), windows[len(windows)-1].endDate, time.Minute)
}

func TestExtractUserAndRepo(t *testing.T) {
	user, name := extractUserAndRepo("golang/go")
	assert.Equal(t, "golang", user)
	assert.Equal(t, "go", name)

	user, name = extractUserAndRepo("broken")
	assert.Empty(t, user)
	assert.Empty(t, name)
}
