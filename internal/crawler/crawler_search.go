package crawler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/thep200/release-crawler/internal/model"
	"github.com/thep200/release-crawler/internal/sink"
	"golang.org/x/sync/errgroup"
)

// searchStage thu thập repositories qua ma trận khung-thời-gian × trang.
// GitHub Search API chỉ trả tối đa 1000 kết quả mỗi truy vấn nên không gian
// kết quả được chia nhỏ theo ngày tạo repo. Kết quả được dedupe theo id,
// sắp theo sao giảm dần, cắt còn maxRepos rồi ghi xuống sink làm checkpoint.
func (p *Pipeline) searchStage(ctx context.Context, sum *Summary) error {
	windows := generateTimeWindows()

	type pageJob struct {
		window timeWindow
		page   int
	}
	jobs := make([]pageJob, 0, len(windows)*p.pagesPerWindow)
	for _, w := range windows {
		for page := 1; page <= p.pagesPerWindow; page++ {
			jobs = append(jobs, pageJob{window: w, page: page})
		}
	}
	p.Logger.Info(ctx, "Search stage: %d windows x %d pages = %d queries", len(windows), p.pagesPerWindow, len(jobs))

	var (
		mu   sync.Mutex
		seen = make(map[int64]sink.RepoRecord, p.maxRepos)
	)

	// Không dùng errgroup.WithContext: một query fatal không chặt ngang các
	// query đang bay, chúng được phép chạy nốt để trạng thái quota nhất quán
	g := new(errgroup.Group)
	g.SetLimit(p.concurrency)

	for _, job := range jobs {
		g.Go(func() error {
			sum.Attempted(StageSearch)
			repos, err := p.Caller.SearchWindow(ctx, job.window.startDate, job.window.endDate, job.page, p.perPage)
			if err != nil {
				if isFatal(err) {
					return err
				}
				sum.Skipped(StageSearch)
				p.Logger.Warn(ctx, "Skipping search window %s page %d: %v", job.window.label(), job.page, err)
				return nil
			}
			sum.Succeeded(StageSearch)

			now := time.Now()
			mu.Lock()
			for _, repo := range repos {
				if repo.Id <= 0 {
					continue
				}
				if _, dup := seen[repo.Id]; dup {
					continue
				}
				user, name := repo.Owner.Login, repo.Name
				if user == "" {
					user, name = extractUserAndRepo(repo.FullName)
				}
				seen[repo.Id] = sink.RepoRecord{
					ID:         repo.Id,
					User:       user,
					Name:       name,
					StarCount:  int(repo.StargazersCount),
					ForkCount:  int(repo.ForksCount),
					WatchCount: int(repo.WatchersCount),
					IssueCount: int(repo.OpenIssuesCount),
					FetchedAt:  now,
				}
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	records := make([]sink.RepoRecord, 0, len(seen))
	for _, r := range seen {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].StarCount > records[j].StarCount
	})
	if p.maxRepos > 0 && len(records) > p.maxRepos {
		records = records[:p.maxRepos]
	}

	if err := p.Sink.SaveRepos(ctx, records); err != nil {
		return err
	}
	sum.AddItems(StageSearch, len(records))
	p.publishRepos(ctx, records)

	p.Logger.Info(ctx, "Search stage: đã checkpoint %d repositories", len(records))
	return nil
}

func (p *Pipeline) publishRepos(ctx context.Context, records []sink.RepoRecord) {
	if p.repoProducer == nil || len(records) == 0 {
		return
	}

	values := make([]interface{}, 0, len(records))
	for _, r := range records {
		values = append(values, model.RepoMessage{
			ID:         r.ID,
			User:       r.User,
			Name:       r.Name,
			StarCount:  r.StarCount,
			ForkCount:  r.ForkCount,
			WatchCount: r.WatchCount,
			IssueCount: r.IssueCount,
		})
	}
	if err := p.repoProducer.PublishBatch(ctx, "repo", values); err != nil {
		p.Logger.Error(ctx, "Failed to publish repos to kafka: %v", err)
	}
}
