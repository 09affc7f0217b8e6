package crawler

import (
	"context"
	"sync"
	"time"

	"github.com/thep200/release-crawler/internal/model"
	"github.com/thep200/release-crawler/internal/sink"
	"golang.org/x/sync/errgroup"
)

// releaseStage đọc checkpoint repository từ sink và crawl releases theo
// từng batch. Batch sau chỉ bắt đầu khi toàn bộ kết quả của batch trước đã
// được ghi bền xuống sink, nên bộ nhớ bị chặn trên và một lần crash chỉ mất
// tối đa một batch đang bay. Cancel được kiểm tra tại ranh giới batch.
func (p *Pipeline) releaseStage(ctx context.Context, sum *Summary) error {
	repos, err := p.Sink.ScanRepos(ctx)
	if err != nil {
		return err
	}
	if len(repos) == 0 {
		p.Logger.Info(ctx, "Release stage: không có repository nào trong checkpoint")
		return nil
	}
	p.Logger.Info(ctx, "Release stage: crawl releases cho %d repositories, batch size %d", len(repos), p.batchSize)

	for start := 0; start < len(repos); start += p.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := min(start+p.batchSize, len(repos))
		batch := repos[start:end]

		var (
			mu      sync.Mutex
			records []sink.ReleaseRecord
		)
		g := new(errgroup.Group)
		g.SetLimit(p.concurrency)

		for _, repo := range batch {
			g.Go(func() error {
				sum.Attempted(StageReleases)
				releases, err := p.Caller.Releases(ctx, repo.User, repo.Name)
				if err != nil {
					if isFatal(err) {
						return err
					}
					sum.Skipped(StageReleases)
					p.Logger.Warn(ctx, "Skipping releases for %s: %v", repo.FullName(), err)
					return nil
				}
				sum.Succeeded(StageReleases)

				now := time.Now()
				mu.Lock()
				for _, rel := range releases {
					if rel.TagName == "" {
						continue
					}
					records = append(records, sink.ReleaseRecord{
						ID:          rel.Id,
						RepoID:      repo.ID,
						RepoName:    repo.FullName(),
						TagName:     rel.TagName,
						Name:        rel.Name,
						Content:     rel.Body,
						PublishedAt: rel.PublishedAt,
						FetchedAt:   now,
					})
				}
				mu.Unlock()
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return err
		}

		if err := p.Sink.SaveReleases(ctx, records); err != nil {
			return err
		}
		sum.AddItems(StageReleases, len(records))
		p.publishReleases(ctx, records)
		p.Logger.Info(ctx, "Release stage: batch %d-%d xong, %d releases đã checkpoint", start+1, end, len(records))

		if end < len(repos) {
			if err := p.sleepBetweenBatches(ctx); err != nil {
				return err
			}
		}
	}

	return nil
}

func (p *Pipeline) publishReleases(ctx context.Context, records []sink.ReleaseRecord) {
	if p.releaseProducer == nil || len(records) == 0 {
		return
	}

	values := make([]interface{}, 0, len(records))
	for _, r := range records {
		values = append(values, model.ReleaseMessage{
			ID:          r.ID,
			RepoID:      r.RepoID,
			RepoName:    r.RepoName,
			TagName:     r.TagName,
			Name:        r.Name,
			Content:     r.Content,
			PublishedAt: r.PublishedAt,
		})
	}
	if err := p.releaseProducer.PublishBatch(ctx, "release", values); err != nil {
		p.Logger.Error(ctx, "Failed to publish releases to kafka: %v", err)
	}
}
