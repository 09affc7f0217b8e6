package crawler

import (
	"context"
	"sync"
	"time"

	"github.com/thep200/release-crawler/internal/model"
	"github.com/thep200/release-crawler/internal/sink"
	"golang.org/x/sync/errgroup"
)

// commitStage đọc checkpoint release từ sink (không phải từ bộ nhớ của
// stage trước, đây là hợp đồng resumability) và crawl commits cho từng cặp
// (repo, tag) theo cùng kỷ luật batch như releaseStage.
func (p *Pipeline) commitStage(ctx context.Context, sum *Summary) error {
	releases, err := p.Sink.ScanReleases(ctx)
	if err != nil {
		return err
	}
	if len(releases) == 0 {
		p.Logger.Info(ctx, "Commit stage: không có release nào trong checkpoint")
		return nil
	}
	p.Logger.Info(ctx, "Commit stage: crawl commits cho %d cặp (repo, tag), batch size %d", len(releases), p.batchSize)

	for start := 0; start < len(releases); start += p.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := min(start+p.batchSize, len(releases))
		batch := releases[start:end]

		var (
			mu      sync.Mutex
			records []sink.CommitRecord
		)
		g := new(errgroup.Group)
		g.SetLimit(p.concurrency)

		for _, rel := range batch {
			g.Go(func() error {
				user, name := extractUserAndRepo(rel.RepoName)
				if user == "" || rel.TagName == "" {
					return nil
				}

				sum.Attempted(StageCommits)
				commits, err := p.Caller.Commits(ctx, user, name, rel.TagName)
				if err != nil {
					if isFatal(err) {
						return err
					}
					sum.Skipped(StageCommits)
					p.Logger.Warn(ctx, "Skipping commits for %s@%s: %v", rel.RepoName, rel.TagName, err)
					return nil
				}
				sum.Succeeded(StageCommits)

				now := time.Now()
				mu.Lock()
				for _, commit := range commits {
					if commit.SHA == "" {
						continue
					}
					records = append(records, sink.CommitRecord{
						Hash:      commit.SHA,
						RepoName:  rel.RepoName,
						TagName:   rel.TagName,
						Message:   commit.Commit.Message,
						ReleaseID: rel.ID,
						FetchedAt: now,
					})
				}
				mu.Unlock()
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return err
		}

		if err := p.Sink.SaveCommits(ctx, records); err != nil {
			return err
		}
		sum.AddItems(StageCommits, len(records))
		p.publishCommits(ctx, records)
		p.Logger.Info(ctx, "Commit stage: batch %d-%d xong, %d commits đã checkpoint", start+1, end, len(records))

		if end < len(releases) {
			if err := p.sleepBetweenBatches(ctx); err != nil {
				return err
			}
		}
	}

	return nil
}

func (p *Pipeline) publishCommits(ctx context.Context, records []sink.CommitRecord) {
	if p.commitProducer == nil || len(records) == 0 {
		return
	}

	values := make([]interface{}, 0, len(records))
	for _, r := range records {
		values = append(values, model.CommitMessage{
			Hash:      r.Hash,
			RepoName:  r.RepoName,
			TagName:   r.TagName,
			Message:   r.Message,
			ReleaseID: r.ReleaseID,
		})
	}
	if err := p.commitProducer.PublishBatch(ctx, "commit", values); err != nil {
		p.Logger.Error(ctx, "Failed to publish commits to kafka: %v", err)
	}
}
