// Pipeline crawl ba stage: search repositories theo khung thời gian,
// crawl releases cho từng repo, crawl commits cho từng cặp (repo, tag).
// Mỗi stage đọc checkpoint của stage trước từ sink chứ không từ bộ nhớ,
// nên một lần chạy bị ngắt giữa chừng có thể tiếp tục ở lần chạy sau.

package crawler

import (
	"context"
	"errors"
	"time"

	"github.com/thep200/release-crawler/cfg"
	"github.com/thep200/release-crawler/internal/githubapi"
	"github.com/thep200/release-crawler/internal/sink"
	"github.com/thep200/release-crawler/internal/token"
	kafkapkg "github.com/thep200/release-crawler/pkg/kafka"
	"github.com/thep200/release-crawler/pkg/log"
)

type Pipeline struct {
	Logger log.Logger
	Config *cfg.Config
	Pool   *token.Pool
	Caller *githubapi.Caller
	Sink   sink.Sink

	// Kafka producers, nil khi Kafka.Enabled = false
	repoProducer    *kafkapkg.Producer
	releaseProducer *kafkapkg.Producer
	commitProducer  *kafkapkg.Producer

	concurrency    int
	batchSize      int
	batchDelay     time.Duration
	maxRepos       int
	perPage        int
	pagesPerWindow int
}

func NewPipeline(logger log.Logger, config *cfg.Config, pool *token.Pool, caller *githubapi.Caller, snk sink.Sink) (*Pipeline, error) {
	if snk == nil {
		return nil, &cfg.ConfigError{Reason: "pipeline requires a sink"}
	}

	p := &Pipeline{
		Logger:         logger,
		Config:         config,
		Pool:           pool,
		Caller:         caller,
		Sink:           snk,
		concurrency:    config.Crawler.Concurrency,
		batchSize:      config.Crawler.BatchSize,
		batchDelay:     time.Duration(config.Crawler.BatchDelayMs) * time.Millisecond,
		maxRepos:       config.Crawler.MaxRepos,
		perPage:        config.Crawler.PerPage,
		pagesPerWindow: config.Crawler.PagesPerWindow,
	}
	if p.concurrency <= 0 {
		p.concurrency = 10
	}
	if p.batchSize <= 0 {
		p.batchSize = 50
	}
	if p.perPage <= 0 {
		p.perPage = 100
	}
	if p.pagesPerWindow <= 0 {
		p.pagesPerWindow = 10
	}

	if config.Kafka.Enabled {
		p.repoProducer = kafkapkg.NewProducer(config, logger, config.Kafka.Producer.TopicRepo)
		p.releaseProducer = kafkapkg.NewProducer(config, logger, config.Kafka.Producer.TopicRelease)
		p.commitProducer = kafkapkg.NewProducer(config, logger, config.Kafka.Producer.TopicCommit)
	}

	return p, nil
}

// Run thực hiện trọn vẹn một lượt crawl. Pipeline là re-entrant: gọi lại
// Run chỉ bổ sung dữ liệu mới vì mọi ghi xuống sink đều là upsert theo key.
// Lỗi trả về là fatal (config, sink, hết token, cancel); lỗi của từng item
// chỉ bị skip và đếm vào summary.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	sum := NewSummary()
	startTime := time.Now()
	p.Logger.Info(ctx, "===== Run %s: bắt đầu crawl =====", sum.RunID)

	if err := p.searchStage(ctx, sum); err != nil {
		sum.Finish(p.Pool.Usage())
		return sum, err
	}

	if err := p.releaseStage(ctx, sum); err != nil {
		sum.Finish(p.Pool.Usage())
		return sum, err
	}

	if err := p.commitStage(ctx, sum); err != nil {
		sum.Finish(p.Pool.Usage())
		return sum, err
	}

	sum.Finish(p.Pool.Usage())
	p.Logger.Info(ctx, "===== Run %s: hoàn tất sau %v =====", sum.RunID, time.Since(startTime).Round(time.Second))
	return sum, nil
}

// Close đóng các Kafka producer nếu có
func (p *Pipeline) Close() error {
	var firstErr error
	for _, producer := range []*kafkapkg.Producer{p.repoProducer, p.releaseProducer, p.commitProducer} {
		if producer == nil {
			continue
		}
		if err := producer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// isFatal phân loại lỗi fetch: cancel, hết token là fatal với cả run;
// mọi lỗi khác (kể cả RetriesExhausted) chỉ skip item hiện tại
func isFatal(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, token.ErrNoTokens)
}

// sleepBetweenBatches là backpressure knob giữa hai batch của một stage
func (p *Pipeline) sleepBetweenBatches(ctx context.Context) error {
	if p.batchDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(p.batchDelay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
