package sink

import (
	"context"

	"github.com/thep200/release-crawler/cfg"
	"github.com/thep200/release-crawler/internal/model"
	"github.com/thep200/release-crawler/pkg/db"
	"github.com/thep200/release-crawler/pkg/log"
)

// MysqlSink ghi checkpoint vào MySQL qua các model gorm với upsert OnConflict
type MysqlSink struct {
	Config    *cfg.Config
	Logger    log.Logger
	Mysql     *db.Mysql
	repoMd    *model.Repo
	releaseMd *model.Release
	commitMd  *model.Commit
}

func NewMysqlSink(config *cfg.Config, logger log.Logger, mysql *db.Mysql) (*MysqlSink, error) {
	repoMd, err := model.NewRepo(config, logger, mysql)
	if err != nil {
		return nil, err
	}
	releaseMd, err := model.NewRelease(config, logger, mysql)
	if err != nil {
		return nil, err
	}
	commitMd, err := model.NewCommit(config, logger, mysql)
	if err != nil {
		return nil, err
	}

	return &MysqlSink{
		Config:    config,
		Logger:    logger,
		Mysql:     mysql,
		repoMd:    repoMd,
		releaseMd: releaseMd,
		commitMd:  commitMd,
	}, nil
}

func (s *MysqlSink) SaveRepos(ctx context.Context, records []RepoRecord) error {
	if len(records) == 0 {
		return nil
	}

	msgs := make([]model.RepoMessage, 0, len(records))
	for _, r := range records {
		msgs = append(msgs, model.RepoMessage{
			ID:         r.ID,
			User:       r.User,
			Name:       r.Name,
			StarCount:  r.StarCount,
			ForkCount:  r.ForkCount,
			WatchCount: r.WatchCount,
			IssueCount: r.IssueCount,
		})
	}

	if err := s.repoMd.CreateBatch(msgs); err != nil {
		return &WriteError{Stage: "search", Err: err}
	}
	return nil
}

func (s *MysqlSink) SaveReleases(ctx context.Context, records []ReleaseRecord) error {
	if len(records) == 0 {
		return nil
	}

	msgs := make([]model.ReleaseMessage, 0, len(records))
	for _, r := range records {
		msgs = append(msgs, model.ReleaseMessage{
			ID:          r.ID,
			RepoID:      r.RepoID,
			RepoName:    r.RepoName,
			TagName:     r.TagName,
			Name:        r.Name,
			Content:     r.Content,
			PublishedAt: r.PublishedAt,
		})
	}

	if err := s.releaseMd.CreateBatch(msgs); err != nil {
		return &WriteError{Stage: "releases", Err: err}
	}
	return nil
}

func (s *MysqlSink) SaveCommits(ctx context.Context, records []CommitRecord) error {
	if len(records) == 0 {
		return nil
	}

	msgs := make([]model.CommitMessage, 0, len(records))
	for _, r := range records {
		msgs = append(msgs, model.CommitMessage{
			Hash:      r.Hash,
			RepoName:  r.RepoName,
			TagName:   r.TagName,
			Message:   r.Message,
			ReleaseID: r.ReleaseID,
		})
	}

	if err := s.commitMd.CreateBatch(msgs); err != nil {
		return &WriteError{Stage: "commits", Err: err}
	}
	return nil
}

func (s *MysqlSink) ScanRepos(ctx context.Context) ([]RepoRecord, error) {
	repos, err := s.repoMd.All()
	if err != nil {
		return nil, err
	}

	records := make([]RepoRecord, 0, len(repos))
	for _, r := range repos {
		records = append(records, RepoRecord{
			ID:         r.ID,
			User:       r.User,
			Name:       r.Name,
			StarCount:  r.StarCount,
			ForkCount:  r.ForkCount,
			WatchCount: r.WatchCount,
			IssueCount: r.IssueCount,
			FetchedAt:  r.FetchedAt,
		})
	}
	return records, nil
}

func (s *MysqlSink) ScanReleases(ctx context.Context) ([]ReleaseRecord, error) {
	releases, err := s.releaseMd.All()
	if err != nil {
		return nil, err
	}

	records := make([]ReleaseRecord, 0, len(releases))
	for _, r := range releases {
		records = append(records, ReleaseRecord{
			ID:          r.ID,
			RepoID:      r.RepoID,
			RepoName:    r.RepoName,
			TagName:     r.TagName,
			Name:        r.Name,
			Content:     r.Content,
			PublishedAt: r.PublishedAt,
			FetchedAt:   r.FetchedAt,
		})
	}
	return records, nil
}

func (s *MysqlSink) Close() error {
	return s.Mysql.Close()
}
