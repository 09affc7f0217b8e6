package model

import (
	"fmt"
	"time"

	"github.com/thep200/release-crawler/cfg"
	"github.com/thep200/release-crawler/pkg/db"
	"github.com/thep200/release-crawler/pkg/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Commit struct {
	Model
	Hash      string    `json:"hash" gorm:"column:hash;type:varchar(64);primaryKey"`
	RepoName  string    `json:"repo_name" gorm:"column:repo_name;type:varchar(255);not null"`
	TagName   string    `json:"tag_name" gorm:"column:tag_name;type:varchar(255);not null"`
	Message   string    `json:"message" gorm:"column:message;type:text"`
	ReleaseID int64     `json:"release_id" gorm:"column:release_id;index"`
	FetchedAt time.Time `json:"fetched_at" gorm:"column:fetched_at"`
	CreatedAt time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP"`
}

func NewCommit(config *cfg.Config, logger log.Logger, db *db.Mysql) (*Commit, error) {
	commit := &Commit{
		Model: Model{
			Config: config,
			Logger: logger,
			Mysql:  db,
		},
	}
	return commit, nil
}

func (c *Commit) TableName() string {
	return "commits"
}

// CreateBatch upsert một lô commit theo hash
func (c *Commit) CreateBatch(commitMessages []CommitMessage) error {
	db, err := c.Mysql.Db()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %w", err)
	}

	commits := make([]Commit, 0, len(commitMessages))
	now := time.Now()

	for _, msg := range commitMessages {
		commit := Commit{
			Hash:      TruncateString(msg.Hash, 64),
			RepoName:  TruncateString(msg.RepoName, 250),
			TagName:   TruncateString(msg.TagName, 250),
			Message:   TruncateString(msg.Message, 65000),
			ReleaseID: msg.ReleaseID,
			FetchedAt: now,
			CreatedAt: now,
			UpdatedAt: now,
		}
		commits = append(commits, commit)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "hash"}},
			DoUpdates: clause.AssignmentColumns([]string{"message", "release_id", "fetched_at", "updated_at"}),
		}).CreateInBatches(commits, 100)

		if result.Error != nil {
			return fmt.Errorf("failed to batch create commits: %w", result.Error)
		}

		return nil
	})
}
