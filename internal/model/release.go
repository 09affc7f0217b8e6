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

type Release struct {
	Model
	ID          int64     `json:"id" gorm:"column:id;primaryKey;autoIncrement:false"`
	RepoID      int64     `json:"repo_id" gorm:"column:repo_id;index"`
	RepoName    string    `json:"repo_name" gorm:"column:repo_name;type:varchar(255);not null"`
	TagName     string    `json:"tag_name" gorm:"column:tag_name;type:varchar(255);not null"`
	Name        string    `json:"name" gorm:"column:name;type:varchar(255)"`
	Content     string    `json:"content" gorm:"column:content;type:text"`
	PublishedAt string    `json:"published_at" gorm:"column:published_at;type:varchar(64)"`
	FetchedAt   time.Time `json:"fetched_at" gorm:"column:fetched_at"`
	CreatedAt   time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP"`
}

func NewRelease(config *cfg.Config, logger log.Logger, db *db.Mysql) (*Release, error) {
	release := &Release{
		Model: Model{
			Config: config,
			Logger: logger,
			Mysql:  db,
		},
	}
	return release, nil
}

func (r *Release) TableName() string {
	return "releases"
}

// CreateBatch upsert một lô release theo id release từ GitHub
func (r *Release) CreateBatch(releaseMessages []ReleaseMessage) error {
	db, err := r.Mysql.Db()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %w", err)
	}

	releases := make([]Release, 0, len(releaseMessages))
	now := time.Now()

	for _, msg := range releaseMessages {
		release := Release{
			ID:          msg.ID,
			RepoID:      msg.RepoID,
			RepoName:    TruncateString(msg.RepoName, 250),
			TagName:     TruncateString(msg.TagName, 250),
			Name:        TruncateString(msg.Name, 250),
			Content:     TruncateString(msg.Content, 65000),
			PublishedAt: msg.PublishedAt,
			FetchedAt:   now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		releases = append(releases, release)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "content", "published_at", "fetched_at", "updated_at"}),
		}).CreateInBatches(releases, 100)

		if result.Error != nil {
			return fmt.Errorf("failed to batch create releases: %w", result.Error)
		}

		return nil
	})
}

// All đọc toàn bộ checkpoint release, là con trỏ đầu vào của stage commits
func (r *Release) All() ([]Release, error) {
	db, err := r.Mysql.Db()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	var releases []Release
	if err := db.Find(&releases).Error; err != nil {
		return nil, fmt.Errorf("failed to scan releases: %w", err)
	}
	return releases, nil
}
