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

type Repo struct {
	Model
	ID         int64     `json:"id" gorm:"column:id;primaryKey;autoIncrement:false"`
	User       string    `json:"user" gorm:"column:user;type:varchar(255);not null"`
	Name       string    `json:"name" gorm:"column:name;type:varchar(255);not null"`
	StarCount  int       `json:"star_count" gorm:"column:star_count;default:0"`
	ForkCount  int       `json:"fork_count" gorm:"column:fork_count;default:0"`
	WatchCount int       `json:"watch_count" gorm:"column:watch_count;default:0"`
	IssueCount int       `json:"issue_count" gorm:"column:issue_count;default:0"`
	FetchedAt  time.Time `json:"fetched_at" gorm:"column:fetched_at"`
	CreatedAt  time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP"`
}

func NewRepo(config *cfg.Config, logger log.Logger, db *db.Mysql) (*Repo, error) {
	repo := &Repo{
		Model: Model{
			Config: config,
			Logger: logger,
			Mysql:  db,
		},
	}
	return repo, nil
}

func (r *Repo) TableName() string {
	return "repos"
}

// CreateBatch upsert một lô repository theo id, bản ghi cũ được cập nhật
// thay vì chèn trùng
func (r *Repo) CreateBatch(repoMessages []RepoMessage) error {
	db, err := r.Mysql.Db()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %w", err)
	}

	repos := make([]Repo, 0, len(repoMessages))
	now := time.Now()

	for _, msg := range repoMessages {
		repo := Repo{
			ID:         msg.ID,
			User:       TruncateString(msg.User, 250),
			Name:       TruncateString(msg.Name, 250),
			StarCount:  msg.StarCount,
			ForkCount:  msg.ForkCount,
			WatchCount: msg.WatchCount,
			IssueCount: msg.IssueCount,
			FetchedAt:  now,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		repos = append(repos, repo)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"star_count", "fork_count", "watch_count", "issue_count", "fetched_at", "updated_at"}),
		}).CreateInBatches(repos, 100)

		if result.Error != nil {
			return fmt.Errorf("failed to batch create repositories: %w", result.Error)
		}

		return nil
	})
}

// All đọc toàn bộ checkpoint repository, là con trỏ đầu vào của stage releases
func (r *Repo) All() ([]Repo, error) {
	db, err := r.Mysql.Db()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	var repos []Repo
	if err := db.Order("star_count DESC").Find(&repos).Error; err != nil {
		return nil, fmt.Errorf("failed to scan repos: %w", err)
	}
	return repos, nil
}
