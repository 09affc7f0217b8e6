package model

import (
	"time"

	"github.com/thep200/release-crawler/cfg"
	"github.com/thep200/release-crawler/pkg/db"
	"github.com/thep200/release-crawler/pkg/log"
)

type Model struct {
	Config    *cfg.Config `gorm:"-"`
	Logger    log.Logger  `gorm:"-"`
	Mysql     *db.Mysql   `gorm:"-"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}
