package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/hmdcm/internal/data/repos"
	"github.com/yungbote/hmdcm/internal/platform/logger"
)

type Repos struct {
	FitRun repos.FitRunRepo
}

// wireRepos leaves every repo nil when no store is configured.
func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	if db == nil {
		return Repos{}
	}
	log.Info("Wiring repos...")
	return Repos{
		FitRun: repos.NewFitRunRepo(db, log),
	}
}
