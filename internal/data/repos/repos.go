package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/hmdcm/internal/data/repos/fits"
	"github.com/yungbote/hmdcm/internal/platform/logger"
)

type FitRunRepo = fits.FitRunRepo

func NewFitRunRepo(db *gorm.DB, baseLog *logger.Logger) FitRunRepo {
	return fits.NewFitRunRepo(db, baseLog)
}
