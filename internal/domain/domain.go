package domain

import "github.com/yungbote/hmdcm/internal/domain/fits"

const (
	FitRunStatusRunning      = fits.StatusRunning
	FitRunStatusConverged    = fits.StatusConverged
	FitRunStatusNotConverged = fits.StatusNotConverged
	FitRunStatusFailed       = fits.StatusFailed
)

type FitRun = fits.FitRun
