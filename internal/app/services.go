package app

import (
	"github.com/yungbote/hmdcm/internal/hmdcm/fit"
	"github.com/yungbote/hmdcm/internal/observability"
	"github.com/yungbote/hmdcm/internal/platform/logger"
	"github.com/yungbote/hmdcm/internal/services"
)

type Services struct {
	Fits services.FitService
}

func wireServices(log *logger.Logger, r Repos, c Clients, metrics *observability.FitMetrics) Services {
	return Services{
		Fits: services.NewFitService(log, fit.New(log), r.FitRun, c.ProgressBus, metrics),
	}
}
