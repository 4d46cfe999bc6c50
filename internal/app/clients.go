package app

import (
	"fmt"

	"github.com/yungbote/hmdcm/internal/clients/redis"
	"github.com/yungbote/hmdcm/internal/config"
	"github.com/yungbote/hmdcm/internal/platform/logger"
)

type Clients struct {
	ProgressBus redis.ProgressBus
}

func wireClients(log *logger.Logger, cfg *config.Config) (Clients, error) {
	var out Clients
	if cfg.Progress.RedisAddr != "" {
		bus, err := redis.NewProgressBus(log, cfg.Progress.RedisAddr, cfg.Progress.Channel)
		if err != nil {
			return Clients{}, fmt.Errorf("init redis progress bus: %w", err)
		}
		out.ProgressBus = bus
	}
	return out, nil
}
