package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/yungbote/hmdcm/internal/config"
	"github.com/yungbote/hmdcm/internal/data/db"
	"github.com/yungbote/hmdcm/internal/observability"
	"github.com/yungbote/hmdcm/internal/platform/logger"
)

type App struct {
	Log      *logger.Logger
	Cfg      *config.Config
	DB       *gorm.DB
	Repos    Repos
	Clients  Clients
	Registry *prometheus.Registry
	Services Services

	shutdownTracing func(context.Context) error
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log, err := logger.New(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	shutdown, err := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Environment: cfg.Env,
		Exporter:    cfg.Telemetry.Exporter,
	})
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	var theDB *gorm.DB
	if cfg.Store.DSN != "" {
		theDB, err = db.Open(cfg.Store.DSN, log)
		if err != nil {
			log.Sync()
			return nil, fmt.Errorf("open store: %w", err)
		}
		if err := db.AutoMigrateAll(theDB); err != nil {
			log.Sync()
			return nil, fmt.Errorf("store automigrate: %w", err)
		}
	}

	clientset, err := wireClients(log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reposet := wireRepos(theDB, log)
	serviceset := wireServices(log, reposet, clientset, observability.NewFitMetrics(reg))

	return &App{
		Log:             log,
		Cfg:             cfg,
		DB:              theDB,
		Repos:           reposet,
		Clients:         clientset,
		Registry:        reg,
		Services:        serviceset,
		shutdownTracing: shutdown,
	}, nil
}

// WriteMetrics dumps the fit metrics when report.metrics is configured.
func (a *App) WriteMetrics() error {
	if a.Cfg.Report.Metrics == "" {
		return nil
	}
	return observability.WriteTextfile(a.Cfg.Report.Metrics, a.Registry)
}

func (a *App) Close(ctx context.Context) {
	if a == nil {
		return
	}
	if a.Clients.ProgressBus != nil {
		_ = a.Clients.ProgressBus.Close()
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil && a.Log != nil {
			a.Log.Warn("tracing shutdown failed", "error", err)
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
