package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/hmdcm/internal/clients/redis"
	"github.com/yungbote/hmdcm/internal/config"
	"github.com/yungbote/hmdcm/internal/data/repos"
	types "github.com/yungbote/hmdcm/internal/domain"
	"github.com/yungbote/hmdcm/internal/hmdcm/fit"
	"github.com/yungbote/hmdcm/internal/ingest"
	"github.com/yungbote/hmdcm/internal/observability"
	"github.com/yungbote/hmdcm/internal/platform/dbctx"
	"github.com/yungbote/hmdcm/internal/platform/logger"
	"github.com/yungbote/hmdcm/internal/report"
)

var ErrNoStore = errors.New("no fit-run store configured")

type FitOutcome struct {
	RunID  uuid.UUID
	Result *fit.Result
	Report *report.Report
}

type FitService interface {
	// Run loads the configured data, fits the model and records the run.
	Run(ctx context.Context, cfg *config.Config) (*FitOutcome, error)
	ListRecent(ctx context.Context, limit int) ([]*types.FitRun, error)
}

type fitService struct {
	log     *logger.Logger
	fitter  *fit.Fitter
	repo    repos.FitRunRepo
	bus     redis.ProgressBus
	metrics *observability.FitMetrics
}

// NewFitService wires the fitter to its optional sinks; repo, bus and metrics
// may each be nil.
func NewFitService(
	baseLog *logger.Logger,
	fitter *fit.Fitter,
	repo repos.FitRunRepo,
	bus redis.ProgressBus,
	metrics *observability.FitMetrics,
) FitService {
	return &fitService{
		log:     baseLog.With("service", "FitService"),
		fitter:  fitter,
		repo:    repo,
		bus:     bus,
		metrics: metrics,
	}
}

func (s *fitService) Run(ctx context.Context, cfg *config.Config) (*FitOutcome, error) {
	data, versions, err := ingest.Load(cfg.Data)
	if err != nil {
		return nil, fmt.Errorf("load data: %w", err)
	}
	fc, err := cfg.FitConfig()
	if err != nil {
		return nil, err
	}
	fc.Versions = versions
	if cfg.Hyper != "" {
		if fc.Hyper, err = config.LoadHyper(cfg.Hyper); err != nil {
			return nil, err
		}
	}

	runID := uuid.New()
	fingerprint := data.Fingerprint()
	log := s.log.With("run_id", runID.String())
	dbc := dbctx.Context{Ctx: ctx}

	if s.repo != nil {
		cfgJSON, err := json.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("encode config: %w", err)
		}
		if _, err := s.repo.Create(dbc, &types.FitRun{
			ID:          runID,
			Status:      types.FitRunStatusRunning,
			Rule:        string(fc.Rule),
			K:           data.K,
			Respondents: data.Respondents(),
			Occasions:   data.Occasions(),
			Fingerprint: fingerprint,
			ConfigJSON:  datatypes.JSON(cfgJSON),
		}); err != nil {
			return nil, fmt.Errorf("record fit run: %w", err)
		}
	}

	var observers []fit.Observer
	if s.metrics != nil {
		observers = append(observers, s.metrics)
	}
	if s.bus != nil {
		observers = append(observers, s.bus.Observer(runID.String()))
	}

	fitCtx := ctx
	if d := cfg.Timeout(); d > 0 {
		var cancel context.CancelFunc
		fitCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	res, fitErr := s.fitter.Fit(fitCtx, data, fc, observers...)
	if fitErr != nil {
		if s.repo != nil {
			if err := s.repo.Finish(dbc, runID, types.FitRunStatusFailed, 0, 0, nil, fitErr.Error()); err != nil {
				log.Warn("failed to record fit failure", "error", err)
			}
		}
		return nil, fitErr
	}

	rep := report.FromResult(runID.String(), fingerprint, res)
	if s.repo != nil {
		compact, err := rep.Compact()
		if err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
		status := types.FitRunStatusNotConverged
		if res.Converged {
			status = types.FitRunStatusConverged
		}
		if err := s.repo.Finish(dbc, runID, status, res.Iterations, res.FinalELBO(), datatypes.JSON(compact), ""); err != nil {
			return nil, fmt.Errorf("finish fit run: %w", err)
		}
	}

	if cfg.Report.Out != "" {
		if err := report.WriteJSON(cfg.Report.Out, rep); err != nil {
			return nil, fmt.Errorf("write report: %w", err)
		}
	}
	if cfg.Report.Plot != "" && len(res.ELBO) > 0 {
		if err := report.PlotELBO(cfg.Report.Plot, res.ELBO); err != nil {
			return nil, fmt.Errorf("plot elbo: %w", err)
		}
	}
	log.Info("fit run recorded",
		"state", string(res.State),
		"iterations", res.Iterations,
		"elapsed", res.Elapsed.Round(time.Millisecond).String(),
	)
	return &FitOutcome{RunID: runID, Result: res, Report: rep}, nil
}

func (s *fitService) ListRecent(ctx context.Context, limit int) ([]*types.FitRun, error) {
	if s.repo == nil {
		return nil, ErrNoStore
	}
	return s.repo.ListRecent(dbctx.Context{Ctx: ctx}, limit)
}
