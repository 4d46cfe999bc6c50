package fits

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/hmdcm/internal/domain"
	"github.com/yungbote/hmdcm/internal/platform/dbctx"
	"github.com/yungbote/hmdcm/internal/platform/logger"
)

type FitRunRepo interface {
	Create(dbc dbctx.Context, run *types.FitRun) (*types.FitRun, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.FitRun, error)
	ListRecent(dbc dbctx.Context, limit int) ([]*types.FitRun, error)
	Finish(dbc dbctx.Context, id uuid.UUID, status string, iterations int, finalELBO float64, result datatypes.JSON, errMsg string) error
}

type fitRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFitRunRepo(db *gorm.DB, baseLog *logger.Logger) FitRunRepo {
	return &fitRunRepo{
		db:  db,
		log: baseLog.With("repo", "FitRunRepo"),
	}
}

func (r *fitRunRepo) Create(dbc dbctx.Context, run *types.FitRun) (*types.FitRun, error) {
	if run == nil {
		return nil, errors.New("fit run is nil")
	}
	if run.Status == "" {
		run.Status = types.FitRunStatusRunning
	}
	if err := dbc.Conn(r.db).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

// GetByID returns nil, nil when no run has the id.
func (r *fitRunRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.FitRun, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var run types.FitRun
	if err := dbc.Conn(r.db).Where("id = ?", id).Limit(1).Find(&run).Error; err != nil {
		return nil, err
	}
	if run.ID == uuid.Nil {
		return nil, nil
	}
	return &run, nil
}

func (r *fitRunRepo) ListRecent(dbc dbctx.Context, limit int) ([]*types.FitRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []*types.FitRun
	if err := dbc.Conn(r.db).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *fitRunRepo) Finish(dbc dbctx.Context, id uuid.UUID, status string, iterations int, finalELBO float64, result datatypes.JSON, errMsg string) error {
	if id == uuid.Nil {
		return errors.New("fit run id is required")
	}
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":      status,
		"iterations":  iterations,
		"final_elbo":  finalELBO,
		"error":       errMsg,
		"finished_at": now,
		"updated_at":  now,
	}
	if len(result) > 0 {
		updates["result_json"] = result
	}
	res := dbc.Conn(r.db).Model(&types.FitRun{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		r.log.Warn("finish on unknown fit run", "run_id", id.String())
		return gorm.ErrRecordNotFound
	}
	return nil
}
