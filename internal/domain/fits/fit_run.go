package fits

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StatusRunning      = "running"
	StatusConverged    = "converged"
	StatusNotConverged = "not_converged"
	StatusFailed       = "failed"
)

type FitRun struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Status      string         `gorm:"column:status;not null;index" json:"status"`
	Rule        string         `gorm:"column:rule;not null" json:"rule"`
	K           int            `gorm:"column:k;not null" json:"k"`
	Respondents int            `gorm:"column:respondents;not null" json:"respondents"`
	Occasions   int            `gorm:"column:occasions;not null" json:"occasions"`
	Iterations  int            `gorm:"column:iterations;not null;default:0" json:"iterations"`
	FinalELBO   float64        `gorm:"column:final_elbo" json:"final_elbo"`
	Fingerprint string         `gorm:"column:fingerprint;not null;index" json:"fingerprint"`
	ConfigJSON  datatypes.JSON `gorm:"column:config_json" json:"config"`
	ResultJSON  datatypes.JSON `gorm:"column:result_json" json:"result,omitempty"`
	Error       string         `gorm:"column:error" json:"error,omitempty"`
	FinishedAt  *time.Time     `gorm:"column:finished_at;index" json:"finished_at,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (FitRun) TableName() string { return "fit_run" }

// BeforeCreate assigns an id client-side so the same schema works on SQLite and Postgres.
func (r *FitRun) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
