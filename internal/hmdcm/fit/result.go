package fit

import (
	"time"

	"github.com/yungbote/hmdcm/internal/hmdcm/elbo"
	"github.com/yungbote/hmdcm/internal/hmdcm/model"
	"github.com/yungbote/hmdcm/internal/hmdcm/posterior"
)

type State string

const (
	StateInitializing    State = "initializing"
	StateIterating       State = "iterating"
	StateConverged       State = "converged"
	StateMaxIterExceeded State = "max_iter_exceeded"
	StateBudgetExhausted State = "budget_exhausted"
)

type Result struct {
	State      State         `json:"state"`
	Converged  bool          `json:"converged"`
	Iterations int           `json:"iterations"`
	ELBO       []float64     `json:"elbo"`
	Terms      elbo.Terms    `json:"terms"`
	Warnings   []string      `json:"warnings,omitempty"`
	Elapsed    time.Duration `json:"elapsed"`

	Summary *posterior.Summary `json:"summary"`

	// Indexed [respondent][occasion] and [respondent][occasion][attribute].
	MAPClass      [][]int       `json:"map_class"`
	MAPAttributes [][][]int     `json:"map_attributes"`
	EAPProb       [][][]float64 `json:"eap_prob"`
	EAPAttributes [][][]int     `json:"eap_attributes"`

	Store     *posterior.Store `json:"-"`
	Hyper     *posterior.Hyper `json:"-"`
	Marginals *model.Marginals `json:"-"`
	Structure *model.Structure `json:"-"`
}

// FinalELBO is the last recorded bound, or 0 when no iteration completed.
func (r *Result) FinalELBO() float64 {
	if r == nil || len(r.ELBO) == 0 {
		return 0
	}
	return r.ELBO[len(r.ELBO)-1]
}
