package model

import (
	"github.com/yungbote/hmdcm/internal/hmdcm/constraint"
	"github.com/yungbote/hmdcm/internal/hmdcm/itemmap"
	"github.com/yungbote/hmdcm/internal/hmdcm/pattern"
)

// Structure is everything about a fit that stays fixed across iterations.
type Structure struct {
	Data     *Dataset
	Patterns *pattern.Set
	// Groups[s][j] is the group matrix of item j on form s.
	Groups   [][]*itemmap.GroupMatrix
	Schedule *constraint.Schedule
	// Mask is nil for the unconstrained engine.
	Mask *constraint.Mask
}

// NewStructure enumerates patterns and builds group matrices for a validated dataset.
// A nil schedule means every respondent takes form t at occasion t.
func NewStructure(d *Dataset, rule itemmap.Rule, schedule *constraint.Schedule, nonDecreasing bool) *Structure {
	ps := pattern.Enumerate(d.K)
	st := &Structure{
		Data:     d,
		Patterns: ps,
		Groups:   make([][]*itemmap.GroupMatrix, len(d.Forms)),
		Schedule: schedule,
	}
	for s, f := range d.Forms {
		st.Groups[s] = itemmap.BuildForm(f.Q, ps, rule)
	}
	if st.Schedule == nil {
		st.Schedule = constraint.Identity(d.Respondents(), d.Occasions())
	}
	if nonDecreasing {
		st.Mask = constraint.NonDecreasing(ps)
	}
	return st
}

func (s *Structure) N() int { return s.Data.Respondents() }
func (s *Structure) T() int { return s.Data.Occasions() }
func (s *Structure) L() int { return s.Patterns.L }
