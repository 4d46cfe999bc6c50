// Package constraint carries the two differences between the plain engine and the
// non-decreasing, randomised-form variant: a structural-zero transition mask and a
// per-respondent schedule mapping canonical occasions to administered test forms.
package constraint

import (
	"github.com/yungbote/hmdcm/internal/hmdcm/fiterr"
	"github.com/yungbote/hmdcm/internal/hmdcm/pattern"
)

// Mask marks which transitions are allowed. A nil *Mask allows everything.
type Mask struct {
	L       int
	allowed []bool
}

// NonDecreasing forbids every transition that drops a mastered attribute.
func NonDecreasing(ps *pattern.Set) *Mask {
	m := &Mask{L: ps.L, allowed: make([]bool, ps.L*ps.L)}
	for from := 0; from < ps.L; from++ {
		for to := 0; to < ps.L; to++ {
			m.allowed[from*ps.L+to] = ps.Covers(from, to)
		}
	}
	return m
}

func (m *Mask) Allowed(from, to int) bool {
	if m == nil {
		return true
	}
	return m.allowed[from*m.L+to]
}

// AllowedFlat reports whether flat index from*L+to is allowed.
func (m *Mask) AllowedFlat(idx int) bool {
	if m == nil {
		return true
	}
	return m.allowed[idx]
}

// Apply zeroes the masked entries of a row-major L×L slice in place.
func (m *Mask) Apply(lxl []float64) {
	if m == nil {
		return
	}
	for idx, ok := range m.allowed {
		if !ok {
			lxl[idx] = 0
		}
	}
}

// Schedule maps canonical occasions to administered forms per respondent.
type Schedule struct {
	N int
	T int

	formAt     []int
	occasionAt []int
	identity   bool
}

// Identity gives every respondent form t at occasion t.
func Identity(n, t int) *Schedule {
	return &Schedule{N: n, T: t, identity: true}
}

// NewSchedule validates versions (one per respondent) against order, where
// order[v][t] is the form that version v administers at occasion t.
func NewSchedule(n, t int, versions []int, order [][]int) (*Schedule, error) {
	const op = "build test-form schedule"
	if len(versions) == 0 || len(order) == 0 {
		return nil, fiterr.Config(op, "version and order tables are required")
	}
	if len(versions) != n {
		return nil, fiterr.Config(op, "%d versions for %d respondents", len(versions), n)
	}
	for v, row := range order {
		if len(row) != t {
			return nil, fiterr.Config(op, "order for version %d has %d occasions, want %d", v, len(row), t)
		}
		seen := make([]bool, t)
		for _, s := range row {
			if s < 0 || s >= t || seen[s] {
				return nil, fiterr.Config(op, "order for version %d is not a permutation of [0,%d)", v, t)
			}
			seen[s] = true
		}
	}
	sc := &Schedule{
		N:          n,
		T:          t,
		formAt:     make([]int, n*t),
		occasionAt: make([]int, n*t),
	}
	for i, v := range versions {
		if v < 0 || v >= len(order) {
			return nil, fiterr.Config(op, "respondent %d has unknown version %d", i, v)
		}
		for occ, s := range order[v] {
			sc.formAt[i*t+occ] = s
			sc.occasionAt[i*t+s] = occ
		}
	}
	return sc, nil
}

// Form is the test form respondent i took at canonical occasion t.
func (s *Schedule) Form(i, t int) int {
	if s.identity {
		return t
	}
	return s.formAt[i*s.T+t]
}

// Occasion is the canonical occasion at which respondent i took form f.
func (s *Schedule) Occasion(i, f int) int {
	if s.identity {
		return f
	}
	return s.occasionAt[i*s.T+f]
}
