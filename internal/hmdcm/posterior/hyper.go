package posterior

import (
	"math"

	"github.com/yungbote/hmdcm/internal/hmdcm/fiterr"
	"github.com/yungbote/hmdcm/internal/hmdcm/model"
)

// Hyper holds the fixed prior hyperparameters.
type Hyper struct {
	L int

	// A0[s][j][h], B0[s][j][h]: Beta prior of group h of item j on form s.
	A0 [][][]float64
	B0 [][][]float64

	Delta0 []float64
	// Omega0 is row-major L×L. Masked entries are exactly 0.
	Omega0 []float64
}

// DefaultHyper builds the weakly monotone item prior (prior mean rises from 1/3
// to 2/3 with the group's level) and flat Dirichlet priors.
func DefaultHyper(st *model.Structure) *Hyper {
	l := st.L()
	h := &Hyper{
		L:      l,
		A0:     make([][][]float64, len(st.Groups)),
		B0:     make([][][]float64, len(st.Groups)),
		Delta0: make([]float64, l),
		Omega0: make([]float64, l*l),
	}
	for s, items := range st.Groups {
		h.A0[s] = make([][]float64, len(items))
		h.B0[s] = make([][]float64, len(items))
		for j, g := range items {
			h.A0[s][j] = make([]float64, g.Groups)
			h.B0[s][j] = make([]float64, g.Groups)
			for grp, level := range g.Level {
				r := 0.5
				if g.MaxLevel > 0 {
					r = float64(level) / float64(g.MaxLevel)
				}
				h.A0[s][j][grp] = 1 + r
				h.B0[s][j][grp] = 2 - r
			}
		}
	}
	for c := range h.Delta0 {
		h.Delta0[c] = 1
	}
	for idx := range h.Omega0 {
		h.Omega0[idx] = 1
	}
	st.Mask.Apply(h.Omega0)
	return h
}

// Prepare checks an override against the fit structure and forces masked
// transition entries to zero.
func (h *Hyper) Prepare(st *model.Structure) error {
	const op = "validate hyperparameters"
	l := st.L()
	if h.L == 0 {
		h.L = l
	}
	if h.L != l || len(h.Delta0) != l || len(h.Omega0) != l*l {
		return fiterr.Config(op, "hyperparameters sized for L=%d, fit has L=%d", h.L, l)
	}
	if len(h.A0) != len(st.Groups) || len(h.B0) != len(st.Groups) {
		return fiterr.Config(op, "item priors cover %d forms, want %d", len(h.A0), len(st.Groups))
	}
	for s, items := range st.Groups {
		if len(h.A0[s]) != len(items) || len(h.B0[s]) != len(items) {
			return fiterr.Config(op, "form %d: item priors cover %d items, want %d", s, len(h.A0[s]), len(items))
		}
		for j, g := range items {
			if len(h.A0[s][j]) != g.Groups || len(h.B0[s][j]) != g.Groups {
				return fiterr.Config(op, "form %d item %d: priors for %d groups, want %d", s, j, len(h.A0[s][j]), g.Groups)
			}
			for grp := 0; grp < g.Groups; grp++ {
				if !positive(h.A0[s][j][grp]) || !positive(h.B0[s][j][grp]) {
					return fiterr.Config(op, "form %d item %d group %d: Beta prior must be positive", s, j, grp)
				}
			}
		}
	}
	for c, v := range h.Delta0 {
		if !positive(v) {
			return fiterr.Config(op, "initial-distribution prior %d must be positive, got %v", c, v)
		}
	}
	for idx, v := range h.Omega0 {
		if !st.Mask.AllowedFlat(idx) {
			continue
		}
		if !positive(v) {
			return fiterr.Config(op, "transition prior (%d,%d) must be positive, got %v", idx/l, idx%l, v)
		}
	}
	st.Mask.Apply(h.Omega0)
	return nil
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
