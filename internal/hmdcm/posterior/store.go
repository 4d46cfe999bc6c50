// Package posterior holds the conjugate variational posterior and its M-step.
package posterior

import (
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/yungbote/hmdcm/internal/hmdcm/model"
)

// Store holds the current posterior parameters. It is overwritten in place by
// Update every iteration.
type Store struct {
	L int

	A [][][]float64
	B [][][]float64

	Delta []float64
	// Omega is row-major L×L; masked entries stay exactly 0.
	Omega []float64
}

// NewStore starts the posterior at the prior.
func NewStore(h *Hyper) *Store {
	s := &Store{
		L:     h.L,
		A:     cloneCube(h.A0),
		B:     cloneCube(h.B0),
		Delta: append([]float64(nil), h.Delta0...),
		Omega: append([]float64(nil), h.Omega0...),
	}
	return s
}

// Update runs the M-step from the current marginals.
func (s *Store) Update(h *Hyper, st *model.Structure, marg *model.Marginals) {
	n, t := st.N(), st.T()

	copy(s.Delta, h.Delta0)
	for i := 0; i < n; i++ {
		floats.Add(s.Delta, marg.ClassAt(i, 0))
	}

	copy(s.Omega, h.Omega0)
	for i := 0; i < n; i++ {
		for occ := 1; occ < t; occ++ {
			floats.Add(s.Omega, marg.PairAt(i, occ))
		}
	}
	st.Mask.Apply(s.Omega)

	// Each form owns its own A and B slices.
	var wg sync.WaitGroup
	for f := range st.Groups {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.updateForm(h, st, marg, f)
		}()
	}
	wg.Wait()
}

// updateForm aggregates expected class membership of everyone who took form f,
// read at the occasion they took it, against their responses.
func (s *Store) updateForm(h *Hyper, st *model.Structure, marg *model.Marginals, f int) {
	n, l := st.N(), st.L()
	form := st.Data.Forms[f]
	items := len(form.Q)

	w := mat.NewDense(n, l, nil)
	x := mat.NewDense(n, items, nil)
	for i := 0; i < n; i++ {
		w.SetRow(i, marg.ClassAt(i, st.Schedule.Occasion(i, f)))
		for j, v := range form.Responses[i] {
			x.Set(i, j, float64(v))
		}
	}

	// correct[c][j] = Σ_i w[i][c]·x[i][j]
	var correct mat.Dense
	correct.Mul(w.T(), x)

	mass := make([]float64, l)
	for c := 0; c < l; c++ {
		mass[c] = mat.Sum(w.ColView(c))
	}

	col := make([]float64, l)
	wrong := make([]float64, l)
	for j, grp := range st.Groups[f] {
		mat.Col(col, j, &correct)
		floats.SubTo(wrong, mass, col)

		a, b := s.A[f][j], s.B[f][j]
		grp.Project(a, col)
		grp.Project(b, wrong)
		floats.Add(a, h.A0[f][j])
		floats.Add(b, h.B0[f][j])
	}
}

func cloneCube(in [][][]float64) [][][]float64 {
	out := make([][][]float64, len(in))
	for s := range in {
		out[s] = make([][]float64, len(in[s]))
		for j := range in[s] {
			out[s][j] = append([]float64(nil), in[s][j]...)
		}
	}
	return out
}
