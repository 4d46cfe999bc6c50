package fit

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"

	"github.com/yungbote/hmdcm/internal/hmdcm/model"
)

// initialMarginals seeds the first M-step.
func initialMarginals(st *model.Structure, mode InitMode, seed uint64) *model.Marginals {
	n, t, l := st.N(), st.T(), st.L()
	m := model.NewMarginals(n, t, l)

	if mode == InitRandom {
		rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
		for i := 0; i < n; i++ {
			for occ := 0; occ < t; occ++ {
				fillRandom(rng, m.ClassAt(i, occ))
			}
			for occ := 1; occ < t; occ++ {
				p := m.PairAt(i, occ)
				fillRandom(rng, p)
				st.Mask.Apply(p)
				floats.Scale(1/floats.Sum(p), p)
			}
		}
		return m
	}

	for idx := range m.Class {
		m.Class[idx] = 1 / float64(l)
	}
	if t > 1 {
		uniform := make([]float64, l*l)
		for idx := range uniform {
			uniform[idx] = 1
		}
		st.Mask.Apply(uniform)
		floats.Scale(1/floats.Sum(uniform), uniform)
		for i := 0; i < n; i++ {
			for occ := 1; occ < t; occ++ {
				copy(m.PairAt(i, occ), uniform)
			}
		}
	}
	return m
}

func fillRandom(rng *rand.Rand, v []float64) {
	for k := range v {
		// Bounded away from zero so no class starts with exactly no mass.
		v[k] = 0.05 + rng.Float64()
	}
	floats.Scale(1/floats.Sum(v), v)
}
