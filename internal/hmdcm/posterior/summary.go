package posterior

import (
	"math"

	"github.com/yungbote/hmdcm/internal/hmdcm/constraint"
)

// Summary holds posterior means and standard deviations.
type Summary struct {
	ThetaMean [][][]float64 `json:"theta_mean"`
	ThetaSD   [][][]float64 `json:"theta_sd"`
	PiMean    []float64     `json:"pi_mean"`
	PiSD      []float64     `json:"pi_sd"`
	TauMean   [][]float64   `json:"tau_mean"`
	TauSD     [][]float64   `json:"tau_sd"`
}

func (s *Store) Summarize(mask *constraint.Mask) *Summary {
	out := &Summary{
		ThetaMean: make([][][]float64, len(s.A)),
		ThetaSD:   make([][][]float64, len(s.A)),
		TauMean:   make([][]float64, s.L),
		TauSD:     make([][]float64, s.L),
	}
	for f := range s.A {
		out.ThetaMean[f] = make([][]float64, len(s.A[f]))
		out.ThetaSD[f] = make([][]float64, len(s.A[f]))
		for j := range s.A[f] {
			a, b := s.A[f][j], s.B[f][j]
			m := make([]float64, len(a))
			sd := make([]float64, len(a))
			for h := range a {
				m[h], sd[h] = BetaMoments(a[h], b[h])
			}
			out.ThetaMean[f][j] = m
			out.ThetaSD[f][j] = sd
		}
	}
	out.PiMean, out.PiSD = DirichletMoments(s.Delta, nil)
	for from := 0; from < s.L; from++ {
		row := s.Omega[from*s.L : (from+1)*s.L]
		allowed := make([]bool, s.L)
		for to := range allowed {
			allowed[to] = mask.Allowed(from, to)
		}
		out.TauMean[from], out.TauSD[from] = DirichletMoments(row, allowed)
	}
	return out
}

// BetaMoments returns the mean and standard deviation of Beta(a, b).
func BetaMoments(a, b float64) (float64, float64) {
	n := a + b
	return a / n, math.Sqrt(a * b / (n * n * (n + 1)))
}

// DirichletMoments returns per-component means and standard deviations. Entries with
// allowed[k] == false are reported as 0 and excluded from the concentration total.
func DirichletMoments(alpha []float64, allowed []bool) ([]float64, []float64) {
	a0 := 0.0
	for k, v := range alpha {
		if allowed == nil || allowed[k] {
			a0 += v
		}
	}
	mean := make([]float64, len(alpha))
	sd := make([]float64, len(alpha))
	for k, v := range alpha {
		if allowed != nil && !allowed[k] {
			continue
		}
		mean[k] = v / a0
		sd[k] = math.Sqrt(v * (a0 - v) / (a0 * a0 * (a0 + 1)))
	}
	return mean, sd
}
