package posterior

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mathext"

	"github.com/yungbote/hmdcm/internal/hmdcm/constraint"
)

// Expectations are the expected log parameters the E-step consumes.
type Expectations struct {
	L int

	ElogTheta   [][][]float64
	Elog1mTheta [][][]float64

	ElogPi  []float64
	PiTilde []float64

	// ElogTau is row-major L×L and holds exactly 0 at masked entries.
	ElogTau []float64
	// TauTilde = exp(ElogTau) with masked entries forced to literal 0.
	TauTilde []float64
}

func (s *Store) Expect(mask *constraint.Mask) *Expectations {
	l := s.L
	ex := &Expectations{
		L:           l,
		ElogTheta:   make([][][]float64, len(s.A)),
		Elog1mTheta: make([][][]float64, len(s.A)),
		ElogPi:      make([]float64, l),
		PiTilde:     make([]float64, l),
		ElogTau:     make([]float64, l*l),
		TauTilde:    make([]float64, l*l),
	}
	for f := range s.A {
		ex.ElogTheta[f] = make([][]float64, len(s.A[f]))
		ex.Elog1mTheta[f] = make([][]float64, len(s.A[f]))
		for j := range s.A[f] {
			a, b := s.A[f][j], s.B[f][j]
			et := make([]float64, len(a))
			e1 := make([]float64, len(a))
			for h := range a {
				dsum := mathext.Digamma(a[h] + b[h])
				et[h] = mathext.Digamma(a[h]) - dsum
				e1[h] = mathext.Digamma(b[h]) - dsum
			}
			ex.ElogTheta[f][j] = et
			ex.Elog1mTheta[f][j] = e1
		}
	}

	dsum := mathext.Digamma(floats.Sum(s.Delta))
	for c, d := range s.Delta {
		ex.ElogPi[c] = mathext.Digamma(d) - dsum
		ex.PiTilde[c] = math.Exp(ex.ElogPi[c])
	}

	for from := 0; from < l; from++ {
		row := s.Omega[from*l : (from+1)*l]
		rs := 0.0
		for to, v := range row {
			if mask.Allowed(from, to) {
				rs += v
			}
		}
		drs := mathext.Digamma(rs)
		for to, v := range row {
			idx := from*l + to
			if !mask.Allowed(from, to) {
				ex.ElogTau[idx] = 0
				ex.TauTilde[idx] = 0
				continue
			}
			ex.ElogTau[idx] = mathext.Digamma(v) - drs
			ex.TauTilde[idx] = math.Exp(ex.ElogTau[idx])
		}
	}
	return ex
}
