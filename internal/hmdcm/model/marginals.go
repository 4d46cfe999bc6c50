package model

// Marginals holds the smoothed variational class-membership expectations.
//
// Class is indexed [(i*T+t)*L + c] and sums to 1 over c for every (i, t).
// Pair is indexed [(i*(T-1)+(t-1))*L*L + from*L + to] for t >= 1 and sums to 1
// over (from, to) for every (i, t).
type Marginals struct {
	N int
	T int
	L int

	Class []float64
	Pair  []float64
}

func NewMarginals(n, t, l int) *Marginals {
	m := &Marginals{
		N:     n,
		T:     t,
		L:     l,
		Class: make([]float64, n*t*l),
	}
	if t > 1 {
		m.Pair = make([]float64, n*(t-1)*l*l)
	}
	return m
}

// ClassAt returns the class distribution of respondent i at occasion t.
func (m *Marginals) ClassAt(i, t int) []float64 {
	off := (i*m.T + t) * m.L
	return m.Class[off : off+m.L]
}

// PairAt returns the joint of (class at t-1, class at t) for respondent i, t >= 1,
// as a row-major L×L slice.
func (m *Marginals) PairAt(i, t int) []float64 {
	ll := m.L * m.L
	off := (i*(m.T-1) + (t - 1)) * ll
	return m.Pair[off : off+ll]
}
