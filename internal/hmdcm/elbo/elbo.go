// Package elbo evaluates the evidence lower bound used as the convergence signal.
package elbo

import (
	"math"

	"gonum.org/v1/gonum/mathext"

	"github.com/yungbote/hmdcm/internal/hmdcm/constraint"
	"github.com/yungbote/hmdcm/internal/hmdcm/posterior"
)

// Terms decomposes the bound. Total = DataFit - KLTheta - KLPi - KLTau.
type Terms struct {
	DataFit float64 `json:"data_fit"`
	KLTheta float64 `json:"kl_theta"`
	KLPi    float64 `json:"kl_pi"`
	KLTau   float64 `json:"kl_tau"`
	Total   float64 `json:"total"`
}

// Evaluate combines the E-step's accumulated log normalisers with the KL
// divergences of the current posterior from the prior. It never mutates its inputs.
func Evaluate(h *posterior.Hyper, s *posterior.Store, mask *constraint.Mask, logZ float64) Terms {
	var t Terms
	t.DataFit = logZ
	for f := range s.A {
		for j := range s.A[f] {
			for g := range s.A[f][j] {
				t.KLTheta += KLBeta(s.A[f][j][g], s.B[f][j][g], h.A0[f][j][g], h.B0[f][j][g])
			}
		}
	}
	t.KLPi = KLDirichlet(s.Delta, h.Delta0, nil)
	l := s.L
	allowed := make([]bool, l)
	for from := 0; from < l; from++ {
		for to := range allowed {
			allowed[to] = mask.Allowed(from, to)
		}
		t.KLTau += KLDirichlet(s.Omega[from*l:(from+1)*l], h.Omega0[from*l:(from+1)*l], allowed)
	}
	t.Total = t.DataFit - t.KLTheta - t.KLPi - t.KLTau
	return t
}

// KLBeta is KL(Beta(a, b) || Beta(a0, b0)).
func KLBeta(a, b, a0, b0 float64) float64 {
	dab := mathext.Digamma(a + b)
	return mathext.Lbeta(a0, b0) - mathext.Lbeta(a, b) +
		(a-a0)*(mathext.Digamma(a)-dab) +
		(b-b0)*(mathext.Digamma(b)-dab)
}

// KLDirichlet is KL(Dir(alpha) || Dir(alpha0)) over the entries allowed marks
// (all entries when allowed is nil).
func KLDirichlet(alpha, alpha0 []float64, allowed []bool) float64 {
	sa, sa0 := 0.0, 0.0
	for k := range alpha {
		if allowed != nil && !allowed[k] {
			continue
		}
		sa += alpha[k]
		sa0 += alpha0[k]
	}
	dsa := mathext.Digamma(sa)
	kl := lgamma(sa) - lgamma(sa0)
	for k := range alpha {
		if allowed != nil && !allowed[k] {
			continue
		}
		kl += lgamma(alpha0[k]) - lgamma(alpha[k]) + (alpha[k]-alpha0[k])*(mathext.Digamma(alpha[k])-dsa)
	}
	return kl
}

func lgamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}
