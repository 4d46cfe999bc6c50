package fit

import (
	"gonum.org/v1/gonum/floats"

	"github.com/yungbote/hmdcm/internal/hmdcm/model"
)

// decode fills the MAP and EAP decodings from the smoothed marginals. EAP
// attributes are 1 when the marginal mastery probability exceeds 0.5.
func decode(st *model.Structure, marg *model.Marginals, res *Result) {
	n, t, k := st.N(), st.T(), st.Patterns.K
	ps := st.Patterns

	res.MAPClass = make([][]int, n)
	res.MAPAttributes = make([][][]int, n)
	res.EAPProb = make([][][]float64, n)
	res.EAPAttributes = make([][][]int, n)
	for i := 0; i < n; i++ {
		res.MAPClass[i] = make([]int, t)
		res.MAPAttributes[i] = make([][]int, t)
		res.EAPProb[i] = make([][]float64, t)
		res.EAPAttributes[i] = make([][]int, t)
		for occ := 0; occ < t; occ++ {
			cp := marg.ClassAt(i, occ)
			best := floats.MaxIdx(cp)
			res.MAPClass[i][occ] = best

			mapAttr := make([]int, k)
			for a, b := range ps.Pattern(best) {
				mapAttr[a] = int(b)
			}
			res.MAPAttributes[i][occ] = mapAttr

			prob := make([]float64, k)
			for c, w := range cp {
				for a := 0; a < k; a++ {
					if ps.Has(c, a) {
						prob[a] += w
					}
				}
			}
			eap := make([]int, k)
			for a, p := range prob {
				if p > 0.5 {
					eap[a] = 1
				}
			}
			res.EAPProb[i][occ] = prob
			res.EAPAttributes[i][occ] = eap
		}
	}
}
