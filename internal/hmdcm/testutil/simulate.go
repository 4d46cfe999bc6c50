// Package testutil generates small synthetic longitudinal response sets for tests.
package testutil

import (
	"math/rand/v2"

	"github.com/yungbote/hmdcm/internal/hmdcm/model"
	"github.com/yungbote/hmdcm/internal/hmdcm/pattern"
)

type SimSpec struct {
	N    int
	K    int
	Seed uint64
	// Q[s] is the Q-matrix of form s; len(Q) is the number of occasions.
	Q [][][]uint8
	// Stay is the probability of keeping the current class between occasions.
	Stay float64
	// Guess and Slip define the ideal-response noise.
	Guess float64
	Slip  float64
	// NonDecreasing restricts moves to classes that keep every mastered attribute.
	NonDecreasing bool
	// Versions and Order, when set, decide which form each respondent sees at each occasion.
	Versions []int
	Order    [][]int
}

// Simulate draws a dataset and returns it with the true class per [respondent][occasion].
func Simulate(spec SimSpec) (*model.Dataset, [][]int) {
	rng := rand.New(rand.NewPCG(spec.Seed, spec.Seed+7))
	ps := pattern.Enumerate(spec.K)
	t := len(spec.Q)
	d := &model.Dataset{K: spec.K, Forms: make([]model.Form, t)}
	for s := 0; s < t; s++ {
		d.Forms[s].Q = spec.Q[s]
		d.Forms[s].Responses = make([][]uint8, spec.N)
	}
	classes := make([][]int, spec.N)
	for i := 0; i < spec.N; i++ {
		classes[i] = make([]int, t)
		c := rng.IntN(ps.L)
		for occ := 0; occ < t; occ++ {
			if occ > 0 && rng.Float64() >= spec.Stay {
				c = move(rng, ps, c, spec.NonDecreasing)
			}
			classes[i][occ] = c
			form := occ
			if len(spec.Versions) > 0 {
				form = spec.Order[spec.Versions[i]][occ]
			}
			q := spec.Q[form]
			answers := make([]uint8, len(q))
			for j, row := range q {
				ideal := true
				for a, v := range row {
					if v == 1 && !ps.Has(c, a) {
						ideal = false
					}
				}
				p := spec.Guess
				if ideal {
					p = 1 - spec.Slip
				}
				if rng.Float64() < p {
					answers[j] = 1
				}
			}
			d.Forms[form].Responses[i] = answers
		}
	}
	return d, classes
}

func move(rng *rand.Rand, ps *pattern.Set, c int, nonDecreasing bool) int {
	if !nonDecreasing {
		return rng.IntN(ps.L)
	}
	options := make([]int, 0, ps.L)
	for to := 0; to < ps.L; to++ {
		if ps.Covers(c, to) {
			options = append(options, to)
		}
	}
	return options[rng.IntN(len(options))]
}

// SimpleQ builds t identical forms where item j requires attribute j%k, plus one
// item requiring every attribute.
func SimpleQ(k, t int) [][][]uint8 {
	out := make([][][]uint8, t)
	for s := 0; s < t; s++ {
		form := make([][]uint8, 0, 2*k+1)
		for j := 0; j < 2*k; j++ {
			row := make([]uint8, k)
			row[j%k] = 1
			form = append(form, row)
		}
		all := make([]uint8, k)
		for a := range all {
			all[a] = 1
		}
		out[s] = append(form, all)
	}
	return out
}
