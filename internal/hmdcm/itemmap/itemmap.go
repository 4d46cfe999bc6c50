// Package itemmap partitions latent classes into per-item response groups.
package itemmap

import (
	"strings"

	"github.com/yungbote/hmdcm/internal/hmdcm/fiterr"
	"github.com/yungbote/hmdcm/internal/hmdcm/pattern"
)

type Rule string

const (
	General     Rule = "general"
	Conjunctive Rule = "conjunctive"
)

func ParseRule(s string) (Rule, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "general", "":
		return General, nil
	case "conjunctive", "dina":
		return Conjunctive, nil
	default:
		return "", fiterr.Config("parse measurement rule", "unsupported measurement rule %q", s)
	}
}

// GroupMatrix is the sparse form of the binary groups×L matrix G for one item.
// Assign[c] is the only row with a 1 in column c.
type GroupMatrix struct {
	Groups   int
	L        int
	Required int
	MaxLevel int

	Assign []int
	// Level[h] is the number of required attributes group h masters (general rule)
	// or its ideal response (conjunctive rule).
	Level []int
}

// Build maps every class of ps onto the response groups induced by q.
func Build(q []uint8, ps *pattern.Set, rule Rule) *GroupMatrix {
	req := make([]int, 0, ps.K)
	for a, v := range q {
		if v != 0 {
			req = append(req, a)
		}
	}
	g := &GroupMatrix{
		L:        ps.L,
		Required: len(req),
		Assign:   make([]int, ps.L),
	}
	if len(req) == 0 {
		g.Groups = 1
		g.Level = []int{0}
		return g
	}
	if rule == Conjunctive {
		g.Groups = 2
		g.MaxLevel = 1
		g.Level = []int{0, 1}
		for c := 0; c < ps.L; c++ {
			ideal := 1
			for _, a := range req {
				if !ps.Has(c, a) {
					ideal = 0
					break
				}
			}
			g.Assign[c] = ideal
		}
		return g
	}

	g.MaxLevel = len(req)
	seen := make(map[int]int, 1<<len(req))
	for c := 0; c < ps.L; c++ {
		key, level := 0, 0
		for _, a := range req {
			key <<= 1
			if ps.Has(c, a) {
				key |= 1
				level++
			}
		}
		h, ok := seen[key]
		if !ok {
			h = len(g.Level)
			seen[key] = h
			g.Level = append(g.Level, level)
		}
		g.Assign[c] = h
	}
	g.Groups = len(g.Level)
	return g
}

// BuildForm builds the group matrices for every row of a Q-matrix.
func BuildForm(q [][]uint8, ps *pattern.Set, rule Rule) []*GroupMatrix {
	out := make([]*GroupMatrix, len(q))
	for j, row := range q {
		out[j] = Build(row, ps, rule)
	}
	return out
}

// Project sums a class-indexed vector into group totals: G·v.
func (g *GroupMatrix) Project(dst, v []float64) {
	for h := range dst {
		dst[h] = 0
	}
	for c, h := range g.Assign {
		dst[h] += v[c]
	}
}
