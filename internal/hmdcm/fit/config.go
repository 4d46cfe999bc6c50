package fit

import (
	"math"
	"strings"

	"github.com/yungbote/hmdcm/internal/hmdcm/fiterr"
	"github.com/yungbote/hmdcm/internal/hmdcm/itemmap"
	"github.com/yungbote/hmdcm/internal/hmdcm/posterior"
)

type InitMode string

const (
	InitUniform InitMode = "uniform"
	InitRandom  InitMode = "random"
)

func ParseInitMode(s string) (InitMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "uniform":
		return InitUniform, nil
	case "random", "randomized":
		return InitRandom, nil
	default:
		return "", fiterr.Config("parse init mode", "unsupported initialisation %q", s)
	}
}

type Config struct {
	Rule      itemmap.Rule
	MaxIter   int
	Tolerance float64
	Init      InitMode
	Seed      uint64
	// Workers bounds E-step goroutines; <= 0 means GOMAXPROCS.
	Workers int

	// NonDecreasing masks every transition that loses a mastered attribute and
	// requires Versions and Order.
	NonDecreasing bool
	// Versions[i] is respondent i's test version; Order[v][t] is the form version v
	// administers at occasion t.
	Versions []int
	Order    [][]int

	// Hyper overrides the default priors when set. It is copied, never mutated.
	Hyper *posterior.Hyper
}

func DefaultConfig() Config {
	return Config{
		Rule:      itemmap.General,
		MaxIter:   1000,
		Tolerance: 1e-4,
		Init:      InitUniform,
		Seed:      1,
	}
}

// normalized parses the rule and init mode and checks every bound.
func (c Config) normalized() (Config, error) {
	const op = "validate fit config"
	rule, err := itemmap.ParseRule(string(c.Rule))
	if err != nil {
		return c, err
	}
	c.Rule = rule
	mode, err := ParseInitMode(string(c.Init))
	if err != nil {
		return c, err
	}
	c.Init = mode
	if c.MaxIter < 1 {
		return c, fiterr.Config(op, "max iterations must be at least 1, got %d", c.MaxIter)
	}
	if c.Tolerance < 0 || math.IsNaN(c.Tolerance) || math.IsInf(c.Tolerance, 0) {
		return c, fiterr.Config(op, "tolerance must be a finite non-negative number, got %v", c.Tolerance)
	}
	if c.NonDecreasing && (len(c.Versions) == 0 || len(c.Order) == 0) {
		return c, fiterr.Config(op, "non-decreasing variant requires test version and order tables")
	}
	return c, nil
}

func (c Config) scheduled() bool {
	return c.NonDecreasing || len(c.Versions) > 0 || len(c.Order) > 0
}

func cloneHyper(h *posterior.Hyper) *posterior.Hyper {
	out := &posterior.Hyper{
		L:      h.L,
		Delta0: append([]float64(nil), h.Delta0...),
		Omega0: append([]float64(nil), h.Omega0...),
		A0:     make([][][]float64, len(h.A0)),
		B0:     make([][][]float64, len(h.B0)),
	}
	for s := range h.A0 {
		out.A0[s] = make([][]float64, len(h.A0[s]))
		for j := range h.A0[s] {
			out.A0[s][j] = append([]float64(nil), h.A0[s][j]...)
		}
	}
	for s := range h.B0 {
		out.B0[s] = make([][]float64, len(h.B0[s]))
		for j := range h.B0[s] {
			out.B0[s][j] = append([]float64(nil), h.B0[s][j]...)
		}
	}
	return out
}
