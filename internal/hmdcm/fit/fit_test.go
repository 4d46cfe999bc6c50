package fit

import (
	"context"
	"errors"
	"math"
	"reflect"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yungbote/hmdcm/internal/hmdcm/estep"
	"github.com/yungbote/hmdcm/internal/hmdcm/fiterr"
	"github.com/yungbote/hmdcm/internal/hmdcm/itemmap"
	"github.com/yungbote/hmdcm/internal/hmdcm/model"
	"github.com/yungbote/hmdcm/internal/hmdcm/posterior"
	"github.com/yungbote/hmdcm/internal/hmdcm/testutil"
	"github.com/yungbote/hmdcm/internal/platform/logger"
)

type recorder struct {
	iterations []Iteration
	finished   int
	lastErr    error
	lastRes    *Result
}

func (r *recorder) OnIteration(_ context.Context, it Iteration) {
	r.iterations = append(r.iterations, it)
}

func (r *recorder) OnFinish(_ context.Context, res *Result, err error) {
	r.finished++
	r.lastRes, r.lastErr = res, err
}

func simulated(k, t, n int, seed uint64, nonDecreasing bool) (*model.Dataset, [][]int, testutil.SimSpec) {
	spec := testutil.SimSpec{
		N: n, K: k, Seed: seed, Q: testutil.SimpleQ(k, t),
		Stay: 0.7, Guess: 0.1, Slip: 0.1, NonDecreasing: nonDecreasing,
	}
	if nonDecreasing {
		// Two versions: identity order and reversed order.
		spec.Order = [][]int{make([]int, t), make([]int, t)}
		for occ := 0; occ < t; occ++ {
			spec.Order[0][occ] = occ
			spec.Order[1][occ] = t - 1 - occ
		}
		spec.Versions = make([]int, n)
		for i := range spec.Versions {
			spec.Versions[i] = i % 2
		}
	}
	d, classes := testutil.Simulate(spec)
	return d, classes, spec
}

func assertNonDecreasing(t *testing.T, res *Result) {
	t.Helper()
	for k := 1; k < len(res.ELBO); k++ {
		if res.ELBO[k] < res.ELBO[k-1]-1e-6 {
			t.Fatalf("bound decreased at iteration %d: %v -> %v", k+1, res.ELBO[k-1], res.ELBO[k])
		}
	}
	for _, w := range res.Warnings {
		if strings.Contains(w, "decreased") {
			t.Fatalf("unexpected warning %q", w)
		}
	}
}

func TestFit_BoundIsNonDecreasing(t *testing.T) {
	cases := []struct {
		name          string
		rule          itemmap.Rule
		init          InitMode
		nonDecreasing bool
	}{
		{"general_uniform", itemmap.General, InitUniform, false},
		{"conjunctive_random", itemmap.Conjunctive, InitRandom, false},
		{"general_non_decreasing", itemmap.General, InitRandom, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, _, spec := simulated(2, 3, 80, 3, tc.nonDecreasing)
			cfg := DefaultConfig()
			cfg.Rule = tc.rule
			cfg.Init = tc.init
			cfg.MaxIter = 150
			cfg.Tolerance = 1e-8
			cfg.NonDecreasing = tc.nonDecreasing
			cfg.Versions, cfg.Order = spec.Versions, spec.Order

			res, err := New(nil).Fit(context.Background(), d, cfg)
			if err != nil {
				t.Fatalf("Fit: %v", err)
			}
			if len(res.ELBO) != res.Iterations || res.Iterations == 0 {
				t.Fatalf("history length %d vs iterations %d", len(res.ELBO), res.Iterations)
			}
			assertNonDecreasing(t, res)

			for i := 0; i < d.Respondents(); i++ {
				for occ := 0; occ < d.Occasions(); occ++ {
					if s := sum(res.Marginals.ClassAt(i, occ)); math.Abs(s-1) > 1e-9 {
						t.Fatalf("class marginal (%d,%d) sums to %v", i, occ, s)
					}
				}
			}
		})
	}
}

func TestFit_NonDecreasingNeverMovesToForbiddenClass(t *testing.T) {
	d, _, spec := simulated(2, 3, 60, 5, true)
	cfg := DefaultConfig()
	cfg.NonDecreasing = true
	cfg.Versions, cfg.Order = spec.Versions, spec.Order
	cfg.MaxIter = 40

	res, err := New(nil).Fit(context.Background(), d, cfg)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	st := res.Structure
	l := st.L()
	for i := 0; i < st.N(); i++ {
		for occ := 1; occ < st.T(); occ++ {
			for idx, v := range res.Marginals.PairAt(i, occ) {
				if !st.Mask.AllowedFlat(idx) && v != 0 {
					t.Fatalf("masked pair %d has mass %v", idx, v)
				}
			}
		}
	}
	for from := 0; from < l; from++ {
		for to := 0; to < l; to++ {
			if !st.Mask.Allowed(from, to) && res.Summary.TauMean[from][to] != 0 {
				t.Fatalf("masked transition %d->%d has mean %v", from, to, res.Summary.TauMean[from][to])
			}
		}
	}
}

func TestFit_FirstIterationMatchesClosedForm(t *testing.T) {
	// K=2, T=2, one respondent, two items per occasion.
	d := &model.Dataset{K: 2, Forms: []model.Form{
		{Q: [][]uint8{{1, 0}, {0, 1}}, Responses: [][]uint8{{1, 0}}},
		{Q: [][]uint8{{1, 0}, {1, 1}}, Responses: [][]uint8{{1, 1}}},
	}}
	cfg := DefaultConfig()
	cfg.MaxIter = 1

	res, err := New(nil).Fit(context.Background(), d, cfg)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	// Uniform pairs give identical transition rows, so the backward message is
	// flat and the first smoothed marginal is prior times likelihood.
	ex := res.Store.Expect(res.Structure.Mask)
	lp := make([]float64, res.Structure.L())
	estep.ResponseLogLik(res.Structure, ex, 0, 0, lp)
	want := make([]float64, len(lp))
	total := 0.0
	for c := range lp {
		want[c] = math.Exp(ex.ElogPi[c] + lp[c])
		total += want[c]
	}
	got := res.Marginals.ClassAt(0, 0)
	for c := range want {
		if math.Abs(got[c]-want[c]/total) > 1e-9 {
			t.Fatalf("class %d: got %v want %v", c, got[c], want[c]/total)
		}
	}
}

func TestFit_FirstMStepIsBetaBernoulliWithUniformWeights(t *testing.T) {
	x := []uint8{1, 0, 1, 1, 0, 1}
	rows := make([][]uint8, len(x))
	ones := 0.0
	for i, v := range x {
		rows[i] = []uint8{v}
		ones += float64(v)
	}
	d := &model.Dataset{K: 1, Forms: []model.Form{{Q: [][]uint8{{1}}, Responses: rows}}}
	cfg := DefaultConfig()
	cfg.MaxIter = 1

	res, err := New(nil).Fit(context.Background(), d, cfg)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	h, s := res.Hyper, res.Store
	for g := 0; g < 2; g++ {
		wantA := h.A0[0][0][g] + 0.5*ones
		wantB := h.B0[0][0][g] + 0.5*(float64(len(x))-ones)
		if math.Abs(s.A[0][0][g]-wantA) > 1e-12 || math.Abs(s.B[0][0][g]-wantB) > 1e-12 {
			t.Fatalf("group %d: got (%v,%v) want (%v,%v)", g, s.A[0][0][g], s.B[0][0][g], wantA, wantB)
		}
	}
	if len(res.ELBO) != 1 {
		t.Fatalf("single occasion fit should still record one bound")
	}
}

func TestFit_MaxIterReturnsUnconvergedResult(t *testing.T) {
	d, _, _ := simulated(2, 2, 30, 9, false)
	cfg := DefaultConfig()
	cfg.MaxIter = 1

	res, err := New(nil).Fit(context.Background(), d, cfg)
	if err != nil {
		t.Fatalf("hitting the iteration cap is not an error: %v", err)
	}
	if res.Converged || res.State != StateMaxIterExceeded {
		t.Fatalf("expected max_iter_exceeded, got %s", res.State)
	}
	if len(res.ELBO) != 1 || len(res.Warnings) == 0 {
		t.Fatalf("expected one bound and a warning, got %v / %v", res.ELBO, res.Warnings)
	}
}

func TestFit_ConvergesAndRecoversAttributes(t *testing.T) {
	d, classes, _ := simulated(2, 2, 300, 21, false)
	cfg := DefaultConfig()
	cfg.MaxIter = 2000

	res, err := New(nil).Fit(context.Background(), d, cfg)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if !res.Converged || res.State != StateConverged {
		t.Fatalf("expected convergence, got %s after %d", res.State, res.Iterations)
	}
	ps := res.Structure.Patterns
	hits, total := 0, 0
	for i := range classes {
		for occ, c := range classes[i] {
			for a := 0; a < ps.K; a++ {
				truth := 0
				if ps.Has(c, a) {
					truth = 1
				}
				if res.EAPAttributes[i][occ][a] == truth {
					hits++
				}
				total++
			}
		}
	}
	if acc := float64(hits) / float64(total); acc < 0.75 {
		t.Fatalf("attribute recovery too low: %.3f", acc)
	}
}

func TestFit_DecodingsAreConsistent(t *testing.T) {
	d, _, _ := simulated(2, 2, 20, 4, false)
	cfg := DefaultConfig()
	cfg.MaxIter = 20
	res, err := New(nil).Fit(context.Background(), d, cfg)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	ps := res.Structure.Patterns
	for i := range res.MAPClass {
		for occ, c := range res.MAPClass[i] {
			cp := res.Marginals.ClassAt(i, occ)
			for other := range cp {
				if cp[other] > cp[c] {
					t.Fatalf("MAP class %d is not the argmax", c)
				}
			}
			for a := 0; a < ps.K; a++ {
				p := res.EAPProb[i][occ][a]
				if p < 0 || p > 1+1e-12 {
					t.Fatalf("EAP probability out of range: %v", p)
				}
				if (p > 0.5) != (res.EAPAttributes[i][occ][a] == 1) {
					t.Fatalf("EAP attribute disagrees with probability %v", p)
				}
			}
		}
	}
}

func TestFit_ConfigurationErrors(t *testing.T) {
	d, _, _ := simulated(1, 2, 5, 1, false)

	cases := map[string]func(*Config){
		"unknown rule":          func(c *Config) { c.Rule = "disjunctive" },
		"zero iterations":       func(c *Config) { c.MaxIter = 0 },
		"negative tolerance":    func(c *Config) { c.Tolerance = -1 },
		"missing order tables":  func(c *Config) { c.NonDecreasing = true },
		"unknown init":          func(c *Config) { c.Init = "kmeans" },
		"version out of range":  func(c *Config) { c.Versions = []int{0, 0, 0, 0, 3}; c.Order = [][]int{{0, 1}} },
		"non-positive override": func(c *Config) { c.Hyper = badHyper(d) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			rec := &recorder{}
			res, err := New(nil).Fit(context.Background(), d, cfg, rec)
			if !errors.Is(err, fiterr.ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
			if res != nil || len(rec.iterations) != 0 || rec.finished != 1 {
				t.Fatalf("configuration errors must fail before iterating")
			}
		})
	}

	bad := &model.Dataset{K: 1, Forms: []model.Form{{Q: [][]uint8{{1}}, Responses: [][]uint8{{2}}}}}
	if _, err := New(nil).Fit(context.Background(), bad, DefaultConfig()); !errors.Is(err, fiterr.ErrConfiguration) {
		t.Fatalf("expected configuration error for non-binary response, got %v", err)
	}
}

func badHyper(d *model.Dataset) *posterior.Hyper {
	st := model.NewStructure(d, itemmap.General, nil, false)
	h := posterior.DefaultHyper(st)
	h.B0[0][0][0] = -1
	return h
}

func TestFit_CancelledContextExhaustsBudget(t *testing.T) {
	d, _, _ := simulated(1, 2, 10, 2, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := New(nil).Fit(ctx, d, DefaultConfig())
	if err != nil {
		t.Fatalf("budget exhaustion is not an error: %v", err)
	}
	if res.State != StateBudgetExhausted || res.Converged || res.Iterations != 0 {
		t.Fatalf("unexpected result state %s after %d iterations", res.State, res.Iterations)
	}
	if res.Summary == nil || len(res.MAPClass) != d.Respondents() {
		t.Fatalf("partial result should still carry estimates")
	}
}

// lateCancelCtx closes Done at once when cancelled but lets the next Err check
// pass, so the loop starts another iteration and is stopped inside its E-step.
type lateCancelCtx struct {
	context.Context
	done chan struct{}

	mu        sync.Mutex
	cancelled bool
	grace     int
}

func newLateCancelCtx() *lateCancelCtx {
	return &lateCancelCtx{Context: context.Background(), done: make(chan struct{})}
}

func (c *lateCancelCtx) Done() <-chan struct{} { return c.done }

func (c *lateCancelCtx) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.cancelled {
		return nil
	}
	if c.grace > 0 {
		c.grace--
		return nil
	}
	return context.Canceled
}

func (c *lateCancelCtx) cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled {
		return
	}
	c.cancelled, c.grace = true, 1
	close(c.done)
}

type cancelAfterFirst struct{ ctx *lateCancelCtx }

func (o cancelAfterFirst) OnIteration(context.Context, Iteration) { o.ctx.cancel() }
func (o cancelAfterFirst) OnFinish(context.Context, *Result, error) {}

func TestFit_CancelDuringEStepKeepsLastCompletedIteration(t *testing.T) {
	d, _, _ := simulated(2, 3, 40, 9, false)
	cfg := DefaultConfig()
	cfg.Workers = 1

	ref := cfg
	ref.MaxIter = 1
	want, err := New(nil).Fit(context.Background(), d, ref)
	if err != nil {
		t.Fatalf("reference fit: %v", err)
	}

	ctx := newLateCancelCtx()
	res, err := New(nil).Fit(ctx, d, cfg, cancelAfterFirst{ctx: ctx})
	if err != nil {
		t.Fatalf("budget exhaustion is not an error: %v", err)
	}
	if res.State != StateBudgetExhausted || res.Iterations != 1 || len(res.ELBO) != 1 {
		t.Fatalf("unexpected result state %s after %d iterations", res.State, res.Iterations)
	}
	if res.ELBO[0] != want.ELBO[0] {
		t.Fatalf("bound: got %v want %v", res.ELBO[0], want.ELBO[0])
	}
	if !reflect.DeepEqual(res.Store, want.Store) {
		t.Fatalf("posterior does not belong to the last completed iteration")
	}
	if !reflect.DeepEqual(res.Marginals, want.Marginals) || !reflect.DeepEqual(res.Summary, want.Summary) {
		t.Fatalf("marginals or summary do not belong to the last completed iteration")
	}
}

func TestFit_LogsSummarizedClassPrevalence(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := &logger.Logger{SugaredLogger: zap.New(core).Sugar()}
	d, _, _ := simulated(5, 2, 20, 4, false)
	cfg := DefaultConfig()
	cfg.MaxIter = 2

	if _, err := New(log).Fit(context.Background(), d, cfg); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	entries := logs.FilterMessage("class prevalence").All()
	if len(entries) != 1 {
		t.Fatalf("expected one prevalence entry, got %d", len(entries))
	}
	pi, ok := entries[0].ContextMap()["pi_mean"].(map[string]interface{})
	if !ok || pi["len"] != 32 {
		t.Fatalf("32 class means should be logged in summarized form, got %v", entries[0].ContextMap()["pi_mean"])
	}
}

func TestFit_NotifiesObservers(t *testing.T) {
	d, _, _ := simulated(1, 2, 10, 2, false)
	cfg := DefaultConfig()
	cfg.MaxIter = 5
	cfg.Tolerance = 0

	opt, extra := &recorder{}, &recorder{}
	res, err := New(nil, WithObserver(opt)).Fit(context.Background(), d, cfg, extra)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	for _, r := range []*recorder{opt, extra} {
		if len(r.iterations) != 5 || r.finished != 1 || r.lastRes != res || r.lastErr != nil {
			t.Fatalf("observer saw %d iterations, %d finishes", len(r.iterations), r.finished)
		}
		if r.iterations[4].ELBO != res.FinalELBO() || r.iterations[0].Iteration != 1 {
			t.Fatalf("observer iteration data mismatch: %+v", r.iterations)
		}
	}
}

func TestParseInitMode(t *testing.T) {
	for in, want := range map[string]InitMode{"": InitUniform, "Uniform": InitUniform, " random ": InitRandom} {
		got, err := ParseInitMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseInitMode(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseInitMode("kmeans"); !errors.Is(err, fiterr.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func sum(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += x
	}
	return s
}
