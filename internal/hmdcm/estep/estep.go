// Package estep runs the scaled forward-backward recursion that refreshes the
// variational class-membership marginals.
package estep

import (
	"context"
	"math"
	"runtime"

	"gonum.org/v1/gonum/floats"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/hmdcm/internal/hmdcm/fiterr"
	"github.com/yungbote/hmdcm/internal/hmdcm/model"
	"github.com/yungbote/hmdcm/internal/hmdcm/posterior"
)

// Run overwrites marg with smoothed single-occasion and pairwise marginals and
// returns Σ_i Σ_t log γ[i,t], the data-fit term of the bound. Respondents are
// split across at most workers goroutines; workers <= 0 means GOMAXPROCS.
func Run(ctx context.Context, st *model.Structure, ex *posterior.Expectations, marg *model.Marginals, workers int) (float64, error) {
	n := st.N()
	if n == 0 {
		return 0, nil
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > n {
		workers = n
	}
	chunk := (n + workers - 1) / workers

	logZ := make([]float64, n)
	g, gctx := errgroup.WithContext(ctx)
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			ws := newWorkspace(st.T(), st.L())
			for i := lo; i < hi; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				z, err := ws.respondent(st, ex, marg, i)
				if err != nil {
					return err
				}
				logZ[i] = z
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return floats.Sum(logZ), nil
}

type workspace struct {
	t, l  int
	ptil  []float64
	shift []float64
	fwd   []float64
	bwd   []float64
	tmp   []float64
}

func newWorkspace(t, l int) *workspace {
	return &workspace{
		t:     t,
		l:     l,
		ptil:  make([]float64, t*l),
		shift: make([]float64, t),
		fwd:   make([]float64, t*l),
		bwd:   make([]float64, t*l),
		tmp:   make([]float64, l),
	}
}

func (w *workspace) at(buf []float64, t int) []float64 {
	return buf[t*w.l : (t+1)*w.l]
}

func (w *workspace) respondent(st *model.Structure, ex *posterior.Expectations, marg *model.Marginals, i int) (float64, error) {
	T, L := w.t, w.l
	tau := ex.TauTilde

	for t := 0; t < T; t++ {
		p := w.at(w.ptil, t)
		ResponseLogLik(st, ex, i, t, p)
		mx := floats.Max(p)
		if math.IsInf(mx, 0) || math.IsNaN(mx) {
			return 0, &fiterr.DegeneracyError{Respondent: i, Occasion: t, Pass: fiterr.PassForward, Sum: mx}
		}
		for c := range p {
			p[c] = math.Exp(p[c] - mx)
		}
		w.shift[t] = mx
	}

	logZ := 0.0
	f0 := w.at(w.fwd, 0)
	floats.MulTo(f0, w.at(w.ptil, 0), ex.PiTilde)
	gamma, err := normalize(f0, i, 0, fiterr.PassForward)
	if err != nil {
		return 0, err
	}
	logZ += math.Log(gamma) + w.shift[0]

	for t := 1; t < T; t++ {
		prev, cur, p := w.at(w.fwd, t-1), w.at(w.fwd, t), w.at(w.ptil, t)
		for c := 0; c < L; c++ {
			s := 0.0
			for from := 0; from < L; from++ {
				s += prev[from] * tau[from*L+c]
			}
			cur[c] = p[c] * s
		}
		gamma, err := normalize(cur, i, t, fiterr.PassForward)
		if err != nil {
			return 0, err
		}
		logZ += math.Log(gamma) + w.shift[t]
	}

	last := w.at(w.bwd, T-1)
	for c := range last {
		last[c] = 1
	}
	for t := T - 2; t >= 0; t-- {
		next, cur := w.at(w.bwd, t+1), w.at(w.bwd, t)
		floats.MulTo(w.tmp, w.at(w.ptil, t+1), next)
		for c := 0; c < L; c++ {
			cur[c] = floats.Dot(w.tmp, tau[c*L:(c+1)*L])
		}
		if _, err := normalize(cur, i, t, fiterr.PassBackward); err != nil {
			return 0, err
		}
	}

	for t := 0; t < T; t++ {
		cp := marg.ClassAt(i, t)
		floats.MulTo(cp, w.at(w.fwd, t), w.at(w.bwd, t))
		if _, err := normalize(cp, i, t, fiterr.PassSmooth); err != nil {
			return 0, err
		}
	}

	for t := 1; t < T; t++ {
		pp := marg.PairAt(i, t)
		prev := w.at(w.fwd, t-1)
		floats.MulTo(w.tmp, w.at(w.ptil, t), w.at(w.bwd, t))
		for from := 0; from < L; from++ {
			row := pp[from*L : (from+1)*L]
			trow := tau[from*L : (from+1)*L]
			for to := 0; to < L; to++ {
				row[to] = prev[from] * w.tmp[to] * trow[to]
			}
		}
		if _, err := normalize(pp, i, t, fiterr.PassSmooth); err != nil {
			return 0, err
		}
	}
	return logZ, nil
}

// ResponseLogLik writes log Ptil[i,·,t] (unshifted) into dst, reading respondent
// i's answers on the form administered at canonical occasion t.
func ResponseLogLik(st *model.Structure, ex *posterior.Expectations, i, t int, dst []float64) {
	f := st.Schedule.Form(i, t)
	answers := st.Data.Forms[f].Responses[i]
	for c := range dst {
		dst[c] = 0
	}
	for j, grp := range st.Groups[f] {
		vals := ex.Elog1mTheta[f][j]
		if answers[j] == 1 {
			vals = ex.ElogTheta[f][j]
		}
		for c, h := range grp.Assign {
			dst[c] += vals[h]
		}
	}
}

func normalize(v []float64, i, t int, pass fiterr.Pass) (float64, error) {
	s := floats.Sum(v)
	if !(s > 0) || math.IsInf(s, 0) {
		return 0, &fiterr.DegeneracyError{Respondent: i, Occasion: t, Pass: pass, Sum: s}
	}
	floats.Scale(1/s, v)
	return s, nil
}
