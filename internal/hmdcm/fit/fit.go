// Package fit drives the variational EM loop for the hidden Markov diagnostic
// classification model: M-step, forward-backward E-step, bound evaluation and
// convergence check, then read-out of estimates and decodings.
package fit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/hmdcm/internal/hmdcm/constraint"
	"github.com/yungbote/hmdcm/internal/hmdcm/elbo"
	"github.com/yungbote/hmdcm/internal/hmdcm/estep"
	"github.com/yungbote/hmdcm/internal/hmdcm/fiterr"
	"github.com/yungbote/hmdcm/internal/hmdcm/model"
	"github.com/yungbote/hmdcm/internal/hmdcm/posterior"
	"github.com/yungbote/hmdcm/internal/platform/logger"
)

// decreaseTolerance is how far the bound may drop between iterations before it
// is reported as a warning.
const decreaseTolerance = 1e-6

// Iteration is what observers see after every completed iteration.
type Iteration struct {
	Iteration int
	ELBO      float64
	Delta     float64
	Elapsed   time.Duration
}

// Observer receives progress from a running fit. Implementations must not block.
type Observer interface {
	OnIteration(ctx context.Context, it Iteration)
	OnFinish(ctx context.Context, res *Result, err error)
}

type Fitter struct {
	log       *logger.Logger
	tracer    trace.Tracer
	observers []Observer
}

type Option func(*Fitter)

func WithObserver(o Observer) Option {
	return func(f *Fitter) {
		if o != nil {
			f.observers = append(f.observers, o)
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(f *Fitter) {
		if t != nil {
			f.tracer = t
		}
	}
}

// New builds a Fitter. A Fitter holds no per-fit state and is safe for
// concurrent use.
func New(baseLog *logger.Logger, opts ...Option) *Fitter {
	if baseLog == nil {
		baseLog = logger.NewNop()
	}
	f := &Fitter{
		log:    baseLog.With("service", "HMDCMFitter"),
		tracer: otel.Tracer("github.com/yungbote/hmdcm/internal/hmdcm/fit"),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fit estimates the model. Configuration problems and numerical degeneracy are
// returned as errors; running out of iterations or out of ctx budget is not an
// error and is reported on the result instead.
func (f *Fitter) Fit(ctx context.Context, data *model.Dataset, cfg Config, extra ...Observer) (*Result, error) {
	observers := append(append([]Observer(nil), f.observers...), extra...)
	res, err := f.fit(ctx, data, cfg, observers)
	for _, o := range observers {
		o.OnFinish(ctx, res, err)
	}
	return res, err
}

func (f *Fitter) fit(ctx context.Context, data *model.Dataset, cfg Config, observers []Observer) (*Result, error) {
	cfg, err := cfg.normalized()
	if err != nil {
		return nil, err
	}
	if err := data.Validate(); err != nil {
		return nil, err
	}

	var schedule *constraint.Schedule
	if cfg.scheduled() {
		schedule, err = constraint.NewSchedule(data.Respondents(), data.Occasions(), cfg.Versions, cfg.Order)
		if err != nil {
			return nil, err
		}
	}
	st := model.NewStructure(data, cfg.Rule, schedule, cfg.NonDecreasing)

	var hyper *posterior.Hyper
	if cfg.Hyper != nil {
		hyper = cloneHyper(cfg.Hyper)
		if err := hyper.Prepare(st); err != nil {
			return nil, err
		}
	} else {
		hyper = posterior.DefaultHyper(st)
	}

	ctx, span := f.tracer.Start(ctx, "hmdcm.fit", trace.WithAttributes(
		attribute.String("rule", string(cfg.Rule)),
		attribute.Int("respondents", st.N()),
		attribute.Int("occasions", st.T()),
		attribute.Int("classes", st.L()),
		attribute.Bool("non_decreasing", cfg.NonDecreasing),
	))
	defer span.End()

	log := f.log.With("fingerprint", data.Fingerprint(), "rule", string(cfg.Rule))
	log.Info("fit starting",
		"respondents", st.N(),
		"occasions", st.T(),
		"attributes", data.K,
		"init", string(cfg.Init),
		"max_iter", cfg.MaxIter,
		"tolerance", cfg.Tolerance,
	)

	start := time.Now()
	res := &Result{State: StateInitializing, Hyper: hyper, Structure: st}
	// store and marg always describe the last completed iteration; cand and
	// next are scratch until the E-step succeeds.
	store, cand := posterior.NewStore(hyper), posterior.NewStore(hyper)
	marg := initialMarginals(st, cfg.Init, cfg.Seed)
	next := model.NewMarginals(st.N(), st.T(), st.L())

	res.State = StateIterating
	for iter := 1; iter <= cfg.MaxIter; iter++ {
		if ctx.Err() != nil {
			res.State = StateBudgetExhausted
			break
		}

		cand.Update(hyper, st, marg)
		ex := cand.Expect(st.Mask)
		logZ, err := estep.Run(ctx, st, ex, next, cfg.Workers)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				res.State = StateBudgetExhausted
				break
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "numerical degeneracy")
			var de *fiterr.DegeneracyError
			if errors.As(err, &de) {
				log.Error("fit aborted",
					"iteration", iter,
					"respondent_id", de.Respondent,
					"occasion", de.Occasion,
					"pass", string(de.Pass),
					"sum", de.Sum,
				)
			} else {
				log.Error("fit aborted", "iteration", iter, "error", err)
			}
			return nil, fmt.Errorf("iteration %d: %w", iter, err)
		}
		marg, next = next, marg
		store, cand = cand, store

		terms := elbo.Evaluate(hyper, store, st.Mask, logZ)
		res.Terms = terms
		res.ELBO = append(res.ELBO, terms.Total)
		res.Iterations = iter

		delta := math.Inf(1)
		if iter > 1 {
			delta = terms.Total - res.ELBO[iter-2]
			if delta < -decreaseTolerance {
				res.Warnings = append(res.Warnings, fmt.Sprintf("bound decreased by %.3g at iteration %d", -delta, iter))
				log.Warn("bound decreased", "iteration", iter, "delta", delta)
			}
		}
		log.Debug("iteration complete", "iteration", iter, "elbo", terms.Total, "delta", delta)
		it := Iteration{Iteration: iter, ELBO: terms.Total, Delta: delta, Elapsed: time.Since(start)}
		for _, o := range observers {
			o.OnIteration(ctx, it)
		}

		if iter > 1 && math.Abs(delta) < cfg.Tolerance {
			res.State = StateConverged
			res.Converged = true
			break
		}
	}
	if res.State == StateIterating {
		res.State = StateMaxIterExceeded
	}

	switch res.State {
	case StateMaxIterExceeded:
		res.Warnings = append(res.Warnings, fmt.Sprintf("not converged after %d iterations", res.Iterations))
		log.Warn("fit did not converge", "iterations", res.Iterations, "elbo", res.FinalELBO())
	case StateBudgetExhausted:
		res.Warnings = append(res.Warnings, fmt.Sprintf("stopped by caller budget after %d iterations", res.Iterations))
		log.Warn("fit stopped by caller budget", "iterations", res.Iterations, "cause", context.Cause(ctx))
	}

	res.Store = store
	res.Marginals = marg
	res.Summary = store.Summarize(st.Mask)
	decode(st, marg, res)
	res.Elapsed = time.Since(start)

	log.Debug("class prevalence", "pi_mean", res.Summary.PiMean)

	span.SetAttributes(
		attribute.String("state", string(res.State)),
		attribute.Int("iterations", res.Iterations),
		attribute.Float64("elbo", res.FinalELBO()),
	)
	log.Info("fit finished",
		"state", string(res.State),
		"iterations", res.Iterations,
		"elbo", res.FinalELBO(),
		"elapsed", res.Elapsed.String(),
	)
	return res, nil
}
