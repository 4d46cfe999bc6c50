package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/yungbote/hmdcm/internal/hmdcm/fit"
)

// FitMetrics records fit progress as Prometheus collectors. It implements
// fit.Observer.
type FitMetrics struct {
	iterations prometheus.Counter
	elbo       prometheus.Gauge
	delta      prometheus.Gauge
	fits       *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	warnings   prometheus.Counter
}

// NewFitMetrics registers the fit collectors with reg (the default registerer
// when nil).
func NewFitMetrics(reg prometheus.Registerer) *FitMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &FitMetrics{
		iterations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hmdcm",
			Subsystem: "fit",
			Name:      "iterations_total",
			Help:      "Completed variational EM iterations",
		}),
		elbo: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "hmdcm",
			Subsystem: "fit",
			Name:      "elbo",
			Help:      "Evidence lower bound after the latest iteration",
		}),
		delta: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "hmdcm",
			Subsystem: "fit",
			Name:      "elbo_delta",
			Help:      "Change in the bound over the latest iteration",
		}),
		fits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hmdcm",
			Subsystem: "fit",
			Name:      "runs_total",
			Help:      "Finished fits by terminal state",
		}, []string{"state"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hmdcm",
			Subsystem: "fit",
			Name:      "duration_seconds",
			Help:      "Wall time of finished fits",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"state"}),
		warnings: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hmdcm",
			Subsystem: "fit",
			Name:      "warnings_total",
			Help:      "Warnings attached to finished fits",
		}),
	}
}

func (m *FitMetrics) OnIteration(_ context.Context, it fit.Iteration) {
	m.iterations.Inc()
	m.elbo.Set(it.ELBO)
	if it.Iteration > 1 {
		m.delta.Set(it.Delta)
	}
}

func (m *FitMetrics) OnFinish(_ context.Context, res *fit.Result, err error) {
	if err != nil || res == nil {
		m.fits.WithLabelValues("failed").Inc()
		return
	}
	state := string(res.State)
	m.fits.WithLabelValues(state).Inc()
	m.duration.WithLabelValues(state).Observe(res.Elapsed.Seconds())
	m.warnings.Add(float64(len(res.Warnings)))
}

// WriteTextfile dumps g in the text exposition format, for node_exporter's
// textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return prometheus.WriteToTextfile(path, g)
}
