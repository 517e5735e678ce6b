// Package metrics exports reconcile outcomes as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wikimannia/refreshstats/internal/model"
)

const (
	// Namespace is the namespace for all exported metrics.
	Namespace = "refreshstats"
)

// Metrics holds the Prometheus collectors.
type Metrics struct {
	PassesTotal     *prometheus.CounterVec
	ResultsTotal    *prometheus.CounterVec
	Drift           *prometheus.GaugeVec
	Computed        *prometheus.GaugeVec
	PassDuration    *prometheus.HistogramVec
	LastPassSuccess prometheus.Gauge
	LastPassTime    prometheus.Gauge
}

// New creates and registers all collectors on reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		PassesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "passes_total",
			Help:      "Stats passes by mode (check, reconcile) and outcome (ok, failed).",
		}, []string{"mode", "outcome"}),
		ResultsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "metric_results_total",
			Help:      "Per-metric outcomes by status.",
		}, []string{"metric", "status"}),
		Drift: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "drift",
			Help:      "Computed minus cached value observed on the last pass.",
		}, []string{"metric"}),
		Computed: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "computed_value",
			Help:      "Live count computed on the last pass.",
		}, []string{"metric"}),
		PassDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "pass_duration_seconds",
			Help:      "Duration of a full stats pass.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"mode"}),
		LastPassSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_pass_success",
			Help:      "1 if the most recent pass ended OK, else 0.",
		}),
		LastPassTime: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_pass_timestamp_seconds",
			Help:      "Unix time the most recent pass started.",
		}),
	}
}

func mode(dryRun bool) string {
	if dryRun {
		return "check"
	}
	return "reconcile"
}

// ObserveResult records one metric's outcome.
func (m *Metrics) ObserveResult(res model.Result, dryRun bool) {
	m.ResultsTotal.WithLabelValues(string(res.Metric), string(res.Status)).Inc()
	if !res.Compared {
		// Keep the previous gauges until both sides were read.
		return
	}
	m.Computed.WithLabelValues(string(res.Metric)).Set(float64(res.Computed))
	m.Drift.WithLabelValues(string(res.Metric)).Set(float64(res.Computed - res.Cached))
}

// ObserveReport records a finished pass.
func (m *Metrics) ObserveReport(rep model.Report) {
	outcome := "ok"
	success := 1.0
	if !rep.OK {
		outcome = "failed"
		success = 0
	}
	m.PassesTotal.WithLabelValues(mode(rep.DryRun), outcome).Inc()
	m.PassDuration.WithLabelValues(mode(rep.DryRun)).Observe(rep.Duration.Seconds())
	m.LastPassSuccess.Set(success)
	m.LastPassTime.Set(float64(rep.StartedAt.Unix()))
}
