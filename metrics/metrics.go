// Package metrics collects per-run Prometheus metrics and optionally pushes
// them to a Pushgateway when the run ends.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"ljspush/corpus"
)

// Line outcomes.
const (
	OutcomeValid        = "valid"
	OutcomeBlank        = "blank"
	OutcomeMalformed    = "malformed"
	OutcomeMissingAudio = "missing_audio"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	registry      *prometheus.Registry
	linesTotal    *prometheus.CounterVec
	rows          prometheus.Gauge
	stageDuration *prometheus.HistogramVec
	runsTotal     *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		linesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ljspush_lines_total",
				Help: "Metadata lines read, by outcome",
			},
			[]string{"outcome"},
		),
		rows: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ljspush_rows",
				Help: "Rows in the assembled dataset",
			},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ljspush_stage_duration_seconds",
				Help:    "Time spent in each pipeline stage",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"stage"},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ljspush_runs_total",
				Help: "Pipeline runs, by final status",
			},
			[]string{"status"},
		),
	}

	m.registry.MustRegister(m.linesTotal)
	m.registry.MustRegister(m.rows)
	m.registry.MustRegister(m.stageDuration)
	m.registry.MustRegister(m.runsTotal)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveStats(s corpus.Stats) {
	if m == nil {
		return
	}
	m.linesTotal.WithLabelValues(OutcomeValid).Add(float64(s.Valid))
	m.linesTotal.WithLabelValues(OutcomeBlank).Add(float64(s.Blank))
	m.linesTotal.WithLabelValues(OutcomeMalformed).Add(float64(s.Malformed))
	m.linesTotal.WithLabelValues(OutcomeMissingAudio).Add(float64(s.MissingAudio))
}

func (m *Metrics) SetRows(n int) {
	if m == nil {
		return
	}
	m.rows.Set(float64(n))
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) RunFinished(status string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(status).Inc()
}

// Push sends the registry to the Pushgateway at url under job.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if m == nil || url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("pushing metrics to %s: %w", url, err)
	}
	return nil
}
