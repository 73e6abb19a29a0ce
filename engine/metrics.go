package engine

import (
	"time"

	"github.com/micromdm/nanoprocess/process"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	MetricStepRunsTotal       = "nanoprocess_step_runs_total"
	MetricStepDurationSeconds = "nanoprocess_step_duration_seconds"
	MetricProcessClaimsTotal  = "nanoprocess_process_claims_total"
)

// Metrics collects dispatcher metrics.
type Metrics struct {
	stepRuns     *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	claims       *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		stepRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricStepRunsTotal,
				Help: "Total number of automatic step runs by step type and outcome",
			},
			[]string{"step_type", "outcome"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricStepDurationSeconds,
				Help:    "Duration of automatic step runs",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"step_type"},
		),
		claims: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricProcessClaimsTotal,
				Help: "Total number of process claim attempts by result",
			},
			[]string{"result"},
		),
	}
}

// MustRegister registers the collectors of m with r.
func (m *Metrics) MustRegister(r prometheus.Registerer) {
	r.MustRegister(m.stepRuns, m.stepDuration, m.claims)
}

func (m *Metrics) observeStep(t process.StepType, outcome stepOutcome, d time.Duration) {
	if m == nil {
		return
	}
	m.stepRuns.WithLabelValues(string(t), string(outcome)).Inc()
	m.stepDuration.WithLabelValues(string(t)).Observe(d.Seconds())
}

func (m *Metrics) observeClaim(result string) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(result).Inc()
}
