package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the publisher's Prometheus instruments.
type Metrics struct {
	// Runs
	RunTotal    *prometheus.CounterVec
	RunDuration *prometheus.HistogramVec

	// Rollbacks
	RollbackTotal *prometheus.CounterVec

	// Signatures
	SignaturesTotal *prometheus.CounterVec
}

// NewMetrics creates all metric instruments and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		RunTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quaypush",
			Name:      "runs_total",
			Help:      "Total number of runs by operation and outcome.",
		}, []string{"operation", "success"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "quaypush",
			Name:      "run_duration_seconds",
			Help:      "Run duration in seconds.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 900, 1800, 3600},
		}, []string{"operation"}),
		RollbackTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quaypush",
			Name:      "rollbacks_total",
			Help:      "Total number of rollbacks by outcome.",
		}, []string{"success"}),
		SignaturesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quaypush",
			Name:      "signatures_total",
			Help:      "Total number of signatures by action.",
		}, []string{"action"}),
	}

	for _, c := range []prometheus.Collector{m.RunTotal, m.RunDuration, m.RollbackTotal, m.SignaturesTotal} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordRun records the outcome of one run.
func (m *Metrics) RecordRun(operation string, success bool, duration time.Duration) {
	m.RunTotal.WithLabelValues(operation, strconv.FormatBool(success)).Inc()
	m.RunDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRollback records a rollback.
func (m *Metrics) RecordRollback(success bool) {
	m.RollbackTotal.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// RecordSignatures records signatures created or removed.
func (m *Metrics) RecordSignatures(action string, count int) {
	if count <= 0 {
		return
	}
	m.SignaturesTotal.WithLabelValues(action).Add(float64(count))
}
