package bgmigration

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics the prometheus collectors of the engine
type Metrics struct {
	registry *prometheus.Registry

	Batches       *prometheus.CounterVec
	RowsAffected  *prometheus.CounterVec
	BatchDuration *prometheus.HistogramVec
	JobsFinished  *prometheus.CounterVec
	RunningJobs   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them in a dedicated registry
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Total number of batches run, by job and outcome",
		}, []string{"job", "feature", "outcome"}),
		RowsAffected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_affected_total",
			Help:      "Total number of rows written by batches",
		}, []string{"job", "feature"}),
		BatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of batches in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		JobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Total number of jobs reaching a terminal status",
		}, []string{"job", "status"}),
		RunningJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running_jobs",
			Help:      "Number of jobs currently run by this process",
		}),
	}
	reg.MustRegister(m.Batches, m.RowsAffected, m.BatchDuration, m.JobsFinished, m.RunningJobs)
	return m
}

// Registry returns the prometheus registry holding the collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) observeBatch(desc *JobDescriptor, outcome string, rows int64, seconds float64) {
	if m == nil {
		return
	}
	m.Batches.WithLabelValues(desc.Name, desc.FeatureTag, outcome).Inc()
	if rows > 0 {
		m.RowsAffected.WithLabelValues(desc.Name, desc.FeatureTag).Add(float64(rows))
	}
	m.BatchDuration.WithLabelValues(desc.Name).Observe(seconds)
}

func (m *Metrics) observeFinished(jobName string, status Status) {
	if m == nil {
		return
	}
	m.JobsFinished.WithLabelValues(jobName, string(status)).Inc()
}
