// Package telemetry also exposes the Prometheus collectors this
// service registers: queue depth, running-job count, and a histogram
// of per-candidate evaluation latency.
//
// Grounded on internal/workers/pool.go's PoolMetrics (atomic counters
// for submitted/completed/failed/timeout tasks), translated from
// hand-rolled atomic.Int64 fields to real Prometheus collectors —
// prometheus/client_golang is a teacher dependency that the teacher's
// own code never registers a single metric with.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the collectors the dispatcher, queue poller, and
// reaper update. A nil *Metrics is safe to call methods on (every
// method is a no-op), so components can be constructed without
// telemetry wired in during tests.
type Metrics struct {
	QueueDepth       prometheus.Gauge
	RunningJobs      prometheus.Gauge
	CandidateLatency prometheus.Histogram
	JobsCompleted    prometheus.Counter
	JobsFailed       prometheus.Counter
	JobsCancelled    prometheus.Counter
	JobsOrphaned     prometheus.Counter
}

// NewMetrics constructs and registers every collector against reg.
// Pass prometheus.NewRegistry() in tests to avoid collisions with the
// default global registry across package-level test runs.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "paramtrader",
			Name:      "queue_depth",
			Help:      "Number of pending training jobs awaiting a worker claim.",
		}),
		RunningJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "paramtrader",
			Name:      "running_jobs",
			Help:      "Number of training jobs currently being evaluated by a worker.",
		}),
		CandidateLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "paramtrader",
			Name:      "candidate_evaluation_seconds",
			Help:      "Wall time to evaluate one parameter vector against one bar series.",
			Buckets:   prometheus.DefBuckets,
		}),
		JobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paramtrader",
			Name:      "jobs_completed_total",
			Help:      "Training jobs that reached the completed terminal state.",
		}),
		JobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paramtrader",
			Name:      "jobs_failed_total",
			Help:      "Training jobs that reached the failed terminal state.",
		}),
		JobsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paramtrader",
			Name:      "jobs_cancelled_total",
			Help:      "Training jobs that reached the cancelled terminal state.",
		}),
		JobsOrphaned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paramtrader",
			Name:      "jobs_orphaned_total",
			Help:      "Running jobs the reaper failed for a stale heartbeat.",
		}),
	}
	reg.MustRegister(m.QueueDepth, m.RunningJobs, m.CandidateLatency,
		m.JobsCompleted, m.JobsFailed, m.JobsCancelled, m.JobsOrphaned)
	return m
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) IncRunningJobs() {
	if m == nil {
		return
	}
	m.RunningJobs.Inc()
}

func (m *Metrics) DecRunningJobs() {
	if m == nil {
		return
	}
	m.RunningJobs.Dec()
}

func (m *Metrics) ObserveCandidateLatency(seconds float64) {
	if m == nil {
		return
	}
	m.CandidateLatency.Observe(seconds)
}

func (m *Metrics) IncTerminal(status string) {
	if m == nil {
		return
	}
	switch status {
	case "completed":
		m.JobsCompleted.Inc()
	case "failed":
		m.JobsFailed.Inc()
	case "cancelled":
		m.JobsCancelled.Inc()
	}
}

func (m *Metrics) IncOrphaned() {
	if m == nil {
		return
	}
	m.JobsOrphaned.Inc()
}
