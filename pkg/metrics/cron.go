package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Job run outcomes recorded by WorkerMetrics.
const (
	JobOutcomeSucceeded = "succeeded"
	JobOutcomeFailed    = "failed"
	JobOutcomeSkipped   = "skipped"
)

// WorkerMetrics tracks the scheduled jobs of the integrity worker.
type WorkerMetrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
}

// NewWorkerMetrics registers the worker metrics on reg. A nil registerer
// yields a no-op recorder.
func NewWorkerMetrics(reg prometheus.Registerer) *WorkerMetrics {
	if reg == nil {
		return &WorkerMetrics{}
	}
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_job_runs_total",
		Help: "Worker job executions by outcome.",
	}, []string{"job", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "worker_job_duration_seconds",
		Help:    "Wall time of worker jobs.",
		Buckets: []float64{.05, .25, 1, 5, 15, 60, 300, 900},
	}, []string{"job"})
	lastSuccess := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "worker_job_last_success_timestamp_seconds",
		Help: "Unix time of the last successful run per job.",
	}, []string{"job"})
	reg.MustRegister(runs, duration, lastSuccess)
	return &WorkerMetrics{runs: runs, duration: duration, lastSuccess: lastSuccess}
}

// ObserveRun records one finished job run.
func (w *WorkerMetrics) ObserveRun(job string, took time.Duration, err error) {
	if w == nil || w.runs == nil {
		return
	}
	job = normalizeLabel(job)
	w.duration.WithLabelValues(job).Observe(took.Seconds())
	if err != nil {
		w.runs.WithLabelValues(job, JobOutcomeFailed).Inc()
		return
	}
	w.runs.WithLabelValues(job, JobOutcomeSucceeded).Inc()
	w.lastSuccess.WithLabelValues(job).SetToCurrentTime()
}

// ObserveSkipped counts a scheduled run another worker already held.
func (w *WorkerMetrics) ObserveSkipped(job string) {
	if w == nil || w.runs == nil {
		return
	}
	w.runs.WithLabelValues(normalizeLabel(job), JobOutcomeSkipped).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
