package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dedup_jobs_created_total",
		Help: "Number of dedup jobs submitted.",
	})

	jobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dedup_jobs_finished_total",
		Help: "Number of dedup jobs reaching a terminal status.",
	}, []string{"status"})

	phaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dedup_phase_duration_seconds",
		Help:    "Wall time spent in each workflow phase.",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{"phase"})

	approvalDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dedup_approval_decisions_total",
		Help: "Approval checkpoint outcomes.",
	}, []string{"stage", "outcome"})
)

func IncJobCreated() {
	jobsCreated.Inc()
}

func IncJobFinished(status string) {
	jobsFinished.WithLabelValues(status).Inc()
}

func ObservePhaseDuration(phase string, d time.Duration) {
	phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

func IncApprovalDecision(stage, outcome string) {
	approvalDecisions.WithLabelValues(stage, outcome).Inc()
}
