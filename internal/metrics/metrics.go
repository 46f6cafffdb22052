// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/beleidsscan/workflow-engine/internal/domain"
)

// Step outcomes used as the steps_total label.
const (
	StepCompleted  = "completed"
	StepEmpty      = "empty"
	StepFailed     = "failed"
	StepSkipped    = "skipped"
	StepBestEffort = "best_effort"
)

var (
	initOnce sync.Once

	runsTotalCounter         *prometheus.CounterVec
	stepsTotalCounter        *prometheus.CounterVec
	stepDurationMetric       *prometheus.HistogramVec
	stepRetriesCounter       prometheus.Counter
	rollbacksTotalCounter    *prometheus.CounterVec
	contextConflictsCounter  prometheus.Counter
	workerClaimLatencyMetric prometheus.Histogram
	webhookDeliveriesCounter *prometheus.CounterVec
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		runsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_runs_total",
				Help: "Total number of run status transitions by status.",
			},
			[]string{"status"},
		)

		stepsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_steps_total",
				Help: "Total number of finished step executions by outcome.",
			},
			[]string{"outcome"},
		)

		stepDurationMetric = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "workflow_step_duration_seconds",
				Help:    "Duration of action handler calls in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		)

		stepRetriesCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "workflow_step_retries_total",
				Help: "Total number of retried step attempts.",
			},
		)

		rollbacksTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_rollbacks_total",
				Help: "Total number of step rollbacks by result.",
			},
			[]string{"result"},
		)

		contextConflictsCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "workflow_context_conflicts_total",
				Help: "Total number of refused context writes.",
			},
		)

		workerClaimLatencyMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "worker_claim_latency_seconds",
				Help:    "Latency of worker runnable-run queries in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		)

		webhookDeliveriesCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_deliveries_total",
				Help: "Terminal-status webhook deliveries by result.",
			},
			[]string{"result"},
		)

		prometheus.MustRegister(
			runsTotalCounter,
			stepsTotalCounter,
			stepDurationMetric,
			stepRetriesCounter,
			rollbacksTotalCounter,
			contextConflictsCounter,
			workerClaimLatencyMetric,
			webhookDeliveriesCounter,
		)

		// Ensure counter vectors are visible at /metrics before first increment.
		for _, status := range domain.AllRunStatuses {
			runsTotalCounter.WithLabelValues(string(status))
		}
		for _, outcome := range []string{StepCompleted, StepEmpty, StepFailed, StepSkipped, StepBestEffort} {
			stepsTotalCounter.WithLabelValues(outcome)
		}
		for _, result := range []string{"success", "failure"} {
			rollbacksTotalCounter.WithLabelValues(result)
			webhookDeliveriesCounter.WithLabelValues(result)
		}
	})
}

func IncRunStatus(status domain.RunStatus) {
	Init()
	runsTotalCounter.WithLabelValues(string(status)).Inc()
}

func IncStepOutcome(outcome string) {
	Init()
	stepsTotalCounter.WithLabelValues(outcome).Inc()
}

func ObserveStepDuration(actionID string, d time.Duration) {
	Init()
	stepDurationMetric.WithLabelValues(actionID).Observe(d.Seconds())
}

func IncStepRetries() {
	Init()
	stepRetriesCounter.Inc()
}

func IncRollback(success bool) {
	Init()
	result := "failure"
	if success {
		result = "success"
	}
	rollbacksTotalCounter.WithLabelValues(result).Inc()
}

func IncContextConflicts(n int) {
	Init()
	contextConflictsCounter.Add(float64(n))
}

func ObserveWorkerClaimLatency(d time.Duration) {
	Init()
	workerClaimLatencyMetric.Observe(d.Seconds())
}

func IncWebhookDelivery(ok bool) {
	Init()
	result := "failure"
	if ok {
		result = "success"
	}
	webhookDeliveriesCounter.WithLabelValues(result).Inc()
}
