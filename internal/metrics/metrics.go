// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

var (
	obligationTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plex_obligation_transitions_total",
			Help: "Obligation state transitions labeled by transition",
		},
		[]string{"transition"},
	)
	obligationDeferredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plex_obligation_deferred_total",
			Help: "Obligation evaluations deferred because the blockchain lookup failed",
		},
	)
	accrualsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roi_accruals_total",
			Help: "Accrual attempts labeled by path and outcome",
		},
		[]string{"path", "outcome"},
	)
	accruedAmountTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roi_accrued_amount_total",
			Help: "Sum of accrued yield in settlement units",
		},
		[]string{"path"},
	)
	catchupExcessDaysTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roi_catchup_excess_days_total",
			Help: "Days left behind the watermark because catch-up was capped",
		},
	)
	withdrawalDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "withdrawal_decisions_total",
			Help: "Withdrawal guard decisions labeled by reason",
		},
		[]string{"reason"},
	)
	invariantViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_invariant_violations_total",
			Help: "Operations aborted because a ledger invariant would break",
		},
		[]string{"operation"},
	)
	taskDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduler_task_duration_seconds",
			Help:    "Duration of scheduled task runs",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task", "status"},
	)
	workStatusChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "user_work_status_changes_total",
			Help: "User work status changes labeled by new status",
		},
		[]string{"status"},
	)
)

func RecordObligationTransition(transition string) {
	if transition == "" {
		return
	}
	obligationTransitionsTotal.WithLabelValues(transition).Inc()
}

func RecordObligationDeferred() {
	obligationDeferredTotal.Inc()
}

// RecordAccrual counts an attempt; outcome is "accrued" or a skip reason.
func RecordAccrual(path, outcome string, amount decimal.Decimal) {
	accrualsTotal.WithLabelValues(path, outcome).Inc()
	if amount.IsPositive() {
		accruedAmountTotal.WithLabelValues(path).Add(amount.InexactFloat64())
	}
}

func RecordCatchupExcess(days int) {
	if days > 0 {
		catchupExcessDaysTotal.Add(float64(days))
	}
}

func RecordWithdrawalDecision(reason string) {
	if reason == "" {
		reason = "allowed"
	}
	withdrawalDecisionsTotal.WithLabelValues(reason).Inc()
}

func RecordInvariantViolation(operation string) {
	invariantViolationsTotal.WithLabelValues(operation).Inc()
}

func RecordTask(task string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	taskDurationSeconds.WithLabelValues(task, status).Observe(duration.Seconds())
}

func RecordWorkStatus(status string) {
	workStatusChangesTotal.WithLabelValues(status).Inc()
}
