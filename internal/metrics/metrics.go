// Package metrics exposes Prometheus collectors for the orchestrator.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	attemptsTotal          *prometheus.CounterVec
	attemptCostTotal       *prometheus.CounterVec
	attemptDurationSeconds *prometheus.HistogramVec
	admissionDenialsTotal  *prometheus.CounterVec
	jobsTotal              *prometheus.CounterVec
	budgetSpent            prometheus.Gauge
	inFlightJobs           prometheus.Gauge

	once sync.Once
)

// Gate labels for admission denial counters.
const (
	GateRate   = "rate"
	GateBudget = "budget"
)

// Init initializes the Prometheus collectors. It is safe to call multiple
// times.
func Init() {
	once.Do(func() {
		attemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_attempts_total",
				Help: "Total extraction attempts, labeled by backend and outcome.",
			},
			[]string{"backend", "outcome"},
		)

		attemptCostTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_attempt_cost_total",
				Help: "Cumulative cost charged for attempts, labeled by backend.",
			},
			[]string{"backend"},
		)

		attemptDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_attempt_duration_seconds",
				Help:    "Histogram of attempt latencies, labeled by backend.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"backend"},
		)

		admissionDenialsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_admission_denials_total",
				Help: "Candidates skipped by admission control, labeled by backend and gate.",
			},
			[]string{"backend", "gate"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_jobs_total",
				Help: "Jobs finished, labeled by terminal state.",
			},
			[]string{"state"},
		)

		budgetSpent = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "orchestrator_budget_spent",
				Help: "Cost charged within the current budget window.",
			},
		)

		inFlightJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "orchestrator_in_flight_jobs",
				Help: "Jobs currently executing a fallback chain.",
			},
		)
	})
}

// Handler returns an http.Handler exposing the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAttempt records one completed attempt.
func ObserveAttempt(backend string, success bool, cost float64, duration time.Duration) {
	if attemptsTotal == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	attemptsTotal.WithLabelValues(backend, outcome).Inc()
	if cost > 0 {
		attemptCostTotal.WithLabelValues(backend).Add(cost)
	}
	attemptDurationSeconds.WithLabelValues(backend).Observe(duration.Seconds())
}

// ObserveAdmissionDenial counts a candidate skipped by a gate.
func ObserveAdmissionDenial(backend, gate string) {
	if admissionDenialsTotal == nil {
		return
	}
	admissionDenialsTotal.WithLabelValues(backend, gate).Inc()
}

// ObserveJob counts a job reaching a terminal state.
func ObserveJob(state string) {
	if jobsTotal == nil {
		return
	}
	jobsTotal.WithLabelValues(state).Inc()
}

// SetBudgetSpent reports the ledger's current window spend.
func SetBudgetSpent(spent float64) {
	if budgetSpent == nil {
		return
	}
	budgetSpent.Set(spent)
}

// IncInFlightJobs increments the in-flight gauge.
func IncInFlightJobs() {
	if inFlightJobs == nil {
		return
	}
	inFlightJobs.Inc()
}

// DecInFlightJobs decrements the in-flight gauge.
func DecInFlightJobs() {
	if inFlightJobs == nil {
		return
	}
	inFlightJobs.Dec()
}
