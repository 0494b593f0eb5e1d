package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "ttb"
	subsystem = "validator"
)

var (
	once sync.Once

	// ValidationRunsTotal counts orchestrator runs by terminal state.
	ValidationRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "runs_total",
		Help:      "Total number of validation runs, labeled by terminal state.",
	}, []string{"state"})

	// ValidationRunDurationSeconds measures a run from claim to settlement.
	ValidationRunDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "run_duration_seconds",
		Help:      "Time from claiming a submission to settling the run.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
	}, []string{"state"})

	// AnalyzerAttemptsTotal counts individual analyzer calls.
	AnalyzerAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "analyzer_attempts_total",
		Help:      "Total number of analyzer calls, labeled by result.",
	}, []string{"result"})

	// TriggerDecisionsTotal counts trigger evaluations by event and decision.
	TriggerDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "trigger_decisions_total",
		Help:      "Total number of trigger evaluations, labeled by event kind and decision.",
	}, []string{"event", "decision"})

	TriggerQueueDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "trigger_queue_dropped_total",
		Help:      "Total number of trigger events dropped because the queue was full.",
	})

	StuckValidationsReleasedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "stuck_validations_released_total",
		Help:      "Total number of validation runs released by the sweeper after timing out.",
	})

	UnvalidatedRequeuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "unvalidated_requeued_total",
		Help:      "Total number of pending submissions requeued by the sweeper because no run ever settled them.",
	})

	OutcomePublishErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "outcome_publish_errors_total",
		Help:      "Total number of run outcomes that could not be published to the broker.",
	})
)

// Register registers validator metrics with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			ValidationRunsTotal,
			ValidationRunDurationSeconds,
			AnalyzerAttemptsTotal,
			TriggerDecisionsTotal,
			TriggerQueueDroppedTotal,
			StuckValidationsReleasedTotal,
			UnvalidatedRequeuedTotal,
			OutcomePublishErrorsTotal,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
