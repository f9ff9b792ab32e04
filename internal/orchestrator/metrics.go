package orchestrator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fyrsmithlabs/coachd/internal/session"
)

// Turn outcomes recorded in coach_turns_total.
const (
	outcomeOK           = "ok"
	outcomeModelFailure = "model_failure"
	outcomeCancelled    = "cancelled"
	outcomePersistence  = "persistence_failure"
	outcomeComplete     = "session_complete"
	outcomeInvalid      = "invalid"
	outcomeConfig       = "config"
	outcomeInternal     = "internal"
)

// phaseLabel names the phase label for turns that failed before a session
// was loaded.
func phaseLabel(p session.Phase) string {
	if p == "" {
		return "none"
	}
	return string(p)
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the turn orchestrator.
type Metrics struct {
	TurnsTotal         *prometheus.CounterVec
	TransitionsTotal   *prometheus.CounterVec
	MalformedTotal     *prometheus.CounterVec
	ModelLatency       *prometheus.HistogramVec
	PhaseScore         *prometheus.HistogramVec
	ActiveSessionLocks prometheus.Gauge
}

// NewMetrics registers the orchestrator metrics once per process. Every
// HandleMessage call counts once in coach_turns_total.
//
// Metrics:
//   - coach_turns_total{phase,outcome}
//   - coach_phase_transitions_total{from,to}
//   - coach_extraction_malformed_total{phase}
//   - coach_model_latency_seconds{phase}
//   - coach_phase_score{phase}
//   - coach_session_locks
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			TurnsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "coach_turns_total",
					Help: "Total number of coaching turns handled",
				},
				[]string{"phase", "outcome"},
			),

			TransitionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "coach_phase_transitions_total",
					Help: "Total number of phase transitions",
				},
				[]string{"from", "to"},
			),

			MalformedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "coach_extraction_malformed_total",
					Help: "Total number of turns whose extraction block was rejected",
				},
				[]string{"phase"},
			),

			ModelLatency: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "coach_model_latency_seconds",
					Help:    "Duration of language model calls in seconds",
					Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
				},
				[]string{"phase"},
			),

			PhaseScore: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "coach_phase_score",
					Help:    "Phase completeness score after each turn",
					Buckets: prometheus.LinearBuckets(0, 0.25, 5),
				},
				[]string{"phase"},
			),

			ActiveSessionLocks: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "coach_session_locks",
					Help: "Number of sessions currently holding a turn lock",
				},
			),
		}
	})

	return globalMetrics
}

func (m *Metrics) recordTurn(phase, outcome string) {
	m.TurnsTotal.WithLabelValues(phase, outcome).Inc()
}

func (m *Metrics) recordTransition(from, to string) {
	m.TransitionsTotal.WithLabelValues(from, to).Inc()
}
