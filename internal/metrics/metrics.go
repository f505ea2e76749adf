package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "producao"

// Metrics groups the prometheus collectors of the production service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	transitions        *prometheus.CounterVec
	transitionDuration *prometheus.HistogramVec
	ledgerMovements    *prometheus.CounterVec
	splits             prometheus.Counter
	timersFinished     prometheus.Counter
	alarmsSent         *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		gatherer: reg,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Workflow transitions attempted, by transition and outcome.",
		}, []string{"transition", "outcome"}),
		transitionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transition_duration_seconds",
			Help:      "Time spent applying a workflow transition.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"transition"}),
		ledgerMovements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_movements_total",
			Help:      "Stock movements applied, by direction.",
		}, []string{"direction"}),
		splits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_splits_total",
			Help:      "Records split because of insufficient stock.",
		}),
		timersFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timers_finished_total",
			Help:      "Preparation timers persisted as finished.",
		}),
		alarmsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alarms_sent_total",
			Help:      "Alarms delivered to the notification sink, by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(
		m.transitions,
		m.transitionDuration,
		m.ledgerMovements,
		m.splits,
		m.timersFinished,
		m.alarmsSent,
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveTransition records one transition attempt.
func (m *Metrics) ObserveTransition(transition string, err error, took time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.transitions.WithLabelValues(transition, outcome).Inc()
	m.transitionDuration.WithLabelValues(transition).Observe(took.Seconds())
}

// LedgerMovement counts one applied stock movement.
func (m *Metrics) LedgerMovement(direction string) {
	if m == nil {
		return
	}
	m.ledgerMovements.WithLabelValues(direction).Inc()
}

// Split counts one insufficient-stock split.
func (m *Metrics) Split() {
	if m == nil {
		return
	}
	m.splits.Inc()
}

// TimerFinished counts one persisted timer completion.
func (m *Metrics) TimerFinished() {
	if m == nil {
		return
	}
	m.timersFinished.Inc()
}

// AlarmSent counts one delivered alarm.
func (m *Metrics) AlarmSent(kind string) {
	if m == nil {
		return
	}
	m.alarmsSent.WithLabelValues(kind).Inc()
}
