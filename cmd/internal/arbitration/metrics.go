package arbitration

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the arbitration counters. A nil *Metrics is a no-op.
type Metrics struct {
	signals         *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
	evictions       *prometheus.CounterVec
}

// NewMetrics builds the counters and registers them on reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbiter",
			Subsystem: "arbitration",
			Name:      "signals_total",
			Help:      "Arbitration signals by kind and disposition.",
		}, []string{"kind", "disposition"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbiter",
			Subsystem: "arbitration",
			Name:      "transitions_total",
			Help:      "State transitions.",
		}, []string{"from", "to"}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbiter",
			Subsystem: "arbitration",
			Name:      "reconciliations_total",
			Help:      "Reclaim and reactivate attempts by result.",
		}, []string{"op", "result"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbiter",
			Subsystem: "arbitration",
			Name:      "evictions_total",
			Help:      "Evictions by cause.",
		}, []string{"cause"}),
	}
	if reg != nil {
		reg.MustRegister(m.signals, m.transitions, m.reconciliations, m.evictions)
	}
	return m
}

func (m *Metrics) signal(sig Signal, d Disposition) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues(sig.Label(), string(d)).Inc()
}

func (m *Metrics) transition(from, to State) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from.String(), to.String()).Inc()
}

func (m *Metrics) reconciliation(op, result string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) eviction(cause string) {
	if m == nil {
		return
	}
	m.evictions.WithLabelValues(cause).Inc()
}
