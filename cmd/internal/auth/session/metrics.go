package session

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the session counters. A nil *Metrics is a no-op.
type Metrics struct {
	logins      *prometheus.CounterVec
	transitions *prometheus.CounterVec
	rejections  *prometheus.CounterVec
}

// NewMetrics builds the counters and registers them on reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbiter",
			Subsystem: "session",
			Name:      "logins_total",
			Help:      "Successful logins by takeover mode.",
		}, []string{"takeover"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbiter",
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Session status changes by target status.",
		}, []string{"to"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbiter",
			Subsystem: "session",
			Name:      "rejections_total",
			Help:      "Authentications refused because the session is no longer authoritative.",
		}, []string{"status"}),
	}
	if reg != nil {
		reg.MustRegister(m.logins, m.transitions, m.rejections)
	}
	return m
}

func (m *Metrics) login(mode Takeover) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(string(mode)).Inc()
}

func (m *Metrics) transition(to Status) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(to)).Inc()
}

func (m *Metrics) rejection(s Status) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(string(s)).Inc()
}
