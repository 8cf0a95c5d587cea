// AngelaMos | 2026
// metrics.go

package auth

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeSuccess  = "success"
	outcomeRejected = "rejected"
	outcomeInvalid  = "invalid_input"
	outcomeError    = "error"
)

// Metrics counts authentication outcomes. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	logins          *prometheus.CounterVec
	registrations   *prometheus.CounterVec
	passwordChanges *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accounts",
			Subsystem: "auth",
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accounts",
			Subsystem: "auth",
			Name:      "registrations_total",
			Help:      "Registration attempts by outcome.",
		}, []string{"outcome"}),
		passwordChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accounts",
			Subsystem: "auth",
			Name:      "password_changes_total",
			Help:      "Password change attempts by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(m.logins, m.registrations, m.passwordChanges)
	return m
}

func (m *Metrics) login(outcome string) {
	if m != nil {
		m.logins.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) registration(outcome string) {
	if m != nil {
		m.registrations.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) passwordChange(outcome string) {
	if m != nil {
		m.passwordChanges.WithLabelValues(outcome).Inc()
	}
}
