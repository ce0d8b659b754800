// Package metrics exposes Prometheus counters for the linking workflow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for verifications and links.
const (
	OutcomeSuccess = "success"
	OutcomeDenied  = "denied"
	OutcomeInvalid = "invalid"
	OutcomeExpired = "expired"
	OutcomeError   = "error"
)

// Metrics holds Prometheus collectors for the linking workflow.
type Metrics struct {
	ChallengesIssued prometheus.Counter
	Verifications    *prometheus.CounterVec
	Links            *prometheus.CounterVec

	reg prometheus.Registerer
}

// New registers and returns the workflow collectors on reg.
// A nil reg uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		ChallengesIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "rolebridge_challenges_issued_total",
			Help: "Total number of NationStates challenge tokens issued",
		}),
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rolebridge_verifications_total",
			Help: "Total number of checksum submissions, by outcome",
		}, []string{"outcome"}),
		Links: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rolebridge_links_total",
			Help: "Total number of Discord callbacks, by outcome",
		}, []string{"outcome"}),
		reg: reg,
	}
}

// TrackPending registers a gauge that reports the number of pending verifications.
func (m *Metrics) TrackPending(count func() int) {
	if m == nil {
		return
	}
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "rolebridge_pending_verifications",
		Help: "Current number of verified nations awaiting Discord authorization",
	}, func() float64 {
		return float64(count())
	})
}

// IncChallengesIssued records an issued challenge token.
func (m *Metrics) IncChallengesIssued() {
	if m == nil {
		return
	}
	m.ChallengesIssued.Inc()
}

// IncVerification records a checksum submission outcome.
func (m *Metrics) IncVerification(outcome string) {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues(outcome).Inc()
}

// IncLink records a Discord callback outcome.
func (m *Metrics) IncLink(outcome string) {
	if m == nil {
		return
	}
	m.Links.WithLabelValues(outcome).Inc()
}
