package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncChallengesIssued()
	m.IncChallengesIssued()
	m.IncVerification(OutcomeSuccess)
	m.IncVerification(OutcomeDenied)
	m.IncVerification(OutcomeDenied)
	m.IncLink(OutcomeExpired)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ChallengesIssued))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Verifications.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Verifications.WithLabelValues(OutcomeDenied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Links.WithLabelValues(OutcomeExpired)))
}

func TestMetrics_TrackPending(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	n := 3
	m.TrackPending(func() int { return n })

	expected := `
# HELP rolebridge_pending_verifications Current number of verified nations awaiting Discord authorization
# TYPE rolebridge_pending_verifications gauge
rolebridge_pending_verifications 3
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "rolebridge_pending_verifications"))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncChallengesIssued()
		m.IncVerification(OutcomeError)
		m.IncLink(OutcomeSuccess)
		m.TrackPending(func() int { return 0 })
	})
}
